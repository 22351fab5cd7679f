package engine

import (
	"errors"
	"fmt"
)

var (
	ErrClosed                = errors.New("engine closed")
	ErrSurfaceNotFound       = errors.New("surface not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrInvalidAttachmentKind = errors.New("invalid attachment kind")
)

// SendError reports a text send that failed and was rolled back.
type SendError struct {
	ConversationID string
	LocalID        string
	Content        string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.LocalID, e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// UploadError reports a failed attachment upload. Nothing was inserted, so
// nothing is rolled back.
type UploadError struct {
	ConversationID string
	FileName       string
	Err            error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q to %s: %v", e.FileName, e.ConversationID, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// RequestError reports a failed reaction, delete or read request.
type RequestError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ConversationID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
