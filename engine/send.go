package engine

import (
	"context"
	"strings"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/minichat/chatstore"
)

// Submit sends a text message optimistically. A pending entry is appended to
// every surface showing the conversation at once; the send request settles it
// into the confirmed message or removes it, delivering a *SendError. It
// returns the local id of the pending entry, or "" for blank content.
func (e *Engine) Submit(surfaceID, content string) (string, error) {
	content = strings.TrimSpace(content)
	var localID string
	err := e.withSurface(surfaceID, func(s *Surface) error {
		if content == "" {
			return nil
		}
		localID = uuid.New()
		convID := s.conv.ID
		pending := chatstore.Message{
			LocalID:        localID,
			ConversationID: convID,
			SenderID:       e.cfg.UserID,
			Content:        content,
			Kind:           chatstore.KindText,
			CreatedAt:      e.cfg.Now(),
			State:          chatstore.Pending,
		}
		for _, v := range e.surfacesOf(convID) {
			v.timeline.AppendPending(pending)
		}
		s.draft = ""
		s.stopTyping(e)

		glog.V(5).Infof("engine: submit %s to %s", localID, convID)
		e.spawn(func(ctx context.Context) func() {
			msg, err := e.api.SendMessage(ctx, convID, content)
			return func() { e.settleSend(convID, localID, content, msg, err) }
		})
		e.notify()
		return nil
	})
	return localID, err
}

func (e *Engine) settleSend(convID, localID, content string, msg chatstore.Message, err error) {
	if err == nil && msg.ID < 0 {
		err = ErrMessageNotFound
	}
	if err != nil {
		for _, s := range e.surfacesOf(convID) {
			s.timeline.Rollback(localID)
		}
		sends.WithLabelValues("failed").Inc()
		e.reportErr(&SendError{ConversationID: convID, LocalID: localID, Content: content, Err: err})
		e.notify()
		return
	}

	msg.ConversationID = convID
	msg.State = chatstore.Confirmed
	for _, s := range e.surfacesOf(convID) {
		s.timeline.Confirm(localID, msg)
	}
	e.reg.NoteMessage(msg)
	sends.WithLabelValues("confirmed").Inc()
	e.notify()
}

// SubmitAttachment uploads a voice, file, image or text_with_file message.
// Nothing is shown until the upload succeeds; a failure delivers an
// *UploadError.
func (e *Engine) SubmitAttachment(surfaceID string, a chatstore.Attachment) error {
	if !a.Kind.HasAttachment() {
		return ErrInvalidAttachmentKind
	}
	return e.withSurface(surfaceID, func(s *Surface) error {
		convID := s.conv.ID
		e.spawn(func(ctx context.Context) func() {
			msg, err := e.api.UploadAttachment(ctx, convID, a)
			return func() {
				if err != nil {
					sends.WithLabelValues("upload_failed").Inc()
					e.reportErr(&UploadError{ConversationID: convID, FileName: a.FileName, Err: err})
					return
				}
				msg.ConversationID = convID
				for _, v := range e.surfacesOf(convID) {
					v.timeline.Upsert(msg)
				}
				e.reg.NoteMessage(msg)
				sends.WithLabelValues("uploaded").Inc()
				e.notify()
			}
		})
		return nil
	})
}

// React toggles the local user's emoji reaction on a confirmed message. The
// reaction set returned by the server replaces the local one.
func (e *Engine) React(surfaceID string, msgID int64, emoji string) error {
	return e.withSurface(surfaceID, func(s *Surface) error {
		m, ok := s.timeline.Find(msgID)
		if !ok {
			return ErrMessageNotFound
		}
		convID := s.conv.ID
		remove := m.HasReaction(emoji, e.cfg.UserID)
		e.spawn(func(ctx context.Context) func() {
			var rs []chatstore.Reaction
			var err error
			if remove {
				rs, err = e.api.RemoveReaction(ctx, convID, msgID, emoji)
			} else {
				rs, err = e.api.AddReaction(ctx, convID, msgID, emoji)
			}
			return func() {
				if err != nil {
					e.reportErr(&RequestError{Op: "react", ConversationID: convID, Err: err})
					return
				}
				e.applyReactions(convID, msgID, rs)
			}
		})
		return nil
	})
}

// Delete deletes a confirmed message and removes it locally once the server
// accepted.
func (e *Engine) Delete(surfaceID string, msgID int64) error {
	return e.withSurface(surfaceID, func(s *Surface) error {
		if _, ok := s.timeline.Find(msgID); !ok {
			return ErrMessageNotFound
		}
		convID := s.conv.ID
		e.spawn(func(ctx context.Context) func() {
			err := e.api.DeleteMessage(ctx, convID, msgID)
			return func() {
				if err != nil {
					e.reportErr(&RequestError{Op: "delete message", ConversationID: convID, Err: err})
					return
				}
				e.removeMessage(convID, msgID)
			}
		})
		return nil
	})
}
