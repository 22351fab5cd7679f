package engine

import (
	"context"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
)

//go:generate mockgen -destination=mock/mock_engine.go -package=mock github.com/mqy/minichat/engine API,Transport,PinStore

// API is the request surface. Implemented by api.Client.
type API interface {
	ListConversations(ctx context.Context) ([]chatstore.Conversation, error)
	Messages(ctx context.Context, convID string) ([]chatstore.Message, error)
	SendMessage(ctx context.Context, convID, content string) (chatstore.Message, error)
	UploadAttachment(ctx context.Context, convID string, a chatstore.Attachment) (chatstore.Message, error)
	MarkRead(ctx context.Context, convID string) error
	AddReaction(ctx context.Context, convID string, msgID int64, emoji string) ([]chatstore.Reaction, error)
	RemoveReaction(ctx context.Context, convID string, msgID int64, emoji string) ([]chatstore.Reaction, error)
	DeleteMessage(ctx context.Context, convID string, msgID int64) error
	CreateConversation(ctx context.Context, req chatstore.NewConversation) (chatstore.Conversation, error)
}

// Transport emits client commands on the push channel. Implemented by
// ws.Client and feed.Feed. Send must not block.
type Transport interface {
	Send(cmd event.Command) error
}

// PinStore persists the pinned conversation set. Implemented by store.PinStore.
type PinStore interface {
	Load(ctx context.Context) (map[string]struct{}, error)
	Save(ctx context.Context, pinned map[string]struct{}) error
}
