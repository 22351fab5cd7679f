// Package event defines the realtime events pushed by the server and the
// commands sent by the client, one Go type per kind.
package event

import (
	"time"

	"github.com/mqy/minichat/chatstore"
)

type Kind string

// server -> client
const (
	KindNewMessage          Kind = "new_message"
	KindTyping              Kind = "typing"
	KindStopTyping          Kind = "stop_typing"
	KindReactionAdded       Kind = "reaction_added"
	KindReactionRemoved     Kind = "reaction_removed"
	KindConversationUpdated Kind = "conversation_updated"
	KindMessageDeleted      Kind = "message_deleted"
	KindUserOnline          Kind = "user_online"
	KindUserOffline         Kind = "user_offline"
	KindConversationRead    Kind = "conversation_read"
)

// client -> server
const (
	KindJoin        Kind = "join_conversation"
	KindLeave       Kind = "leave_conversation"
	KindMarkRead    Kind = "mark_read"
	KindStartTyping Kind = "chat:typing"
	KindEndTyping   Kind = "chat:stop_typing"
)

// Event is a server push. The set of implementations is closed.
type Event interface {
	Kind() Kind
	isEvent()
}

// Command is a client emission. The set of implementations is closed.
type Command interface {
	Kind() Kind
	isCommand()
}

type NewMessage struct {
	ConversationID string            `json:"conversationId"`
	Message        chatstore.Message `json:"message"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

type StopTyping struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ReactionSet is the full reaction collection of a message after a change.
type ReactionSet struct {
	ConversationID string               `json:"conversationId"`
	MessageID      int64                `json:"messageId"`
	Reactions      []chatstore.Reaction `json:"reactions"`
}

type ReactionAdded struct{ ReactionSet }

type ReactionRemoved struct{ ReactionSet }

type ConversationUpdated struct {
	Conversation chatstore.ConversationPatch `json:"conversation"`
}

type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
}

type UserOnline struct {
	UserID     string    `json:"userId"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

type UserOffline struct {
	UserID     string    `json:"userId"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

type ConversationRead struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

func (NewMessage) Kind() Kind          { return KindNewMessage }
func (Typing) Kind() Kind              { return KindTyping }
func (StopTyping) Kind() Kind          { return KindStopTyping }
func (ReactionAdded) Kind() Kind       { return KindReactionAdded }
func (ReactionRemoved) Kind() Kind     { return KindReactionRemoved }
func (ConversationUpdated) Kind() Kind { return KindConversationUpdated }
func (MessageDeleted) Kind() Kind      { return KindMessageDeleted }
func (UserOnline) Kind() Kind          { return KindUserOnline }
func (UserOffline) Kind() Kind         { return KindUserOffline }
func (ConversationRead) Kind() Kind    { return KindConversationRead }

func (NewMessage) isEvent()          {}
func (Typing) isEvent()              {}
func (StopTyping) isEvent()          {}
func (ReactionAdded) isEvent()       {}
func (ReactionRemoved) isEvent()     {}
func (ConversationUpdated) isEvent() {}
func (MessageDeleted) isEvent()      {}
func (UserOnline) isEvent()          {}
func (UserOffline) isEvent()         {}
func (ConversationRead) isEvent()    {}

type Join struct {
	ConversationID string `json:"conversationId"`
}

type Leave struct {
	ConversationID string `json:"conversationId"`
}

type MarkRead struct {
	ConversationID string `json:"conversationId"`
}

type StartTyping struct {
	ConversationID string `json:"conversationId"`
}

type EndTyping struct {
	ConversationID string `json:"conversationId"`
}

func (Join) Kind() Kind        { return KindJoin }
func (Leave) Kind() Kind       { return KindLeave }
func (MarkRead) Kind() Kind    { return KindMarkRead }
func (StartTyping) Kind() Kind { return KindStartTyping }
func (EndTyping) Kind() Kind   { return KindEndTyping }

func (Join) isCommand()        {}
func (Leave) isCommand()       {}
func (MarkRead) isCommand()    {}
func (StartTyping) isCommand() {}
func (EndTyping) isCommand()   {}

// Room returns the conversation a command targets.
func Room(c Command) string {
	switch v := c.(type) {
	case Join:
		return v.ConversationID
	case Leave:
		return v.ConversationID
	case MarkRead:
		return v.ConversationID
	case StartTyping:
		return v.ConversationID
	case EndTyping:
		return v.ConversationID
	default:
		return ""
	}
}
