package chatstore

import (
	"fmt"
	"time"
)

type ConversationKind string

const (
	ConversationPrivate ConversationKind = "private" // one-on-one, two-party
	ConversationGroup   ConversationKind = "group"
)

type MessageKind string

// content kinds:
// text(content), voice(attachment), file(attachment), image(attachment),
// text_with_file(content, attachment)
const (
	KindText         MessageKind = "text"
	KindVoice        MessageKind = "voice"
	KindFile         MessageKind = "file"
	KindImage        MessageKind = "image"
	KindTextWithFile MessageKind = "text_with_file"
)

// Valid reports whether k is one of the known message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindVoice, KindFile, KindImage, KindTextWithFile:
		return true
	default:
		return false
	}
}

// HasAttachment reports whether messages of kind k carry an attachment ref.
func (k MessageKind) HasAttachment() bool {
	switch k {
	case KindVoice, KindFile, KindImage, KindTextWithFile:
		return true
	case KindText:
		return false
	default:
		return false
	}
}

// DeliveryState is the lifecycle of a message. The zero value is Confirmed so
// that messages decoded from the server need no fixup.
type DeliveryState int

const (
	Confirmed DeliveryState = iota
	Pending
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("DeliveryState(%d)", int(s))
	}
}

// Reaction is an emoji attached to a message by one user.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// Message is one entry of a conversation timeline.
//
// ID is assigned by the server and is non-negative; zero is a valid id. While
// the message is Pending, ID is unset and State tells the entries apart.
// LocalID correlates a Pending message with its send request; it is unique per
// send and never reused.
type Message struct {
	ID             int64         `json:"id"`
	LocalID        string        `json:"-"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Kind           MessageKind   `json:"kind"`
	Attachment     string        `json:"attachment,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	State          DeliveryState `json:"-"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return m
}

func (m Message) String() string {
	if m.State == Pending {
		return fmt.Sprintf("msg{local=%s conv=%s from=%s}", m.LocalID, m.ConversationID, m.SenderID)
	}
	return fmt.Sprintf("msg{id=%d conv=%s from=%s %s}", m.ID, m.ConversationID, m.SenderID, m.State)
}

// HasReaction reports whether userID reacted with emoji.
func (m Message) HasReaction(emoji, userID string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			return true
		}
	}
	return false
}

// NormalizeReactions drops duplicate (emoji, user) pairs keeping first-seen order.
func NormalizeReactions(in []Reaction) []Reaction {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[Reaction]struct{}, len(in))
	out := make([]Reaction, 0, len(in))
	for _, r := range in {
		if r.Emoji == "" || r.UserID == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

type Member struct {
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

// Conversation holds the summary of a private or group conversation.
type Conversation struct {
	ID            string           `json:"id"`
	Kind          ConversationKind `json:"kind"`
	DisplayName   string           `json:"displayName"`
	DisplayAvatar string           `json:"displayAvatar,omitempty"`
	Members       []Member         `json:"members"`
	LastMessage   *Message         `json:"lastMessage,omitempty"`
	UnreadCount   int              `json:"unreadCount"`
	UpdatedAt     time.Time        `json:"updatedAt"`

	// Pinned is local-only and never sent to or read from the server.
	Pinned bool `json:"-"`
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	if c.Members != nil {
		c.Members = append([]Member(nil), c.Members...)
	}
	if c.LastMessage != nil {
		m := c.LastMessage.Clone()
		c.LastMessage = &m
	}
	return c
}

// Member returns the membership record of userID.
func (c *Conversation) Member(userID string) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// SetPresence updates the membership record of userID, if any.
func (c *Conversation) SetPresence(userID string, online bool, lastActive time.Time) bool {
	var changed bool
	for i := range c.Members {
		if c.Members[i].UserID != userID {
			continue
		}
		c.Members[i].Online = online
		if !lastActive.IsZero() {
			c.Members[i].LastActive = lastActive
		}
		changed = true
	}
	return changed
}

// ConversationPatch carries the fields of a partial conversation update.
// Nil fields are left unchanged.
type ConversationPatch struct {
	ID            string            `json:"id"`
	Kind          *ConversationKind `json:"kind,omitempty"`
	DisplayName   *string           `json:"displayName,omitempty"`
	DisplayAvatar *string           `json:"displayAvatar,omitempty"`
	Members       []Member          `json:"members,omitempty"`
	LastMessage   *Message          `json:"lastMessage,omitempty"`
	UpdatedAt     *time.Time        `json:"updatedAt,omitempty"`
}

// Apply merges p into c.
func (p *ConversationPatch) Apply(c *Conversation) {
	if p.Kind != nil {
		c.Kind = *p.Kind
	}
	if p.DisplayName != nil {
		c.DisplayName = *p.DisplayName
	}
	if p.DisplayAvatar != nil {
		c.DisplayAvatar = *p.DisplayAvatar
	}
	if p.Members != nil {
		c.Members = append([]Member(nil), p.Members...)
	}
	if p.LastMessage != nil {
		m := p.LastMessage.Clone()
		c.LastMessage = &m
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
}

// NewConversation is the request to create a conversation.
type NewConversation struct {
	Kind      ConversationKind `json:"kind"`
	Name      string           `json:"name,omitempty"`
	MemberIDs []string         `json:"memberIds"`
}

// Attachment is a file or voice upload.
type Attachment struct {
	Kind     MessageKind
	FileName string
	Content  string // optional caption for text_with_file
	Data     []byte
}
