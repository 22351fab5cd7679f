package chatstore

import (
	"sort"
	"time"
)

// countedCap bounds how many inbound message ids are remembered per
// conversation to keep unread counting idempotent.
const countedCap = 256

type entry struct {
	conv    Conversation
	counted map[int64]struct{}
	order   []int64
}

func (e *entry) count(id int64) bool {
	if _, ok := e.counted[id]; ok {
		return false
	}
	if len(e.order) >= countedCap {
		delete(e.counted, e.order[0])
		e.order = e.order[1:]
	}
	e.counted[id] = struct{}{}
	e.order = append(e.order, id)
	return true
}

// Registry is the list of known conversations with their summary metadata.
// It is not safe for concurrent use; the engine loop owns it.
type Registry struct {
	kv map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{kv: make(map[string]*entry)}
}

func (r *Registry) Len() int {
	return len(r.kv)
}

func (r *Registry) Get(id string) (Conversation, bool) {
	if e, ok := r.kv[id]; ok {
		return e.conv.Clone(), true
	}
	return Conversation{}, false
}

func (r *Registry) Has(id string) bool {
	_, ok := r.kv[id]
	return ok
}

// Put inserts or replaces a conversation, keeping the local pin flag of an
// existing entry.
func (r *Registry) Put(c Conversation) {
	if e, ok := r.kv[c.ID]; ok {
		c.Pinned = e.conv.Pinned
		e.conv = c.Clone()
		return
	}
	r.kv[c.ID] = &entry{
		conv:    c.Clone(),
		counted: make(map[int64]struct{}),
	}
}

// Replace installs a freshly listed set of conversations. Entries missing from
// the list are dropped; pin flags survive for the ones that remain.
func (r *Registry) Replace(list []Conversation) {
	keep := make(map[string]struct{}, len(list))
	for _, c := range list {
		keep[c.ID] = struct{}{}
		r.Put(c)
	}
	for id := range r.kv {
		if _, ok := keep[id]; !ok {
			delete(r.kv, id)
		}
	}
}

func (r *Registry) Delete(id string) bool {
	if _, ok := r.kv[id]; ok {
		delete(r.kv, id)
		return true
	}
	return false
}

// List returns the conversations pinned first, then most recently updated
// first, then by display name.
func (r *Registry) List() []Conversation {
	out := make([]Conversation, 0, len(r.kv))
	for _, e := range r.kv {
		out = append(out, e.conv.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		return a.ID < b.ID
	})
	return out
}

func (r *Registry) SetUnread(id string, n int) bool {
	e, ok := r.kv[id]
	if !ok {
		return false
	}
	if n < 0 {
		n = 0
	}
	e.conv.UnreadCount = n
	return true
}

// IncUnread counts message msgID as unread once; repeated ids are ignored.
func (r *Registry) IncUnread(id string, msgID int64) bool {
	e, ok := r.kv[id]
	if !ok {
		return false
	}
	if !e.count(msgID) {
		return false
	}
	e.conv.UnreadCount++
	return true
}

// MarkCounted remembers msgID without changing the unread count, so a
// duplicate delivery after a read-ack is not counted.
func (r *Registry) MarkCounted(id string, msgID int64) {
	if e, ok := r.kv[id]; ok {
		e.count(msgID)
	}
}

// NoteMessage records m as the last message when it is not older than the
// current one.
func (r *Registry) NoteMessage(m Message) bool {
	e, ok := r.kv[m.ConversationID]
	if !ok {
		return false
	}
	if last := e.conv.LastMessage; last != nil && last.CreatedAt.After(m.CreatedAt) {
		return false
	}
	cp := m.Clone()
	e.conv.LastMessage = &cp
	if m.CreatedAt.After(e.conv.UpdatedAt) {
		e.conv.UpdatedAt = m.CreatedAt
	}
	return true
}

// ForgetMessage clears the last message of conversation id if it is msgID.
func (r *Registry) ForgetMessage(id string, msgID int64) bool {
	e, ok := r.kv[id]
	if !ok || e.conv.LastMessage == nil || e.conv.LastMessage.ID != msgID {
		return false
	}
	e.conv.LastMessage = nil
	return true
}

// SetReactions updates the reactions of the cached last message, if it is msgID.
func (r *Registry) SetReactions(id string, msgID int64, reactions []Reaction) {
	e, ok := r.kv[id]
	if !ok || e.conv.LastMessage == nil || e.conv.LastMessage.ID != msgID {
		return
	}
	e.conv.LastMessage.Reactions = NormalizeReactions(reactions)
}

func (r *Registry) Patch(p *ConversationPatch) bool {
	e, ok := r.kv[p.ID]
	if !ok {
		return false
	}
	p.Apply(&e.conv)
	return true
}

// SetPresence updates userID on every membership record and returns how many
// conversations changed.
func (r *Registry) SetPresence(userID string, online bool, lastActive time.Time) int {
	var n int
	for _, e := range r.kv {
		if e.conv.SetPresence(userID, online, lastActive) {
			n++
		}
	}
	return n
}

func (r *Registry) SetPinned(id string, pinned bool) bool {
	e, ok := r.kv[id]
	if !ok {
		return false
	}
	e.conv.Pinned = pinned
	return true
}

// ApplyPins sets the pin flag of every entry from the given id set.
func (r *Registry) ApplyPins(ids map[string]struct{}) {
	for id, e := range r.kv {
		_, e.conv.Pinned = ids[id]
	}
}
