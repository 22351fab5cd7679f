package chatstore

// Timeline is the ordered message list of one open conversation view.
//
// Every mutation is keyed: confirmed messages by server id, pending messages by
// local id. Ids removed by Remove are remembered so that a late upsert (from a
// poll or a reordered push) cannot bring them back.
//
// Timeline is not safe for concurrent use; the engine loop owns it.
type Timeline struct {
	msgs    []Message
	deleted map[int64]struct{}
}

func NewTimeline(history []Message) *Timeline {
	t := &Timeline{deleted: make(map[int64]struct{})}
	t.Merge(history)
	return t
}

// Clone returns a deep copy of t, tombstones included.
func (t *Timeline) Clone() *Timeline {
	c := &Timeline{
		msgs:    make([]Message, len(t.msgs)),
		deleted: make(map[int64]struct{}, len(t.deleted)),
	}
	for i, m := range t.msgs {
		c.msgs[i] = m.Clone()
	}
	for id := range t.deleted {
		c.deleted[id] = struct{}{}
	}
	return c
}

func (t *Timeline) Len() int {
	return len(t.msgs)
}

// Messages returns a copy of the timeline in display order.
func (t *Timeline) Messages() []Message {
	out := make([]Message, len(t.msgs))
	for i, m := range t.msgs {
		out[i] = m.Clone()
	}
	return out
}

func (t *Timeline) Find(id int64) (Message, bool) {
	if i := t.indexOf(id); i >= 0 {
		return t.msgs[i].Clone(), true
	}
	return Message{}, false
}

func (t *Timeline) FindLocal(localID string) (Message, bool) {
	if i := t.indexOfLocal(localID); i >= 0 {
		return t.msgs[i].Clone(), true
	}
	return Message{}, false
}

// Pending returns the number of entries still waiting for their send to settle.
func (t *Timeline) Pending() int {
	var n int
	for _, m := range t.msgs {
		if m.State == Pending {
			n++
		}
	}
	return n
}

// AppendPending adds a tentative message at the tail.
// It returns false if an entry with the same local id already exists.
func (t *Timeline) AppendPending(m Message) bool {
	if m.LocalID == "" || t.indexOfLocal(m.LocalID) >= 0 {
		return false
	}
	m.ID = 0
	m.State = Pending
	t.msgs = append(t.msgs, m.Clone())
	return true
}

// Confirm replaces the pending entry localID in place with the confirmed
// message m. If m's id is already present (inserted by a poll or a push) the
// pending entry is dropped and the existing entry updated instead. If no
// pending entry exists, m is upserted. It reports whether a pending entry was
// consumed.
func (t *Timeline) Confirm(localID string, m Message) bool {
	m.LocalID = ""
	m.State = Confirmed
	m.Reactions = NormalizeReactions(m.Reactions)

	pi := t.indexOfLocal(localID)
	if pi < 0 {
		t.Upsert(m)
		return false
	}
	if _, gone := t.deleted[m.ID]; gone {
		t.removeAt(pi)
		return true
	}
	if ci := t.indexOf(m.ID); ci >= 0 {
		t.msgs[ci] = m.Clone()
		t.removeAt(pi)
		return true
	}
	t.msgs[pi] = m.Clone()
	return true
}

// Rollback removes the pending entry localID.
func (t *Timeline) Rollback(localID string) bool {
	if i := t.indexOfLocal(localID); i >= 0 {
		t.removeAt(i)
		return true
	}
	return false
}

// Upsert inserts a confirmed message or updates the entry with the same id.
// Messages are kept ordered by creation time; ties keep arrival order. It
// reports whether a new entry was inserted.
func (t *Timeline) Upsert(m Message) bool {
	if _, gone := t.deleted[m.ID]; gone {
		return false
	}
	m.LocalID = ""
	m.State = Confirmed
	m.Reactions = NormalizeReactions(m.Reactions)

	if i := t.indexOf(m.ID); i >= 0 {
		t.msgs[i] = m.Clone()
		return false
	}

	at := len(t.msgs)
	for at > 0 {
		prev := t.msgs[at-1]
		if prev.State == Pending || !prev.CreatedAt.After(m.CreatedAt) {
			break
		}
		at--
	}
	t.msgs = append(t.msgs, Message{})
	copy(t.msgs[at+1:], t.msgs[at:])
	t.msgs[at] = m.Clone()
	return true
}

// Merge upserts every message of a fetched page and returns how many were new.
func (t *Timeline) Merge(page []Message) int {
	var n int
	for _, m := range page {
		if t.Upsert(m) {
			n++
		}
	}
	return n
}

// Remove deletes the confirmed message id and remembers it as deleted.
// Removing an absent id is a no-op apart from the tombstone.
func (t *Timeline) Remove(id int64) bool {
	t.deleted[id] = struct{}{}
	if i := t.indexOf(id); i >= 0 {
		t.removeAt(i)
		return true
	}
	return false
}

// SetReactions replaces the reaction set of message id wholesale.
func (t *Timeline) SetReactions(id int64, reactions []Reaction) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.msgs[i].Reactions = NormalizeReactions(reactions)
	return true
}

// Last returns the newest entry, pending or not.
func (t *Timeline) Last() (Message, bool) {
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return t.msgs[len(t.msgs)-1].Clone(), true
}

// LastConfirmedFrom returns the newest confirmed message sent by senderID.
func (t *Timeline) LastConfirmedFrom(senderID string) (Message, bool) {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		m := t.msgs[i]
		if m.State == Confirmed && m.SenderID == senderID {
			return m.Clone(), true
		}
	}
	return Message{}, false
}

func (t *Timeline) indexOf(id int64) int {
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].State != Pending && t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexOfLocal(localID string) int {
	if localID == "" {
		return -1
	}
	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].State == Pending && t.msgs[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (t *Timeline) removeAt(i int) {
	copy(t.msgs[i:], t.msgs[i+1:])
	t.msgs[len(t.msgs)-1] = Message{}
	t.msgs = t.msgs[:len(t.msgs)-1]
}
