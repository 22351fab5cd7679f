package chatstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conv(id string, updated int) Conversation {
	return Conversation{
		ID:          id,
		Kind:        ConversationGroup,
		DisplayName: "conv " + id,
		Members: []Member{
			{UserID: "me", Name: "Me"},
			{UserID: "bob", Name: "Bob"},
		},
		UpdatedAt: t0.Add(time.Duration(updated) * time.Minute),
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	r.Replace([]Conversation{conv("a", 1), conv("b", 3), conv("c", 2)})
	r.SetPinned("a", true)

	var got []string
	for _, c := range r.List() {
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRegistryReplaceKeepsPins(t *testing.T) {
	r := NewRegistry()
	r.Replace([]Conversation{conv("a", 1), conv("b", 1)})
	r.SetPinned("a", true)

	fresh := conv("a", 5)
	fresh.DisplayName = "renamed"
	r.Replace([]Conversation{fresh})

	c, ok := r.Get("a")
	require.True(t, ok)
	assert.True(t, c.Pinned)
	assert.Equal(t, "renamed", c.DisplayName)
	assert.False(t, r.Has("b"))
}

func TestRegistryUnreadIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Put(conv("a", 1))

	assert.True(t, r.IncUnread("a", 10))
	assert.False(t, r.IncUnread("a", 10))
	assert.True(t, r.IncUnread("a", 11))
	c, _ := r.Get("a")
	assert.Equal(t, 2, c.UnreadCount)

	r.SetUnread("a", 0)
	r.MarkCounted("a", 12)
	assert.False(t, r.IncUnread("a", 12))
	c, _ = r.Get("a")
	assert.Equal(t, 0, c.UnreadCount)

	assert.False(t, r.IncUnread("missing", 1))
}

func TestRegistryNoteMessage(t *testing.T) {
	r := NewRegistry()
	r.Put(conv("a", 0))

	newer := confirmed(2, 120)
	newer.ConversationID = "a"
	older := confirmed(1, 60)
	older.ConversationID = "a"

	assert.True(t, r.NoteMessage(newer))
	assert.False(t, r.NoteMessage(older))

	c, _ := r.Get("a")
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, int64(2), c.LastMessage.ID)
	assert.Equal(t, newer.CreatedAt, c.UpdatedAt)

	assert.True(t, r.ForgetMessage("a", 2))
	c, _ = r.Get("a")
	assert.Nil(t, c.LastMessage)
}

func TestRegistryPatchAndPresence(t *testing.T) {
	r := NewRegistry()
	r.Put(conv("a", 0))
	r.Put(conv("b", 0))

	name := "Project X"
	assert.True(t, r.Patch(&ConversationPatch{ID: "a", DisplayName: &name}))
	assert.False(t, r.Patch(&ConversationPatch{ID: "zzz", DisplayName: &name}))

	c, _ := r.Get("a")
	assert.Equal(t, "Project X", c.DisplayName)
	assert.Len(t, c.Members, 2, "members untouched by a patch without members")

	seen := t0.Add(time.Hour)
	assert.Equal(t, 2, r.SetPresence("bob", true, seen))
	for _, id := range []string{"a", "b"} {
		c, _ := r.Get(id)
		m, ok := c.Member("bob")
		require.True(t, ok)
		assert.True(t, m.Online)
		assert.Equal(t, seen, m.LastActive)
	}
}
