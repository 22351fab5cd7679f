package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
)

func TestNewMessageUnread(t *testing.T) {
	h := newHarness(t, nil)
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	// c2 has no surface: counted once per message id.
	h.eng.Handle(event.NewMessage{ConversationID: "c2", Message: bobSays("c2", 10, 1)})
	h.eng.Handle(event.NewMessage{ConversationID: "c2", Message: bobSays("c2", 10, 1)})
	assert.Equal(t, 1, h.conv("c2").UnreadCount)
	require.NotNil(t, h.conv("c2").LastMessage)
	assert.Equal(t, int64(10), h.conv("c2").LastMessage.ID)

	// c1 is on screen: read-ack instead.
	h.eng.Handle(event.NewMessage{ConversationID: "c1", Message: bobSays("c1", 11, 2)})
	assert.Equal(t, 0, h.conv("c1").UnreadCount)
	assert.Equal(t, []int64{11}, messageIDs(h.view(sid)))
	assert.Equal(t, 2, h.tr.count(event.MarkRead{ConversationID: "c1"}))

	_, err := m.ToggleMinimize(sid)
	require.NoError(t, err)
	h.eng.Handle(event.NewMessage{ConversationID: "c1", Message: bobSays("c1", 12, 3)})
	h.eng.Handle(event.NewMessage{ConversationID: "c1", Message: bobSays("c1", 11, 2)})
	assert.Equal(t, 1, h.conv("c1").UnreadCount)
	assert.Equal(t, []int64{11, 12}, messageIDs(h.view(sid)))

	require.NoError(t, m.Focus(sid))
	assert.Equal(t, 0, h.conv("c1").UnreadCount)
}

func TestNewMessageUnknownConversationRelists(t *testing.T) {
	h := newHarness(t, nil)
	before := h.lists.Load()

	h.eng.Handle(event.NewMessage{ConversationID: "c9", Message: bobSays("c9", 1, 1)})
	require.Eventually(t, func() bool { return h.lists.Load() > before }, waitFor, tick)

	_, err := h.eng.Conversation("c9")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestReactionEventsAreIdempotent(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.api.EXPECT().Messages(gomock.Any(), "c1").Return([]chatstore.Message{bobSays("c1", 1, 1)}, nil).AnyTimes()
	})
	m := h.manager(Desktop)
	sid := h.open(m, "c1")
	h.waitLoaded(sid)

	set := event.ReactionSet{
		ConversationID: "c1",
		MessageID:      1,
		Reactions:      []chatstore.Reaction{{Emoji: "👍", UserID: "bob"}, {Emoji: "👍", UserID: "carol"}},
	}
	h.eng.Handle(event.ReactionAdded{ReactionSet: set})
	once := h.view(sid).Messages
	h.eng.Handle(event.ReactionAdded{ReactionSet: set})
	assert.Equal(t, once, h.view(sid).Messages)
	assert.Len(t, once[0].Reactions, 2)

	set.Reactions = set.Reactions[1:]
	h.eng.Handle(event.ReactionRemoved{ReactionSet: set})
	assert.Equal(t, []chatstore.Reaction{{Emoji: "👍", UserID: "carol"}}, h.view(sid).Messages[0].Reactions)

	// Unknown ids are ignored.
	h.eng.Handle(event.ReactionAdded{ReactionSet: event.ReactionSet{ConversationID: "c1", MessageID: 99}})
	h.eng.Handle(event.MessageDeleted{ConversationID: "c404", MessageID: 1})
	assert.Equal(t, []int64{1}, messageIDs(h.view(sid)))
}

func TestDeletedMessageNotResurrectedByPoll(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, func(h *harness) {
		h.api.EXPECT().Messages(gomock.Any(), "c1").DoAndReturn(
			func(context.Context, string) ([]chatstore.Message, error) {
				fetches.Add(1)
				return []chatstore.Message{bobSays("c1", 1, 1), bobSays("c1", 2, 2)}, nil
			}).AnyTimes()
	})
	m := h.manager(Desktop)
	sid := h.open(m, "c1")
	h.waitLoaded(sid)

	h.eng.Handle(event.MessageDeleted{ConversationID: "c1", MessageID: 2})
	assert.Equal(t, []int64{1}, messageIDs(h.view(sid)))

	h.eng.Resync()
	require.Eventually(t, func() bool {
		var busy bool
		if err := h.eng.do(func() { busy = h.eng.fetching["c1"] }); err != nil {
			return false
		}
		return fetches.Load() >= 2 && !busy
	}, waitFor, tick)
	assert.Equal(t, []int64{1}, messageIDs(h.view(sid)))
}

func TestDeletedMessageStaysGoneInLaterSurface(t *testing.T) {
	var fetches atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, func(h *harness) {
		h.api.EXPECT().Messages(gomock.Any(), "c1").DoAndReturn(
			func(ctx context.Context, _ string) ([]chatstore.Message, error) {
				if fetches.Add(1) == 2 {
					close(started)
					select {
					case <-release:
					case <-ctx.Done():
					}
				}
				return []chatstore.Message{bobSays("c1", 1, 1), bobSays("c1", 2, 2)}, nil
			}).AnyTimes()
	})
	desktop := h.manager(Desktop)
	a := h.open(desktop, "c1")
	h.waitLoaded(a)

	h.eng.Resync()
	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("history refetch not started")
	}
	h.eng.Handle(event.MessageDeleted{ConversationID: "c1", MessageID: 2})
	b := h.open(h.manager(Compact), "c1")
	close(release)

	require.Eventually(t, func() bool {
		var busy bool
		if err := h.eng.do(func() { busy = h.eng.fetching["c1"] }); err != nil {
			return false
		}
		return !busy
	}, waitFor, tick)
	assert.Equal(t, []int64{1}, messageIDs(h.view(a)))
	assert.Equal(t, []int64{1}, messageIDs(h.view(b)))
}

func TestPollerRefetchesVisibleSurfaces(t *testing.T) {
	var fetches atomic.Int32
	h := newHarness(t, func(h *harness) {
		h.cfg.PollInterval = 20 * time.Millisecond
		h.api.EXPECT().Messages(gomock.Any(), "c1").DoAndReturn(
			func(context.Context, string) ([]chatstore.Message, error) {
				n := fetches.Add(1)
				return []chatstore.Message{bobSays("c1", int64(n), int(n))}, nil
			}).AnyTimes()
	})
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	require.Eventually(t, func() bool { return len(h.view(sid).Messages) >= 3 }, waitFor, tick)
	assert.Greater(t, h.lists.Load(), int32(1))
}

func TestConversationUpdateIsPartial(t *testing.T) {
	h := newHarness(t, nil)
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	name := "renamed"
	h.eng.Handle(event.ConversationUpdated{Conversation: chatstore.ConversationPatch{ID: "c1", DisplayName: &name}})

	c := h.conv("c1")
	assert.Equal(t, "renamed", c.DisplayName)
	assert.Equal(t, chatstore.ConversationGroup, c.Kind)
	assert.Len(t, c.Members, 2)
	assert.Equal(t, "renamed", h.view(sid).Conversation.DisplayName)

	before := h.lists.Load()
	h.eng.Handle(event.ConversationUpdated{Conversation: chatstore.ConversationPatch{ID: "c9", DisplayName: &name}})
	require.Eventually(t, func() bool { return h.lists.Load() > before }, waitFor, tick)
}

func TestPresenceReachesEveryMembership(t *testing.T) {
	h := newHarness(t, nil)
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	at := t0.Add(time.Minute)
	h.eng.Handle(event.UserOnline{UserID: "bob", LastActive: at})
	for _, id := range []string{"c1", "c2"} {
		c := h.conv(id)
		bob, ok := c.Member("bob")
		require.True(t, ok)
		assert.True(t, bob.Online, id)
		assert.True(t, at.Equal(bob.LastActive), id)
	}
	conv := h.view(sid).Conversation
	bob, _ := conv.Member("bob")
	assert.True(t, bob.Online)

	h.eng.Handle(event.UserOffline{UserID: "bob"})
	c2 := h.conv("c2")
	bob, _ = c2.Member("bob")
	assert.False(t, bob.Online)
}

func TestTypingExpires(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.cfg.TypingTTL = 100 * time.Millisecond })
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	h.eng.Handle(event.Typing{ConversationID: "c1", UserID: "me", UserName: "Me"})
	h.eng.Handle(event.Typing{ConversationID: "c1", UserID: "bob"})
	typers, err := h.eng.Typing(sid)
	require.NoError(t, err)
	assert.Equal(t, []Typer{{UserID: "bob", UserName: "Bob"}}, typers)

	require.Eventually(t, func() bool {
		typers, err := h.eng.Typing(sid)
		return err == nil && len(typers) == 0
	}, waitFor, tick)
}

func TestStopTypingAndMessageClearTyper(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.cfg.TypingTTL = time.Minute })
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	h.eng.Handle(event.Typing{ConversationID: "c1", UserID: "bob", UserName: "Bob"})
	h.eng.Handle(event.Typing{ConversationID: "c1", UserID: "carol", UserName: "Carol"})
	h.eng.Handle(event.Typing{ConversationID: "c1", UserID: "al", UserName: "Al"})
	assert.Equal(t, []Typer{{"al", "Al"}, {"bob", "Bob"}, {"carol", "Carol"}}, h.view(sid).Typing)

	h.eng.Handle(event.StopTyping{ConversationID: "c1", UserID: "carol"})
	h.eng.Handle(event.NewMessage{ConversationID: "c1", Message: bobSays("c1", 1, 1)})
	assert.Equal(t, []Typer{{"al", "Al"}}, h.view(sid).Typing)
}

func TestInputDebouncesTypingSignal(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.cfg.TypingDebounce = 100 * time.Millisecond })
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	start := event.StartTyping{ConversationID: "c1"}
	stop := event.EndTyping{ConversationID: "c1"}
	for _, text := range []string{"h", "he", "hey"} {
		require.NoError(t, h.eng.Input(sid, text))
	}
	assert.Equal(t, "hey", h.view(sid).Draft)
	require.Eventually(t, func() bool { return h.tr.count(start) == 1 }, waitFor, tick)
	time.Sleep(3 * h.cfg.TypingDebounce)
	assert.Equal(t, 1, h.tr.count(start))

	require.NoError(t, h.eng.Input(sid, ""))
	require.Eventually(t, func() bool { return h.tr.count(stop) == 1 }, waitFor, tick)
}

func TestSeen(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		c1 := testConv("c1")
		c1.Members = append(c1.Members, member("carol", "Carol"))
		h.convs = []chatstore.Conversation{c1}
		h.api.EXPECT().Messages(gomock.Any(), "c1").Return([]chatstore.Message{
			bobSays("c1", 1, 1),
			{ID: 2, ConversationID: "c1", SenderID: "me", Content: "yo", CreatedAt: t0.Add(2 * time.Second)},
		}, nil).AnyTimes()
	})
	m := h.manager(Desktop)
	sid := h.open(m, "c1")
	h.waitLoaded(sid)

	seen := func() bool {
		v, err := h.eng.Seen(sid)
		require.NoError(t, err)
		return v
	}
	assert.False(t, seen())

	h.eng.Handle(event.ConversationRead{ConversationID: "c1", UserID: "bob", ReadAt: t0.Add(3 * time.Second)})
	assert.False(t, seen())

	h.eng.Handle(event.ConversationRead{ConversationID: "c1", UserID: "carol", ReadAt: t0.Add(2 * time.Second)})
	assert.True(t, seen())
	assert.True(t, h.view(sid).Seen)

	// Read times only move forward.
	h.eng.Handle(event.ConversationRead{ConversationID: "c1", UserID: "bob", ReadAt: t0})
	assert.True(t, seen())
	assert.True(t, t0.Add(3*time.Second).Equal(h.view(sid).ReadBy["bob"]))
}

func TestMentions(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		c1 := testConv("c1")
		c1.Members = []chatstore.Member{
			member("me", "Anh Me"),
			member("u2", "Nguyen Van A"),
			member("u3", "Anna"),
			member("u4", "Bob"),
		}
		h.convs = []chatstore.Conversation{c1}
	})
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	got, err := h.eng.Mentions(sid, "hi @an", 6)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u2", got[0].UserID)
	assert.Equal(t, "u3", got[1].UserID)

	got, err = h.eng.Mentions(sid, "hi an", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
