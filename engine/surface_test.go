package engine

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
)

func surfaceConvs(t *testing.T, m *Manager) []string {
	vs, err := m.Surfaces()
	require.NoError(t, err)
	var out []string
	for _, v := range vs {
		out = append(out, v.Conversation.ID)
	}
	return out
}

func TestOpenZeroesUnreadBeforeNetwork(t *testing.T) {
	block := func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := newHarness(t, func(h *harness) {
		c1 := testConv("c1")
		c1.UnreadCount = 4
		h.convs = []chatstore.Conversation{c1}
		h.api.EXPECT().MarkRead(gomock.Any(), "c1").DoAndReturn(block).AnyTimes()
		h.api.EXPECT().Messages(gomock.Any(), "c1").DoAndReturn(
			func(ctx context.Context, _ string) ([]chatstore.Message, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}).AnyTimes()
	})
	assert.Equal(t, 4, h.conv("c1").UnreadCount)

	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	assert.Equal(t, 0, h.conv("c1").UnreadCount)
	assert.False(t, h.view(sid).Loaded)
	assert.Equal(t, []event.Command{
		event.Join{ConversationID: "c1"},
		event.MarkRead{ConversationID: "c1"},
	}, h.tr.commands())
}

func TestOpenExistingRestores(t *testing.T) {
	h := newHarness(t, nil)
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	minimized, err := m.ToggleMinimize(sid)
	require.NoError(t, err)
	assert.True(t, minimized)

	again := h.open(m, "c1")
	assert.Equal(t, sid, again)
	assert.False(t, h.view(sid).Minimized)
	assert.Equal(t, 1, h.tr.count(event.Join{ConversationID: "c1"}))
	assert.Equal(t, 2, h.tr.count(event.MarkRead{ConversationID: "c1"}))
}

func TestMinimizeMaximize(t *testing.T) {
	h := newHarness(t, nil)
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	maximized, err := m.ToggleMaximize(sid)
	require.NoError(t, err)
	assert.True(t, maximized)

	minimized, err := m.ToggleMinimize(sid)
	require.NoError(t, err)
	assert.True(t, minimized)
	v := h.view(sid)
	assert.False(t, v.Maximized)

	maximized, err = m.ToggleMaximize(sid)
	require.NoError(t, err)
	assert.True(t, maximized)
	assert.False(t, h.view(sid).Minimized)

	require.NoError(t, m.Focus(sid))
	_, err = m.ToggleMinimize("s404")
	assert.ErrorIs(t, err, ErrSurfaceNotFound)
}

func TestDesktopEvictsOldest(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.convs = []chatstore.Conversation{testConv("c1"), testConv("c2"), testConv("c3"), testConv("c4")}
	})
	m := h.manager(Desktop)
	for _, id := range []string{"c1", "c2", "c3"} {
		h.open(m, id)
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, surfaceConvs(t, m))

	h.open(m, "c4")
	assert.Equal(t, []string{"c2", "c3", "c4"}, surfaceConvs(t, m))
	assert.Equal(t, 1, h.tr.count(event.Leave{ConversationID: "c1"}))
}

func TestCompactReplaces(t *testing.T) {
	h := newHarness(t, nil)
	m := h.manager(Compact)
	assert.Equal(t, Compact, m.Layout())

	first := h.open(m, "c1")
	h.open(m, "c2")
	assert.Equal(t, []string{"c2"}, surfaceConvs(t, m))
	assert.Equal(t, 1, h.tr.count(event.Leave{ConversationID: "c1"}))

	_, err := h.eng.View(first)
	assert.ErrorIs(t, err, ErrSurfaceNotFound)
}

func TestCloseEmitsLeaveAndCancelsTimers(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.cfg.TypingDebounce = time.Minute
		h.cfg.TypingTTL = time.Minute
	})
	m := h.manager(Desktop)
	sid := h.open(m, "c1")

	h.eng.Handle(event.Typing{ConversationID: "c1", UserID: "bob", UserName: "Bob"})
	require.NoError(t, h.eng.Input(sid, "draft"))

	var s *Surface
	require.NoError(t, h.eng.do(func() { s = h.eng.surface(sid) }))
	require.NotNil(t, s)
	require.NoError(t, h.eng.do(func() {
		assert.True(t, s.scope.pending(inputKey))
		assert.True(t, s.scope.pending(typingKey("bob")))
	}))

	require.NoError(t, m.Close(sid))
	require.NoError(t, h.eng.do(func() {
		assert.Zero(t, s.scope.len())
		assert.True(t, s.scope.closed)
	}))
	assert.Equal(t, 1, h.tr.count(event.Leave{ConversationID: "c1"}))
	assert.Empty(t, surfaceConvs(t, m))
	assert.ErrorIs(t, m.Close(sid), ErrSurfaceNotFound)
}

func TestCloseKeepsRoomShownElsewhere(t *testing.T) {
	h := newHarness(t, nil)
	desk := h.manager(Desktop)
	compact := h.manager(Compact)
	sid := h.open(desk, "c1")
	h.open(compact, "c1")

	require.NoError(t, desk.Close(sid))
	cmds := h.tr.commands()
	require.GreaterOrEqual(t, len(cmds), 2)
	assert.Equal(t, []event.Command{
		event.Leave{ConversationID: "c1"},
		event.Join{ConversationID: "c1"},
	}, cmds[len(cmds)-2:])
}

func TestSurfacesStayIdentical(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.api.EXPECT().Messages(gomock.Any(), "c1").Return(
			[]chatstore.Message{bobSays("c1", 1, 1), bobSays("c1", 2, 2)}, nil).AnyTimes()
	})
	desk := h.manager(Desktop)
	compact := h.manager(Compact)
	a := h.open(desk, "c1")
	h.waitLoaded(a)
	b := h.open(compact, "c1")
	h.waitLoaded(b)

	ignore := cmpopts.IgnoreFields(SurfaceView{}, "ID", "Layout", "OpenedAt")
	same := func() {
		t.Helper()
		if diff := cmp.Diff(h.view(a), h.view(b), ignore); diff != "" {
			t.Errorf("surfaces differ (-desktop +compact):\n%s", diff)
		}
	}
	same()

	reactions := []chatstore.Reaction{{Emoji: "🎉", UserID: "bob"}}
	for _, ev := range []event.Event{
		event.NewMessage{ConversationID: "c1", Message: bobSays("c1", 3, 3)},
		event.ReactionAdded{ReactionSet: event.ReactionSet{ConversationID: "c1", MessageID: 1, Reactions: reactions}},
		event.MessageDeleted{ConversationID: "c1", MessageID: 2},
		event.ConversationRead{ConversationID: "c1", UserID: "bob", ReadAt: t0},
		event.Typing{ConversationID: "c1", UserID: "bob", UserName: "Bob"},
		event.UserOnline{UserID: "bob", LastActive: t0},
	} {
		h.eng.Handle(ev)
		same()
	}
	assert.Equal(t, []int64{1, 3}, messageIDs(h.view(a)))
}
