package engine

import (
	"context"

	"github.com/golang/glog"

	"github.com/mqy/minichat/event"
)

// markRead zeroes the unread count at once, emits mark_read and issues the
// read request. A failed request is only logged.
func (e *Engine) markRead(convID string) {
	e.reg.SetUnread(convID, 0)
	e.emit(event.MarkRead{ConversationID: convID})
	e.spawn(func(ctx context.Context) func() {
		if err := e.api.MarkRead(ctx, convID); err != nil {
			glog.Errorf("engine: mark read %s: %v", convID, err)
		}
		return nil
	})
}

func (e *Engine) onConversationRead(v event.ConversationRead) {
	for _, s := range e.surfacesOf(v.ConversationID) {
		if prev, ok := s.readBy[v.UserID]; !ok || v.ReadAt.After(prev) {
			s.readBy[v.UserID] = v.ReadAt
		}
	}
}

// seen reports whether every other member has read up to the local user's
// last confirmed message.
func (s *Surface) seen(self string) bool {
	last, ok := s.timeline.LastConfirmedFrom(self)
	if !ok {
		return false
	}
	var others int
	for _, m := range s.conv.Members {
		if m.UserID == self {
			continue
		}
		others++
		readAt, ok := s.readBy[m.UserID]
		if !ok || readAt.Before(last.CreatedAt) {
			return false
		}
	}
	return others > 0
}

// Seen reports whether the local user's last message in a surface was read
// by every other member.
func (e *Engine) Seen(surfaceID string) (bool, error) {
	var out bool
	err := e.withSurface(surfaceID, func(s *Surface) error {
		out = s.seen(e.cfg.UserID)
		return nil
	})
	return out, err
}
