package engine

import (
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
)

// route applies a push event on the loop. Handlers are keyed by id so that
// duplicates and reordering converge to the same state.
func (e *Engine) route(ev event.Event) {
	if ev == nil {
		return
	}
	routedEvents.WithLabelValues(string(ev.Kind())).Inc()

	switch v := ev.(type) {
	case event.NewMessage:
		e.onNewMessage(v)
	case event.Typing:
		e.onTyping(v)
	case event.StopTyping:
		e.onStopTyping(v)
	case event.ReactionAdded:
		e.applyReactions(v.ConversationID, v.MessageID, v.Reactions)
		return
	case event.ReactionRemoved:
		e.applyReactions(v.ConversationID, v.MessageID, v.Reactions)
		return
	case event.ConversationUpdated:
		e.onConversationUpdated(v)
	case event.MessageDeleted:
		e.removeMessage(v.ConversationID, v.MessageID)
		return
	case event.UserOnline:
		e.setPresence(v.UserID, true, v.LastActive)
	case event.UserOffline:
		e.setPresence(v.UserID, false, v.LastActive)
	case event.ConversationRead:
		e.onConversationRead(v)
	default:
		glog.Errorf("engine: unhandled event %T", ev)
		return
	}
	e.notify()
}

func (e *Engine) onNewMessage(v event.NewMessage) {
	msg := v.Message
	if msg.ConversationID == "" {
		msg.ConversationID = v.ConversationID
	}
	convID := msg.ConversationID
	if convID == "" || msg.ID < 0 {
		glog.Errorf("engine: drop %s without conversation or with a negative id", msg)
		return
	}
	if msg.SenderID == e.cfg.UserID {
		// Own sends settle through the send response.
		return
	}

	for _, s := range e.surfacesOf(convID) {
		s.timeline.Upsert(msg)
		s.dropTyper(msg.SenderID)
	}

	if !e.reg.Has(convID) {
		glog.V(5).Infof("engine: message for unknown conversation %s", convID)
		e.refreshList()
		return
	}
	e.reg.NoteMessage(msg)
	if e.viewed(convID) {
		e.reg.MarkCounted(convID, msg.ID)
		e.markRead(convID)
	} else {
		e.reg.IncUnread(convID, msg.ID)
	}
}

// applyReactions replaces the reaction set of a message wholesale.
func (e *Engine) applyReactions(convID string, msgID int64, reactions []chatstore.Reaction) {
	for _, s := range e.surfacesOf(convID) {
		s.timeline.SetReactions(msgID, reactions)
	}
	e.reg.SetReactions(convID, msgID, reactions)
	e.notify()
}

func (e *Engine) onConversationUpdated(v event.ConversationUpdated) {
	p := v.Conversation
	if p.ID == "" {
		glog.Error("engine: conversation update without id")
		return
	}
	if !e.reg.Patch(&p) {
		e.refreshList()
	}
	for _, s := range e.surfacesOf(p.ID) {
		p.Apply(&s.conv)
	}
}

// removeMessage tombstones a message in every timeline of the conversation.
func (e *Engine) removeMessage(convID string, msgID int64) {
	surfaces := e.surfacesOf(convID)
	for _, s := range surfaces {
		s.timeline.Remove(msgID)
	}
	if e.reg.ForgetMessage(convID, msgID) && len(surfaces) > 0 {
		if last, ok := lastConfirmed(surfaces[0].timeline); ok {
			e.reg.NoteMessage(last)
		}
	}
	e.notify()
}

// setPresence updates every membership record of userID. A missing
// lastActive defaults to now.
func (e *Engine) setPresence(userID string, online bool, lastActive time.Time) {
	if lastActive.IsZero() {
		lastActive = e.cfg.Now()
	}
	e.reg.SetPresence(userID, online, lastActive)
	for _, m := range e.managers {
		for _, s := range m.surfaces {
			s.conv.SetPresence(userID, online, lastActive)
		}
	}
}
