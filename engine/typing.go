package engine

import (
	"strings"
	"time"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
	"github.com/mqy/minichat/mention"
)

const inputKey = "input"

func typingKey(userID string) string {
	return "typing:" + userID
}

// Input records the draft of a surface. After TypingDebounce without further
// input it emits chat:typing for a non-empty draft and chat:stop_typing for
// an empty one.
func (e *Engine) Input(surfaceID, text string) error {
	return e.withSurface(surfaceID, func(s *Surface) error {
		s.draft = text
		e.notify()
		s.scope.set(inputKey, e.cfg.TypingDebounce, func() {
			if strings.TrimSpace(text) != "" {
				s.typingLive = true
				e.emit(event.StartTyping{ConversationID: s.conv.ID})
			} else {
				s.typingLive = false
				e.emit(event.EndTyping{ConversationID: s.conv.ID})
			}
		})
		return nil
	})
}

// stopTyping cancels a pending typing emission and ends a live signal.
func (s *Surface) stopTyping(e *Engine) {
	s.scope.cancel(inputKey)
	if s.typingLive {
		s.typingLive = false
		e.emit(event.EndTyping{ConversationID: s.conv.ID})
	}
}

// Typing returns the remote users typing in a surface, ordered by name.
func (e *Engine) Typing(surfaceID string) ([]Typer, error) {
	var out []Typer
	err := e.withSurface(surfaceID, func(s *Surface) error {
		out = s.typing()
		return nil
	})
	return out, err
}

// Mentions returns member suggestions when the text before caret ends with an
// @token.
func (e *Engine) Mentions(surfaceID, text string, caret int) ([]chatstore.Member, error) {
	var out []chatstore.Member
	err := e.withSurface(surfaceID, func(s *Surface) error {
		if q, _, ok := mention.Trigger(text, caret); ok {
			out = mention.Suggest(s.conv.Members, e.cfg.UserID, q)
		}
		return nil
	})
	return out, err
}

// armTyper (re)starts the expiry of a remote typer.
func (s *Surface) armTyper(userID string, d time.Duration) {
	s.scope.set(typingKey(userID), d, func() {
		delete(s.typers, userID)
		s.mgr.e.notify()
	})
}

func (s *Surface) dropTyper(userID string) bool {
	s.scope.cancel(typingKey(userID))
	if _, ok := s.typers[userID]; ok {
		delete(s.typers, userID)
		return true
	}
	return false
}

func (e *Engine) onTyping(v event.Typing) {
	if v.UserID == e.cfg.UserID {
		return
	}
	expires := e.cfg.Now().Add(e.cfg.TypingTTL)
	for _, s := range e.surfacesOf(v.ConversationID) {
		name := v.UserName
		if name == "" {
			if m, ok := s.conv.Member(v.UserID); ok {
				name = m.Name
			}
		}
		s.typers[v.UserID] = typer{name: name, expires: expires}
		s.armTyper(v.UserID, e.cfg.TypingTTL)
	}
}

func (e *Engine) onStopTyping(v event.StopTyping) {
	for _, s := range e.surfacesOf(v.ConversationID) {
		s.dropTyper(v.UserID)
	}
}
