package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
)

type Layout int

const (
	// Desktop shows several surfaces side by side, up to Config.MaxSurfaces.
	Desktop Layout = iota
	// Compact shows one surface; opening another replaces it.
	Compact
)

func (l Layout) String() string {
	switch l {
	case Desktop:
		return "desktop"
	case Compact:
		return "compact"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

type typer struct {
	name    string
	expires time.Time
}

// Surface is one open conversation view.
type Surface struct {
	id        string
	mgr       *Manager
	conv      chatstore.Conversation
	minimized bool
	maximized bool
	openedAt  time.Time
	loaded    bool

	timeline *chatstore.Timeline
	readBy   map[string]time.Time
	draft    string

	typers     map[string]typer
	typingLive bool

	scope *timerScope
}

// Typer is a remote user currently typing.
type Typer struct {
	UserID   string
	UserName string
}

// SurfaceView is a copy of a surface's state for presentation.
type SurfaceView struct {
	ID           string
	Layout       Layout
	Conversation chatstore.Conversation
	Minimized    bool
	Maximized    bool
	Loaded       bool
	OpenedAt     time.Time
	Messages     []chatstore.Message
	ReadBy       map[string]time.Time
	Draft        string
	Typing       []Typer
	Seen         bool
}

func (s *Surface) typing() []Typer {
	out := make([]Typer, 0, len(s.typers))
	for id, t := range s.typers {
		out = append(out, Typer{UserID: id, UserName: t.name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserName != out[j].UserName {
			return out[i].UserName < out[j].UserName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (s *Surface) view(self string) SurfaceView {
	readBy := make(map[string]time.Time, len(s.readBy))
	for k, v := range s.readBy {
		readBy[k] = v
	}
	conv, ok := s.mgr.e.reg.Get(s.conv.ID)
	if !ok {
		conv = s.conv.Clone()
	}
	return SurfaceView{
		ID:           s.id,
		Layout:       s.mgr.layout,
		Conversation: conv,
		Minimized:    s.minimized,
		Maximized:    s.maximized,
		Loaded:       s.loaded,
		OpenedAt:     s.openedAt,
		Messages:     s.timeline.Messages(),
		ReadBy:       readBy,
		Draft:        s.draft,
		Typing:       s.typing(),
		Seen:         s.seen(self),
	}
}

// Manager holds the surfaces of one layout. Several managers may share an
// engine; push events apply to the surfaces of all of them.
type Manager struct {
	e        *Engine
	layout   Layout
	max      int
	surfaces []*Surface // open order, oldest first
}

// NewManager attaches a surface manager to a running engine.
func (e *Engine) NewManager(layout Layout) (*Manager, error) {
	m := &Manager{e: e, layout: layout, max: e.cfg.MaxSurfaces}
	if layout == Compact {
		m.max = 1
	}
	if err := e.do(func() { e.managers = append(e.managers, m) }); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Layout() Layout {
	return m.layout
}

// Open shows a conversation and returns its surface id. An existing surface
// is restored; otherwise one is created, evicting the oldest-opened surface
// when the layout is full. Opening marks the conversation read.
func (m *Manager) Open(convID string) (string, error) {
	if convID == "" {
		return "", ErrConversationNotFound
	}
	var id string
	err := m.e.do(func() { id = m.open(convID) })
	return id, err
}

func (m *Manager) open(convID string) string {
	e := m.e
	for _, s := range m.surfaces {
		if s.conv.ID == convID {
			s.minimized = false
			e.markRead(convID)
			e.notify()
			return s.id
		}
	}

	for len(m.surfaces) >= m.max {
		oldest := m.surfaces[0]
		glog.V(5).Infof("engine: %s evicts surface %s (%s)", m.layout, oldest.id, oldest.conv.ID)
		m.close(oldest)
	}

	e.seq++
	s := &Surface{
		id:       fmt.Sprintf("s%d", e.seq),
		mgr:      m,
		openedAt: e.cfg.Now(),
		timeline: chatstore.NewTimeline(nil),
		readBy:   make(map[string]time.Time),
		typers:   make(map[string]typer),
		scope:    newTimerScope(e),
	}
	if c, ok := e.reg.Get(convID); ok {
		s.conv = c
	} else {
		s.conv = chatstore.Conversation{ID: convID}
	}

	// A conversation already on screen elsewhere seeds the new surface.
	if siblings := e.surfacesOf(convID); len(siblings) > 0 {
		src := siblings[0]
		s.timeline = src.timeline.Clone()
		for k, v := range src.readBy {
			s.readBy[k] = v
		}
		now := e.cfg.Now()
		for uid, t := range src.typers {
			if left := t.expires.Sub(now); left > 0 {
				s.typers[uid] = t
				s.armTyper(uid, left)
			}
		}
		s.loaded = src.loaded
		if !e.reg.Has(convID) {
			s.conv = src.conv.Clone()
		}
	}

	m.surfaces = append(m.surfaces, s)
	openSurfaces.Inc()

	e.emit(event.Join{ConversationID: convID})
	e.markRead(convID)
	e.fetchHistory(convID)
	e.notify()

	glog.V(5).Infof("engine: %s opened surface %s (%s)", m.layout, s.id, convID)
	return s.id
}

// Close removes a surface, emitting leave for its conversation and cancelling
// its timers.
func (m *Manager) Close(surfaceID string) error {
	var found bool
	if err := m.e.do(func() {
		if s := m.find(surfaceID); s != nil {
			found = true
			m.close(s)
			m.e.notify()
		}
	}); err != nil {
		return err
	}
	if !found {
		return ErrSurfaceNotFound
	}
	return nil
}

func (m *Manager) close(s *Surface) {
	e := m.e
	for i, v := range m.surfaces {
		if v == s {
			m.surfaces = append(m.surfaces[:i], m.surfaces[i+1:]...)
			break
		}
	}
	s.scope.close()
	openSurfaces.Dec()

	if s.typingLive {
		s.typingLive = false
		e.emit(event.EndTyping{ConversationID: s.conv.ID})
	}
	e.emit(event.Leave{ConversationID: s.conv.ID})
	// Another surface still shows the conversation: stay in the room.
	if len(e.surfacesOf(s.conv.ID)) > 0 {
		e.emit(event.Join{ConversationID: s.conv.ID})
	}
	glog.V(5).Infof("engine: %s closed surface %s (%s)", m.layout, s.id, s.conv.ID)
}

func (m *Manager) ToggleMinimize(surfaceID string) (bool, error) {
	var v bool
	err := m.update(surfaceID, func(s *Surface) {
		s.minimized = !s.minimized
		if s.minimized {
			s.maximized = false
		}
		v = s.minimized
	})
	return v, err
}

func (m *Manager) ToggleMaximize(surfaceID string) (bool, error) {
	var v bool
	err := m.update(surfaceID, func(s *Surface) {
		s.maximized = !s.maximized
		if s.maximized {
			s.minimized = false
		}
		v = s.maximized
	})
	return v, err
}

// Focus restores a surface and marks its conversation read.
func (m *Manager) Focus(surfaceID string) error {
	return m.update(surfaceID, func(s *Surface) {
		s.minimized = false
		m.e.markRead(s.conv.ID)
	})
}

// Surfaces returns views of the open surfaces, oldest first.
func (m *Manager) Surfaces() ([]SurfaceView, error) {
	var out []SurfaceView
	err := m.e.do(func() {
		for _, s := range m.surfaces {
			out = append(out, s.view(m.e.cfg.UserID))
		}
	})
	return out, err
}

func (m *Manager) Surface(surfaceID string) (SurfaceView, error) {
	var out SurfaceView
	var found bool
	if err := m.e.do(func() {
		if s := m.find(surfaceID); s != nil {
			found = true
			out = s.view(m.e.cfg.UserID)
		}
	}); err != nil {
		return out, err
	}
	if !found {
		return out, ErrSurfaceNotFound
	}
	return out, nil
}

func (m *Manager) find(surfaceID string) *Surface {
	for _, s := range m.surfaces {
		if s.id == surfaceID {
			return s
		}
	}
	return nil
}

// update runs fn on the loop with the surface, notifying on success.
func (m *Manager) update(surfaceID string, fn func(s *Surface)) error {
	var found bool
	if err := m.e.do(func() {
		if s := m.find(surfaceID); s != nil {
			found = true
			fn(s)
			m.e.notify()
		}
	}); err != nil {
		return err
	}
	if !found {
		return ErrSurfaceNotFound
	}
	return nil
}

// surface looks a surface up across all managers.
func (e *Engine) surface(surfaceID string) *Surface {
	for _, m := range e.managers {
		if s := m.find(surfaceID); s != nil {
			return s
		}
	}
	return nil
}

// withSurface runs fn on the loop with the surface of any manager.
func (e *Engine) withSurface(surfaceID string, fn func(s *Surface) error) error {
	var ferr error
	found := false
	if err := e.do(func() {
		if s := e.surface(surfaceID); s != nil {
			found = true
			ferr = fn(s)
		}
	}); err != nil {
		return err
	}
	if !found {
		return ErrSurfaceNotFound
	}
	return ferr
}

// surfacesOf returns every open surface showing convID.
func (e *Engine) surfacesOf(convID string) []*Surface {
	var out []*Surface
	for _, m := range e.managers {
		for _, s := range m.surfaces {
			if s.conv.ID == convID {
				out = append(out, s)
			}
		}
	}
	return out
}

// viewedConversations returns the conversations with a non-minimized surface.
func (e *Engine) viewedConversations() map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range e.managers {
		for _, s := range m.surfaces {
			if !s.minimized {
				out[s.conv.ID] = struct{}{}
			}
		}
	}
	return out
}

func (e *Engine) viewed(convID string) bool {
	for _, s := range e.surfacesOf(convID) {
		if !s.minimized {
			return true
		}
	}
	return false
}

// View returns a surface view from any manager.
func (e *Engine) View(surfaceID string) (SurfaceView, error) {
	var out SurfaceView
	err := e.withSurface(surfaceID, func(s *Surface) error {
		out = s.view(e.cfg.UserID)
		return nil
	})
	return out, err
}
