// Package engine keeps the open conversation surfaces consistent with the
// server's message log, the push channel and the local optimistic sends.
//
// All state is owned by one goroutine (Run). Public methods post a closure to
// it and wait; request results, push events and timer fires are posted back
// the same way.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/event"
)

const (
	callsChanSize  = 64
	errorsChanSize = 32
)

type Engine struct {
	cfg       Config
	api       API
	transport Transport
	pins      PinStore

	calls   chan func()
	done    chan struct{}
	errs    chan error
	changed chan struct{}
	wg      sync.WaitGroup
	started bool
	runMu   sync.Mutex
	pinMu   sync.Mutex

	// owned by the loop
	ctx      context.Context
	reg      *chatstore.Registry
	pinned   map[string]struct{}
	managers []*Manager
	seq      int64
	listing  bool
	relist   bool
	fetching map[string]bool
}

// New creates an engine. pins may be nil, in which case pins are kept in
// memory only.
func New(cfg Config, api API, transport Transport, pins PinStore) (*Engine, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		api:       api,
		transport: transport,
		pins:      pins,
		calls:     make(chan func(), callsChanSize),
		done:      make(chan struct{}),
		errs:      make(chan error, errorsChanSize),
		changed:   make(chan struct{}, 1),
		reg:       chatstore.NewRegistry(),
		pinned:    make(map[string]struct{}),
		fetching:  make(map[string]bool),
	}, nil
}

// Run serves the engine until ctx is done. It loads the pinned set, lists
// conversations and polls every PollInterval. Run may only be called once.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	if e.started {
		e.runMu.Unlock()
		return ErrClosed
	}
	e.started = true
	e.runMu.Unlock()

	glog.Infof("engine: run, user: %s", e.cfg.UserID)
	e.ctx = ctx

	if e.pins != nil {
		pinned, err := e.pins.Load(ctx)
		if err != nil {
			glog.Errorf("engine: load pins: %v", err)
		} else {
			e.pinned = pinned
		}
	}
	e.refreshList()

	var tick <-chan time.Time
	if e.cfg.PollInterval > 0 {
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case fn := <-e.calls:
			fn()
		case <-tick:
			e.resync()
		case <-ctx.Done():
			glog.Info("engine: stopping")
			for _, m := range e.managers {
				for _, s := range m.surfaces {
					s.scope.close()
				}
			}
			close(e.done)
			e.wg.Wait()
			openSurfaces.Set(0)
			glog.Info("engine: stopped")
			return ctx.Err()
		}
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case e.calls <- func() { fn(); close(finished) }:
	case <-e.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrClosed
	}
}

// post queues fn on the loop without waiting for it to run. Calls after the
// engine stopped are dropped.
func (e *Engine) post(fn func()) {
	select {
	case e.calls <- fn:
	case <-e.done:
	}
}

// spawn runs a request off the loop; the result is handled by settle on the
// loop. Run waits for spawned requests before returning.
func (e *Engine) spawn(req func(ctx context.Context) func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.RequestTimeout)
		settle := req(ctx)
		cancel()
		if settle != nil {
			e.post(settle)
		}
	}()
}

// Errors delivers send, upload and request failures. Errors are dropped when
// nobody reads them.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Changed is signalled, coalesced, after any state change.
func (e *Engine) Changed() <-chan struct{} {
	return e.changed
}

func (e *Engine) notify() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *Engine) reportErr(err error) {
	glog.Errorf("engine: %v", err)
	select {
	case e.errs <- err:
	default:
		glog.Errorf("engine: error channel full, dropped: %v", err)
	}
}

func (e *Engine) emit(cmd event.Command) {
	if err := e.transport.Send(cmd); err != nil {
		glog.V(5).Infof("engine: emit %s %s: %v", cmd.Kind(), event.Room(cmd), err)
	}
}

// Handle routes a push event. It is safe to call from any goroutine.
func (e *Engine) Handle(ev event.Event) {
	e.post(func() { e.route(ev) })
}

// Resync refetches the conversation list and the visible surfaces.
func (e *Engine) Resync() {
	e.post(e.resync)
}

// Conversations returns the registry list, pinned first then most recent.
func (e *Engine) Conversations() ([]chatstore.Conversation, error) {
	var out []chatstore.Conversation
	err := e.do(func() { out = e.reg.List() })
	return out, err
}

func (e *Engine) Conversation(id string) (chatstore.Conversation, error) {
	var out chatstore.Conversation
	var ok bool
	if err := e.do(func() { out, ok = e.reg.Get(id) }); err != nil {
		return out, err
	}
	if !ok {
		return out, ErrConversationNotFound
	}
	return out, nil
}

// CreateConversation creates a conversation and adds it to the registry.
func (e *Engine) CreateConversation(ctx context.Context, req chatstore.NewConversation) (chatstore.Conversation, error) {
	conv, err := e.api.CreateConversation(ctx, req)
	if err != nil {
		return chatstore.Conversation{}, &RequestError{Op: "create conversation", Err: err}
	}
	if err := e.do(func() {
		e.reg.Put(conv)
		if _, ok := e.pinned[conv.ID]; ok {
			e.reg.SetPinned(conv.ID, true)
		}
		e.notify()
	}); err != nil {
		return chatstore.Conversation{}, err
	}
	return conv, nil
}

// TogglePin flips the pin flag of a conversation and persists the pinned set.
func (e *Engine) TogglePin(ctx context.Context, convID string) (bool, error) {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()

	var pinned, found bool
	var snapshot map[string]struct{}
	if err := e.do(func() {
		if !e.reg.Has(convID) {
			return
		}
		found = true
		_, pinned = e.pinned[convID]
		pinned = !pinned
		if pinned {
			e.pinned[convID] = struct{}{}
		} else {
			delete(e.pinned, convID)
		}
		e.reg.SetPinned(convID, pinned)
		snapshot = make(map[string]struct{}, len(e.pinned))
		for id := range e.pinned {
			snapshot[id] = struct{}{}
		}
		e.notify()
	}); err != nil {
		return false, err
	}
	if !found {
		return false, ErrConversationNotFound
	}
	if e.pins != nil {
		if err := e.pins.Save(ctx, snapshot); err != nil {
			return pinned, err
		}
	}
	return pinned, nil
}

// refreshList lists conversations unless a listing is in flight, in which
// case another listing follows it.
func (e *Engine) refreshList() {
	if e.listing {
		e.relist = true
		return
	}
	e.listing = true
	e.spawn(func(ctx context.Context) func() {
		list, err := e.api.ListConversations(ctx)
		return func() {
			e.listing = false
			if err != nil {
				glog.Errorf("engine: list conversations: %v", err)
			} else {
				e.applyList(list)
			}
			if e.relist {
				e.relist = false
				e.refreshList()
			}
		}
	})
}

func (e *Engine) applyList(list []chatstore.Conversation) {
	e.reg.Replace(list)
	e.reg.ApplyPins(e.pinned)
	for _, m := range e.managers {
		for _, s := range m.surfaces {
			if c, ok := e.reg.Get(s.conv.ID); ok {
				s.conv = c
			}
		}
	}
	// Unread counts of conversations on screen stay zero.
	for id := range e.viewedConversations() {
		e.reg.SetUnread(id, 0)
	}
	e.notify()
}

// fetchHistory merges the server history of convID into every surface
// showing it. Concurrent fetches of one conversation are coalesced.
func (e *Engine) fetchHistory(convID string) {
	if e.fetching[convID] {
		return
	}
	e.fetching[convID] = true
	e.spawn(func(ctx context.Context) func() {
		page, err := e.api.Messages(ctx, convID)
		return func() {
			delete(e.fetching, convID)
			if err != nil {
				glog.Errorf("engine: fetch history of %s: %v", convID, err)
				return
			}
			surfaces := e.surfacesOf(convID)
			for _, s := range surfaces {
				s.timeline.Merge(page)
				s.loaded = true
			}
			if len(surfaces) > 0 {
				if last, ok := lastConfirmed(surfaces[0].timeline); ok {
					e.reg.NoteMessage(last)
				}
			}
			e.notify()
		}
	})
}

// resync is the fallback poll: it relists and refetches visible surfaces.
func (e *Engine) resync() {
	glog.V(5).Info("engine: resync")
	e.refreshList()
	seen := make(map[string]bool)
	for _, m := range e.managers {
		for _, s := range m.surfaces {
			if s.minimized || seen[s.conv.ID] {
				continue
			}
			seen[s.conv.ID] = true
			e.fetchHistory(s.conv.ID)
		}
	}
}

func lastConfirmed(tl *chatstore.Timeline) (chatstore.Message, bool) {
	msgs := tl.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].State == chatstore.Confirmed {
			return msgs[i], true
		}
	}
	return chatstore.Message{}, false
}
