// Package ws is the websocket push transport: it delivers server events and
// sends client commands, reconnecting with backoff and re-joining rooms.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/backoff"
	"github.com/mqy/minichat/event"
)

var (
	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "ws",
		Name:      "reconnects_total",
		Help:      "Number of websocket sessions established after the first one.",
	})
	droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minichat",
		Subsystem: "ws",
		Name:      "dropped_frames_total",
		Help:      "Number of malformed or unknown server frames dropped.",
	})
)

func init() {
	prometheus.MustRegister(reconnects, droppedFrames)
}

type Config struct {
	URL   string
	Creds auth.Provider

	// OnEvent receives every decoded server event, on the receiving goroutine.
	OnEvent func(event.Event)

	// OnConnect is called after each session is established and the joined
	// rooms are queued for re-join. reconnect is false for the first session.
	OnConnect func(reconnect bool)
}

// Client keeps one websocket session alive until its Run context is done.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	rooms  *RoomStore

	mu   sync.Mutex
	sess *session
}

func NewClient(cfg Config) (*Client, error) {
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, fmt.Errorf("websocket url %q: scheme must be ws or wss", cfg.URL)
	}
	if cfg.Creds == nil {
		return nil, fmt.Errorf("websocket: credentials are required")
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(event.Event) {}
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		rooms: newRoomStore(),
	}, nil
}

// Run dials, serves the session and redials with backoff until ctx is done.
func (c *Client) Run(ctx context.Context) {
	glog.Infof("ws: run %s", c.cfg.URL)
	defer glog.Info("ws: exited")

	var sleep time.Duration
	var connected bool
	for {
		established, err := c.serve(ctx, connected)
		if ctx.Err() != nil {
			return
		}
		if established {
			connected = true
			sleep = 0
		}
		if err != nil {
			glog.Errorf("ws: %v", err)
		}
		if !backoff.Sleep(ctx, &sleep) {
			return
		}
		glog.V(5).Infof("ws: redial after %s", sleep)
	}
}

// serve runs one session and blocks until it is closed.
func (c *Client) serve(ctx context.Context, reconnect bool) (bool, error) {
	h := http.Header{}
	if err := c.cfg.Creds.Authorize(h); err != nil {
		return false, fmt.Errorf("authorize: %w", err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, h)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w, status: %s", err, resp.Status)
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	s := newSession(strings.ReplaceAll(uuid.New(), "-", ""), conn)
	conn.SetCloseHandler(func(code int, text string) error {
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", s, code, text)
		s.close(ClosedByPeer)
		return nil
	})

	c.mu.Lock()
	c.sess = s
	rooms := c.rooms.list()
	c.mu.Unlock()

	for _, id := range rooms {
		frame, _ := event.EncodeCommand(event.Join{ConversationID: id})
		if err := s.push(frame); err != nil {
			glog.Errorf("ws: re-join %s: %v", id, err)
		}
	}

	glog.Infof("ws: connected, session: %s, rooms: %d", s, len(rooms))
	if reconnect {
		reconnects.Inc()
	}

	go s.sendLoop()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.close(ClientStop)
		case <-stop:
		}
	}()

	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(reconnect)
	}

	s.recvLoop(c.cfg.OnEvent)
	close(stop)
	<-s.sendDone

	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()

	return true, fmt.Errorf("session %s ended: %s", s, s.cause)
}

// Send emits a command. Join and Leave also update the room set so that
// rooms are re-joined after a reconnect; while disconnected they are only
// recorded.
func (c *Client) Send(cmd event.Command) error {
	frame, err := event.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch v := cmd.(type) {
	case event.Join:
		c.rooms.add(v.ConversationID)
	case event.Leave:
		c.rooms.del(v.ConversationID)
	}
	s := c.sess
	c.mu.Unlock()

	if s == nil {
		switch cmd.(type) {
		case event.Join, event.Leave:
			return nil
		default:
			return ErrNotConnected
		}
	}
	return s.push(frame)
}

// Joined reports whether the conversation is in the room set.
func (c *Client) Joined(convID string) bool {
	return c.rooms.has(convID)
}

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}
