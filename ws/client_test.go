package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/event"
)

type frame struct {
	conn int32
	data string
}

type testServer struct {
	*httptest.Server
	conns  int32
	frames chan frame
	accept chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{
		frames: make(chan frame, 16),
		accept: make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := auth.FromRequest(r); err != nil {
			http.Error(w, "Authenticate error", http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&ts.conns, 1)
		ts.accept <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.frames <- frame{conn: n, data: string(msg)}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func nextFrame(t *testing.T, ts *testServer) frame {
	select {
	case f := <-ts.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for frame")
		return frame{}
	}
}

func TestClientRejoinsAfterReconnect(t *testing.T) {
	ts := newTestServer(t)

	events := make(chan event.Event, 4)
	connects := make(chan bool, 4)
	c, err := NewClient(Config{
		URL:       ts.wsURL(),
		Creds:     &auth.Static{Uid: "me", Token: "tok"},
		OnEvent:   func(e event.Event) { events <- e },
		OnConnect: func(reconnect bool) { connects <- reconnect },
	})
	require.NoError(t, err)

	// recorded while disconnected, replayed on connect
	require.NoError(t, c.Send(event.Join{ConversationID: "c1"}))
	assert.ErrorIs(t, c.Send(event.MarkRead{ConversationID: "c1"}), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	conn1 := <-ts.accept
	assert.False(t, <-connects)
	f := nextFrame(t, ts)
	assert.Equal(t, int32(1), f.conn)
	assert.JSONEq(t, `{"event":"join_conversation","data":{"conversationId":"c1"}}`, f.data)

	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, []byte(`{"event":"bogus","data":{}}`)))
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"stop_typing","data":{"conversationId":"c1","userId":"bob"}}`)))
	select {
	case e := <-events:
		assert.Equal(t, event.StopTyping{ConversationID: "c1", UserID: "bob"}, e)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	conn1.Close()

	<-ts.accept
	assert.True(t, <-connects)
	f = nextFrame(t, ts)
	assert.Equal(t, int32(2), f.conn)
	assert.JSONEq(t, `{"event":"join_conversation","data":{"conversationId":"c1"}}`, f.data)

	require.NoError(t, c.Send(event.Leave{ConversationID: "c1"}))
	f = nextFrame(t, ts)
	assert.JSONEq(t, `{"event":"leave_conversation","data":{"conversationId":"c1"}}`, f.data)
	assert.False(t, c.Joined("c1"))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, c.Connected())
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(Config{URL: "http://example.com", Creds: &auth.Static{}})
	assert.Error(t, err)
	_, err = NewClient(Config{URL: "ws://example.com"})
	assert.Error(t, err)
}
