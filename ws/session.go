package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/minichat/event"
)

type SessionError int

const (
	ReadError    SessionError = 1
	WriteError   SessionError = 2
	PingError    SessionError = 3
	ClientStop   SessionError = 4
	ClosedByPeer SessionError = 5
)

func (e SessionError) String() string {
	switch e {
	case ReadError:
		return "read error"
	case WriteError:
		return "write error"
	case PingError:
		return "ping error"
	case ClientStop:
		return "client stop"
	case ClosedByPeer:
		return "closed by peer"
	default:
		return "unknown"
	}
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 64 * 1024

	dataChanSize = 64
)

var (
	ErrNotConnected = errors.New("websocket not connected")
	ErrBufferFull   = errors.New("websocket send buffer full")
)

// session is one websocket connection to the server. recvLoop and sendLoop
// run for its lifetime; whichever fails first closes it.
type session struct {
	sync.Mutex

	id   string
	conn *websocket.Conn

	dataChan chan []byte
	sendDone chan struct{}

	closing bool
	cause   SessionError
}

func newSession(id string, conn *websocket.Conn) *session {
	return &session{
		id:       id,
		conn:     conn,
		dataChan: make(chan []byte, dataChanSize),
		sendDone: make(chan struct{}),
	}
}

func (s *session) String() string {
	return s.id
}

func (s *session) close(cause SessionError) {
	s.Lock()
	defer s.Unlock()
	if s.closing {
		return
	}
	s.closing = true
	s.cause = cause

	if cause != ReadError && cause != ClosedByPeer {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	s.conn.Close()
	close(s.dataChan)

	glog.V(5).Infof("session closed, cause: %s, session: %s", cause, s)
}

// push queues a frame for sendLoop without blocking.
func (s *session) push(frame []byte) error {
	s.Lock()
	defer s.Unlock()
	if s.closing {
		return ErrNotConnected
	}
	select {
	case s.dataChan <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// recvLoop decodes server frames and hands events to deliver. Malformed and
// unknown frames are logged and dropped.
func (s *session) recvLoop(deliver func(event.Event)) {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", s) }()

	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.close(ClosedByPeer)
			} else {
				s.Lock()
				closing := s.closing
				s.Unlock()
				if !closing {
					glog.Errorf("recvLoop(): read error: %v, session: %s", err, s)
				}
				s.close(ReadError)
			}
			return
		}
		// Every frame proves the peer is alive.
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d, session: %s", msgType, s)
			continue
		}

		glog.V(5).Infof("recvLoop(): incoming server message: %s", msg)

		e, err := event.Decode(msg)
		if err != nil {
			glog.Errorf("recvLoop(): drop frame: %v, frame: %s", err, truncate(msg))
			droppedFrames.Inc()
			continue
		}
		deliver(e)
	}
}

func (s *session) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		close(s.sendDone)
		glog.V(5).Infof("sendLoop(): exited, session: %s", s)
	}()

	for {
		select {
		case frame, ok := <-s.dataChan:
			if !ok { // chan was closed
				return
			}
			glog.V(5).Infof("sendLoop(): send %s, session: %s", truncate(frame), s)

			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				glog.Errorf("sendLoop(): error write message, session: %s, err: %v", s, err)
				s.close(WriteError)
				return
			}
		case <-pingTicker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				glog.Errorf("sendLoop(): error write ping message, session: %s, err: %v", s, err)
				s.close(PingError)
				return
			}
		}
	}
}

func truncate(b []byte) string {
	if len(b) > 100 {
		return string(b[:100]) + " ..."
	}
	return string(b)
}
