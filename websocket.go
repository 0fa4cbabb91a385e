package phxsocket

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Websocket transport tunables applied when TransportOptions leaves them
// zero.
const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// Websocket is the default Transport, backed by gorilla/websocket. Each Open
// call produces an independent session identified by a fresh UUID.
type Websocket struct {
	logger *slog.Logger
}

// NewWebsocket creates a websocket transport. A nil logger falls back to
// slog.Default().
func NewWebsocket(logger *slog.Logger) *Websocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &Websocket{logger: logger}
}

// Open dials url in the background. The outcome arrives asynchronously as a
// Connected or Disconnected notification carrying the returned handle.
func (t *Websocket) Open(url string, opts TransportOptions, events TransportEvents) (TransportHandle, error) {
	if url == "" {
		return nil, errors.New("websocket: empty url")
	}
	handshake := opts.HandshakeTimeout
	if handshake == 0 {
		handshake = defaultHandshakeTimeout
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}

	sess := &wsSession{
		id:           uuid.New(),
		writeTimeout: writeTimeout,
	}
	sess.logger = t.logger.With("session", sess.id)

	go dial(sess, url, handshake, opts.Headers, events)

	return sess, nil
}

// Send writes one frame. Fire and forget: a write failure is logged and the
// session's read loop surfaces the disconnect.
func (t *Websocket) Send(handle TransportHandle, frame []byte) {
	sess, ok := handle.(*wsSession)
	if !ok || sess == nil {
		return
	}
	sess.write(frame)
}

func dial(sess *wsSession, url string, handshake time.Duration, headers http.Header, events TransportEvents) {
	dialer := websocket.Dialer{HandshakeTimeout: handshake}

	conn, _, err := dialer.Dial(url, headers)
	if err != nil {
		events.Disconnected(fmt.Errorf("dial %s: %w", url, err), sess)
		return
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		conn.Close()
		return
	}
	sess.conn = conn
	sess.mu.Unlock()

	sess.logger.Debug("websocket connected", "url", url)
	events.Connected(sess)

	go sess.readLoop(events)
}

// wsSession is one websocket connection attempt and, once dialed, the live
// connection.
type wsSession struct {
	id           uuid.UUID
	logger       *slog.Logger
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSession) ID() uuid.UUID { return s.id }

// Close shuts the session down from the local side. Notifications stop after
// Close; the manager has already abandoned this session.
func (s *wsSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return s.conn.Close()
	}
	return nil
}

func (s *wsSession) write(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.logger.Warn("websocket write failed", "error", err)
	}
}

// readLoop delivers inbound frames until the connection dies. A normal
// closure becomes a Closed notification; everything else is Disconnected.
func (s *wsSession) readLoop(events TransportEvents) {
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				// Local Close; the manager tore this session down already.
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) &&
				(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
				events.Closed(closeErr.Text, s)
			} else {
				events.Disconnected(err, s)
			}
			return
		}
		events.Received(frame)
	}
}
