// Package chatclient implements the participant side of the booking chat:
// it dials the gateway, surfaces incoming messages and connection state to
// the UI layer, and drives bounded reconnection when the link drops
// unexpectedly. A close initiated by the server for policy reasons (chat
// closed, reassigned) is terminal and never retried.
package chatclient

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connection indicator shown to the user.
type State string

const (
	// StateConnecting covers the initial dial.
	StateConnecting State = "connecting"
	// StateConnected means the session is live.
	StateConnected State = "connected"
	// StateReconnecting means the link dropped and automatic retries are
	// in progress.
	StateReconnecting State = "reconnecting"
	// StateDisconnected means retries are exhausted or the user closed the
	// session; only a manual reload reconnects.
	StateDisconnected State = "disconnected"
	// StateChatClosed means the server closed the chat on purpose; the
	// session must not reconnect.
	StateChatClosed State = "chat_closed"
)

const (
	defaultReconnectDelay = 3 * time.Second
	defaultMaxReconnects  = 5
)

// ErrEmptyMessage is returned by Send for input that is empty after
// trimming; no network call is made.
var ErrEmptyMessage = errors.New("message is empty")

// ErrNotConnected is returned by Send when the session has no live
// connection.
var ErrNotConnected = errors.New("session is not connected")

// Message is one chat line delivered to the UI.
type Message struct {
	ID         uint64    `json:"message_id"`
	SenderID   uint64    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// serverFrame is the superset of frames the gateway emits.
type serverFrame struct {
	Type       string    `json:"type"`
	MessageID  uint64    `json:"message_id"`
	SenderID   uint64    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Code       string    `json:"code"`
}

// Options configures a Session.
type Options struct {
	// URL is the booking's websocket endpoint.
	URL string
	// Token is the bearer token identifying the participant.
	Token string
	// SelfID is the local participant's user id, used to flag own echoes.
	SelfID uint64

	// ReconnectDelay between attempts after an unexpected close. Zero
	// means 3 seconds.
	ReconnectDelay time.Duration
	// MaxReconnects bounds automatic attempts before giving up. Zero
	// means 5.
	MaxReconnects int

	// OnMessage is called for every rendered message, replayed history
	// included, in the order received. own is true for the local
	// participant's echoes; the UI signals a notification when it is
	// false.
	OnMessage func(msg Message, own bool)
	// OnSendError is called when the gateway rejects a send.
	OnSendError func(code, message string)
	// OnState is called on every indicator change.
	OnState func(State)

	// Dialer overrides the default websocket dialer (used in tests).
	Dialer *websocket.Dialer
}

// Session is one participant connection with reconnection handling. All
// callbacks fire from the session's read goroutine.
type Session struct {
	opts Options

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	closed bool // user-initiated close, suppresses reconnection
	done   chan struct{}
	wg     sync.WaitGroup
}

// Dial opens a session and starts its read loop. The returned session is
// already connected; connection loss afterwards is handled internally.
func Dial(opts Options) (*Session, error) {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = defaultMaxReconnects
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	s := &Session{opts: opts, state: StateConnecting, done: make(chan struct{})}
	s.notify(StateConnecting)

	conn, err := s.dial()
	if err != nil {
		s.setState(StateDisconnected)
		return nil, err
	}
	s.setConn(conn)
	s.setState(StateConnected)

	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (s *Session) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	conn, _, err := s.opts.Dialer.Dial(s.opts.URL, header)
	return conn, err
}

// State returns the current indicator state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send transmits one message. Input that is empty after trimming is
// rejected locally without a network call. The send is optimistic: the
// UI clears its input immediately and renders the authoritative copy when
// the gateway echoes it back.
func (s *Session) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	conn := s.conn
	st := s.state
	s.mu.Unlock()
	if conn == nil || st != StateConnected {
		return ErrNotConnected
	}
	return conn.WriteJSON(map[string]string{"message": text})
}

// Close terminates the session. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	close(s.done)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.wg.Wait()
	s.setState(StateDisconnected)
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.notify(st)
}

func (s *Session) notify(st State) {
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// readLoop renders frames until the connection is gone, then decides
// between terminal shutdown and bounded reconnection.
func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		err := s.consume()

		s.mu.Lock()
		userClosed := s.closed
		s.mu.Unlock()
		if userClosed {
			return
		}

		// A policy close from the server is terminal: the chat was closed
		// or this participant was reassigned, so reconnecting is pointless.
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code >= 4000 {
			s.setState(StateChatClosed)
			return
		}

		if !s.reconnect() {
			return
		}
	}
}

// consume reads frames on the current connection until it fails.
func (s *Session) consume() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		var f serverFrame
		if err := conn.ReadJSON(&f); err != nil {
			_ = conn.Close()
			return err
		}
		switch f.Type {
		case "message":
			if s.opts.OnMessage != nil {
				s.opts.OnMessage(Message{
					ID:         f.MessageID,
					SenderID:   f.SenderID,
					SenderName: f.SenderName,
					Text:       f.Message,
					Timestamp:  f.Timestamp,
				}, f.SenderID == s.opts.SelfID)
			}
		case "error":
			if s.opts.OnSendError != nil {
				s.opts.OnSendError(f.Code, f.Message)
			}
		}
	}
}

// reconnect retries the dial at a fixed delay up to the configured bound.
// It reports whether a connection was re-established; when it returns
// false the session is terminally disconnected and only a manual reload
// will reconnect.
func (s *Session) reconnect() bool {
	s.setState(StateReconnecting)

	for attempt := 1; attempt <= s.opts.MaxReconnects; attempt++ {
		select {
		case <-s.done:
			return false
		case <-time.After(s.opts.ReconnectDelay):
		}

		conn, err := s.dial()
		if err != nil {
			continue
		}
		s.setConn(conn)
		s.setState(StateConnected)
		return true
	}

	s.setState(StateDisconnected)
	return false
}
