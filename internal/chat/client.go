package chat

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Identity is the authenticated participant bound to a connection. It is
// immutable for the connection's lifetime; a role or name change only
// takes effect on the next join.
type Identity struct {
	UserID uint64
	Role   string
	Name   string
}

// Connection lifecycle states. Each websocket connection is a small state
// machine driven by its read and write pumps; the state is advisory (used
// for logging and tests), the pumps own the actual teardown.
const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

const (
	// sendBufferSize bounds per-connection backlog. A client that cannot
	// drain this many frames is evicted rather than allowed to stall the
	// channel.
	sendBufferSize = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// envelope is one queued outbound write: either a data frame or a close
// control frame that terminates the connection.
type envelope struct {
	data      []byte
	closeCode int    // nonzero -> close frame
	closeText string
}

// Client is one registered websocket connection on a booking's channel.
// Multiple Clients may exist for the same participant (multiple tabs); all
// of them receive broadcasts.
type Client struct {
	ID        string
	BookingID uint64
	Identity  Identity

	conn    *websocket.Conn
	send    chan envelope
	ch      *channel
	hub     *Hub
	state   atomic.Int32
	// lastReplayID is the highest message id replayed to this client at
	// join time; broadcasts at or below it are duplicates and are skipped.
	lastReplayID uint64
}

func newClient(bookingID uint64, ident Identity, conn *websocket.Conn) *Client {
	return &Client{
		ID:        uuid.New().String(),
		BookingID: bookingID,
		Identity:  ident,
		conn:      conn,
		send:      make(chan envelope, sendBufferSize),
	}
}

// enqueue queues an outbound envelope without blocking. It reports false
// when the client's buffer is full, which the channel treats as a dead
// connection.
func (c *Client) enqueue(e envelope) bool {
	select {
	case c.send <- e:
		return true
	default:
		return false
	}
}

// run starts the write pump and then serves the read loop on the calling
// goroutine, returning when the connection is gone. The handler calls this
// after a successful join.
func (c *Client) run() {
	go c.writePump()
	c.readPump()
}

// readPump consumes inbound frames until the connection drops or is
// evicted, then deregisters the client. Deregistration is idempotent so a
// concurrent eviction is harmless.
func (c *Client) readPump() {
	defer func() {
		c.state.Store(stateClosed)
		c.ch.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.maxFrameBytes()))
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in inboundFrame
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("chat: read error on booking %d: %v", c.BookingID, err)
			}
			return
		}
		c.hub.handleSend(c, in.Message)
	}
}

// writePump drains the send queue onto the wire. A write error tears the
// connection down; the read pump then handles deregistration. Pings keep
// intermediaries from dropping idle connections.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if e.closeCode != 0 {
				c.state.Store(stateClosing)
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(e.closeCode, e.closeText))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, e.data); err != nil {
				log.Printf("chat: write error on booking %d: %v", c.BookingID, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
