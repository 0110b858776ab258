package chat

import (
	"context"
	"log"
)

// eviction asks the run loop to force-close every client matched by the
// filter with the given application close code. A nil filter matches all
// clients; shutdown additionally terminates the channel afterwards.
type eviction struct {
	filter    func(*Client) bool
	closeCode int
	closeText string
	shutdown  bool
}

// channel is the fan-out group for one booking. All registry mutation and
// broadcasting is serialized by the run goroutine, so unrelated bookings
// never contend on a shared lock.
type channel struct {
	bookingID uint64
	hub       *Hub

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastFrame
	evict      chan eviction
	done       chan struct{}
}

// broadcastFrame pairs an encoded frame with the stored message id it
// carries (zero for frames that are not chat messages) so delivery can
// skip clients that already received the message during replay.
type broadcastFrame struct {
	msgID uint64
	frame []byte
}

func newChannel(hub *Hub, bookingID uint64) *channel {
	return &channel{
		bookingID:  bookingID,
		hub:        hub,
		clients:    make(map[string]*Client),
		// register is unbuffered: a successful send means the run loop has
		// taken the client, so a registration can never sit unread in the
		// buffer of a channel that is terminating.
		register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan broadcastFrame, 256),
		evict:      make(chan eviction, 16),
		done:       make(chan struct{}),
	}
}

// add hands a client to the run loop. It reports false when the channel
// has terminated, in which case the caller should fetch a fresh channel
// from the hub and retry. Once the run loop stops receiving, the send can
// never proceed, so add blocks until done closes and then reliably fails.
func (ch *channel) add(c *Client) bool {
	select {
	case ch.register <- c:
		return true
	case <-ch.done:
		return false
	}
}

// remove deregisters a client. Safe to call multiple times and after the
// channel has terminated.
func (ch *channel) remove(c *Client) {
	select {
	case ch.unregister <- c:
	case <-ch.done:
	}
}

// post queues a frame for delivery to every registered client. Frames
// posted after termination are dropped; their booking has no listeners.
func (ch *channel) post(bf broadcastFrame) {
	select {
	case ch.broadcast <- bf:
	case <-ch.done:
	}
}

// requestEvict queues an eviction for the run loop.
func (ch *channel) requestEvict(e eviction) {
	select {
	case ch.evict <- e:
	case <-ch.done:
	}
}

// run is the channel's single owner goroutine. It exits when the last
// client leaves or after a shutdown eviction, removing the channel from
// the hub, so idle bookings hold no resources.
func (ch *channel) run() {
	defer close(ch.done)

	for {
		select {
		case c := <-ch.register:
			ch.admit(c)

		case c := <-ch.unregister:
			ch.dropClient(c, 0, "")
			if len(ch.clients) == 0 {
				ch.hub.dropChannel(ch)
				return
			}

		case bf := <-ch.broadcast:
			ch.deliver(bf)

		case ev := <-ch.evict:
			for _, c := range ch.clients {
				if ev.filter == nil || ev.filter(c) {
					ch.dropClient(c, ev.closeCode, ev.closeText)
				}
			}
			if ev.shutdown || len(ch.clients) == 0 {
				ch.hub.dropChannel(ch)
				return
			}
		}
	}
}

// admit replays recent history to a new client and adds it to the
// registry. The history read runs on the channel's goroutine, serialized
// with broadcasts: a message stored while the client was joining is either
// in the replay or in a broadcast processed afterwards, never lost between
// the two, and the lastReplayID check in deliver drops the overlap.
func (ch *channel) admit(c *Client) {
	history, err := ch.hub.messages.ListRecent(context.Background(), ch.bookingID, ch.hub.opts.ReplayLimit)
	if err != nil {
		// Replay is best-effort; joining with an empty backlog beats
		// rejecting the connection. The client can page over HTTP.
		log.Printf("chat: history replay failed for booking %d: %v", ch.bookingID, err)
		history = nil
	}
	for i := range history {
		m := &history[i]
		if !c.enqueue(envelope{data: encodeMessageFrame(m, ch.hub.senderName(m))}) {
			break
		}
		c.lastReplayID = m.ID
	}
	ch.clients[c.ID] = c
	ch.hub.presenceAdd(ch.bookingID, c.Identity)
}

// deliver fans one frame out to the current registry. Delivery is
// best-effort per connection: a client whose buffer is full is dropped so
// a slow reader never delays the others. Clients that already saw the
// message during their join replay are skipped.
func (ch *channel) deliver(bf broadcastFrame) {
	for _, c := range ch.clients {
		if bf.msgID != 0 && bf.msgID <= c.lastReplayID {
			continue
		}
		if !c.enqueue(envelope{data: bf.frame}) {
			log.Printf("chat: client %s on booking %d too slow, evicting", c.ID, ch.bookingID)
			ch.dropClient(c, 0, "")
		}
	}
}

// dropClient removes a client from the registry and, when a close code is
// given, queues the close frame. It reports whether the client was still
// registered (false on repeated removals).
func (ch *channel) dropClient(c *Client, closeCode int, closeText string) bool {
	if _, ok := ch.clients[c.ID]; !ok {
		return false
	}
	delete(ch.clients, c.ID)
	if closeCode != 0 {
		if !c.enqueue(envelope{closeCode: closeCode, closeText: closeText}) {
			// The close frame cannot be queued behind a full buffer, so
			// terminate the connection directly; the pumps unwind on the
			// write and read errors. The client sees a generic close
			// instead of the application code.
			_ = c.conn.Close()
		}
	} else {
		close(c.send)
	}
	stillOnline := false
	for _, other := range ch.clients {
		if other.Identity.UserID == c.Identity.UserID {
			stillOnline = true
			break
		}
	}
	ch.hub.presenceRemove(ch.bookingID, c.Identity, stillOnline)
	return true
}
