package chat

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nimamh/delivery-chat/internal/model"
	"github.com/nimamh/delivery-chat/internal/repository"
)

// BookingStore is the slice of booking persistence the gateway needs:
// current status and participant ids at join time.
type BookingStore interface {
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
}

// MessageStore persists chat messages and serves history for replay. The
// store owns write access and assigns the durable ordering; Append must
// re-check chat-active status at persistence time.
type MessageStore interface {
	Append(ctx context.Context, bookingID, senderID uint64, senderRole, text string) (*model.ChatMessage, error)
	ListRecent(ctx context.Context, bookingID uint64, n int) ([]model.ChatMessage, error)
}

// NameResolver resolves display names for message senders when history is
// replayed. Live messages carry the name captured at join time.
type NameResolver interface {
	DisplayName(ctx context.Context, userID uint64) (string, error)
}

// Join rejection reasons. All of them are terminal for the attempt: the
// client must not retry until booking state changes.
var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrNotAParticipant = errors.New("not a participant of this booking")
	ErrChatNotActive   = errors.New("chat is not active for this booking")
)

// Options tunes gateway behavior.
type Options struct {
	// ReplayLimit is how many recent messages are replayed to a newly
	// joined connection. Zero means the default of 50.
	ReplayLimit int
	// AdminWrite lets administrators send messages instead of observing
	// read-only.
	AdminWrite bool
	// MaxFrameBytes bounds inbound websocket frames. Zero means 16 KiB,
	// comfortably above the maximum message length.
	MaxFrameBytes int
}

// Hub is the connection gateway. It owns one channel per booking with live
// connections; each channel serializes its own registry so bookings never
// contend with each other.
type Hub struct {
	bookings BookingStore
	messages MessageStore
	names    NameResolver // nil -> history falls back to sender role
	presence *Presence    // nil when Redis is unavailable
	opts     Options

	mu       sync.RWMutex
	channels map[uint64]*channel
	closed   bool
}

// NewHub constructs a gateway over the given stores. names and presence
// may be nil.
func NewHub(bookings BookingStore, messages MessageStore, names NameResolver, presence *Presence, opts Options) *Hub {
	if opts.ReplayLimit <= 0 {
		opts.ReplayLimit = 50
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 16 << 10
	}
	return &Hub{
		bookings: bookings,
		messages: messages,
		names:    names,
		presence: presence,
		opts:     opts,
		channels: make(map[uint64]*channel),
	}
}

func (h *Hub) maxFrameBytes() int { return h.opts.MaxFrameBytes }

// Authorize checks whether the identity may join the booking's channel
// right now and returns the booking on success. The rule: the caller must
// be the booking's customer, its currently assigned partner, or an
// administrator; chat must be active unless the caller is an
// administrator, who may observe any booking.
func (h *Hub) Authorize(ctx context.Context, bookingID uint64, ident Identity) (*model.Booking, error) {
	b, err := h.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if ident.Role == model.RoleAdmin {
		return b, nil
	}
	if !b.IsParticipant(ident.UserID) {
		return nil, ErrNotAParticipant
	}
	if !b.CanChat() {
		return nil, ErrChatNotActive
	}
	return b, nil
}

// Join authorizes the identity against current booking state and registers
// the upgraded connection on the booking's channel, which replays recent
// history to it on its own goroutine. On success the returned client's
// pumps are not yet running; the caller must invoke Serve. The
// authorization is re-run here even when the handler pre-checked it, so
// state changes between upgrade and registration are honored.
func (h *Hub) Join(ctx context.Context, bookingID uint64, ident Identity, conn *websocket.Conn) (*Client, error) {
	if _, err := h.Authorize(ctx, bookingID, ident); err != nil {
		return nil, err
	}

	c := newClient(bookingID, ident, conn)
	c.hub = h
	for {
		ch := h.channelFor(bookingID)
		if ch == nil {
			return nil, errors.New("chat gateway is shut down")
		}
		c.ch = ch
		if ch.add(c) {
			return c, nil
		}
		// The channel terminated between lookup and registration; retry
		// with a fresh one.
	}
}

// Serve runs the client's pumps and blocks until the connection is gone.
func (h *Hub) Serve(c *Client) { c.run() }

// Leave force-removes a connection from its channel. Idempotent and safe
// to call concurrently with normal teardown.
func (h *Hub) Leave(c *Client) {
	if c.ch != nil {
		c.ch.remove(c)
	}
	_ = c.conn.Close()
}

// handleSend is invoked by a client's read pump for each inbound message.
// The text is validated and durably stored before any broadcast, so a
// message observed by any reader is already persisted; failures are
// reported to the sender alone as an error frame.
func (h *Hub) handleSend(c *Client, text string) {
	if c.Identity.Role == model.RoleAdmin && !h.opts.AdminWrite {
		c.enqueue(envelope{data: encodeErrorFrame(ErrCodeReadOnly, "administrators may only observe this chat")})
		return
	}

	msg, err := h.messages.Append(context.Background(), c.BookingID, c.Identity.UserID, c.Identity.Role, text)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrEmptyMessage), errors.Is(err, repository.ErrMessageTooLong):
			c.enqueue(envelope{data: encodeErrorFrame(ErrCodeValidation, err.Error())})
		case errors.Is(err, repository.ErrChatNotActive), errors.Is(err, repository.ErrBookingNotFound):
			c.enqueue(envelope{data: encodeErrorFrame(ErrCodeChatNotActive, "chat is no longer active for this booking")})
		default:
			log.Printf("chat: append failed for booking %d: %v", c.BookingID, err)
			c.enqueue(envelope{data: encodeErrorFrame(ErrCodePersistence, "message could not be stored, treat as not sent")})
		}
		return
	}

	h.broadcastMessage(msg, c.Identity.Name)
}

// broadcastMessage fans a stored message out to every connection on the
// booking's channel, the sender's own connections included so multiple
// tabs stay consistent.
func (h *Hub) broadcastMessage(m *model.ChatMessage, senderName string) {
	h.mu.RLock()
	ch := h.channels[m.BookingID]
	h.mu.RUnlock()
	if ch == nil {
		return
	}
	ch.post(broadcastFrame{msgID: m.ID, frame: encodeMessageFrame(m, senderName)})
}

// OnStatusTransition must be called by the booking-update flow after a
// transition commits. When the new status closes chat, every connection on
// the booking's channel is evicted with the chat-closed code so clients
// stop reconnecting.
func (h *Hub) OnStatusTransition(bookingID uint64, newStatus model.Status) {
	if model.IsChatActive(newStatus) {
		return
	}
	h.mu.RLock()
	ch := h.channels[bookingID]
	h.mu.RUnlock()
	if ch == nil {
		return
	}
	ch.requestEvict(eviction{
		closeCode: CloseChatClosed,
		closeText: "chat closed",
		shutdown:  true,
	})
}

// OnReassigned must be called when a booking's partner changes while chat
// is active. The previous partner's connections are evicted with the
// reassigned code; the customer's and administrators' connections stay.
func (h *Hub) OnReassigned(bookingID, prevPartnerID uint64) {
	h.mu.RLock()
	ch := h.channels[bookingID]
	h.mu.RUnlock()
	if ch == nil {
		return
	}
	ch.requestEvict(eviction{
		filter: func(c *Client) bool {
			return c.Identity.UserID == prevPartnerID && c.Identity.Role == model.RoleDeliveryPartner
		},
		closeCode: CloseReassigned,
		closeText: "booking reassigned",
	})
}

// Close evicts every connection on every channel. Used on server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	chans := make([]*channel, 0, len(h.channels))
	for _, ch := range h.channels {
		chans = append(chans, ch)
	}
	h.mu.Unlock()
	for _, ch := range chans {
		ch.requestEvict(eviction{closeCode: websocket.CloseGoingAway, closeText: "server shutting down", shutdown: true})
	}
}

// channelFor returns the live channel for a booking, creating and starting
// one when absent. Returns nil after Close.
func (h *Hub) channelFor(bookingID uint64) *channel {
	h.mu.RLock()
	ch := h.channels[bookingID]
	closed := h.closed
	h.mu.RUnlock()
	if ch != nil || closed {
		if closed {
			return nil
		}
		return ch
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	if ch = h.channels[bookingID]; ch != nil {
		return ch
	}
	ch = newChannel(h, bookingID)
	h.channels[bookingID] = ch
	go ch.run()
	return ch
}

// dropChannel removes a terminated channel from the registry. The map
// entry is only deleted when it still points at the terminating channel; a
// replacement created concurrently is left alone.
func (h *Hub) dropChannel(ch *channel) {
	h.mu.Lock()
	if h.channels[ch.bookingID] == ch {
		delete(h.channels, ch.bookingID)
	}
	h.mu.Unlock()
}

// senderName resolves a display name for replayed history. Live messages
// carry the sender's name from the sending connection; for history the
// hub asks the optional name resolver, falling back to the role.
func (h *Hub) senderName(m *model.ChatMessage) string {
	if h.names != nil {
		if name, err := h.names.DisplayName(context.Background(), m.SenderID); err == nil && name != "" {
			return name
		}
	}
	return m.SenderRole
}

func (h *Hub) presenceAdd(bookingID uint64, ident Identity) {
	if h.presence != nil {
		h.presence.Add(context.Background(), bookingID, ident)
	}
}

func (h *Hub) presenceRemove(bookingID uint64, ident Identity, stillOnline bool) {
	if h.presence != nil && !stillOnline {
		h.presence.Remove(context.Background(), bookingID, ident)
	}
}
