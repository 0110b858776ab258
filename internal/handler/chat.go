package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nimamh/delivery-chat/internal/chat"
	"github.com/nimamh/delivery-chat/internal/middleware"
	"github.com/nimamh/delivery-chat/internal/model"
	"github.com/nimamh/delivery-chat/internal/repository"
)

// ChatHandler exposes the real-time chat endpoints: the websocket upgrade
// for a booking's channel, paged message history for reconnect catch-up,
// and the online presence list.
type ChatHandler struct {
	Hub      *chat.Hub
	Store    *repository.MessageRepo
	Bookings *repository.BookingRepo
	Presence *chat.Presence // nil when Redis is unavailable
	upgrader websocket.Upgrader
}

// NewChatHandler constructs a ChatHandler. allowedOrigins restricts the
// websocket upgrade; an empty list accepts any origin (development).
func NewChatHandler(hub *chat.Hub, messages *repository.MessageRepo, bookings *repository.BookingRepo, presence *chat.Presence, allowedOrigins []string) *ChatHandler {
	if hub == nil || messages == nil || bookings == nil {
		panic("nil dependency passed to NewChatHandler")
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &ChatHandler{
		Hub:      hub,
		Store:    messages,
		Bookings: bookings,
		Presence: presence,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// identity builds the chat identity from the authenticated request.
func identity(c echo.Context) (chat.Identity, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return chat.Identity{}, false
	}
	ident := chat.Identity{UserID: userID, Role: middleware.Role(c), Name: middleware.UserName(c)}
	if ident.Name == "" {
		ident.Name = ident.Role
	}
	return ident, true
}

// ServeWS handles GET /v1/bookings/:id/chat/ws. The identity comes from
// the verified token on the upgrade request; authorization runs before the
// upgrade so rejected joins get a proper HTTP status, and again inside the
// gateway so a state change committed in between is still honored.
func (h *ChatHandler) ServeWS(c echo.Context) error {
	ident, ok := identity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := bookingIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx := c.Request().Context()
	if _, err := h.Hub.Authorize(ctx, id, ident); err != nil {
		return joinRejection(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		return nil
	}

	client, err := h.Hub.Join(ctx, id, ident, conn)
	if err != nil {
		// Authorization changed between upgrade and registration. Tell the
		// client this is policy, not a network failure.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(chat.CloseChatClosed, "chat is not available"),
			time.Now().Add(5*time.Second))
		_ = conn.Close()
		return nil
	}

	defer h.Hub.Leave(client)
	h.Hub.Serve(client)
	return nil
}

// joinRejection maps gateway authorization errors onto HTTP statuses. All
// of them are terminal for the attempt.
func joinRejection(c echo.Context, err error) error {
	switch {
	case errors.Is(err, chat.ErrBookingNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	case errors.Is(err, chat.ErrNotAParticipant):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not a participant of this booking"})
	case errors.Is(err, chat.ErrChatNotActive):
		return c.JSON(http.StatusConflict, echo.Map{"error": "chat is not active for this booking"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
}

// Messages handles GET /v1/bookings/:id/messages. Participants and
// administrators page through a booking's transcript in the stored order;
// clients use after_id to resume exactly where a dropped connection left
// off.
func (h *ChatHandler) Messages(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := bookingIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx := c.Request().Context()
	b, err := h.Bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if middleware.Role(c) != model.RoleAdmin && !b.IsParticipant(userID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	var afterID uint64
	if v := c.QueryParam("after_id"); v != "" {
		if afterID, err = strconv.ParseUint(v, 10, 64); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid after_id"})
		}
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	msgs, err := h.Store.ListSince(ctx, id, afterID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	type entry struct {
		MessageID  uint64    `json:"message_id"`
		SenderID   uint64    `json:"sender_id"`
		SenderRole string    `json:"sender_role"`
		Message    string    `json:"message"`
		Timestamp  time.Time `json:"timestamp"`
	}
	out := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, entry{
			MessageID:  m.ID,
			SenderID:   m.SenderID,
			SenderRole: m.SenderRole,
			Message:    m.Text,
			Timestamp:  m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"booking_id": id, "messages": out})
}

// Online handles GET /v1/bookings/:id/chat/online, returning the
// booking's currently connected participants from the presence store.
func (h *ChatHandler) Online(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := bookingIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx := c.Request().Context()
	b, err := h.Bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if middleware.Role(c) != model.RoleAdmin && !b.IsParticipant(userID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	members := []chat.Member{}
	if h.Presence != nil {
		if m, err := h.Presence.List(ctx, id); err == nil {
			members = m
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"booking_id": id, "count": len(members), "users": members})
}
