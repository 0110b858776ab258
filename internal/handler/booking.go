package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nimamh/delivery-chat/internal/chat"
	"github.com/nimamh/delivery-chat/internal/middleware"
	"github.com/nimamh/delivery-chat/internal/model"
	"github.com/nimamh/delivery-chat/internal/queue"
	"github.com/nimamh/delivery-chat/internal/repository"
	queuepublisher "github.com/nimamh/delivery-chat/internal/service"
)

// BookingHandler exposes the booking lifecycle over HTTP: creation,
// lookup, partner assignment, status transitions and cancellation. Every
// committed transition notifies the chat gateway (so channels close the
// moment chat stops being permitted) and publishes a status-history event
// for the dashboard feed.
type BookingHandler struct {
	Bookings *repository.BookingRepo
	Users    *repository.UserRepo
	Hub      *chat.Hub
}

// NewBookingHandler constructs a BookingHandler. All dependencies must be
// non-nil.
func NewBookingHandler(bookings *repository.BookingRepo, users *repository.UserRepo, hub *chat.Hub) *BookingHandler {
	if bookings == nil || users == nil || hub == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: bookings, Users: users, Hub: hub}
}

// bookingResponse is the JSON shape returned for a booking.
type bookingResponse struct {
	ID                 uint64     `json:"id"`
	CustomerID         uint64     `json:"customer_id"`
	PartnerID          *uint64    `json:"partner_id"`
	PickupAddress      string     `json:"pickup_address"`
	DeliveryAddress    string     `json:"delivery_address"`
	CustomerNotes      string     `json:"customer_notes,omitempty"`
	Status             string     `json:"status"`
	ChatActive         bool       `json:"chat_active"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:                 b.ID,
		CustomerID:         b.CustomerID,
		PartnerID:          b.PartnerID,
		PickupAddress:      b.PickupAddress,
		DeliveryAddress:    b.DeliveryAddress,
		CustomerNotes:      b.CustomerNotes,
		Status:             string(b.Status),
		ChatActive:         b.CanChat(),
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
		DeliveredAt:        b.DeliveredAt,
		CancelledAt:        b.CancelledAt,
	}
}

func bookingIDParam(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid booking id")
	}
	return id, nil
}

// Create handles POST /v1/bookings. Customers open a new booking in
// pending state; chat stays closed until a partner is assigned.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		PickupAddress   string `json:"pickup_address"`
		DeliveryAddress string `json:"delivery_address"`
		CustomerNotes   string `json:"customer_notes"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.PickupAddress == "" || body.DeliveryAddress == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "pickup_address and delivery_address are required"})
	}
	b, err := h.Bookings.Create(c.Request().Context(), userID, body.PickupAddress, body.DeliveryAddress, body.CustomerNotes)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusCreated, toBookingResponse(b))
}

// Get handles GET /v1/bookings/:id. Only the booking's participants and
// administrators may read it.
func (h *BookingHandler) Get(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := bookingIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	b, err := h.Bookings.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if middleware.Role(c) != model.RoleAdmin && !b.IsParticipant(userID) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// UpdateStatus handles POST /v1/bookings/:id/status. The assigned partner
// advances the booking along the lifecycle path; administrators may apply
// any valid transition. Re-applying the current status is accepted as a
// no-op so duplicate submissions never error.
func (h *BookingHandler) UpdateStatus(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := bookingIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var body struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	target := model.Status(body.Status)
	if !model.IsValidStatus(target) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}

	ctx := c.Request().Context()
	b, err := h.Bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if middleware.Role(c) == model.RoleDeliveryPartner {
		if b.PartnerID == nil || *b.PartnerID != userID {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
	}

	return h.applyTransition(c, id, target, userID, body.Note)
}

// Cancel handles POST /v1/bookings/:id/cancel. Customers may cancel their
// own booking while it is still cancellable; administrators may cancel any
// cancellable booking.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := bookingIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	b, err := h.Bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if middleware.Role(c) == model.RoleCustomer && b.CustomerID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	return h.applyTransition(c, id, model.StatusCancelled, userID, body.Reason)
}

// applyTransition runs the shared commit path for status changes: the
// validated transition, then gateway notification and event publishing for
// transitions that actually changed state.
func (h *BookingHandler) applyTransition(c echo.Context, id uint64, target model.Status, actorID uint64, note string) error {
	ctx := c.Request().Context()
	from, changed, err := h.Bookings.UpdateStatus(ctx, id, target, actorID, note)
	if err != nil {
		var ite *model.InvalidTransitionError
		switch {
		case errors.Is(err, repository.ErrBookingNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		case errors.As(err, &ite):
			return c.JSON(http.StatusConflict, echo.Map{"error": ite.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
	}
	if changed {
		h.afterTransition(id, from, target, actorID, note)
	}

	b, err := h.Bookings.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// afterTransition fans a committed transition out to the chat gateway and
// the status-history queue. The publish is fire-and-forget: an unreachable
// broker never fails the request.
func (h *BookingHandler) afterTransition(id uint64, from, to model.Status, actorID uint64, note string) {
	h.Hub.OnStatusTransition(id, to)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := queuepublisher.PublishBookingStatus(ctx, queue.BookingStatusEvent{
			BookingID:  id,
			FromStatus: string(from),
			ToStatus:   string(to),
			ChangedBy:  actorID,
			Note:       note,
			ChangedAt:  time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			log.Printf("booking: status event publish failed for booking %d: %v", id, err)
		}
	}()
}

// Assign handles POST /v1/bookings/:id/assign. Administrators assign a
// delivery partner to a pending booking or hand a chat-active booking to a
// different partner; in the latter case the replaced partner's chat
// connections are evicted while the customer's stay.
func (h *BookingHandler) Assign(c echo.Context) error {
	actorID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := bookingIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var body struct {
		PartnerID uint64 `json:"partner_id"`
	}
	if err := c.Bind(&body); err != nil || body.PartnerID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "partner_id is required"})
	}

	ctx := c.Request().Context()
	prev, b, err := h.Bookings.AssignPartner(ctx, id, body.PartnerID, actorID)
	if err != nil {
		var ite *model.InvalidTransitionError
		switch {
		case errors.Is(err, repository.ErrBookingNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		case errors.Is(err, repository.ErrPartnerNotAssignable):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "user is not an active delivery partner"})
		case errors.As(err, &ite):
			return c.JSON(http.StatusConflict, echo.Map{"error": "booking can no longer be assigned"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
	}

	switch {
	case prev == nil:
		// First assignment: pending -> assigned just committed.
		h.afterTransition(id, model.StatusPending, model.StatusAssigned, actorID, "")
	case *prev != body.PartnerID:
		// Reassignment while chat is active: evict the replaced partner.
		h.Hub.OnReassigned(id, *prev)
	}

	return c.JSON(http.StatusOK, toBookingResponse(b))
}

// History handles GET /v1/bookings/:id/history, returning the logged
// status transitions for dashboards and support tooling.
func (h *BookingHandler) History(c echo.Context) error {
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

	logs, err := h.Bookings.StatusHistory(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	type entry struct {
		FromStatus string    `json:"from_status"`
		ToStatus   string    `json:"to_status"`
		ChangedBy  uint64    `json:"changed_by"`
		Notes      string    `json:"notes,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
	}
	out := make([]entry, 0, len(logs))
	for _, l := range logs {
		out = append(out, entry{
			FromStatus: string(l.FromStatus),
			ToStatus:   string(l.ToStatus),
			ChangedBy:  l.ChangedBy,
			Notes:      l.Notes,
			CreatedAt:  l.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"booking_id": id, "history": out})
}
