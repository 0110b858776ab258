package model

import "time"

// Booking is one delivery order moving through the status lifecycle.
// PartnerID is nil until a delivery partner is assigned; it stays set for
// every later state, including cancellations that happen after assignment.
//
// Fields:
//  ID                 – primary key identifier.
//  CustomerID         – customer who placed the order.
//  PartnerID          – assigned delivery partner (nullable).
//  PickupAddress      – where the order is collected.
//  DeliveryAddress    – where the order is dropped off.
//  CustomerNotes      – free-form instructions from the customer.
//  Status             – current lifecycle state.
//  CancellationReason – populated only when Status is cancelled.
type Booking struct {
	ID                 uint64     // bookings.id
	CustomerID         uint64     // bookings.customer_id
	PartnerID          *uint64    // bookings.partner_id (nullable)
	PickupAddress      string     // bookings.pickup_address
	DeliveryAddress    string     // bookings.delivery_address
	CustomerNotes      string     // bookings.customer_notes
	Status             Status     // bookings.status
	CancellationReason string     // bookings.cancellation_reason
	CreatedAt          time.Time  // bookings.created_at
	UpdatedAt          time.Time  // bookings.updated_at
	AssignedAt         *time.Time // bookings.assigned_at
	StartedAt          *time.Time // bookings.started_at
	ReachedAt          *time.Time // bookings.reached_at
	CollectedAt        *time.Time // bookings.collected_at
	DeliveredAt        *time.Time // bookings.delivered_at
	CancelledAt        *time.Time // bookings.cancelled_at
}

// CanChat reports whether the booking currently permits messaging: a
// partner must be assigned and the status must be chat-active.
func (b *Booking) CanChat() bool {
	return b.PartnerID != nil && IsChatActive(b.Status)
}

// IsParticipant reports whether the given user is the booking's customer
// or its currently assigned partner.
func (b *Booking) IsParticipant(userID uint64) bool {
	if b.CustomerID == userID {
		return true
	}
	return b.PartnerID != nil && *b.PartnerID == userID
}

// StatusLog records one accepted status transition for audit trails and
// downstream dashboards.
type StatusLog struct {
	ID         uint64    // booking_status_logs.id
	BookingID  uint64    // booking_status_logs.booking_id
	FromStatus Status    // booking_status_logs.from_status
	ToStatus   Status    // booking_status_logs.to_status
	ChangedBy  uint64    // booking_status_logs.changed_by
	Notes      string    // booking_status_logs.notes
	CreatedAt  time.Time // booking_status_logs.created_at
}
