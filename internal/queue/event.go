// Package queue defines message payloads exchanged over the message broker
// and the background consumer that feeds the operations dashboard.
package queue

// StatusQueueName is the durable queue carrying booking status history.
const StatusQueueName = "booking.status"

// BookingStatusEvent is published for every accepted, non-idempotent
// status transition. Downstream consumers (dashboards, notifications) get
// the full history without querying the primary database.
type BookingStatusEvent struct {
	BookingID  uint64 `json:"booking_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ChangedBy  uint64 `json:"changed_by"`
	Note       string `json:"note,omitempty"`
	ChangedAt  string `json:"changed_at"`
}
