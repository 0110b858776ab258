package model

import "time"

// ChatMessage is one immutable chat line exchanged on a booking's channel.
// The auto-increment ID doubles as the durable ordering sequence: any two
// readers of the same booking observe messages in ascending ID order, so
// CreatedAt is display metadata only and never used for ordering.
//
// Messages are never updated or deleted; corrections are sent as new
// messages.
type ChatMessage struct {
	ID         uint64    // chat_messages.id
	BookingID  uint64    // chat_messages.booking_id
	SenderID   uint64    // chat_messages.sender_id
	SenderRole string    // chat_messages.sender_role
	Text       string    // chat_messages.message
	CreatedAt  time.Time // chat_messages.created_at
}
