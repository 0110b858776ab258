// Package chat implements the real-time messaging gateway: a per-booking
// connection registry that admits exactly the booking's two active
// participants (plus administrators), fans stored messages out to every
// registered connection and force-closes connections when a lifecycle
// transition ends the conversation.
package chat

import (
	"encoding/json"
	"time"

	"github.com/nimamh/delivery-chat/internal/model"
)

// Application close codes sent on server-initiated eviction. They live in
// the 4000+ range reserved for applications so clients can tell an
// intentional close apart from a network failure and skip reconnecting.
const (
	// CloseChatClosed is sent when a status transition ends the chat
	// (delivered or cancelled).
	CloseChatClosed = 4000
	// CloseReassigned is sent to a delivery partner whose booking was
	// handed to another partner while chat was active.
	CloseReassigned = 4001
)

// Frame type discriminators on the server-to-client wire.
const (
	frameTypeMessage = "message"
	frameTypeError   = "error"
)

// Error codes carried in error frames.
const (
	ErrCodeValidation    = "validation_error"
	ErrCodeChatNotActive = "chat_not_active"
	ErrCodePersistence   = "persistence_failure"
	ErrCodeReadOnly      = "read_only"
)

// inboundFrame is the client-to-server payload. Sender identity is always
// derived from the authenticated connection, never from the frame.
type inboundFrame struct {
	Message string `json:"message"`
}

// messageFrame is the server-to-client payload for one chat message.
type messageFrame struct {
	Type       string    `json:"type"`
	MessageID  uint64    `json:"message_id"`
	SenderID   uint64    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// errorFrame reports a failed send back to the sender only. The message
// was not stored and not broadcast.
type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeMessageFrame(m *model.ChatMessage, senderName string) []byte {
	b, _ := json.Marshal(messageFrame{
		Type:       frameTypeMessage,
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		SenderName: senderName,
		Message:    m.Text,
		Timestamp:  m.CreatedAt,
	})
	return b
}

func encodeErrorFrame(code, msg string) []byte {
	b, _ := json.Marshal(errorFrame{Type: frameTypeError, Code: code, Message: msg})
	return b
}
