package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/nimamh/delivery-chat/internal/model"
)

// MessageRepo provides append-only persistence for chat messages. The
// AUTO_INCREMENT primary key is the durable ordering sequence: inserts are
// serialized by the database, so any two readers of the same booking see
// messages in the same relative order regardless of when they read. There
// are no update or delete operations; corrections are sent as new messages.
type MessageRepo struct {
	db     *sql.DB
	maxLen int // maximum message length in runes
}

// NewMessageRepo returns a new MessageRepo. maxLen bounds message length
// in runes; values below 1 fall back to 2000.
func NewMessageRepo(db *sql.DB, maxLen int) *MessageRepo {
	if maxLen < 1 {
		maxLen = 2000
	}
	return &MessageRepo{db: db, maxLen: maxLen}
}

// MaxLen returns the configured maximum message length in runes.
func (r *MessageRepo) MaxLen() int { return r.maxLen }

// ValidateText performs the length checks applied by Append. Exposed so
// clients can reject obviously invalid input before a round trip.
func (r *MessageRepo) ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > r.maxLen {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// Append validates and stores one chat message for a booking and returns
// the stored row with its assigned id and timestamp. The booking's status
// is re-read inside the same transaction that inserts the row, so a
// transition that closes chat and commits before this call is always
// honored even if the sender's connection was admitted earlier.
func (r *MessageRepo) Append(ctx context.Context, bookingID, senderID uint64, senderRole, text string) (*model.ChatMessage, error) {
	text, err := r.ValidateText(text)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Chat-active is re-checked at persistence time, never cached.
	var status model.Status
	var partnerID sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT status, partner_id FROM bookings WHERE id = ?`, bookingID).
		Scan(&status, &partnerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if !partnerID.Valid || !model.IsChatActive(status) {
		return nil, ErrChatNotActive
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (booking_id, sender_id, sender_role, message)
		 VALUES (?, ?, ?, ?)`,
		bookingID, senderID, senderRole, text)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	msg := &model.ChatMessage{
		ID:         uint64(id),
		BookingID:  bookingID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Text:       text,
	}
	// Read back the server-assigned timestamp so the broadcast copy matches
	// what later history reads will return.
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM chat_messages WHERE id = ?`, msg.ID).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	committed = true
	return msg, tx.Commit()
}

const messageColumns = `id, booking_id, sender_id, sender_role, message, created_at`

func scanMessages(rows *sql.Rows) ([]model.ChatMessage, error) {
	defer rows.Close()
	var msgs []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.BookingID, &m.SenderID, &m.SenderRole, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListSince returns up to limit messages for a booking with id greater
// than afterID, in ascending id order. Pass afterID 0 to read from the
// beginning. The listing is restartable: repeating a call with the last
// returned id continues the same total order without gaps or duplicates.
func (r *MessageRepo) ListSince(ctx context.Context, bookingID, afterID uint64, limit int) ([]model.ChatMessage, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM chat_messages
		 WHERE booking_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		bookingID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ListRecent returns the last n messages for a booking in ascending id
// order, used to replay history to a newly joined connection.
func (r *MessageRepo) ListRecent(ctx context.Context, bookingID uint64, n int) ([]model.ChatMessage, error) {
	if n < 1 {
		n = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
		     SELECT `+messageColumns+` FROM chat_messages
		     WHERE booking_id = ? ORDER BY id DESC LIMIT ?
		 ) t ORDER BY id ASC`,
		bookingID, n)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}
