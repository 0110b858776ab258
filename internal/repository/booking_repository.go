package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nimamh/delivery-chat/internal/model"
)

// BookingRepo provides persistence for bookings and their status history.
// Status transitions run inside a transaction that locks the booking row,
// validates the transition against the lifecycle state machine, stamps the
// per-status timestamp column and records a status log entry, so a
// committed transition and its audit trail are always consistent.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying pool for callers that need to coordinate a
// transaction across repositories.
func (r *BookingRepo) DB() *sql.DB { return r.db }

const bookingColumns = `id, customer_id, partner_id, pickup_address, delivery_address,
	customer_notes, status, cancellation_reason, created_at, updated_at,
	assigned_at, started_at, reached_at, collected_at, delivered_at, cancelled_at`

func scanBooking(row *sql.Row) (*model.Booking, error) {
	var b model.Booking
	var partnerID sql.NullInt64
	var notes, reason sql.NullString
	var assignedAt, startedAt, reachedAt, collectedAt, deliveredAt, cancelledAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.CustomerID, &partnerID, &b.PickupAddress, &b.DeliveryAddress,
		&notes, &b.Status, &reason, &b.CreatedAt, &b.UpdatedAt,
		&assignedAt, &startedAt, &reachedAt, &collectedAt, &deliveredAt, &cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if partnerID.Valid {
		id := uint64(partnerID.Int64)
		b.PartnerID = &id
	}
	b.CustomerNotes = notes.String
	b.CancellationReason = reason.String
	b.AssignedAt = nullTimePtr(assignedAt)
	b.StartedAt = nullTimePtr(startedAt)
	b.ReachedAt = nullTimePtr(reachedAt)
	b.CollectedAt = nullTimePtr(collectedAt)
	b.DeliveredAt = nullTimePtr(deliveredAt)
	b.CancelledAt = nullTimePtr(cancelledAt)
	return &b, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// GetByID fetches a booking by primary key. Returns ErrBookingNotFound
// when no row exists.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	return scanBooking(row)
}

// Create inserts a new booking in pending state for the given customer and
// returns the stored row.
func (r *BookingRepo) Create(ctx context.Context, customerID uint64, pickup, delivery, notes string) (*model.Booking, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO bookings (customer_id, pickup_address, delivery_address, customer_notes, status)
		 VALUES (?, ?, ?, ?, ?)`,
		customerID, pickup, delivery, notes, model.StatusPending)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

// statusTimestampColumn maps a target status to its bookings column. The
// pending state has no column because it only exists at creation time.
func statusTimestampColumn(s model.Status) string {
	switch s {
	case model.StatusAssigned:
		return "assigned_at"
	case model.StatusStarted:
		return "started_at"
	case model.StatusReached:
		return "reached_at"
	case model.StatusCollected:
		return "collected_at"
	case model.StatusDelivered:
		return "delivered_at"
	case model.StatusCancelled:
		return "cancelled_at"
	}
	return ""
}

// UpdateStatus applies a lifecycle transition to the booking. The booking
// row is locked for the duration of the transaction, the transition is
// validated against the state machine, the matching timestamp column is
// stamped and a status log row is written. When the booking is already in
// the target state the call is a no-op and changed is false, absorbing
// duplicate requests from flaky clients.
//
// reason is stored as the cancellation reason when the target state is
// cancelled, and as the log note otherwise.
func (r *BookingRepo) UpdateStatus(ctx context.Context, id uint64, to model.Status, actorID uint64, reason string) (from model.Status, changed bool, err error) {
	if !model.IsValidStatus(to) {
		return "", false, &model.InvalidTransitionError{From: "", To: to}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx,
		`SELECT status FROM bookings WHERE id = ? FOR UPDATE`, id).Scan(&from)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, ErrBookingNotFound
		}
		return "", false, err
	}
	if err := model.ValidateTransition(from, to); err != nil {
		return from, false, err
	}
	if from == to {
		// Idempotent re-apply: nothing to write, no log entry, no event.
		committed = true
		return from, false, tx.Commit()
	}

	q := `UPDATE bookings SET status = ?`
	args := []interface{}{to}
	if col := statusTimestampColumn(to); col != "" {
		q += `, ` + col + ` = NOW()`
	}
	if to == model.StatusCancelled {
		q += `, cancellation_reason = ?`
		args = append(args, reason)
	}
	q += ` WHERE id = ?`
	args = append(args, id)
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return from, false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO booking_status_logs (booking_id, from_status, to_status, changed_by, notes)
		 VALUES (?, ?, ?, ?, ?)`,
		id, from, to, actorID, reason); err != nil {
		return from, false, err
	}

	committed = true
	return from, true, tx.Commit()
}

// AssignPartner sets or replaces the booking's delivery partner. For a
// pending booking this is the pending -> assigned transition; for a
// chat-active booking it is a reassignment that keeps the current status.
// The previous partner id (nil if none) is returned so the gateway can
// evict the replaced partner's connections.
func (r *BookingRepo) AssignPartner(ctx context.Context, id, partnerID, actorID uint64) (prev *uint64, b *model.Booking, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var status model.Status
	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT status, partner_id FROM bookings WHERE id = ? FOR UPDATE`, id).
		Scan(&status, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrBookingNotFound
		}
		return nil, nil, err
	}

	// The target must be an active delivery partner account.
	var ok bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = ? AND role = ? AND is_active = 1)`,
		partnerID, model.RoleDeliveryPartner).Scan(&ok)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrPartnerNotAssignable
	}

	if current.Valid {
		p := uint64(current.Int64)
		prev = &p
	}

	switch {
	case status == model.StatusPending:
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET partner_id = ?, status = ?, assigned_at = NOW() WHERE id = ?`,
			partnerID, model.StatusAssigned, id); err != nil {
			return nil, nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO booking_status_logs (booking_id, from_status, to_status, changed_by, notes)
			 VALUES (?, ?, ?, ?, '')`,
			id, status, model.StatusAssigned, actorID); err != nil {
			return nil, nil, err
		}
	case model.IsChatActive(status):
		if prev != nil && *prev == partnerID {
			// Reassigning the same partner is a no-op.
			committed = true
			if err := tx.Commit(); err != nil {
				return nil, nil, err
			}
			b, err = r.GetByID(ctx, id)
			return nil, b, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET partner_id = ?, assigned_at = NOW() WHERE id = ?`,
			partnerID, id); err != nil {
			return nil, nil, err
		}
	default:
		// Terminal or otherwise closed bookings cannot change hands.
		return nil, nil, &model.InvalidTransitionError{From: status, To: model.StatusAssigned}
	}

	committed = true
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	b, err = r.GetByID(ctx, id)
	return prev, b, err
}

// StatusHistory returns the logged transitions for a booking in the order
// they were applied.
func (r *BookingRepo) StatusHistory(ctx context.Context, bookingID uint64) ([]model.StatusLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, booking_id, from_status, to_status, changed_by, notes, created_at
		 FROM booking_status_logs WHERE booking_id = ? ORDER BY id ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.StatusLog
	for rows.Next() {
		var l model.StatusLog
		var notes sql.NullString
		if err := rows.Scan(&l.ID, &l.BookingID, &l.FromStatus, &l.ToStatus, &l.ChangedBy, &notes, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Notes = notes.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
