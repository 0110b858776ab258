package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nimamh/delivery-chat/internal/model"
)

// UserRepo reads participant identities. Accounts are created and managed
// by the surrounding system; this service only needs names and roles for
// display and join-time checks.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo returns a new UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// GetByID fetches a user by primary key. Returns ErrUserNotFound when no
// row exists.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	var first, last sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, mobile_number, first_name, last_name, role, created_at
		 FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.MobileNumber, &first, &last, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.FirstName = first.String
	u.LastName = last.String
	return &u, nil
}

// DisplayName returns the user's display name, satisfying the chat
// gateway's name resolver for history replay.
func (r *UserRepo) DisplayName(ctx context.Context, id uint64) (string, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.FullName(), nil
}
