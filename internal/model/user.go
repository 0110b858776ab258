package model

import "time"

// Role values stored in the users table and carried in JWT claims.
const (
	RoleCustomer        = "customer"
	RoleDeliveryPartner = "delivery_partner"
	RoleAdmin           = "admin"
)

// User is a participant identity. Accounts are created and authenticated by
// the surrounding system; this service only reads name and role for display
// and authorization.
type User struct {
	ID           uint64    // users.id
	MobileNumber string    // users.mobile_number
	FirstName    string    // users.first_name
	LastName     string    // users.last_name
	Role         string    // users.role
	CreatedAt    time.Time // users.created_at
}

// FullName returns "first last" when both parts are present, otherwise the
// mobile number, mirroring how the rest of the system labels users.
func (u *User) FullName() string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.MobileNumber
}
