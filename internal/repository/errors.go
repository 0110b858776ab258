// Package repository implements MySQL persistence for bookings, users and
// chat messages. Sentinel errors defined here let higher layers such as
// handlers and the chat gateway distinguish failure scenarios without
// string matching: for example ErrChatNotActive maps to a rejected join or
// a failed send, while ErrBookingNotFound maps to HTTP 404.
package repository

import "errors"

// ErrBookingNotFound is returned when no booking exists for the given id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrUserNotFound is returned when no user exists for the given id.
var ErrUserNotFound = errors.New("user not found")

// ErrChatNotActive is returned when a message is appended to a booking
// whose current status does not permit chat. The status is re-read at
// append time so a transition committed mid-send is always honored.
var ErrChatNotActive = errors.New("chat is not active for this booking")

// ErrEmptyMessage is returned when a message is empty after trimming.
var ErrEmptyMessage = errors.New("message text is empty")

// ErrMessageTooLong is returned when a message exceeds the configured
// maximum length.
var ErrMessageTooLong = errors.New("message text exceeds maximum length")

// ErrPartnerNotAssignable is returned when the target of an assignment is
// not an active delivery partner.
var ErrPartnerNotAssignable = errors.New("user is not an active delivery partner")
