package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nimamh/delivery-chat/internal/model"
)

// seedActiveChat creates a booking in a chat-active state and returns it
// with its two participant ids.
func seedActiveChat(t *testing.T, bookings *BookingRepo) (bookingID, customerID, partnerID uint64) {
	t.Helper()
	ctx := context.Background()
	db := bookings.DB()
	customerID = seedUser(t, db, "09121110001", "Sara", "Karimi", model.RoleCustomer, true)
	partnerID = seedUser(t, db, "09121110002", "Reza", "Moradi", model.RoleDeliveryPartner, true)
	b, err := bookings.Create(ctx, customerID, "12 Azadi St", "3 Valiasr Ave", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := bookings.AssignPartner(ctx, b.ID, partnerID, partnerID); err != nil {
		t.Fatal(err)
	}
	return b.ID, customerID, partnerID
}

func TestAppendAssignsAscendingIDs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bookings := NewBookingRepo(db)
	messages := NewMessageRepo(db, 0)
	bookingID, customerID, partnerID := seedActiveChat(t, bookings)

	var lastID uint64
	senders := []uint64{customerID, partnerID, customerID}
	for i, sender := range senders {
		role := model.RoleCustomer
		if sender == partnerID {
			role = model.RoleDeliveryPartner
		}
		m, err := messages.Append(ctx, bookingID, sender, role, fmt.Sprintf("  line %d  ", i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if m.ID <= lastID {
			t.Fatalf("id %d not greater than previous %d", m.ID, lastID)
		}
		if m.Text != fmt.Sprintf("line %d", i) {
			t.Fatalf("text not trimmed: %q", m.Text)
		}
		if m.CreatedAt.IsZero() {
			t.Fatal("created_at not read back")
		}
		lastID = m.ID
	}

	all, err := messages.ListSince(ctx, bookingID, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("stored messages = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("listing out of order at %d: %+v", i, all)
		}
	}
}

func TestAppendValidation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bookings := NewBookingRepo(db)
	messages := NewMessageRepo(db, 10)
	bookingID, customerID, _ := seedActiveChat(t, bookings)

	if _, err := messages.Append(ctx, bookingID, customerID, model.RoleCustomer, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank append = %v, want ErrEmptyMessage", err)
	}
	if _, err := messages.Append(ctx, bookingID, customerID, model.RoleCustomer, strings.Repeat("x", 11)); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("long append = %v, want ErrMessageTooLong", err)
	}
	// Length is counted in runes, not bytes.
	if _, err := messages.Append(ctx, bookingID, customerID, model.RoleCustomer, strings.Repeat("ح", 10)); err != nil {
		t.Fatalf("ten-rune append = %v", err)
	}
}

func TestAppendRejectedWhenChatClosed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bookings := NewBookingRepo(db)
	messages := NewMessageRepo(db, 0)
	bookingID, customerID, partnerID := seedActiveChat(t, bookings)

	if _, err := messages.Append(ctx, bookingID, customerID, model.RoleCustomer, "before"); err != nil {
		t.Fatal(err)
	}

	for _, to := range []model.Status{model.StatusStarted, model.StatusReached, model.StatusCollected, model.StatusDelivered} {
		if _, _, err := bookings.UpdateStatus(ctx, bookingID, to, partnerID, ""); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := messages.Append(ctx, bookingID, customerID, model.RoleCustomer, "after"); !errors.Is(err, ErrChatNotActive) {
		t.Fatalf("append after delivery = %v, want ErrChatNotActive", err)
	}
	all, err := messages.ListSince(ctx, bookingID, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("messages after closed chat = %d, want 1", len(all))
	}
}

func TestAppendRejectedWithoutPartner(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bookings := NewBookingRepo(db)
	messages := NewMessageRepo(db, 0)

	customerID := seedUser(t, db, "09121110011", "Sara", "Karimi", model.RoleCustomer, true)
	b, err := bookings.Create(ctx, customerID, "a", "b", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := messages.Append(ctx, b.ID, customerID, model.RoleCustomer, "anyone there?"); !errors.Is(err, ErrChatNotActive) {
		t.Fatalf("append on pending booking = %v, want ErrChatNotActive", err)
	}
	if _, err := messages.Append(ctx, 424242, customerID, model.RoleCustomer, "hello"); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("append on missing booking = %v, want ErrBookingNotFound", err)
	}
}

func TestListSinceIsRestartable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bookings := NewBookingRepo(db)
	messages := NewMessageRepo(db, 0)
	bookingID, customerID, _ := seedActiveChat(t, bookings)

	for i := 0; i < 7; i++ {
		if _, err := messages.Append(ctx, bookingID, customerID, model.RoleCustomer, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	// Page through in chunks of 3 and reassemble the full sequence.
	var got []string
	var afterID uint64
	for {
		page, err := messages.ListSince(ctx, bookingID, afterID, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			got = append(got, m.Text)
		}
		afterID = page[len(page)-1].ID
	}
	if len(got) != 7 {
		t.Fatalf("paged messages = %d, want 7", len(got))
	}
	for i, text := range got {
		if text != fmt.Sprintf("m%d", i) {
			t.Fatalf("page order broken at %d: %v", i, got)
		}
	}
}

func TestListRecentReturnsTailInOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	bookings := NewBookingRepo(db)
	messages := NewMessageRepo(db, 0)
	bookingID, customerID, _ := seedActiveChat(t, bookings)

	for i := 0; i < 5; i++ {
		if _, err := messages.Append(ctx, bookingID, customerID, model.RoleCustomer, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := messages.ListRecent(ctx, bookingID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Text != "m3" || recent[1].Text != "m4" {
		t.Fatalf("recent = %+v", recent)
	}
}
