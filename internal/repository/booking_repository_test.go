package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/nimamh/delivery-chat/internal/model"
)

func TestBookingLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	customerID := seedUser(t, db, "09120000001", "Sara", "Karimi", model.RoleCustomer, true)
	partnerID := seedUser(t, db, "09120000002", "Reza", "Moradi", model.RoleDeliveryPartner, true)
	adminID := seedUser(t, db, "09120000003", "", "", model.RoleAdmin, true)

	bookings := NewBookingRepo(db)

	b, err := bookings.Create(ctx, customerID, "12 Azadi St", "3 Valiasr Ave", "leave at the door")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != model.StatusPending || b.PartnerID != nil {
		t.Fatalf("new booking = %+v", b)
	}

	prev, b, err := bookings.AssignPartner(ctx, b.ID, partnerID, adminID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if prev != nil {
		t.Fatalf("previous partner = %v, want nil", prev)
	}
	if b.Status != model.StatusAssigned || b.PartnerID == nil || *b.PartnerID != partnerID {
		t.Fatalf("assigned booking = %+v", b)
	}
	if b.AssignedAt == nil {
		t.Fatal("assigned_at not stamped")
	}

	// Walk the happy path and verify each per-status timestamp lands.
	steps := []struct {
		to    model.Status
		stamp func(*model.Booking) bool
	}{
		{model.StatusStarted, func(b *model.Booking) bool { return b.StartedAt != nil }},
		{model.StatusReached, func(b *model.Booking) bool { return b.ReachedAt != nil }},
		{model.StatusCollected, func(b *model.Booking) bool { return b.CollectedAt != nil }},
		{model.StatusDelivered, func(b *model.Booking) bool { return b.DeliveredAt != nil }},
	}
	for _, step := range steps {
		from, changed, err := bookings.UpdateStatus(ctx, b.ID, step.to, partnerID, "")
		if err != nil {
			t.Fatalf("transition to %s: %v", step.to, err)
		}
		if !changed {
			t.Fatalf("transition to %s reported no change from %s", step.to, from)
		}
		b, err = bookings.GetByID(ctx, b.ID)
		if err != nil {
			t.Fatal(err)
		}
		if b.Status != step.to || !step.stamp(b) {
			t.Fatalf("after %s: %+v", step.to, b)
		}
	}

	logs, err := bookings.StatusHistory(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	// pending->assigned plus the four walked transitions.
	if len(logs) != 5 {
		t.Fatalf("status log rows = %d, want 5", len(logs))
	}
	if logs[0].FromStatus != model.StatusPending || logs[0].ToStatus != model.StatusAssigned {
		t.Fatalf("first log = %+v", logs[0])
	}
	if logs[4].ToStatus != model.StatusDelivered || logs[4].ChangedBy != partnerID {
		t.Fatalf("last log = %+v", logs[4])
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	customerID := seedUser(t, db, "09120000011", "Sara", "Karimi", model.RoleCustomer, true)
	bookings := NewBookingRepo(db)
	b, err := bookings.Create(ctx, customerID, "a", "b", "")
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = bookings.UpdateStatus(ctx, b.ID, model.StatusDelivered, customerID, "")
	var ite *model.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("pending -> delivered error = %v, want InvalidTransitionError", err)
	}
	if ite.From != model.StatusPending || ite.To != model.StatusDelivered {
		t.Fatalf("error detail = %+v", ite)
	}

	// The rejected transition must leave no trace.
	b, err = bookings.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != model.StatusPending {
		t.Fatalf("status after rejection = %s", b.Status)
	}
	logs, err := bookings.StatusHistory(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 0 {
		t.Fatalf("status log rows after rejection = %d", len(logs))
	}
}

func TestUpdateStatusIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	customerID := seedUser(t, db, "09120000021", "Sara", "Karimi", model.RoleCustomer, true)
	partnerID := seedUser(t, db, "09120000022", "Reza", "Moradi", model.RoleDeliveryPartner, true)
	bookings := NewBookingRepo(db)
	b, err := bookings.Create(ctx, customerID, "a", "b", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := bookings.AssignPartner(ctx, b.ID, partnerID, partnerID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := bookings.UpdateStatus(ctx, b.ID, model.StatusStarted, partnerID, ""); err != nil {
		t.Fatal(err)
	}

	// Re-applying the current state commits without writing anything.
	from, changed, err := bookings.UpdateStatus(ctx, b.ID, model.StatusStarted, partnerID, "")
	if err != nil {
		t.Fatalf("idempotent re-apply: %v", err)
	}
	if changed || from != model.StatusStarted {
		t.Fatalf("re-apply: from=%s changed=%v", from, changed)
	}
	logs, err := bookings.StatusHistory(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("status log rows = %d, want 2", len(logs))
	}
}

func TestCancellationStoresReason(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	customerID := seedUser(t, db, "09120000031", "Sara", "Karimi", model.RoleCustomer, true)
	bookings := NewBookingRepo(db)
	b, err := bookings.Create(ctx, customerID, "a", "b", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := bookings.UpdateStatus(ctx, b.ID, model.StatusCancelled, customerID, "ordered by mistake"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	b, err = bookings.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != model.StatusCancelled || b.CancellationReason != "ordered by mistake" || b.CancelledAt == nil {
		t.Fatalf("cancelled booking = %+v", b)
	}

	// Terminal states accept no further transitions.
	_, _, err = bookings.UpdateStatus(ctx, b.ID, model.StatusAssigned, customerID, "")
	var ite *model.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("transition out of cancelled = %v", err)
	}
}

func TestAssignPartnerReassignment(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	customerID := seedUser(t, db, "09120000041", "Sara", "Karimi", model.RoleCustomer, true)
	firstPartner := seedUser(t, db, "09120000042", "Reza", "Moradi", model.RoleDeliveryPartner, true)
	secondPartner := seedUser(t, db, "09120000043", "Vahid", "Nouri", model.RoleDeliveryPartner, true)
	adminID := seedUser(t, db, "09120000044", "", "", model.RoleAdmin, true)
	inactive := seedUser(t, db, "09120000045", "", "", model.RoleDeliveryPartner, false)

	bookings := NewBookingRepo(db)
	b, err := bookings.Create(ctx, customerID, "a", "b", "")
	if err != nil {
		t.Fatal(err)
	}

	// Only active delivery partner accounts are assignable.
	if _, _, err := bookings.AssignPartner(ctx, b.ID, customerID, adminID); !errors.Is(err, ErrPartnerNotAssignable) {
		t.Fatalf("assign customer = %v, want ErrPartnerNotAssignable", err)
	}
	if _, _, err := bookings.AssignPartner(ctx, b.ID, inactive, adminID); !errors.Is(err, ErrPartnerNotAssignable) {
		t.Fatalf("assign inactive = %v, want ErrPartnerNotAssignable", err)
	}

	if _, _, err := bookings.AssignPartner(ctx, b.ID, firstPartner, adminID); err != nil {
		t.Fatal(err)
	}
	if _, _, err := bookings.UpdateStatus(ctx, b.ID, model.StatusStarted, firstPartner, ""); err != nil {
		t.Fatal(err)
	}

	// Reassignment while chat is active swaps the partner and keeps the
	// status where it is.
	prev, b, err := bookings.AssignPartner(ctx, b.ID, secondPartner, adminID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if prev == nil || *prev != firstPartner {
		t.Fatalf("previous partner = %v, want %d", prev, firstPartner)
	}
	if b.Status != model.StatusStarted || *b.PartnerID != secondPartner {
		t.Fatalf("after reassign = %+v", b)
	}

	// A delivered booking cannot change hands.
	for _, to := range []model.Status{model.StatusReached, model.StatusCollected, model.StatusDelivered} {
		if _, _, err := bookings.UpdateStatus(ctx, b.ID, to, secondPartner, ""); err != nil {
			t.Fatal(err)
		}
	}
	var ite *model.InvalidTransitionError
	if _, _, err := bookings.AssignPartner(ctx, b.ID, firstPartner, adminID); !errors.As(err, &ite) {
		t.Fatalf("reassign after delivery = %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	db := setupTestDB(t)
	if _, err := NewBookingRepo(db).GetByID(context.Background(), 424242); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("err = %v, want ErrBookingNotFound", err)
	}
}
