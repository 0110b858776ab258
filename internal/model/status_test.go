package model

import (
	"errors"
	"testing"
)

func TestIsChatActive(t *testing.T) {
	active := map[Status]bool{
		StatusPending:   false,
		StatusAssigned:  true,
		StatusStarted:   true,
		StatusReached:   true,
		StatusCollected: true,
		StatusDelivered: false,
		StatusCancelled: false,
	}
	for _, s := range AllStatuses {
		if got := IsChatActive(s); got != active[s] {
			t.Errorf("IsChatActive(%s) = %v, want %v", s, got, active[s])
		}
	}
}

func TestIsCancellable(t *testing.T) {
	for _, s := range AllStatuses {
		want := s == StatusPending || s == StatusAssigned
		if got := IsCancellable(s); got != want {
			t.Errorf("IsCancellable(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestValidateTransitionPath(t *testing.T) {
	valid := []struct{ from, to Status }{
		{StatusPending, StatusAssigned},
		{StatusPending, StatusCancelled},
		{StatusAssigned, StatusStarted},
		{StatusAssigned, StatusCancelled},
		{StatusStarted, StatusReached},
		{StatusReached, StatusCollected},
		{StatusCollected, StatusDelivered},
	}
	allowed := make(map[[2]Status]bool)
	for _, tr := range valid {
		allowed[[2]Status{tr.from, tr.to}] = true
	}

	// Every pair not on the path (and not idempotent) must be rejected with
	// an *InvalidTransitionError naming the offending states.
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			err := ValidateTransition(from, to)
			if from == to || allowed[[2]Status{from, to}] {
				if err != nil {
					t.Errorf("ValidateTransition(%s, %s) = %v, want nil", from, to, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("ValidateTransition(%s, %s) = nil, want error", from, to)
				continue
			}
			var ite *InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Errorf("ValidateTransition(%s, %s) returned %T, want *InvalidTransitionError", from, to, err)
				continue
			}
			if ite.From != from || ite.To != to {
				t.Errorf("error identifies %s -> %s, want %s -> %s", ite.From, ite.To, from, to)
			}
		}
	}
}

func TestTerminalStatesHaveNoSuccessors(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
		if next := NextValidStatuses(s); len(next) != 0 {
			t.Errorf("NextValidStatuses(%s) = %v, want empty", s, next)
		}
	}
}

func TestCanChat(t *testing.T) {
	partner := uint64(7)
	b := &Booking{CustomerID: 1, Status: StatusAssigned}
	if b.CanChat() {
		t.Error("CanChat without a partner should be false")
	}
	b.PartnerID = &partner
	if !b.CanChat() {
		t.Error("CanChat with partner in assigned state should be true")
	}
	b.Status = StatusDelivered
	if b.CanChat() {
		t.Error("CanChat in delivered state should be false")
	}
}

func TestIsParticipant(t *testing.T) {
	partner := uint64(7)
	b := &Booking{CustomerID: 1, PartnerID: &partner}
	if !b.IsParticipant(1) || !b.IsParticipant(7) {
		t.Error("customer and partner must both be participants")
	}
	if b.IsParticipant(99) {
		t.Error("unrelated user must not be a participant")
	}
}
