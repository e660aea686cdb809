package job

import "testing"

func TestDriverProgressChain(t *testing.T) {
	chain := []Status{StatusAssigned, StatusPickupConfirmed, StatusInTransit, StatusDelivered}
	for i := 0; i < len(chain)-1; i++ {
		next, ok := NextDriverStatus(chain[i])
		if !ok {
			t.Fatalf("expected %s to have a driver successor", chain[i])
		}
		if next != chain[i+1] {
			t.Fatalf("expected %s -> %s, got %s", chain[i], chain[i+1], next)
		}
	}

	for _, s := range []Status{StatusOpen, StatusBidding, StatusDelivered, StatusConfirmed, StatusCompleted, StatusCancelled} {
		if _, ok := NextDriverStatus(s); ok {
			t.Fatalf("expected %s to have no driver successor", s)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	cases := []struct {
		status      Status
		terminal    bool
		cancellable bool
		hasEscrow   bool
		disputable  bool
	}{
		{StatusOpen, false, true, false, false},
		{StatusBidding, false, true, false, false},
		{StatusAssigned, false, true, true, false},
		{StatusPickupConfirmed, false, true, true, true},
		{StatusInTransit, false, true, true, true},
		{StatusDelivered, false, true, true, true},
		{StatusConfirmed, false, false, false, false},
		{StatusCompleted, true, false, false, false},
		{StatusCancelled, true, false, false, false},
	}

	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", tc.status, got, tc.terminal)
		}
		if got := tc.status.Cancellable(); got != tc.cancellable {
			t.Errorf("%s: Cancellable() = %v, want %v", tc.status, got, tc.cancellable)
		}
		if got := tc.status.HasEscrow(); got != tc.hasEscrow {
			t.Errorf("%s: HasEscrow() = %v, want %v", tc.status, got, tc.hasEscrow)
		}
		if got := tc.status.Disputable(); got != tc.disputable {
			t.Errorf("%s: Disputable() = %v, want %v", tc.status, got, tc.disputable)
		}
		if !tc.status.Valid() {
			t.Errorf("%s: expected Valid()", tc.status)
		}
	}

	if Status("teleported").Valid() {
		t.Error("expected unknown status to be invalid")
	}
}
