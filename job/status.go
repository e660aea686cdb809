package job

// Status is the job lifecycle state.
type Status string

const (
	StatusOpen            Status = "open"
	StatusBidding         Status = "bidding"
	StatusAssigned        Status = "assigned"
	StatusPickupConfirmed Status = "pickup_confirmed"
	StatusInTransit       Status = "in_transit"
	StatusDelivered       Status = "delivered"
	StatusConfirmed       Status = "confirmed"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// driverProgress maps each driver-reported state to the only state that may
// follow it. Out-of-order transitions are rejected, never reordered.
var driverProgress = map[Status]Status{
	StatusAssigned:        StatusPickupConfirmed,
	StatusPickupConfirmed: StatusInTransit,
	StatusInTransit:       StatusDelivered,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusBidding, StatusAssigned, StatusPickupConfirmed,
		StatusInTransit, StatusDelivered, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Cancellable reports whether a job in s may still be cancelled. Confirmed
// jobs have already released escrow and cannot be retroactively cancelled.
func (s Status) Cancellable() bool {
	switch s {
	case StatusOpen, StatusBidding, StatusAssigned, StatusPickupConfirmed,
		StatusInTransit, StatusDelivered:
		return true
	default:
		return false
	}
}

// HasEscrow reports whether a job in s carries a held transaction.
func (s Status) HasEscrow() bool {
	switch s {
	case StatusAssigned, StatusPickupConfirmed, StatusInTransit, StatusDelivered:
		return true
	default:
		return false
	}
}

// Disputable reports whether a dispute may be opened against a job in s.
func (s Status) Disputable() bool {
	switch s {
	case StatusPickupConfirmed, StatusInTransit, StatusDelivered:
		return true
	default:
		return false
	}
}

// NextDriverStatus returns the single driver-progress state that may follow
// s, or false when s is not a driver-progress state.
func NextDriverStatus(s Status) (Status, bool) {
	next, ok := driverProgress[s]
	return next, ok
}
