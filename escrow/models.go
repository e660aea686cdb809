package escrow

import "time"

// PaymentStatus is created once as held and moves exactly once, forward
// only, to paid or refunded.
type PaymentStatus string

const (
	StatusHeld     PaymentStatus = "held"
	StatusPaid     PaymentStatus = "paid"
	StatusRefunded PaymentStatus = "refunded"
)

// Transaction is the escrow ledger entry tied 1:1 to a job.
type Transaction struct {
	ID               string
	JobID            string
	ClientID         string
	DriverID         string
	TotalAmount      int64
	CommissionAmount int64
	DriverPayout     int64
	PaymentStatus    PaymentStatus
	HeldAt           time.Time
	ReleasedAt       *time.Time
	RefundedAt       *time.Time
}

// HoldParams enumerates the inputs needed to open escrow for a job.
type HoldParams struct {
	JobID    string
	ClientID string
	DriverID string
	Amount   int64
}
