package bid

import "time"

// Status is the bid lifecycle state. At most one bid per job ever reaches
// accepted; the store enforces this with a partial unique index.
type Status string

const (
	StatusPending     Status = "pending"
	StatusShortlisted Status = "shortlisted"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusWithdrawn   Status = "withdrawn"
)

// Live reports whether the bid can still change state.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusShortlisted
}

// Bid mirrors the bids table.
type Bid struct {
	ID        string
	JobID     string
	DriverID  string
	Amount    int64
	Status    Status
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubmitParams enumerates driver-supplied fields for a new bid.
type SubmitParams struct {
	JobID   string
	Amount  int64
	Message string
}
