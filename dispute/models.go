package dispute

import "time"

// Status is the dispute lifecycle: open -> under_review -> resolved.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Resolution is the terminal settlement direction, set only when resolving.
type Resolution string

const (
	ResolutionRefundClient  Resolution = "refund_client"
	ResolutionReleaseDriver Resolution = "release_driver"
)

func (r Resolution) Valid() bool {
	return r == ResolutionRefundClient || r == ResolutionReleaseDriver
}

// Reason categorizes why the dispute was opened.
type Reason string

const (
	ReasonDamagedItem  Reason = "damaged_item"
	ReasonLateDelivery Reason = "late_delivery"
	ReasonWrongItem    Reason = "wrong_item"
	ReasonNonDelivery  Reason = "non_delivery"
	ReasonPaymentIssue Reason = "payment_issue"
	ReasonOther        Reason = "other"
)

func (r Reason) Valid() bool {
	switch r {
	case ReasonDamagedItem, ReasonLateDelivery, ReasonWrongItem,
		ReasonNonDelivery, ReasonPaymentIssue, ReasonOther:
		return true
	default:
		return false
	}
}

// Record mirrors the disputes table.
type Record struct {
	ID             string
	JobID          string
	OpenedByUserID string
	OpenedByRole   string
	Reason         Reason
	Description    string
	Status         Status
	Resolution     *Resolution
	AdminNotes     *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     *time.Time
}
