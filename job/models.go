package job

import "time"

// Job mirrors the jobs table.
type Job struct {
	ID               string
	JobNumber        string
	ClientID         string
	AssignedDriverID *string
	Status           Status
	PickupAddress    string
	DropoffAddress   string
	BudgetMin        int64
	BudgetMax        int64
	FinalAmount      *int64
	Fare             FareDetails
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
	CancelledBy      *string
	CancelReason     *string
}

// FareDetails is the typed fare metadata attached to a job. Free-text notes
// live beside the structured fields instead of carrying them.
type FareDetails struct {
	Notes         *string
	SizeTier      string
	Addons        []string
	EstimatedFare int64
}

// CreateParams enumerates client-supplied fields for a new job.
type CreateParams struct {
	PickupAddress  string
	DropoffAddress string
	BudgetMin      int64
	BudgetMax      int64
	Fare           FareDetails
}

// Filters narrows job listings.
type Filters struct {
	ClientID string
	DriverID string
	Status   Status
	Page     int
	PageSize int
}
