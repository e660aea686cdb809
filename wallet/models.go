package wallet

import "time"

// Account is a user's settlement balance.
type Account struct {
	UserID    string
	Balance   int64
	UpdatedAt time.Time
}

// Entry is one append-only credit or debit against an account.
type Entry struct {
	ID        int64
	UserID    string
	JobID     *string
	Amount    int64
	Memo      string
	CreatedAt time.Time
}
