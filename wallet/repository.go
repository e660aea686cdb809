package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger writes settlement credits inside the caller's transaction so a
// balance change can never outlive the escrow settlement it belongs to.
type PGLedger struct{}

func NewLedger() *PGLedger {
	return &PGLedger{}
}

// Credit adds amount to the user's balance and records an entry. The account
// row is created on first credit.
func (l *PGLedger) Credit(ctx context.Context, tx pgx.Tx, userID string, amount int64, jobID, memo string) error {
	if userID == "" {
		return fmt.Errorf("wallet: credit missing user id")
	}
	if amount <= 0 {
		return fmt.Errorf("wallet: credit amount must be positive, got %d", amount)
	}

	const upsertSQL = `
		INSERT INTO wallet_accounts (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET balance = wallet_accounts.balance + EXCLUDED.balance,
		              updated_at = now()
	`
	if _, err := tx.Exec(ctx, upsertSQL, userID, amount); err != nil {
		return fmt.Errorf("wallet: credit balance: %w", err)
	}

	var job any
	if jobID != "" {
		job = jobID
	}
	const entrySQL = `
		INSERT INTO wallet_entries (user_id, job_id, amount, memo)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, entrySQL, userID, job, amount, memo); err != nil {
		return fmt.Errorf("wallet: record entry: %w", err)
	}

	return nil
}

// Repository provides read access to wallet state.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Balance returns the account for a user. A user with no credits yet has a
// zero balance rather than an error.
func (r *Repository) Balance(ctx context.Context, userID string) (Account, error) {
	const query = `
		SELECT user_id, balance, updated_at
		FROM wallet_accounts
		WHERE user_id = $1
	`

	var acct Account
	err := r.pool.QueryRow(ctx, query, userID).Scan(&acct.UserID, &acct.Balance, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{UserID: userID}, nil
		}
		return Account{}, fmt.Errorf("wallet: balance: %w", err)
	}
	return acct, nil
}

// Entries lists recent entries for a user, newest first.
func (r *Repository) Entries(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	const query = `
		SELECT id, user_id, job_id, amount, memo, created_at
		FROM wallet_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet: list entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.Amount, &e.Memo, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("wallet: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet: iterate entries: %w", err)
	}

	return out, nil
}
