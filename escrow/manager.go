// Package escrow owns the financial ledger entry tied to a job. It is the
// single writer of payment state: bid acceptance, delivery confirmation,
// cancellation, and dispute resolution all settle money through it.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math"

	"swifthaul/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger credits settlement balances inside the settlement transaction.
type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, userID string, amount int64, jobID, memo string) error
}

// RateSource resolves the platform commission percentage at hold time.
type RateSource interface {
	CommissionPercent(ctx context.Context) float64
}

// FlatRate is a RateSource with a fixed percentage.
type FlatRate float64

func (r FlatRate) CommissionPercent(context.Context) float64 { return float64(r) }

// DefaultCommissionPercent applies when no rate source is configured.
const DefaultCommissionPercent = 15.0

// Manager performs escrow writes. All mutating methods take the caller's
// transaction so the financial change and the job/bid/dispute status change
// it accompanies commit as one unit; the pool serves plain reads only.
type Manager struct {
	pool   *pgxpool.Pool
	wallet Ledger
	rates  RateSource
}

func NewManager(pool *pgxpool.Pool, wallet Ledger, rates RateSource) *Manager {
	if rates == nil {
		rates = FlatRate(DefaultCommissionPercent)
	}
	return &Manager{pool: pool, wallet: wallet, rates: rates}
}

const transactionColumns = `id, job_id, client_id, driver_id, total_amount, commission_amount,
		driver_payout, payment_status::text, held_at, released_at, refunded_at`

// Hold creates the held ledger entry for a job. A job may have at most one
// transaction ever; a second hold is a financial-integrity error.
func (m *Manager) Hold(ctx context.Context, tx pgx.Tx, params HoldParams) (Transaction, error) {
	if params.JobID == "" || params.ClientID == "" || params.DriverID == "" {
		return Transaction{}, fmt.Errorf("escrow: hold missing references: %w", fault.ErrValidation)
	}
	if params.Amount <= 0 {
		return Transaction{}, fmt.Errorf("escrow: hold amount must be positive: %w", fault.ErrValidation)
	}

	commission := CommissionFor(params.Amount, m.rates.CommissionPercent(ctx))

	const insertSQL = `
		INSERT INTO transactions (job_id, client_id, driver_id, total_amount, commission_amount, driver_payout)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + transactionColumns

	txn, err := scanTransaction(tx.QueryRow(ctx, insertSQL,
		params.JobID,
		params.ClientID,
		params.DriverID,
		params.Amount,
		commission,
		params.Amount-commission,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transaction{}, fmt.Errorf("escrow: job %s already has a transaction: %w", params.JobID, fault.ErrFinancialIntegrity)
		}
		return Transaction{}, fmt.Errorf("escrow: hold: %w", err)
	}

	return txn, nil
}

// Release settles held funds to the driver. The guarded write and the
// wallet credit commit together; a repeated release is a no-op with no
// second credit, while releasing refunded funds is a state-conflict.
func (m *Manager) Release(ctx context.Context, tx pgx.Tx, jobID string) (Transaction, bool, error) {
	return m.settle(ctx, tx, jobID, StatusPaid)
}

// Refund settles held funds back to the client, with the same terminal
// idempotency as Release.
func (m *Manager) Refund(ctx context.Context, tx pgx.Tx, jobID string) (Transaction, bool, error) {
	return m.settle(ctx, tx, jobID, StatusRefunded)
}

func (m *Manager) settle(ctx context.Context, tx pgx.Tx, jobID string, target PaymentStatus) (Transaction, bool, error) {
	const releaseSQL = `
		UPDATE transactions
		SET payment_status = 'paid', released_at = now()
		WHERE job_id = $1 AND payment_status = 'held'
		RETURNING ` + transactionColumns
	const refundSQL = `
		UPDATE transactions
		SET payment_status = 'refunded', refunded_at = now()
		WHERE job_id = $1 AND payment_status = 'held'
		RETURNING ` + transactionColumns

	updateSQL := releaseSQL
	if target == StatusRefunded {
		updateSQL = refundSQL
	}

	txn, err := scanTransaction(tx.QueryRow(ctx, updateSQL, jobID))
	if err == nil {
		if target == StatusPaid {
			err = m.wallet.Credit(ctx, tx, txn.DriverID, txn.DriverPayout, jobID, "escrow release")
		} else {
			err = m.wallet.Credit(ctx, tx, txn.ClientID, txn.TotalAmount, jobID, "escrow refund")
		}
		if err != nil {
			return Transaction{}, false, err
		}
		return txn, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, fmt.Errorf("escrow: settle %s: %w", target, err)
	}

	// The guard found no held row. Diagnose: missing, already in the
	// requested terminal state (idempotent no-op), or in the opposite one.
	existing, err := getByJob(ctx, tx, jobID)
	if err != nil {
		return Transaction{}, false, err
	}
	if existing.PaymentStatus == target {
		return existing, false, nil
	}
	return Transaction{}, false, fmt.Errorf("escrow: job %s transaction is %s, cannot move to %s: %w",
		jobID, existing.PaymentStatus, target, fault.ErrStateConflict)
}

// GetHeldForUpdate locks the job's transaction and verifies it is still
// held, used by the dispute resolver's open precondition.
func (m *Manager) GetHeldForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Transaction, error) {
	const query = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE job_id = $1
		FOR UPDATE
	`

	txn, err := scanTransaction(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("escrow: job %s has no transaction: %w", jobID, fault.ErrNotFound)
		}
		return Transaction{}, fmt.Errorf("escrow: lock transaction: %w", err)
	}
	if txn.PaymentStatus != StatusHeld {
		return Transaction{}, fmt.Errorf("escrow: job %s transaction is %s, not held: %w", jobID, txn.PaymentStatus, fault.ErrStateConflict)
	}

	return txn, nil
}

// GetByJob reads a job's transaction outside any settlement path.
func (m *Manager) GetByJob(ctx context.Context, jobID string) (Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE job_id = $1`

	txn, err := scanTransaction(m.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("escrow: job %s has no transaction: %w", jobID, fault.ErrNotFound)
		}
		return Transaction{}, fmt.Errorf("escrow: get transaction: %w", err)
	}
	return txn, nil
}

func getByJob(ctx context.Context, tx pgx.Tx, jobID string) (Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE job_id = $1`

	txn, err := scanTransaction(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("escrow: job %s has no transaction: %w", jobID, fault.ErrNotFound)
		}
		return Transaction{}, fmt.Errorf("escrow: get transaction: %w", err)
	}
	return txn, nil
}

// CommissionFor computes the platform cut, rounded to the nearest unit.
func CommissionFor(amount int64, percent float64) int64 {
	return int64(math.Round(float64(amount) * percent / 100))
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var txn Transaction
	err := row.Scan(
		&txn.ID,
		&txn.JobID,
		&txn.ClientID,
		&txn.DriverID,
		&txn.TotalAmount,
		&txn.CommissionAmount,
		&txn.DriverPayout,
		&txn.PaymentStatus,
		&txn.HeldAt,
		&txn.ReleasedAt,
		&txn.RefundedAt,
	)
	return txn, err
}
