package bid

import (
	"context"
	"errors"
	"fmt"

	"swifthaul/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateBid signals a driver already has a bid on the job.
var ErrDuplicateBid = errors.New("bid: driver already bid on this job")

// Repository is the data access contract for the bid ledger.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error)
	Get(ctx context.Context, id string) (Bid, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Bid, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status) (Bid, error)
	RejectOthers(ctx context.Context, tx pgx.Tx, jobID, acceptedBidID string) (int64, error)
	ListForJob(ctx context.Context, jobID string) ([]Bid, error)
	ListForDriver(ctx context.Context, driverID string) ([]Bid, error)
}

const bidColumns = `id, job_id, driver_id, amount, status::text, message, created_at, updated_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, b Bid) (Bid, error) {
	const insertSQL = `
		INSERT INTO bids (job_id, driver_id, amount, message)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + bidColumns

	created, err := scanBid(tx.QueryRow(ctx, insertSQL, b.JobID, b.DriverID, b.Amount, b.Message))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Bid{}, ErrDuplicateBid
		}
		return Bid{}, fmt.Errorf("bid: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Bid, error) {
	const query = `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`

	b, err := scanBid(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, fmt.Errorf("bid: %s: %w", id, fault.ErrNotFound)
		}
		return Bid{}, fmt.Errorf("bid: get: %w", err)
	}
	return b, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Bid, error) {
	const query = `SELECT ` + bidColumns + ` FROM bids WHERE id = $1 FOR UPDATE`

	b, err := scanBid(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, fmt.Errorf("bid: %s: %w", id, fault.ErrNotFound)
		}
		return Bid{}, fmt.Errorf("bid: get for update: %w", err)
	}
	return b, nil
}

// UpdateStatus moves a bid to `to` only if its current status is one of
// `from`; a raced or invalid transition finds no row.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status) (Bid, error) {
	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}

	const updateSQL = `
		UPDATE bids
		SET status = $2::bid_status, updated_at = now()
		WHERE id = $1 AND status::text = ANY($3)
		RETURNING ` + bidColumns

	b, err := scanBid(tx.QueryRow(ctx, updateSQL, id, to, states))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, fmt.Errorf("bid: %s cannot move to %s: %w", id, to, fault.ErrStateConflict)
		}
		return Bid{}, fmt.Errorf("bid: update status: %w", err)
	}
	return b, nil
}

// RejectOthers closes every still-live bid on the job except the accepted
// one, in the same transaction as the acceptance. An empty acceptedBidID
// rejects all live bids, used when the job itself is cancelled.
func (r *PGRepository) RejectOthers(ctx context.Context, tx pgx.Tx, jobID, acceptedBidID string) (int64, error) {
	var accepted any
	if acceptedBidID != "" {
		accepted = acceptedBidID
	}
	tag, err := tx.Exec(ctx, `
		UPDATE bids
		SET status = 'rejected', updated_at = now()
		WHERE job_id = $1 AND ($2::uuid IS NULL OR id <> $2::uuid) AND status IN ('pending', 'shortlisted')
	`, jobID, accepted)
	if err != nil {
		return 0, fmt.Errorf("bid: reject others: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) ListForJob(ctx context.Context, jobID string) ([]Bid, error) {
	return r.list(ctx, `SELECT `+bidColumns+` FROM bids WHERE job_id = $1 ORDER BY created_at DESC`, jobID)
}

func (r *PGRepository) ListForDriver(ctx context.Context, driverID string) ([]Bid, error) {
	return r.list(ctx, `SELECT `+bidColumns+` FROM bids WHERE driver_id = $1 ORDER BY created_at DESC`, driverID)
}

func (r *PGRepository) list(ctx context.Context, query string, arg any) ([]Bid, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("bid: list: %w", err)
	}
	defer rows.Close()

	out := make([]Bid, 0, 8)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid: scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate: %w", err)
	}
	return out, nil
}

func scanBid(row pgx.Row) (Bid, error) {
	var b Bid
	err := row.Scan(
		&b.ID,
		&b.JobID,
		&b.DriverID,
		&b.Amount,
		&b.Status,
		&b.Message,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}
