package job

import (
	"context"
	"errors"
	"fmt"

	"swifthaul/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the data access contract for jobs. Mutations take the
// caller's transaction and re-validate the precondition state inside the
// write itself.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error)
	MarkBidding(ctx context.Context, tx pgx.Tx, id string) (bool, error)
	Advance(ctx context.Context, tx pgx.Tx, id string, from, to Status) (Job, error)
	Assign(ctx context.Context, tx pgx.Tx, id, driverID string, amount int64) (Job, error)
	Cancel(ctx context.Context, tx pgx.Tx, id, cancelledBy string, reason *string) (Job, error)
	List(ctx context.Context, filters Filters) ([]Job, int, error)
}

const jobColumns = `id, job_number, client_id, assigned_driver_id, status::text,
		pickup_address, dropoff_address, budget_min, budget_max, final_amount,
		notes, size_tier, addons, estimated_fare,
		created_at, updated_at, completed_at, cancelled_at, cancelled_by, cancel_reason`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, j Job) (Job, error) {
	const insertSQL = `
		INSERT INTO jobs (job_number, client_id, status, pickup_address, dropoff_address,
			budget_min, budget_max, notes, size_tier, addons, estimated_fare)
		VALUES ($1, $2, 'open', $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + jobColumns

	row := tx.QueryRow(ctx, insertSQL,
		j.JobNumber,
		j.ClientID,
		j.PickupAddress,
		j.DropoffAddress,
		j.BudgetMin,
		j.BudgetMax,
		j.Fare.Notes,
		j.Fare.SizeTier,
		j.Fare.Addons,
		j.Fare.EstimatedFare,
	)

	created, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, fmt.Errorf("job: %s: %w", id, fault.ErrNotFound)
		}
		return Job{}, fmt.Errorf("job: get: %w", err)
	}
	return j, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`

	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, fmt.Errorf("job: %s: %w", id, fault.ErrNotFound)
		}
		return Job{}, fmt.Errorf("job: get for update: %w", err)
	}
	return j, nil
}

// MarkBidding flips an open job to bidding. The first bid wins the flip;
// later calls find no open row and report false without error.
func (r *PGRepository) MarkBidding(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET status = 'bidding', updated_at = now()
		WHERE id = $1 AND status = 'open'
	`, id)
	if err != nil {
		return false, fmt.Errorf("job: mark bidding: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Advance moves a job from exactly `from` to `to`. The from-state is part of
// the WHERE clause, so a raced or out-of-order request finds no row and is
// surfaced as a state-conflict.
func (r *PGRepository) Advance(ctx context.Context, tx pgx.Tx, id string, from, to Status) (Job, error) {
	const updateSQL = `
		UPDATE jobs
		SET status = $3::job_status,
		    completed_at = CASE WHEN $3 = 'completed' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $2::job_status
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, updateSQL, id, from, to))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, fmt.Errorf("job: %s is not %s: %w", id, from, fault.ErrStateConflict)
		}
		return Job{}, fmt.Errorf("job: advance %s -> %s: %w", from, to, err)
	}
	return j, nil
}

// Assign sets the winning driver and final amount while advancing the job to
// assigned. Guarded on the pre-acceptance statuses.
func (r *PGRepository) Assign(ctx context.Context, tx pgx.Tx, id, driverID string, amount int64) (Job, error) {
	const updateSQL = `
		UPDATE jobs
		SET status = 'assigned',
		    assigned_driver_id = $2,
		    final_amount = $3,
		    updated_at = now()
		WHERE id = $1 AND status IN ('open', 'bidding')
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, updateSQL, id, driverID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, fmt.Errorf("job: %s is no longer accepting bids: %w", id, fault.ErrStateConflict)
		}
		return Job{}, fmt.Errorf("job: assign: %w", err)
	}
	return j, nil
}

// Cancel moves a still-cancellable job to cancelled.
func (r *PGRepository) Cancel(ctx context.Context, tx pgx.Tx, id, cancelledBy string, reason *string) (Job, error) {
	const updateSQL = `
		UPDATE jobs
		SET status = 'cancelled',
		    cancelled_at = now(),
		    cancelled_by = $2,
		    cancel_reason = $3,
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('confirmed', 'completed', 'cancelled')
		RETURNING ` + jobColumns

	j, err := scanJob(tx.QueryRow(ctx, updateSQL, id, cancelledBy, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, fmt.Errorf("job: %s cannot be cancelled: %w", id, fault.ErrStateConflict)
		}
		return Job{}, fmt.Errorf("job: cancel: %w", err)
	}
	return j, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := "WHERE 1=1"
	args := []any{}
	if filters.ClientID != "" {
		args = append(args, filters.ClientID)
		where += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if filters.DriverID != "" {
		args = append(args, filters.DriverID)
		where += fmt.Sprintf(" AND assigned_driver_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(" AND status = $%d::job_status", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		jobColumns, where, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	list := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("job: scan: %w", err)
		}
		list = append(list, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("job: iterate: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM jobs %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("job: count: %w", err)
	}

	return list, total, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.JobNumber,
		&j.ClientID,
		&j.AssignedDriverID,
		&j.Status,
		&j.PickupAddress,
		&j.DropoffAddress,
		&j.BudgetMin,
		&j.BudgetMax,
		&j.FinalAmount,
		&j.Fare.Notes,
		&j.Fare.SizeTier,
		&j.Fare.Addons,
		&j.Fare.EstimatedFare,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
		&j.CancelledAt,
		&j.CancelledBy,
		&j.CancelReason,
	)
	return j, err
}
