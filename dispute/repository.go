package dispute

import (
	"context"
	"errors"
	"fmt"

	"swifthaul/fault"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyOpen signals the job already has a live dispute.
var ErrAlreadyOpen = errors.New("dispute: job already has a live dispute")

// Repository is the data access contract for disputes.
type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	TakeUnderReview(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, id string, resolution Resolution, adminNotes string) (Record, error)
	HasLive(ctx context.Context, tx pgx.Tx, jobID string) (bool, error)
	ListForJob(ctx context.Context, jobID string) ([]Record, error)
	List(ctx context.Context, status Status) ([]Record, error)
}

const disputeColumns = `id, job_id, opened_by_user_id, opened_by_role::text, reason::text,
		description, status::text, resolution::text, admin_notes, created_at, updated_at, resolved_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const insertSQL = `
		INSERT INTO disputes (job_id, opened_by_user_id, opened_by_role, reason, description)
		VALUES ($1, $2, $3::user_role, $4::dispute_reason, $5)
		RETURNING ` + disputeColumns

	created, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		rec.JobID, rec.OpenedByUserID, rec.OpenedByRole, rec.Reason, rec.Description))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyOpen
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("dispute: %s: %w", id, fault.ErrNotFound)
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("dispute: %s: %w", id, fault.ErrNotFound)
		}
		return Record{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return rec, nil
}

// TakeUnderReview moves an open dispute to under_review.
func (r *PGRepository) TakeUnderReview(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const updateSQL = `
		UPDATE disputes
		SET status = 'under_review', updated_at = now()
		WHERE id = $1 AND status = 'open'
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, updateSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("dispute: %s is not open: %w", id, fault.ErrStateConflict)
		}
		return Record{}, fmt.Errorf("dispute: take under review: %w", err)
	}
	return rec, nil
}

// MarkResolved finalizes a dispute under review. The settlement itself has
// already run in the same transaction.
func (r *PGRepository) MarkResolved(ctx context.Context, tx pgx.Tx, id string, resolution Resolution, adminNotes string) (Record, error) {
	const updateSQL = `
		UPDATE disputes
		SET status = 'resolved',
		    resolution = $2::dispute_resolution,
		    admin_notes = $3,
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'under_review'
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, updateSQL, id, resolution, adminNotes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("dispute: %s is not under review: %w", id, fault.ErrStateConflict)
		}
		return Record{}, fmt.Errorf("dispute: mark resolved: %w", err)
	}
	return rec, nil
}

// HasLive reports whether the job has a dispute that is not yet resolved.
// Settlement paths call it with the job row already locked, so it serializes
// against Open, which takes the same lock before inserting.
func (r *PGRepository) HasLive(ctx context.Context, tx pgx.Tx, jobID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM disputes WHERE job_id = $1 AND status <> 'resolved')`

	var live bool
	if err := tx.QueryRow(ctx, query, jobID).Scan(&live); err != nil {
		return false, fmt.Errorf("dispute: check live: %w", err)
	}
	return live, nil
}

func (r *PGRepository) ListForJob(ctx context.Context, jobID string) ([]Record, error) {
	return r.list(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE job_id = $1 ORDER BY created_at DESC`, jobID)
}

// List returns disputes, optionally filtered by status, for the admin queue.
func (r *PGRepository) List(ctx context.Context, status Status) ([]Record, error) {
	if status == "" {
		return r.list(ctx, `SELECT `+disputeColumns+` FROM disputes ORDER BY created_at DESC`)
	}
	return r.list(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE status = $1::dispute_status ORDER BY created_at DESC`, status)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		resolution *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.OpenedByUserID,
		&rec.OpenedByRole,
		&rec.Reason,
		&rec.Description,
		&rec.Status,
		&resolution,
		&rec.AdminNotes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if resolution != nil {
		r := Resolution(*resolution)
		rec.Resolution = &r
	}
	return rec, nil
}
