// Package dispute freezes normal escrow progression while a job's outcome is
// contested and drives exactly one terminal settlement through the escrow
// manager when an admin resolves it.
package dispute

import (
	"context"
	"fmt"

	"swifthaul/auth"
	"swifthaul/escrow"
	"swifthaul/fault"
	"swifthaul/job"
	"swifthaul/outbox"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type jobStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error)
}

// settler is the slice of the escrow manager the resolver needs.
type settler interface {
	GetHeldForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Transaction, error)
	Release(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Transaction, bool, error)
	Refund(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Transaction, bool, error)
}

// OutboxWriter enqueues best-effort notifications inside the caller's tx.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool   TxBeginner
	repo   Repository
	jobs   jobStore
	escrow settler
	outbox OutboxWriter
}

func NewService(pool TxBeginner, repo Repository, jobs jobStore, esc settler, outbox OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		jobs:   jobs,
		escrow: esc,
		outbox: outbox,
	}
}

// OpenParams carries a new dispute claim.
type OpenParams struct {
	JobID       string
	Reason      Reason
	Description string
}

// Open files a dispute against an in-progress job whose escrow is still
// held. It does not alter the job's status; the held transaction it locks
// in is what later gates settlement.
func (s *Service) Open(ctx context.Context, actor auth.Actor, params OpenParams) (Record, error) {
	if params.JobID == "" {
		return Record{}, fmt.Errorf("dispute: missing job id: %w", fault.ErrValidation)
	}
	if !params.Reason.Valid() {
		return Record{}, fmt.Errorf("dispute: unknown reason %q: %w", params.Reason, fault.ErrValidation)
	}
	if actor.Role != auth.RoleClient && actor.Role != auth.RoleDriver {
		return Record{}, fmt.Errorf("dispute: only the job's parties open disputes: %w", fault.ErrAuthorization)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.jobs.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Record{}, err
	}

	switch actor.Role {
	case auth.RoleClient:
		if j.ClientID != actor.UserID {
			return Record{}, fmt.Errorf("dispute: job belongs to another client: %w", fault.ErrAuthorization)
		}
	case auth.RoleDriver:
		if j.AssignedDriverID == nil || *j.AssignedDriverID != actor.UserID {
			return Record{}, fmt.Errorf("dispute: job is not assigned to this driver: %w", fault.ErrAuthorization)
		}
	}

	if !j.Status.Disputable() {
		return Record{}, fmt.Errorf("dispute: job %s is %s: %w", j.ID, j.Status, fault.ErrStateConflict)
	}
	if _, err := s.escrow.GetHeldForUpdate(ctx, tx, j.ID); err != nil {
		return Record{}, err
	}

	rec, err := s.repo.Create(ctx, tx, Record{
		JobID:          params.JobID,
		OpenedByUserID: actor.UserID,
		OpenedByRole:   string(actor.Role),
		Reason:         params.Reason,
		Description:    params.Description,
	})
	if err != nil {
		return Record{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDisputeOpened, map[string]any{
		"dispute_id": rec.ID,
		"job_id":     rec.JobID,
		"reason":     rec.Reason,
		"opened_by":  rec.OpenedByRole,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}

	return rec, nil
}

// TakeUnderReview claims an open dispute for admin review. Purely
// administrative; no escrow effect.
func (s *Service) TakeUnderReview(ctx context.Context, actor auth.Actor, disputeID string) (Record, error) {
	if actor.Role != auth.RoleAdmin {
		return Record{}, fmt.Errorf("dispute: review is admin-only: %w", fault.ErrAuthorization)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.TakeUnderReview(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDisputeReview, map[string]any{
		"dispute_id": rec.ID,
		"job_id":     rec.JobID,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit review: %w", err)
	}

	return rec, nil
}

// ResolveResult bundles the resolved dispute and the settled transaction.
type ResolveResult struct {
	Dispute     Record
	Transaction escrow.Transaction
}

// Resolve settles an under-review dispute. The escrow settlement and the
// dispute's terminal write commit together; resolving an already-resolved
// dispute is a state-conflict and moves no money.
func (s *Service) Resolve(ctx context.Context, actor auth.Actor, disputeID string, resolution Resolution, adminNotes string) (ResolveResult, error) {
	if actor.Role != auth.RoleAdmin {
		return ResolveResult{}, fmt.Errorf("dispute: resolution is admin-only: %w", fault.ErrAuthorization)
	}
	if !resolution.Valid() {
		return ResolveResult{}, fmt.Errorf("dispute: unknown resolution %q: %w", resolution, fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return ResolveResult{}, err
	}
	if rec.Status != StatusUnderReview {
		return ResolveResult{}, fmt.Errorf("dispute: %s is %s, not under review: %w", disputeID, rec.Status, fault.ErrStateConflict)
	}

	var txn escrow.Transaction
	if resolution == ResolutionRefundClient {
		txn, _, err = s.escrow.Refund(ctx, tx, rec.JobID)
	} else {
		txn, _, err = s.escrow.Release(ctx, tx, rec.JobID)
	}
	if err != nil {
		return ResolveResult{}, err
	}

	resolved, err := s.repo.MarkResolved(ctx, tx, disputeID, resolution, adminNotes)
	if err != nil {
		return ResolveResult{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicDisputeResolved, map[string]any{
		"dispute_id": resolved.ID,
		"job_id":     resolved.JobID,
		"resolution": resolution,
	}); err != nil {
		return ResolveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ResolveResult{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	return ResolveResult{Dispute: resolved, Transaction: txn}, nil
}

// Get returns a single dispute.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

// ListForJob returns a job's disputes.
func (s *Service) ListForJob(ctx context.Context, jobID string) ([]Record, error) {
	return s.repo.ListForJob(ctx, jobID)
}

// List returns the admin dispute queue, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]Record, error) {
	return s.repo.List(ctx, status)
}
