// Package bid tracks bids against a job and enforces the at-most-one
// acceptance protocol. Accepting a bid is the only way a job gains an
// assigned driver and a held escrow transaction.
package bid

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

// jobStore is the slice of the job repository the ledger needs.
type jobStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (job.Job, error)
	MarkBidding(ctx context.Context, tx pgx.Tx, id string) (bool, error)
	Assign(ctx context.Context, tx pgx.Tx, id, driverID string, amount int64) (job.Job, error)
}

// escrowHolder opens the held transaction during acceptance.
type escrowHolder interface {
	Hold(ctx context.Context, tx pgx.Tx, params escrow.HoldParams) (escrow.Transaction, error)
}

// OutboxWriter enqueues best-effort notifications inside the caller's tx.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool   TxBeginner
	repo   Repository
	jobs   jobStore
	escrow escrowHolder
	outbox OutboxWriter
}

func NewService(pool TxBeginner, repo Repository, jobs jobStore, esc escrowHolder, outbox OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		jobs:   jobs,
		escrow: esc,
		outbox: outbox,
	}
}

// Submit records a driver's bid. The first bid on an open job flips it to
// bidding via the named trigger on the job store.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, params SubmitParams) (Bid, error) {
	if actor.Role != auth.RoleDriver {
		return Bid{}, fmt.Errorf("bid: only drivers submit bids: %w", fault.ErrAuthorization)
	}
	if params.JobID == "" {
		return Bid{}, fmt.Errorf("bid: missing job id: %w", fault.ErrValidation)
	}
	if params.Amount <= 0 {
		return Bid{}, fmt.Errorf("bid: amount must be positive, got %d: %w", params.Amount, fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.jobs.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return Bid{}, err
	}
	if j.Status != job.StatusOpen && j.Status != job.StatusBidding {
		return Bid{}, fmt.Errorf("bid: job %s is %s and not accepting bids: %w", j.ID, j.Status, fault.ErrStateConflict)
	}

	created, err := s.repo.Create(ctx, tx, Bid{
		JobID:    params.JobID,
		DriverID: actor.UserID,
		Amount:   params.Amount,
		Message:  params.Message,
	})
	if err != nil {
		return Bid{}, err
	}

	if j.Status == job.StatusOpen {
		if _, err := s.jobs.MarkBidding(ctx, tx, j.ID); err != nil {
			return Bid{}, err
		}
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicBidSubmitted, map[string]any{
		"bid_id":    created.ID,
		"job_id":    created.JobID,
		"driver_id": created.DriverID,
		"amount":    created.Amount,
	}); err != nil {
		return Bid{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit submit: %w", err)
	}

	return created, nil
}

// AcceptResult bundles everything acceptance changed.
type AcceptResult struct {
	Job         job.Job
	Bid         Bid
	Transaction escrow.Transaction
}

// Accept atomically accepts the chosen bid, rejects every other live bid on
// the job, assigns the driver, and opens the held escrow transaction. The
// whole operation commits or fails as one unit: a bid is never accepted
// without a corresponding held transaction, and vice versa.
func (s *Service) Accept(ctx context.Context, actor auth.Actor, jobID, bidID string) (AcceptResult, error) {
	if jobID == "" || bidID == "" {
		return AcceptResult{}, fmt.Errorf("bid: accept missing identifiers: %w", fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock order is job first, then bid, everywhere acceptance-adjacent
	// writes run.
	j, err := s.jobs.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return AcceptResult{}, err
	}
	if actor.Role != auth.RoleClient || j.ClientID != actor.UserID {
		return AcceptResult{}, fmt.Errorf("bid: only the job's client accepts bids: %w", fault.ErrAuthorization)
	}
	if j.Status != job.StatusOpen && j.Status != job.StatusBidding {
		return AcceptResult{}, fmt.Errorf("bid: job %s is %s and cannot accept a bid: %w", j.ID, j.Status, fault.ErrStateConflict)
	}

	b, err := s.repo.GetForUpdate(ctx, tx, bidID)
	if err != nil {
		return AcceptResult{}, err
	}
	if b.JobID != jobID {
		return AcceptResult{}, fmt.Errorf("bid: %s does not belong to job %s: %w", bidID, jobID, fault.ErrValidation)
	}
	if !b.Status.Live() {
		return AcceptResult{}, fmt.Errorf("bid: %s is %s and cannot be accepted: %w", bidID, b.Status, fault.ErrStateConflict)
	}

	accepted, err := s.repo.UpdateStatus(ctx, tx, bidID, []Status{StatusPending, StatusShortlisted}, StatusAccepted)
	if err != nil {
		return AcceptResult{}, err
	}
	if _, err := s.repo.RejectOthers(ctx, tx, jobID, bidID); err != nil {
		return AcceptResult{}, err
	}

	assigned, err := s.jobs.Assign(ctx, tx, jobID, b.DriverID, b.Amount)
	if err != nil {
		return AcceptResult{}, err
	}

	txn, err := s.escrow.Hold(ctx, tx, escrow.HoldParams{
		JobID:    jobID,
		ClientID: j.ClientID,
		DriverID: b.DriverID,
		Amount:   b.Amount,
	})
	if err != nil {
		return AcceptResult{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicBidAccepted, map[string]any{
		"job_id":       jobID,
		"bid_id":       bidID,
		"driver_id":    b.DriverID,
		"final_amount": b.Amount,
	}); err != nil {
		return AcceptResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, fmt.Errorf("bid: commit accept: %w", err)
	}

	return AcceptResult{Job: assigned, Bid: accepted, Transaction: txn}, nil
}

// Shortlist marks a pending bid as shortlisted. No escrow side effects.
func (s *Service) Shortlist(ctx context.Context, actor auth.Actor, bidID string) (Bid, error) {
	return s.clientStatusWrite(ctx, actor, bidID, []Status{StatusPending}, StatusShortlisted)
}

// Reject declines a live bid. No escrow side effects.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, bidID string) (Bid, error) {
	return s.clientStatusWrite(ctx, actor, bidID, []Status{StatusPending, StatusShortlisted}, StatusRejected)
}

func (s *Service) clientStatusWrite(ctx context.Context, actor auth.Actor, bidID string, from []Status, to Status) (Bid, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.Get(ctx, bidID)
	if err != nil {
		return Bid{}, err
	}
	j, err := s.jobs.GetForUpdate(ctx, tx, b.JobID)
	if err != nil {
		return Bid{}, err
	}
	if actor.Role != auth.RoleClient || j.ClientID != actor.UserID {
		return Bid{}, fmt.Errorf("bid: only the job's client manages bids: %w", fault.ErrAuthorization)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, bidID, from, to)
	if err != nil {
		return Bid{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit %s: %w", to, err)
	}

	return updated, nil
}

// Withdraw lets the bidding driver pull a still-live bid.
func (s *Service) Withdraw(ctx context.Context, actor auth.Actor, bidID string) (Bid, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := s.repo.GetForUpdate(ctx, tx, bidID)
	if err != nil {
		return Bid{}, err
	}
	if actor.Role != auth.RoleDriver || b.DriverID != actor.UserID {
		return Bid{}, fmt.Errorf("bid: only the bidding driver withdraws: %w", fault.ErrAuthorization)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, bidID, []Status{StatusPending, StatusShortlisted}, StatusWithdrawn)
	if err != nil {
		return Bid{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Bid{}, fmt.Errorf("bid: commit withdraw: %w", err)
	}

	return updated, nil
}

// ListForJob returns all bids on a job.
func (s *Service) ListForJob(ctx context.Context, jobID string) ([]Bid, error) {
	return s.repo.ListForJob(ctx, jobID)
}

// ListForDriver returns a driver's bids.
func (s *Service) ListForDriver(ctx context.Context, driverID string) ([]Bid, error) {
	return s.repo.ListForDriver(ctx, driverID)
}
