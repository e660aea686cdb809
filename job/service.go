package job

import (
	"context"
	"fmt"
	"strings"

	"swifthaul/auth"
	"swifthaul/escrow"
	"swifthaul/fault"
	"swifthaul/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// settler is the slice of the escrow manager the state machine needs:
// delivery confirmation releases held funds inside the same transaction.
type settler interface {
	Release(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Transaction, bool, error)
}

// disputeChecker answers whether a job has a live dispute. A live dispute
// freezes normal progression until an admin resolves it.
type disputeChecker interface {
	HasLive(ctx context.Context, tx pgx.Tx, jobID string) (bool, error)
}

// OutboxWriter enqueues best-effort notifications inside the caller's tx.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

var sizeTiers = map[string]bool{"small": true, "medium": true, "large": true, "xl": true}

// Service owns job status and orchestrates transitions triggered by client
// and driver events. Bid acceptance enters through the bid ledger; terminal
// cancellation enters through the cancellation coordinator.
type Service struct {
	pool     TxBeginner
	repo     Repository
	escrow   settler
	disputes disputeChecker
	outbox   OutboxWriter
	numGen   func() string
}

func NewService(pool TxBeginner, repo Repository, esc settler, disputes disputeChecker, outbox OutboxWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		escrow:   esc,
		disputes: disputes,
		outbox:   outbox,
		numGen:   NewJobNumber,
	}
}

// WithNumberGenerator overrides job number generation, for tests.
func (s *Service) WithNumberGenerator(gen func() string) *Service {
	s.numGen = gen
	return s
}

// NewJobNumber produces a short human-readable job reference.
func NewJobNumber() string {
	return "JOB-" + strings.ToUpper(uuid.NewString()[:8])
}

// Create opens a new job for the acting client.
func (s *Service) Create(ctx context.Context, actor auth.Actor, params CreateParams) (Job, error) {
	if actor.Role != auth.RoleClient {
		return Job{}, fmt.Errorf("job: only clients create jobs: %w", fault.ErrAuthorization)
	}
	if params.PickupAddress == "" || params.DropoffAddress == "" {
		return Job{}, fmt.Errorf("job: pickup and dropoff addresses required: %w", fault.ErrValidation)
	}
	if params.BudgetMin <= 0 || params.BudgetMax < params.BudgetMin {
		return Job{}, fmt.Errorf("job: invalid budget range %d-%d: %w", params.BudgetMin, params.BudgetMax, fault.ErrValidation)
	}
	if params.Fare.SizeTier == "" {
		params.Fare.SizeTier = "medium"
	}
	if !sizeTiers[params.Fare.SizeTier] {
		return Job{}, fmt.Errorf("job: unknown size tier %q: %w", params.Fare.SizeTier, fault.ErrValidation)
	}
	if params.Fare.EstimatedFare < 0 {
		return Job{}, fmt.Errorf("job: negative estimated fare: %w", fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, Job{
		JobNumber:      s.numGen(),
		ClientID:       actor.UserID,
		PickupAddress:  params.PickupAddress,
		DropoffAddress: params.DropoffAddress,
		BudgetMin:      params.BudgetMin,
		BudgetMax:      params.BudgetMax,
		Fare:           params.Fare,
	})
	if err != nil {
		return Job{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicJobCreated, map[string]any{
		"job_id":     created.ID,
		"job_number": created.JobNumber,
		"client_id":  created.ClientID,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit create: %w", err)
	}

	return created, nil
}

// Advance applies a driver-reported progress event, or the administrative
// confirmed -> completed finalization. Each transition requires the job to
// be in the immediately preceding state; anything else is a state-conflict.
func (s *Service) Advance(ctx context.Context, actor auth.Actor, jobID string, next Status) (Job, error) {
	if !next.Valid() {
		return Job{}, fmt.Errorf("job: unknown status %q: %w", next, fault.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, err
	}

	switch next {
	case StatusPickupConfirmed, StatusInTransit, StatusDelivered:
		if actor.Role != auth.RoleDriver {
			return Job{}, fmt.Errorf("job: progress events are driver-reported: %w", fault.ErrAuthorization)
		}
		if j.AssignedDriverID == nil || *j.AssignedDriverID != actor.UserID {
			return Job{}, fmt.Errorf("job: %s is not assigned to this driver: %w", jobID, fault.ErrAuthorization)
		}
		expected, ok := NextDriverStatus(j.Status)
		if !ok || expected != next {
			return Job{}, fmt.Errorf("job: cannot move %s from %s to %s: %w", jobID, j.Status, next, fault.ErrStateConflict)
		}
		if err := s.requireNoLiveDispute(ctx, tx, j.ID); err != nil {
			return Job{}, err
		}
	case StatusCompleted:
		if actor.Role != auth.RoleAdmin {
			return Job{}, fmt.Errorf("job: completion is settled by the platform: %w", fault.ErrAuthorization)
		}
		if j.Status != StatusConfirmed {
			return Job{}, fmt.Errorf("job: cannot complete %s from %s: %w", jobID, j.Status, fault.ErrStateConflict)
		}
	default:
		return Job{}, fmt.Errorf("job: status %s is not reachable via advance: %w", next, fault.ErrValidation)
	}

	updated, err := s.repo.Advance(ctx, tx, jobID, j.Status, next)
	if err != nil {
		return Job{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicJobStatus, map[string]any{
		"job_id":   updated.ID,
		"previous": j.Status,
		"next":     updated.Status,
		"actor_id": actor.UserID,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit advance: %w", err)
	}

	return updated, nil
}

// ConfirmDelivery records the client's receipt confirmation and releases the
// escrowed funds to the driver as one atomic unit.
func (s *Service) ConfirmDelivery(ctx context.Context, actor auth.Actor, jobID string) (Job, escrow.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, escrow.Transaction{}, fmt.Errorf("job: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return Job{}, escrow.Transaction{}, err
	}
	if actor.Role != auth.RoleClient || j.ClientID != actor.UserID {
		return Job{}, escrow.Transaction{}, fmt.Errorf("job: only the owning client confirms delivery: %w", fault.ErrAuthorization)
	}
	if j.Status != StatusDelivered {
		return Job{}, escrow.Transaction{}, fmt.Errorf("job: %s is %s, not delivered: %w", jobID, j.Status, fault.ErrStateConflict)
	}
	if err := s.requireNoLiveDispute(ctx, tx, j.ID); err != nil {
		return Job{}, escrow.Transaction{}, err
	}

	updated, err := s.repo.Advance(ctx, tx, jobID, StatusDelivered, StatusConfirmed)
	if err != nil {
		return Job{}, escrow.Transaction{}, err
	}

	txn, _, err := s.escrow.Release(ctx, tx, jobID)
	if err != nil {
		return Job{}, escrow.Transaction{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, outbox.TopicJobConfirmed, map[string]any{
		"job_id":        updated.ID,
		"driver_payout": txn.DriverPayout,
	}); err != nil {
		return Job{}, escrow.Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, escrow.Transaction{}, fmt.Errorf("job: commit confirm: %w", err)
	}

	return updated, txn, nil
}

// requireNoLiveDispute holds progression while the job's outcome is
// contested. Resolution settles the escrow itself, so a frozen job thaws
// only when the dispute reaches resolved.
func (s *Service) requireNoLiveDispute(ctx context.Context, tx pgx.Tx, jobID string) error {
	live, err := s.disputes.HasLive(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if live {
		return fmt.Errorf("job: %s has a live dispute: %w", jobID, fault.ErrStateConflict)
	}
	return nil
}

// Get returns a single job.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.repo.Get(ctx, id)
}

// List returns jobs matching the filters.
func (s *Service) List(ctx context.Context, filters Filters) ([]Job, int, error) {
	return s.repo.List(ctx, filters)
}
