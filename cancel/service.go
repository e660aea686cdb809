// Package cancel decides whether a cancellation needs a refund and drives
// the escrow manager accordingly. It is the only entry point for moving a
// job to cancelled.
package cancel

import (
	"context"
	"fmt"
	"strings"

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
	Cancel(ctx context.Context, tx pgx.Tx, id, cancelledBy string, reason *string) (job.Job, error)
}

type bidStore interface {
	RejectOthers(ctx context.Context, tx pgx.Tx, jobID, acceptedBidID string) (int64, error)
}

type refunder interface {
	Refund(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Transaction, bool, error)
}

// disputeChecker answers whether a job has a live dispute. A contested job
// cannot be cancelled until an admin resolves the dispute.
type disputeChecker interface {
	HasLive(ctx context.Context, tx pgx.Tx, jobID string) (bool, error)
}

// OutboxWriter enqueues best-effort notifications inside the caller's tx.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Coordinator struct {
	pool     TxBeginner
	jobs     jobStore
	bids     bidStore
	escrow   refunder
	disputes disputeChecker
	outbox   OutboxWriter
}

func NewCoordinator(pool TxBeginner, jobs jobStore, bids bidStore, esc refunder, disputes disputeChecker, outbox OutboxWriter) *Coordinator {
	return &Coordinator{
		pool:     pool,
		jobs:     jobs,
		bids:     bids,
		escrow:   esc,
		disputes: disputes,
		outbox:   outbox,
	}
}

// Params carries the cancellation request.
type Params struct {
	JobID  string
	Reason string
}

// Cancel cancels a job on behalf of its client or an admin. Jobs that have
// escrow are refunded first, in the same transaction; jobs already past
// confirmation cannot be cancelled at all.
func (c *Coordinator) Cancel(ctx context.Context, actor auth.Actor, params Params) (job.Job, error) {
	if params.JobID == "" {
		return job.Job{}, fmt.Errorf("cancel: missing job id: %w", fault.ErrValidation)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return job.Job{}, fmt.Errorf("cancel: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := c.jobs.GetForUpdate(ctx, tx, params.JobID)
	if err != nil {
		return job.Job{}, err
	}

	switch actor.Role {
	case auth.RoleAdmin:
		// admins may cancel any still-cancellable job
	case auth.RoleClient:
		if j.ClientID != actor.UserID {
			return job.Job{}, fmt.Errorf("cancel: job belongs to another client: %w", fault.ErrAuthorization)
		}
	default:
		return job.Job{}, fmt.Errorf("cancel: role %s cannot cancel jobs: %w", actor.Role, fault.ErrAuthorization)
	}

	if !j.Status.Cancellable() {
		return job.Job{}, fmt.Errorf("cancel: job %s is %s: %w", j.ID, j.Status, fault.ErrStateConflict)
	}

	payload := map[string]any{
		"job_id":       j.ID,
		"cancelled_by": string(actor.Role),
	}

	// Refund before flipping status. If the transaction has already been
	// settled by a racing request, the refund surfaces a state-conflict and
	// nothing here commits. Disputes exist only once escrow is held, so the
	// freeze check lives under the same branch.
	if j.Status.HasEscrow() {
		live, err := c.disputes.HasLive(ctx, tx, j.ID)
		if err != nil {
			return job.Job{}, err
		}
		if live {
			return job.Job{}, fmt.Errorf("cancel: job %s has a live dispute: %w", j.ID, fault.ErrStateConflict)
		}

		txn, moved, err := c.escrow.Refund(ctx, tx, j.ID)
		if err != nil {
			return job.Job{}, err
		}
		if !moved {
			// Already refunded means a concurrent cancel won; this request
			// must not silently succeed on top of it.
			return job.Job{}, fmt.Errorf("cancel: job %s escrow already settled: %w", j.ID, fault.ErrStateConflict)
		}
		payload["refund_amount"] = txn.TotalAmount
	}

	var reason *string
	if trimmed := strings.TrimSpace(params.Reason); trimmed != "" {
		reason = &trimmed
	}

	cancelled, err := c.jobs.Cancel(ctx, tx, j.ID, string(actor.Role), reason)
	if err != nil {
		return job.Job{}, err
	}

	// Close out any bids still waiting on this job.
	if _, err := c.bids.RejectOthers(ctx, tx, j.ID, ""); err != nil {
		return job.Job{}, err
	}

	if err := c.outbox.Enqueue(ctx, tx, outbox.TopicJobCancelled, payload); err != nil {
		return job.Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return job.Job{}, fmt.Errorf("cancel: commit: %w", err)
	}

	return cancelled, nil
}
