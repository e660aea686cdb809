package cancel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"swifthaul/auth"
	"swifthaul/escrow"
	"swifthaul/fault"
	"swifthaul/job"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	committed bool
	rolled    bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolled = true; return nil }

type fakePool struct{ last *fakeTx }

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	p.last = &fakeTx{}
	return p.last, nil
}

type fakeJobs struct {
	jobs map[string]job.Job
}

func (f *fakeJobs) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (job.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("job: %s: %w", id, fault.ErrNotFound)
	}
	return j, nil
}

func (f *fakeJobs) Cancel(_ context.Context, _ pgx.Tx, id, cancelledBy string, reason *string) (job.Job, error) {
	j, ok := f.jobs[id]
	if !ok || !j.Status.Cancellable() {
		return job.Job{}, fmt.Errorf("job: %s cannot be cancelled: %w", id, fault.ErrStateConflict)
	}
	j.Status = job.StatusCancelled
	j.CancelledBy = &cancelledBy
	j.CancelReason = reason
	f.jobs[id] = j
	return j, nil
}

type fakeBids struct{ rejected int }

func (f *fakeBids) RejectOthers(context.Context, pgx.Tx, string, string) (int64, error) {
	f.rejected++
	return 2, nil
}

type fakeRefunder struct {
	calls   int
	settled bool
	txn     escrow.Transaction
}

func (f *fakeRefunder) Refund(context.Context, pgx.Tx, string) (escrow.Transaction, bool, error) {
	f.calls++
	if f.settled {
		return f.txn, false, nil
	}
	f.settled = true
	return f.txn, true, nil
}

type fakeDisputes struct{ live bool }

func (f *fakeDisputes) HasLive(context.Context, pgx.Tx, string) (bool, error) {
	return f.live, nil
}

type fakeOutbox struct{ topics []string }

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

func newCoordinator(jobs map[string]job.Job) (*Coordinator, *fakePool, *fakeJobs, *fakeBids, *fakeRefunder, *fakeDisputes, *fakeOutbox) {
	pool := &fakePool{}
	js := &fakeJobs{jobs: jobs}
	bids := &fakeBids{}
	ref := &fakeRefunder{txn: escrow.Transaction{TotalAmount: 7000, PaymentStatus: escrow.StatusHeld}}
	disputes := &fakeDisputes{}
	out := &fakeOutbox{}
	return NewCoordinator(pool, js, bids, ref, disputes, out), pool, js, bids, ref, disputes, out
}

func TestCoordinator_CancelOpenJobSkipsEscrow(t *testing.T) {
	jobs := map[string]job.Job{"j1": {ID: "j1", ClientID: "c1", Status: job.StatusBidding}}
	coord, pool, js, bids, ref, _, out := newCoordinator(jobs)
	ctx := context.Background()
	client := auth.Actor{UserID: "c1", Role: auth.RoleClient}

	cancelled, err := coord.Cancel(ctx, client, Params{JobID: "j1", Reason: "plans changed"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != "client" {
		t.Fatal("expected cancelled_by client")
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "plans changed" {
		t.Fatal("expected cancel reason recorded")
	}
	if ref.calls != 0 {
		t.Fatalf("no escrow exists before assignment, refund called %d times", ref.calls)
	}
	if bids.rejected != 1 {
		t.Fatal("expected outstanding bids to be closed out")
	}
	if js.jobs["j1"].Status != job.StatusCancelled {
		t.Fatal("expected stored job to be cancelled")
	}
	if len(out.topics) != 1 || out.topics[0] != "job.cancelled" {
		t.Fatalf("expected job.cancelled notification, got %v", out.topics)
	}
	if !pool.last.committed {
		t.Fatal("expected transaction to commit")
	}
}

func TestCoordinator_CancelAssignedJobRefundsOnce(t *testing.T) {
	driverID := "d1"
	jobs := map[string]job.Job{"j1": {ID: "j1", ClientID: "c1", Status: job.StatusInTransit, AssignedDriverID: &driverID}}
	coord, pool, js, _, ref, _, _ := newCoordinator(jobs)
	ctx := context.Background()
	client := auth.Actor{UserID: "c1", Role: auth.RoleClient}

	cancelled, err := coord.Cancel(ctx, client, Params{JobID: "j1"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if ref.calls != 1 {
		t.Fatalf("expected exactly one refund, got %d", ref.calls)
	}
	if !pool.last.committed {
		t.Fatal("expected transaction to commit")
	}

	// The job is now terminal; a second cancel conflicts before any escrow work.
	if _, err := coord.Cancel(ctx, client, Params{JobID: "j1"}); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict on repeated cancel, got %v", err)
	}
	if ref.calls != 1 {
		t.Fatalf("repeated cancel must not refund again, got %d calls", ref.calls)
	}
	if js.jobs["j1"].Status != job.StatusCancelled {
		t.Fatal("expected job to stay cancelled")
	}
}

func TestCoordinator_CancelConflictsWhenEscrowSettled(t *testing.T) {
	driverID := "d1"
	jobs := map[string]job.Job{"j1": {ID: "j1", ClientID: "c1", Status: job.StatusDelivered, AssignedDriverID: &driverID}}
	coord, pool, js, _, ref, _, _ := newCoordinator(jobs)
	ref.settled = true
	ctx := context.Background()

	if _, err := coord.Cancel(ctx, auth.Actor{UserID: "c1", Role: auth.RoleClient}, Params{JobID: "j1"}); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict when escrow already settled, got %v", err)
	}
	if js.jobs["j1"].Status != job.StatusDelivered {
		t.Fatal("job must not be cancelled when the refund is refused")
	}
	if pool.last.committed {
		t.Fatal("refused cancel must not commit")
	}
}

func TestCoordinator_CancelAuthorization(t *testing.T) {
	jobs := map[string]job.Job{"j1": {ID: "j1", ClientID: "c1", Status: job.StatusOpen}}
	coord, _, _, _, _, _, _ := newCoordinator(jobs)
	ctx := context.Background()

	if _, err := coord.Cancel(ctx, auth.Actor{UserID: "c2", Role: auth.RoleClient}, Params{JobID: "j1"}); !errors.Is(err, fault.ErrAuthorization) {
		t.Fatalf("expected authorization error for other client, got %v", err)
	}
	if _, err := coord.Cancel(ctx, auth.Actor{UserID: "d1", Role: auth.RoleDriver}, Params{JobID: "j1"}); !errors.Is(err, fault.ErrAuthorization) {
		t.Fatalf("expected authorization error for driver, got %v", err)
	}

	// Admins cancel on behalf of the platform.
	cancelled, err := coord.Cancel(ctx, auth.Actor{UserID: "a1", Role: auth.RoleAdmin}, Params{JobID: "j1"})
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if cancelled.CancelledBy == nil || *cancelled.CancelledBy != "admin" {
		t.Fatal("expected cancelled_by admin")
	}
}

func TestCoordinator_CancelTerminalJobConflicts(t *testing.T) {
	for _, status := range []job.Status{job.StatusConfirmed, job.StatusCompleted, job.StatusCancelled} {
		jobs := map[string]job.Job{"j1": {ID: "j1", ClientID: "c1", Status: status}}
		coord, _, _, _, ref, _, _ := newCoordinator(jobs)

		if _, err := coord.Cancel(context.Background(), auth.Actor{UserID: "a1", Role: auth.RoleAdmin}, Params{JobID: "j1"}); !errors.Is(err, fault.ErrStateConflict) {
			t.Fatalf("%s: expected state conflict, got %v", status, err)
		}
		if ref.calls != 0 {
			t.Fatalf("%s: refund must not run, got %d calls", status, ref.calls)
		}
	}
}

func TestCoordinator_CancelFrozenByLiveDispute(t *testing.T) {
	driverID := "d1"
	jobs := map[string]job.Job{"j1": {ID: "j1", ClientID: "c1", Status: job.StatusDelivered, AssignedDriverID: &driverID}}
	coord, pool, js, _, ref, disputes, _ := newCoordinator(jobs)
	disputes.live = true
	ctx := context.Background()
	client := auth.Actor{UserID: "c1", Role: auth.RoleClient}

	if _, err := coord.Cancel(ctx, client, Params{JobID: "j1"}); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict while disputed, got %v", err)
	}
	if ref.calls != 0 {
		t.Fatalf("contested escrow must not be refunded, got %d calls", ref.calls)
	}
	if js.jobs["j1"].Status != job.StatusDelivered {
		t.Fatal("disputed job must not be cancelled")
	}
	if pool.last.committed {
		t.Fatal("frozen cancel must not commit")
	}

	// Resolution lifts the freeze.
	disputes.live = false
	cancelled, err := coord.Cancel(ctx, client, Params{JobID: "j1"})
	if err != nil {
		t.Fatalf("cancel after resolution: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if ref.calls != 1 {
		t.Fatalf("expected exactly one refund, got %d", ref.calls)
	}
}
