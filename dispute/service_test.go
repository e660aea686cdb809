package dispute

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

type fakeRepository struct {
	recs map[string]Record
	seq  int
}

func newFakeRepository() *fakeRepository { return &fakeRepository{recs: make(map[string]Record)} }

func (r *fakeRepository) Create(_ context.Context, _ pgx.Tx, rec Record) (Record, error) {
	for _, existing := range r.recs {
		if existing.JobID == rec.JobID && existing.Status != StatusResolved {
			return Record{}, ErrAlreadyOpen
		}
	}
	r.seq++
	rec.ID = fmt.Sprintf("dsp-%d", r.seq)
	rec.Status = StatusOpen
	r.recs[rec.ID] = rec
	return rec, nil
}

func (r *fakeRepository) Get(_ context.Context, id string) (Record, error) {
	rec, ok := r.recs[id]
	if !ok {
		return Record{}, fmt.Errorf("dispute: %s: %w", id, fault.ErrNotFound)
	}
	return rec, nil
}

func (r *fakeRepository) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (Record, error) {
	return r.Get(ctx, id)
}

func (r *fakeRepository) TakeUnderReview(_ context.Context, _ pgx.Tx, id string) (Record, error) {
	rec, ok := r.recs[id]
	if !ok || rec.Status != StatusOpen {
		return Record{}, fmt.Errorf("dispute: %s is not open: %w", id, fault.ErrStateConflict)
	}
	rec.Status = StatusUnderReview
	r.recs[id] = rec
	return rec, nil
}

func (r *fakeRepository) MarkResolved(_ context.Context, _ pgx.Tx, id string, resolution Resolution, adminNotes string) (Record, error) {
	rec, ok := r.recs[id]
	if !ok || rec.Status != StatusUnderReview {
		return Record{}, fmt.Errorf("dispute: %s is not under review: %w", id, fault.ErrStateConflict)
	}
	rec.Status = StatusResolved
	rec.Resolution = &resolution
	rec.AdminNotes = &adminNotes
	r.recs[id] = rec
	return rec, nil
}

func (r *fakeRepository) HasLive(_ context.Context, _ pgx.Tx, jobID string) (bool, error) {
	for _, rec := range r.recs {
		if rec.JobID == jobID && rec.Status != StatusResolved {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepository) ListForJob(_ context.Context, jobID string) ([]Record, error) {
	out := make([]Record, 0, len(r.recs))
	for _, rec := range r.recs {
		if rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRepository) List(_ context.Context, status Status) ([]Record, error) {
	out := make([]Record, 0, len(r.recs))
	for _, rec := range r.recs {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

// fakeSettler mimics the terminal idempotency of the escrow manager: the
// first settlement moves money, a repeat of the same terminal is a no-op,
// and the opposite terminal is a state-conflict.
type fakeSettler struct {
	txn      escrow.Transaction
	releases int
	refunds  int
}

func (f *fakeSettler) GetHeldForUpdate(context.Context, pgx.Tx, string) (escrow.Transaction, error) {
	if f.txn.PaymentStatus != escrow.StatusHeld {
		return escrow.Transaction{}, fmt.Errorf("escrow: transaction is %s, not held: %w", f.txn.PaymentStatus, fault.ErrStateConflict)
	}
	return f.txn, nil
}

func (f *fakeSettler) settle(target escrow.PaymentStatus) (escrow.Transaction, bool, error) {
	if f.txn.PaymentStatus == target {
		return f.txn, false, nil
	}
	if f.txn.PaymentStatus != escrow.StatusHeld {
		return escrow.Transaction{}, false, fmt.Errorf("escrow: transaction is %s: %w", f.txn.PaymentStatus, fault.ErrStateConflict)
	}
	f.txn.PaymentStatus = target
	return f.txn, true, nil
}

func (f *fakeSettler) Release(context.Context, pgx.Tx, string) (escrow.Transaction, bool, error) {
	f.releases++
	return f.settle(escrow.StatusPaid)
}

func (f *fakeSettler) Refund(context.Context, pgx.Tx, string) (escrow.Transaction, bool, error) {
	f.refunds++
	return f.settle(escrow.StatusRefunded)
}

type fakeOutbox struct{ topics []string }

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	return nil
}

func disputableJob() map[string]job.Job {
	driverID := "d1"
	return map[string]job.Job{
		"j1": {ID: "j1", ClientID: "c1", Status: job.StatusInTransit, AssignedDriverID: &driverID},
	}
}

func newTestService(jobs map[string]job.Job) (*Service, *fakePool, *fakeRepository, *fakeSettler, *fakeOutbox) {
	pool := &fakePool{}
	repo := newFakeRepository()
	esc := &fakeSettler{txn: escrow.Transaction{JobID: "j1", ClientID: "c1", DriverID: "d1",
		TotalAmount: 7000, CommissionAmount: 1050, DriverPayout: 5950, PaymentStatus: escrow.StatusHeld}}
	out := &fakeOutbox{}
	svc := NewService(pool, repo, &fakeJobs{jobs: jobs}, esc, out)
	return svc, pool, repo, esc, out
}

func TestService_Open(t *testing.T) {
	svc, pool, _, _, out := newTestService(disputableJob())
	ctx := context.Background()
	client := auth.Actor{UserID: "c1", Role: auth.RoleClient}

	rec, err := svc.Open(ctx, client, OpenParams{JobID: "j1", Reason: ReasonDamagedItem, Description: "box arrived crushed"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if rec.Status != StatusOpen {
		t.Fatalf("expected open, got %s", rec.Status)
	}
	if rec.OpenedByRole != "client" {
		t.Fatalf("expected opened_by_role client, got %s", rec.OpenedByRole)
	}
	if len(out.topics) != 1 || out.topics[0] != "dispute.opened" {
		t.Fatalf("expected dispute.opened notification, got %v", out.topics)
	}
	if !pool.last.committed {
		t.Fatal("expected transaction to commit")
	}

	// The assigned driver can also open one, but not while another is live.
	driver := auth.Actor{UserID: "d1", Role: auth.RoleDriver}
	if _, err := svc.Open(ctx, driver, OpenParams{JobID: "j1", Reason: ReasonPaymentIssue}); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected already-open error, got %v", err)
	}
}

func TestService_OpenGuards(t *testing.T) {
	jobs := disputableJob()
	jobs["j2"] = job.Job{ID: "j2", ClientID: "c1", Status: job.StatusAssigned}
	svc, _, _, esc, _ := newTestService(jobs)
	ctx := context.Background()
	client := auth.Actor{UserID: "c1", Role: auth.RoleClient}

	if _, err := svc.Open(ctx, client, OpenParams{JobID: "j1", Reason: "vibes"}); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error for unknown reason, got %v", err)
	}
	if _, err := svc.Open(ctx, auth.Actor{UserID: "a1", Role: auth.RoleAdmin}, OpenParams{JobID: "j1", Reason: ReasonOther}); !errors.Is(err, fault.ErrAuthorization) {
		t.Fatalf("expected authorization error for admin opener, got %v", err)
	}
	if _, err := svc.Open(ctx, auth.Actor{UserID: "c2", Role: auth.RoleClient}, OpenParams{JobID: "j1", Reason: ReasonOther}); !errors.Is(err, fault.ErrAuthorization) {
		t.Fatalf("expected authorization error for other client, got %v", err)
	}
	if _, err := svc.Open(ctx, auth.Actor{UserID: "d9", Role: auth.RoleDriver}, OpenParams{JobID: "j1", Reason: ReasonOther}); !errors.Is(err, fault.ErrAuthorization) {
		t.Fatalf("expected authorization error for unassigned driver, got %v", err)
	}
	if _, err := svc.Open(ctx, client, OpenParams{JobID: "j2", Reason: ReasonOther}); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict before pickup, got %v", err)
	}

	// Escrow already settled means there is nothing left to freeze.
	esc.txn.PaymentStatus = escrow.StatusPaid
	if _, err := svc.Open(ctx, client, OpenParams{JobID: "j1", Reason: ReasonOther}); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict on settled escrow, got %v", err)
	}
}

func TestService_TakeUnderReview(t *testing.T) {
	svc, _, _, _, _ := newTestService(disputableJob())
	ctx := context.Background()
	admin := auth.Actor{UserID: "a1", Role: auth.RoleAdmin}

	rec, err := svc.Open(ctx, auth.Actor{UserID: "c1", Role: auth.RoleClient}, OpenParams{JobID: "j1", Reason: ReasonLateDelivery})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := svc.TakeUnderReview(ctx, auth.Actor{UserID: "c1", Role: auth.RoleClient}, rec.ID); !errors.Is(err, fault.ErrAuthorization) {
		t.Fatalf("expected authorization error for client reviewer, got %v", err)
	}

	reviewed, err := svc.TakeUnderReview(ctx, admin, rec.ID)
	if err != nil {
		t.Fatalf("take under review: %v", err)
	}
	if reviewed.Status != StatusUnderReview {
		t.Fatalf("expected under_review, got %s", reviewed.Status)
	}

	if _, err := svc.TakeUnderReview(ctx, admin, rec.ID); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict on repeated review claim, got %v", err)
	}
}

func TestService_ResolveRefundsClient(t *testing.T) {
	svc, pool, _, esc, out := newTestService(disputableJob())
	ctx := context.Background()
	admin := auth.Actor{UserID: "a1", Role: auth.RoleAdmin}

	rec, _ := svc.Open(ctx, auth.Actor{UserID: "c1", Role: auth.RoleClient}, OpenParams{JobID: "j1", Reason: ReasonNonDelivery})
	if _, err := svc.TakeUnderReview(ctx, admin, rec.ID); err != nil {
		t.Fatalf("take under review: %v", err)
	}

	res, err := svc.Resolve(ctx, admin, rec.ID, ResolutionRefundClient, "driver never arrived")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Dispute.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", res.Dispute.Status)
	}
	if res.Dispute.Resolution == nil || *res.Dispute.Resolution != ResolutionRefundClient {
		t.Fatal("expected refund_client resolution recorded")
	}
	if res.Transaction.PaymentStatus != escrow.StatusRefunded {
		t.Fatalf("expected refunded transaction, got %s", res.Transaction.PaymentStatus)
	}
	if esc.refunds != 1 || esc.releases != 0 {
		t.Fatalf("expected one refund and no releases, got %d/%d", esc.refunds, esc.releases)
	}
	if out.topics[len(out.topics)-1] != "dispute.resolved" {
		t.Fatalf("expected dispute.resolved notification, got %v", out.topics)
	}
	if !pool.last.committed {
		t.Fatal("expected transaction to commit")
	}
}

func TestService_ResolveReleasesDriver(t *testing.T) {
	svc, _, _, esc, _ := newTestService(disputableJob())
	ctx := context.Background()
	admin := auth.Actor{UserID: "a1", Role: auth.RoleAdmin}

	rec, _ := svc.Open(ctx, auth.Actor{UserID: "d1", Role: auth.RoleDriver}, OpenParams{JobID: "j1", Reason: ReasonPaymentIssue})
	if _, err := svc.TakeUnderReview(ctx, admin, rec.ID); err != nil {
		t.Fatalf("take under review: %v", err)
	}

	res, err := svc.Resolve(ctx, admin, rec.ID, ResolutionReleaseDriver, "delivery proven")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Transaction.PaymentStatus != escrow.StatusPaid {
		t.Fatalf("expected paid transaction, got %s", res.Transaction.PaymentStatus)
	}
	if esc.releases != 1 || esc.refunds != 0 {
		t.Fatalf("expected one release and no refunds, got %d/%d", esc.releases, esc.refunds)
	}
}

func TestService_ResolveGuards(t *testing.T) {
	svc, pool, _, esc, _ := newTestService(disputableJob())
	ctx := context.Background()
	admin := auth.Actor{UserID: "a1", Role: auth.RoleAdmin}

	rec, _ := svc.Open(ctx, auth.Actor{UserID: "c1", Role: auth.RoleClient}, OpenParams{JobID: "j1", Reason: ReasonWrongItem})

	if _, err := svc.Resolve(ctx, auth.Actor{UserID: "c1", Role: auth.RoleClient}, rec.ID, ResolutionRefundClient, ""); !errors.Is(err, fault.ErrAuthorization) {
		t.Fatalf("expected authorization error for client resolver, got %v", err)
	}
	if _, err := svc.Resolve(ctx, admin, rec.ID, Resolution("split_difference"), ""); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error for unknown resolution, got %v", err)
	}

	// Resolution requires the dispute to have been taken under review first.
	if _, err := svc.Resolve(ctx, admin, rec.ID, ResolutionRefundClient, ""); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict resolving an open dispute, got %v", err)
	}
	if esc.refunds != 0 {
		t.Fatalf("rejected resolve must not settle, got %d refunds", esc.refunds)
	}

	if _, err := svc.TakeUnderReview(ctx, admin, rec.ID); err != nil {
		t.Fatalf("take under review: %v", err)
	}
	if _, err := svc.Resolve(ctx, admin, rec.ID, ResolutionRefundClient, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A second resolve finds a resolved dispute and moves no more money.
	if _, err := svc.Resolve(ctx, admin, rec.ID, ResolutionReleaseDriver, ""); !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict on repeated resolve, got %v", err)
	}
	if esc.refunds != 1 || esc.releases != 0 {
		t.Fatalf("expected one refund and no releases after repeated resolve, got %d/%d", esc.refunds, esc.releases)
	}
	if pool.last.committed {
		t.Fatal("repeated resolve must not commit")
	}
}
