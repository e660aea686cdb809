// Package actors contains the concurrent workload for the stress harness.
// Each actor hammers the engine through its real service layer; contention
// outcomes (state conflicts, duplicate bids, lost races) are expected and
// swallowed, anything else aborts the run.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"swifthaul/auth"
	"swifthaul/bid"
	"swifthaul/cancel"
	"swifthaul/dispute"
	"swifthaul/fault"
	"swifthaul/job"
	"swifthaul/outbox"
)

// Services bundles the engine surface the actors drive.
type Services struct {
	Jobs     *job.Service
	Bids     *bid.Service
	Cancels  *cancel.Coordinator
	Disputes *dispute.Service
}

// tolerable reports whether an error is an expected contention or
// validation outcome rather than a harness failure.
func tolerable(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, fault.ErrValidation) ||
		errors.Is(err, fault.ErrAuthorization) ||
		errors.Is(err, fault.ErrStateConflict) ||
		errors.Is(err, fault.ErrFinancialIntegrity) ||
		errors.Is(err, fault.ErrNotFound) ||
		errors.Is(err, bid.ErrDuplicateBid) ||
		errors.Is(err, dispute.ErrAlreadyOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepJitter(baseMillis int) {
	time.Sleep(time.Duration(baseMillis+rand.Intn(baseMillis)) * time.Millisecond)
}

var addresses = []string{
	"12 Dockside Rd", "9 Mill Lane", "44 Foundry St", "7 Harbor Way", "301 Depot Ave",
}

// Client creates jobs, accepts bids, confirms deliveries, and occasionally
// cancels or disputes its own jobs.
func Client(ctx context.Context, svcs Services, actor auth.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var err error
		switch rand.Intn(10) {
		case 0, 1:
			min := int64(2000 + rand.Intn(5000))
			_, err = svcs.Jobs.Create(ctx, actor, job.CreateParams{
				PickupAddress:  addresses[rand.Intn(len(addresses))],
				DropoffAddress: addresses[rand.Intn(len(addresses))],
				BudgetMin:      min,
				BudgetMax:      min + int64(rand.Intn(5000)),
				Fare:           job.FareDetails{SizeTier: "medium", EstimatedFare: min},
			})
		case 2, 3, 4:
			err = acceptRandomBid(ctx, svcs, actor)
		case 5, 6:
			err = confirmRandomDelivery(ctx, svcs, actor)
		case 7:
			err = cancelRandomJob(ctx, svcs, actor)
		case 8:
			err = openRandomDispute(ctx, svcs, actor)
		default:
			_, _, err = svcs.Jobs.List(ctx, job.Filters{ClientID: actor.UserID})
		}
		if !tolerable(err) {
			return fmt.Errorf("client actor: %w", err)
		}
		sleepJitter(15)
	}
}

func acceptRandomBid(ctx context.Context, svcs Services, actor auth.Actor) error {
	jobs, _, err := svcs.Jobs.List(ctx, job.Filters{ClientID: actor.UserID, Status: job.StatusBidding})
	if err != nil || len(jobs) == 0 {
		return err
	}
	target := jobs[rand.Intn(len(jobs))]

	bids, err := svcs.Bids.ListForJob(ctx, target.ID)
	if err != nil {
		return err
	}
	live := bids[:0:0]
	for _, b := range bids {
		if b.Status.Live() {
			live = append(live, b)
		}
	}
	if len(live) == 0 {
		return nil
	}
	_, err = svcs.Bids.Accept(ctx, actor, target.ID, live[rand.Intn(len(live))].ID)
	return err
}

func confirmRandomDelivery(ctx context.Context, svcs Services, actor auth.Actor) error {
	jobs, _, err := svcs.Jobs.List(ctx, job.Filters{ClientID: actor.UserID, Status: job.StatusDelivered})
	if err != nil || len(jobs) == 0 {
		return err
	}
	_, _, err = svcs.Jobs.ConfirmDelivery(ctx, actor, jobs[rand.Intn(len(jobs))].ID)
	return err
}

func cancelRandomJob(ctx context.Context, svcs Services, actor auth.Actor) error {
	jobs, _, err := svcs.Jobs.List(ctx, job.Filters{ClientID: actor.UserID})
	if err != nil || len(jobs) == 0 {
		return err
	}
	_, err = svcs.Cancels.Cancel(ctx, actor, cancel.Params{
		JobID:  jobs[rand.Intn(len(jobs))].ID,
		Reason: "stress cancel",
	})
	return err
}

func openRandomDispute(ctx context.Context, svcs Services, actor auth.Actor) error {
	jobs, _, err := svcs.Jobs.List(ctx, job.Filters{ClientID: actor.UserID, Status: job.StatusInTransit})
	if err != nil || len(jobs) == 0 {
		return err
	}
	_, err = svcs.Disputes.Open(ctx, actor, dispute.OpenParams{
		JobID:       jobs[rand.Intn(len(jobs))].ID,
		Reason:      dispute.ReasonLateDelivery,
		Description: "stress dispute",
	})
	return err
}

// Driver bids on open work, occasionally withdraws, and reports progress on
// jobs assigned to it.
func Driver(ctx context.Context, svcs Services, actor auth.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var err error
		switch rand.Intn(6) {
		case 0, 1:
			err = bidOnRandomJob(ctx, svcs, actor)
		case 2:
			err = withdrawRandomBid(ctx, svcs, actor)
		default:
			err = progressAssignedJobs(ctx, svcs, actor)
		}
		if !tolerable(err) {
			return fmt.Errorf("driver actor: %w", err)
		}
		sleepJitter(15)
	}
}

func bidOnRandomJob(ctx context.Context, svcs Services, actor auth.Actor) error {
	status := job.StatusOpen
	if rand.Intn(2) == 0 {
		status = job.StatusBidding
	}
	jobs, _, err := svcs.Jobs.List(ctx, job.Filters{Status: status})
	if err != nil || len(jobs) == 0 {
		return err
	}
	target := jobs[rand.Intn(len(jobs))]
	amount := target.BudgetMin + rand.Int63n(target.BudgetMax-target.BudgetMin+1)
	_, err = svcs.Bids.Submit(ctx, actor, bid.SubmitParams{
		JobID:   target.ID,
		Amount:  amount,
		Message: "stress bid",
	})
	return err
}

func withdrawRandomBid(ctx context.Context, svcs Services, actor auth.Actor) error {
	bids, err := svcs.Bids.ListForDriver(ctx, actor.UserID)
	if err != nil {
		return err
	}
	for _, b := range bids {
		if b.Status.Live() && rand.Intn(4) == 0 {
			_, err = svcs.Bids.Withdraw(ctx, actor, b.ID)
			return err
		}
	}
	return nil
}

func progressAssignedJobs(ctx context.Context, svcs Services, actor auth.Actor) error {
	jobs, _, err := svcs.Jobs.List(ctx, job.Filters{DriverID: actor.UserID})
	if err != nil || len(jobs) == 0 {
		return err
	}
	target := jobs[rand.Intn(len(jobs))]
	next, ok := job.NextDriverStatus(target.Status)
	if !ok {
		return nil
	}
	_, err = svcs.Jobs.Advance(ctx, actor, target.ID, next)
	return err
}

// Admin finalizes confirmed jobs and works the dispute queue.
func Admin(ctx context.Context, svcs Services, actor auth.Actor, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var err error
		switch rand.Intn(3) {
		case 0:
			err = completeConfirmedJobs(ctx, svcs, actor)
		case 1:
			err = reviewOpenDisputes(ctx, svcs, actor)
		default:
			err = resolveReviewedDisputes(ctx, svcs, actor)
		}
		if !tolerable(err) {
			return fmt.Errorf("admin actor: %w", err)
		}
		sleepJitter(30)
	}
}

func completeConfirmedJobs(ctx context.Context, svcs Services, actor auth.Actor) error {
	jobs, _, err := svcs.Jobs.List(ctx, job.Filters{Status: job.StatusConfirmed})
	if err != nil || len(jobs) == 0 {
		return err
	}
	_, err = svcs.Jobs.Advance(ctx, actor, jobs[rand.Intn(len(jobs))].ID, job.StatusCompleted)
	return err
}

func reviewOpenDisputes(ctx context.Context, svcs Services, actor auth.Actor) error {
	recs, err := svcs.Disputes.List(ctx, dispute.StatusOpen)
	if err != nil || len(recs) == 0 {
		return err
	}
	_, err = svcs.Disputes.TakeUnderReview(ctx, actor, recs[rand.Intn(len(recs))].ID)
	return err
}

func resolveReviewedDisputes(ctx context.Context, svcs Services, actor auth.Actor) error {
	recs, err := svcs.Disputes.List(ctx, dispute.StatusUnderReview)
	if err != nil || len(recs) == 0 {
		return err
	}
	resolution := dispute.ResolutionReleaseDriver
	if rand.Intn(2) == 0 {
		resolution = dispute.ResolutionRefundClient
	}
	_, err = svcs.Disputes.Resolve(ctx, actor, recs[rand.Intn(len(recs))].ID, resolution, "stress resolution")
	return err
}

// OutboxWorker drains the outbox alongside the other actors so dispatch
// contention is part of the workload.
func OutboxWorker(ctx context.Context, dispatcher *outbox.Dispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := dispatcher.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			// Drain failures under chaos are expected; the staleness oracle
			// catches messages that never get delivered.
			sleepJitter(50)
			continue
		}
		sleepJitter(50)
	}
}
