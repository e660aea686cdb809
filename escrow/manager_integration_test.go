package escrow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"swifthaul/fault"
	"swifthaul/wallet"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestSettlement_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the hold/release lifecycle end to end, including the
// exactly-once wallet credit and the terminal conflict rules.
func TestSettlement_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "jobs", "transactions", "wallet_accounts", "wallet_entries"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply the migrations first", table)
		}
	}

	var clientID, driverID, jobID string
	suffix := time.Now().UnixNano()

	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Cleo Client', 'x', 'client') RETURNING id`,
		fmt.Sprintf("cleo+%d@example.com", suffix)).Scan(&clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Dana Driver', 'x', 'driver') RETURNING id`,
		fmt.Sprintf("dana+%d@example.com", suffix)).Scan(&driverID); err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO jobs (job_number, client_id, assigned_driver_id, status, pickup_address, dropoff_address, budget_min, budget_max, final_amount)
		VALUES ($1, $2, $3, 'delivered', '12 Dockside Rd', '9 Mill Lane', 5000, 10000, 7000)
		RETURNING id
	`, fmt.Sprintf("JOB-ITEST%d", suffix%100000000), clientID, driverID).Scan(&jobID); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM wallet_entries WHERE user_id IN ($1, $2)`, clientID, driverID)
		pool.Exec(ctx2, `DELETE FROM wallet_accounts WHERE user_id IN ($1, $2)`, clientID, driverID)
		pool.Exec(ctx2, `DELETE FROM transactions WHERE job_id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM jobs WHERE id = $1`, jobID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, clientID, driverID)
	})

	manager := NewManager(pool, wallet.NewLedger(), FlatRate(15))

	// Hold.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	held, err := manager.Hold(ctx, tx, HoldParams{JobID: jobID, ClientID: clientID, DriverID: driverID, Amount: 7000})
	if err != nil {
		tx.Rollback(ctx)
		t.Fatalf("hold: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit hold: %v", err)
	}
	if held.PaymentStatus != StatusHeld || held.CommissionAmount != 1050 || held.DriverPayout != 5950 {
		t.Fatalf("unexpected held transaction: %+v", held)
	}

	// A second hold violates the one-transaction-per-job rule.
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = manager.Hold(ctx, tx, HoldParams{JobID: jobID, ClientID: clientID, DriverID: driverID, Amount: 7000})
	tx.Rollback(ctx)
	if !errors.Is(err, fault.ErrFinancialIntegrity) {
		t.Fatalf("expected financial-integrity error on second hold, got %v", err)
	}

	// Release settles once and credits the driver.
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	released, moved, err := manager.Release(ctx, tx, jobID)
	if err != nil {
		tx.Rollback(ctx)
		t.Fatalf("release: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit release: %v", err)
	}
	if !moved || released.PaymentStatus != StatusPaid || released.ReleasedAt == nil {
		t.Fatalf("unexpected release result: moved=%v txn=%+v", moved, released)
	}
	if balance := driverBalance(ctx, t, pool, driverID); balance != 5950 {
		t.Fatalf("expected driver balance 5950, got %d", balance)
	}

	// Releasing again is a no-op with no second credit.
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	again, moved, err := manager.Release(ctx, tx, jobID)
	if err != nil {
		tx.Rollback(ctx)
		t.Fatalf("repeat release: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit repeat release: %v", err)
	}
	if moved || again.PaymentStatus != StatusPaid {
		t.Fatalf("expected idempotent no-op, got moved=%v txn=%+v", moved, again)
	}
	if balance := driverBalance(ctx, t, pool, driverID); balance != 5950 {
		t.Fatalf("expected driver balance to stay 5950, got %d", balance)
	}

	// Refunding released funds is a terminal conflict.
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, _, err = manager.Refund(ctx, tx, jobID)
	tx.Rollback(ctx)
	if !errors.Is(err, fault.ErrStateConflict) {
		t.Fatalf("expected state conflict refunding paid funds, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

func driverBalance(ctx context.Context, t *testing.T, pool *pgxpool.Pool, userID string) int64 {
	t.Helper()
	var balance int64
	err := pool.QueryRow(ctx, `SELECT COALESCE((SELECT balance FROM wallet_accounts WHERE user_id = $1), 0)`, userID).Scan(&balance)
	if err != nil {
		t.Fatalf("query balance: %v", err)
	}
	return balance
}
