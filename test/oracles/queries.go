// Package oracles holds the cross-table invariants checked while the stress
// actors run. Every query returns rows only when an invariant is broken.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_accepted_bid_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM bids
                  WHERE status = 'accepted'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_one_transaction_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM transactions
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_settlement_exclusive",
			SQL: `SELECT id, payment_status, released_at, refunded_at FROM transactions
                  WHERE (released_at IS NOT NULL AND refunded_at IS NOT NULL)
                     OR (payment_status = 'paid' AND released_at IS NULL)
                     OR (payment_status = 'refunded' AND refunded_at IS NULL)
                     OR (payment_status = 'held' AND (released_at IS NOT NULL OR refunded_at IS NOT NULL))`,
		},
		{
			Name: "O4_payout_arithmetic",
			SQL: `SELECT id FROM transactions
                  WHERE driver_payout + commission_amount <> total_amount
                     OR total_amount <= 0 OR commission_amount < 0 OR driver_payout < 0`,
		},
		{
			Name: "O5_assignment_escrow_pairing",
			SQL: `SELECT j.id, j.status FROM jobs j
                  LEFT JOIN transactions t ON t.job_id = j.id
                  WHERE j.status IN ('assigned','pickup_confirmed','in_transit','delivered','confirmed','completed')
                    AND (t.id IS NULL OR j.assigned_driver_id IS NULL OR t.driver_id <> j.assigned_driver_id)`,
		},
		{
			Name: "O6_accepted_bid_matches_assignment",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.assigned_driver_id IS NOT NULL
                    AND NOT EXISTS (
                        SELECT 1 FROM bids b
                        WHERE b.job_id = j.id AND b.status = 'accepted'
                          AND b.driver_id = j.assigned_driver_id)`,
		},
		{
			Name: "O7_terminal_job_settlement",
			SQL: `SELECT j.id, j.status, t.payment_status FROM jobs j
                  JOIN transactions t ON t.job_id = j.id
                  WHERE (j.status IN ('confirmed','completed') AND t.payment_status <> 'paid')
                     OR (j.status = 'cancelled' AND t.payment_status <> 'refunded')`,
		},
		{
			Name: "O8_wallet_matches_settlements",
			SQL: `SELECT 'wallet_drift' AS detail
                  WHERE (SELECT COALESCE(SUM(balance), 0) FROM wallet_accounts)
                     <> (SELECT COALESCE(SUM(CASE payment_status
                                WHEN 'paid' THEN driver_payout
                                WHEN 'refunded' THEN total_amount
                                ELSE 0 END), 0)
                         FROM transactions)`,
		},
		{
			Name: "O9_no_negative_balances",
			SQL:  `SELECT user_id, balance FROM wallet_accounts WHERE balance < 0`,
		},
		{
			Name: "O10_resolved_dispute_settled",
			SQL: `SELECT d.id, d.resolution, t.payment_status FROM disputes d
                  JOIN transactions t ON t.job_id = d.job_id
                  WHERE d.status = 'resolved'
                    AND ((d.resolution = 'refund_client' AND t.payment_status <> 'refunded')
                      OR (d.resolution = 'release_driver' AND t.payment_status <> 'paid'))`,
		},
		{
			Name: "O11_one_live_dispute_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM disputes
                  WHERE status <> 'resolved'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O12_live_dispute_freezes_escrow",
			SQL: `SELECT d.id, d.status, t.payment_status FROM disputes d
                  JOIN transactions t ON t.job_id = d.job_id
                  WHERE d.status <> 'resolved' AND t.payment_status <> 'held'`,
		},
		{
			Name: "O13_outbox_not_stale",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and a sample
// row) or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
