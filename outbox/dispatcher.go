package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Sink receives dispatched messages. The production sink is the notification
// service; tests use in-memory sinks.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogSink logs every message instead of delivering it, used when no
// notification backend is configured.
type LogSink struct {
	Log *logrus.Logger
}

func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.Log.WithFields(logrus.Fields{
		"topic":   msg.Topic,
		"payload": string(msg.Payload),
	}).Info("outbox message")
	return nil
}

// Dispatcher polls pending outbox rows and hands them to the sink. Rows are
// claimed with SKIP LOCKED so multiple dispatchers can run side by side; a
// message that keeps failing is marked dead after the attempts budget.
type Dispatcher struct {
	pool        *pgxpool.Pool
	sink        Sink
	log         *logrus.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

func NewDispatcher(pool *pgxpool.Pool, sink Sink, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		pool:        pool,
		sink:        sink,
		log:         log,
		interval:    500 * time.Millisecond,
		batchSize:   20,
		maxAttempts: 5,
	}
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DrainOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.log.WithError(err).Warn("outbox drain failed")
			}
		}
	}
}

// DrainOnce claims and dispatches a single batch.
func (d *Dispatcher) DrainOnce(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
		SELECT id, topic, payload, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	rows, err := tx.Query(ctx, claimSQL, d.batchSize)
	if err != nil {
		return err
	}

	batch := make([]Message, 0, d.batchSize)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.Attempts, &msg.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, msg := range batch {
		if err := d.sink.Deliver(ctx, msg); err != nil {
			d.log.WithError(err).WithField("topic", msg.Topic).Warn("outbox delivery failed")
			status := "pending"
			if msg.Attempts+1 >= d.maxAttempts {
				status = "dead"
			}
			if _, err := tx.Exec(ctx,
				`UPDATE outbox SET attempts = attempts + 1, status = $2, last_attempt_at = now() WHERE id = $1`,
				msg.ID, status); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt_at = now() WHERE id = $1`,
			msg.ID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
