// Package outbox implements the transactional outbox used to notify the
// surrounding application of engine state changes. Enqueue shares the state
// change's transaction; delivery is best-effort and handled by Dispatcher.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Topics published by the engine.
const (
	TopicJobCreated      = "job.created"
	TopicJobStatus       = "job.status_changed"
	TopicJobConfirmed    = "job.confirmed"
	TopicJobCancelled    = "job.cancelled"
	TopicBidSubmitted    = "bid.submitted"
	TopicBidAccepted     = "bid.accepted"
	TopicDisputeOpened   = "dispute.opened"
	TopicDisputeReview   = "dispute.under_review"
	TopicDisputeResolved = "dispute.resolved"
)

// Message is one pending notification row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// Writer enqueues messages inside the caller's transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}

	return nil
}
