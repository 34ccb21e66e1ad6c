package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/sweet-shop/pkg/outbox"
	"github.com/dmehra2102/sweet-shop/pkg/pgstore"
)

// MaxRetries bounds how often a failed event is handed back to the relay.
const MaxRetries = 5

type OutboxStore struct {
	log *slog.Logger
	db  *pgstore.DB
}

func NewOutboxStore(log *slog.Logger, db *pgstore.DB) *OutboxStore {
	return &OutboxStore{log: log, db: db}
}

// LockBatch claims pending events, failed events with retries left, and
// in-progress events whose lease has run out. SKIP LOCKED lets several relays
// poll the same table.
func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var events []outbox.Event
	err := s.db.ExecTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
			FROM outbox
			WHERE status = 'pending'
			   OR (status = 'failed' AND retry_count < $2)
			   OR (status = 'in_progress' AND lease_until < now())
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		`, batchSize, MaxRetries)
		if err != nil {
			return err
		}
		events, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
			var ev outbox.Event
			err := row.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload,
				&ev.Headers, &ev.Traceparent, &ev.CreatedAt, &ev.RetryCount)
			ev.Status = outbox.StatusInProgress
			ev.RelayID = relayID
			return ev, err
		})
		if err != nil || len(events) == 0 {
			return err
		}

		ids := make([]int64, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		_, err = tx.Exec(ctx, `UPDATE outbox SET status = 'in_progress', relay_id = $1,
			lease_until = now() + make_interval(secs => $2) WHERE id = ANY($3)`,
			relayID, lease.Seconds(), ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	ctx, cancel := s.db.Bound(ctx)
	defer cancel()

	ct, err := s.db.Pool.Exec(ctx, `UPDATE outbox SET status = 'sent', lease_until = NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return pgstore.Classify(err)
	}
	if n := ct.RowsAffected(); int(n) != len(ids) {
		s.log.Warn("outbox mark sent updated fewer rows", "want", len(ids), "got", n)
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	ctx, cancel := s.db.Bound(ctx)
	defer cancel()

	_, err := s.db.Pool.Exec(ctx, `UPDATE outbox SET status = 'failed', last_error = $2,
		retry_count = retry_count + 1, lease_until = NULL WHERE id = $1`, id, errMsg)
	return pgstore.Classify(err)
}
