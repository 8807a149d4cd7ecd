package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// DedupRepo records processed webhook event IDs so redeliveries are dropped.
type DedupRepo struct {
	db *sqlx.DB
}

// NewDedupRepo creates an event deduplication repository.
func NewDedupRepo(db *sqlx.DB) *DedupRepo {
	return &DedupRepo{db: db}
}

// MarkIfNew atomically records the event ID. It returns true when the event
// was unseen and is now claimed by this call, false when a previous delivery
// already claimed it. Concurrent duplicate deliveries race on the primary
// key insert, so exactly one caller wins.
func (r *DedupRepo) MarkIfNew(ctx context.Context, eventID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, received_at)
		 VALUES ($1, now())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		logger.DB.Error("dedup insert failed",
			slog.String("event", "dedup.mark"),
			slog.String("event_id", logger.SanitizeLimit(eventID, 64)),
			slog.String("err", err.Error()),
		)
		return false, fmt.Errorf("dedup mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows: %w", err)
	}
	return n == 1, nil
}

// Sweep deletes dedup entries older than maxAge and reports how many were removed.
func (r *DedupRepo) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE received_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("dedup sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
