package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// QuotaRepo stores timestamped usage events per bucket. Counting events
// newer than a window start yields the sliding-window usage for that bucket.
type QuotaRepo struct {
	db *sqlx.DB
}

// NewQuotaRepo creates a quota ledger repository.
func NewQuotaRepo(db *sqlx.DB) *QuotaRepo {
	return &QuotaRepo{db: db}
}

// Count returns the number of events in the bucket at or after since.
func (r *QuotaRepo) Count(ctx context.Context, bucket string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT count(*) FROM quota_events WHERE bucket = $1 AND ts >= $2`,
		bucket, since,
	)
	if err != nil {
		logger.DB.Error("quota count failed",
			slog.String("event", "quota.count"),
			slog.String("bucket", bucket),
			slog.String("err", err.Error()),
		)
		return 0, fmt.Errorf("quota count: %w", err)
	}
	return n, nil
}

// Record appends one event to each bucket within the given transaction so
// the usage either lands together with the rest of the turn or not at all.
func (r *QuotaRepo) Record(ctx context.Context, tx *sqlx.Tx, buckets ...string) error {
	for _, b := range buckets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quota_events (bucket, ts) VALUES ($1, now())`, b,
		); err != nil {
			return fmt.Errorf("quota record %s: %w", b, err)
		}
	}
	return nil
}

// EarliestExpiry returns when the oldest in-window event of the bucket
// leaves the window, i.e. the soonest moment the quota frees one slot.
// A bucket with no in-window events returns the zero time.
func (r *QuotaRepo) EarliestExpiry(ctx context.Context, bucket string, since time.Time, window time.Duration) (time.Time, error) {
	var oldest sql.NullTime
	err := r.db.GetContext(ctx, &oldest,
		`SELECT min(ts) FROM quota_events WHERE bucket = $1 AND ts >= $2`,
		bucket, since,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("quota earliest: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return oldest.Time.Add(window), nil
}

// Sweep deletes quota events older than maxAge and reports how many were removed.
func (r *QuotaRepo) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM quota_events WHERE ts < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("quota sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeSender removes every per-sender bucket for the given sender. Global
// buckets are untouched so aggregate throttling stays accurate.
func (r *QuotaRepo) PurgeSender(ctx context.Context, sender string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM quota_events WHERE bucket LIKE '%:user:' || $1`,
		sender,
	)
	if err != nil {
		return fmt.Errorf("quota purge sender: %w", err)
	}
	return nil
}
