package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// TurnCommit is the durable outcome of one conversation turn: the new
// session state plus the quota events the turn consumed. Committing it in
// one transaction keeps the step and the usage counters consistent even
// when the process dies mid-turn.
type TurnCommit struct {
	Session      *Session
	QuotaBuckets []string
}

// TurnStore groups the repositories touched by a single turn.
type TurnStore struct {
	db       *sqlx.DB
	Sessions *SessionRepo
	Dedup    *DedupRepo
	Quota    *QuotaRepo
	Consents *ConsentRepo
}

// NewTurnStore wires the per-turn repositories over one database handle.
func NewTurnStore(db *sqlx.DB) *TurnStore {
	return &TurnStore{
		db:       db,
		Sessions: NewSessionRepo(db),
		Dedup:    NewDedupRepo(db),
		Quota:    NewQuotaRepo(db),
		Consents: NewConsentRepo(db),
	}
}

// Commit writes the session transition and the turn's quota events
// atomically. Either the whole turn lands or none of it does.
func (s *TurnStore) Commit(ctx context.Context, tc TurnCommit) error {
	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("turn begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if tc.Session != nil {
		if _, err := tx.ExecContext(ctx, upsertSessionQuery,
			tc.Session.Sender, tc.Session.Step, tc.Session.Fields, tc.Session.Language,
		); err != nil {
			return fmt.Errorf("turn session: %w", err)
		}
	}
	if len(tc.QuotaBuckets) > 0 {
		if err := s.Quota.Record(ctx, tx, tc.QuotaBuckets...); err != nil {
			return fmt.Errorf("turn quota: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("turn commit: %w", err)
	}

	if logger.ShouldSampleDebug() {
		attrs := []any{
			slog.String("event", "turn.commit"),
			slog.Int("count", len(tc.QuotaBuckets)),
			slog.Duration("duration", logger.Took(start)),
		}
		if tc.Session != nil {
			attrs = append(attrs,
				slog.String("sender", logger.MaskSender(tc.Session.Sender)),
				slog.String("step", tc.Session.Step),
			)
		}
		logger.DB.Debug("turn committed", attrs...)
	}
	return nil
}
