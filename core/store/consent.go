package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// ConsentRepo stores whether a sender has agreed to data processing.
// Absence of a row means the sender was never asked.
type ConsentRepo struct {
	db *sqlx.DB
}

// NewConsentRepo creates a consent ledger repository.
func NewConsentRepo(db *sqlx.DB) *ConsentRepo {
	return &ConsentRepo{db: db}
}

// Get reports whether a consent record exists and, if so, its value.
func (r *ConsentRepo) Get(ctx context.Context, sender string) (recorded bool, consented bool, err error) {
	var v bool
	err = r.db.GetContext(ctx, &v,
		`SELECT consented FROM consents WHERE sender = $1`, sender,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		logger.DB.Error("consent load failed",
			slog.String("event", "consent.get"),
			slog.String("sender", logger.MaskSender(sender)),
			slog.String("err", err.Error()),
		)
		return false, false, fmt.Errorf("consent get: %w", err)
	}
	return true, v, nil
}

// Set records the sender's consent decision, overwriting any earlier record.
func (r *ConsentRepo) Set(ctx context.Context, sender string, consented bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO consents (sender, consented, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (sender) DO UPDATE SET consented = EXCLUDED.consented, updated_at = now()`,
		sender, consented,
	)
	if err != nil {
		logger.DB.Error("consent set failed",
			slog.String("event", "consent.set"),
			slog.String("sender", logger.MaskSender(sender)),
			slog.Bool("consented", consented),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("consent set: %w", err)
	}
	return nil
}

// Delete erases the consent record entirely, as if the sender was never asked.
func (r *ConsentRepo) Delete(ctx context.Context, sender string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM consents WHERE sender = $1`, sender)
	if err != nil {
		return fmt.Errorf("consent delete: %w", err)
	}
	return nil
}
