package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// Deletion statuses surfaced on the status endpoint.
const (
	DeletionPending   = "pending"
	DeletionCompleted = "completed"
)

// Deletion is one audited data-deletion request.
type Deletion struct {
	ConfirmationCode string    `db:"confirmation_code"`
	SubjectID        string    `db:"subject_id"`
	RequestedAt      time.Time `db:"requested_at"`
	Status           string    `db:"status"`
}

// DeletionRepo audits platform-initiated data-deletion requests so their
// outcome can be reported back under a confirmation code.
type DeletionRepo struct {
	db *sqlx.DB
}

// NewDeletionRepo creates a deletion audit repository.
func NewDeletionRepo(db *sqlx.DB) *DeletionRepo {
	return &DeletionRepo{db: db}
}

// Create records a new deletion request and returns its confirmation code.
func (r *DeletionRepo) Create(ctx context.Context, subjectID string) (string, error) {
	code := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO data_deletions (confirmation_code, subject_id, requested_at, status)
		 VALUES ($1, $2, now(), $3)`,
		code, subjectID, DeletionPending,
	)
	if err != nil {
		logger.DB.Error("deletion create failed",
			slog.String("event", "deletion.create"),
			slog.String("subject", logger.SanitizeLimit(subjectID, 64)),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("deletion create: %w", err)
	}
	return code, nil
}

// MarkCompleted flips the request to completed.
func (r *DeletionRepo) MarkCompleted(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE data_deletions SET status = $1 WHERE confirmation_code = $2`,
		DeletionCompleted, code,
	)
	if err != nil {
		return fmt.Errorf("deletion complete: %w", err)
	}
	return nil
}

// Get loads a deletion request by confirmation code. Missing codes return nil.
func (r *DeletionRepo) Get(ctx context.Context, code string) (*Deletion, error) {
	var d Deletion
	err := r.db.GetContext(ctx, &d,
		`SELECT confirmation_code, subject_id, requested_at, status
		 FROM data_deletions WHERE confirmation_code = $1`,
		code,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deletion get: %w", err)
	}
	return &d, nil
}
