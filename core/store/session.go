package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/wabot/core/logger"
	"log/slog"
)

// Fields holds the per-conversation scratch data collected across turns.
// It is persisted as JSONB alongside the step.
type Fields map[string]string

// Value implements driver.Valuer for JSONB storage.
func (f Fields) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (f *Fields) Scan(src interface{}) error {
	if src == nil {
		*f = Fields{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported fields type %T", src)
	}
	if len(raw) == 0 {
		*f = Fields{}
		return nil
	}
	return json.Unmarshal(raw, f)
}

// Session is one sender's durable conversation state.
type Session struct {
	Sender    string    `db:"sender"`
	Step      string    `db:"step"`
	Fields    Fields    `db:"fields"`
	Language  string    `db:"language"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SessionRepo persists conversation sessions keyed by sender.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo creates a session repository over the given database.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Get loads the session for a sender. A missing row returns nil without error.
func (r *SessionRepo) Get(ctx context.Context, sender string) (*Session, error) {
	var s Session
	err := r.db.GetContext(ctx, &s,
		`SELECT sender, step, fields, language, updated_at FROM sessions WHERE sender = $1`,
		sender,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.DB.Error("session load failed",
			slog.String("event", "session.get"),
			slog.String("sender", logger.MaskSender(sender)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("session get: %w", err)
	}
	return &s, nil
}

// Upsert writes the session, replacing step, fields, and language atomically.
func (r *SessionRepo) Upsert(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx, upsertSessionQuery,
		s.Sender, s.Step, s.Fields, s.Language,
	)
	if err != nil {
		logger.DB.Error("session upsert failed",
			slog.String("event", "session.upsert"),
			slog.String("sender", logger.MaskSender(s.Sender)),
			slog.String("step", s.Step),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("session upsert: %w", err)
	}
	return nil
}

const upsertSessionQuery = `
INSERT INTO sessions (sender, step, fields, language, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (sender) DO UPDATE SET
	step = EXCLUDED.step,
	fields = EXCLUDED.fields,
	language = EXCLUDED.language,
	updated_at = now()`

// Delete removes the session for a sender. Missing rows are not an error.
func (r *SessionRepo) Delete(ctx context.Context, sender string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE sender = $1`, sender)
	if err != nil {
		logger.DB.Error("session delete failed",
			slog.String("event", "session.delete"),
			slog.String("sender", logger.MaskSender(sender)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}

// Sweep drops sessions idle for longer than maxAge and reports how many were removed.
func (r *SessionRepo) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("session sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
