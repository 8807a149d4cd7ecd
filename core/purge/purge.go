package purge

import (
	"context"
	"fmt"

	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/store"
	"log/slog"
)

// Directory is the slice of the addressbook client the purge needs.
type Directory interface {
	Delete(ctx context.Context, phone string) error
}

// Orchestrator removes one sender's personal data across every ledger.
// All operations tolerate absent rows, so purging an already-purged
// sender is a no-op rather than an error.
type Orchestrator struct {
	sessions  *store.SessionRepo
	consents  *store.ConsentRepo
	quota     *store.QuotaRepo
	deletions *store.DeletionRepo
	directory Directory
}

// New wires the purge orchestrator.
func New(sessions *store.SessionRepo, consents *store.ConsentRepo, quota *store.QuotaRepo, deletions *store.DeletionRepo, directory Directory) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		consents:  consents,
		quota:     quota,
		deletions: deletions,
		directory: directory,
	}
}

// Purge erases the consent record, the sender's quota entries, and the
// session, and requests removal of the directory entry. After it returns
// the system treats the sender as never seen. The directory call is best
// effort: its failure is logged but does not fail the purge, since the
// local ledgers are already clean and a retry would start from scratch
// anyway.
func (o *Orchestrator) Purge(ctx context.Context, sender string) error {
	if err := o.consents.Delete(ctx, sender); err != nil {
		return fmt.Errorf("purge consent: %w", err)
	}
	if err := o.quota.PurgeSender(ctx, sender); err != nil {
		return fmt.Errorf("purge quota: %w", err)
	}
	if err := o.sessions.Delete(ctx, sender); err != nil {
		return fmt.Errorf("purge session: %w", err)
	}

	if err := o.directory.Delete(ctx, sender); err != nil {
		logger.PURGE.Warn("directory delete failed",
			slog.String("event", "purge.directory"),
			slog.String("sender", logger.MaskSender(sender)),
			slog.String("err", err.Error()),
		)
	}

	logger.PURGE.Info("sender purged",
		slog.String("event", "purge.done"),
		slog.String("sender", logger.MaskSender(sender)),
	)
	return nil
}

// PurgeByExternalID handles a platform deletion callback. The external
// identifier may not equal the internal sender address, so the mapping
// is best effort: when a session exists under that identifier it is
// purged, otherwise the request is acknowledged as a no-op. An audit
// record with a confirmation code is created either way, because the
// caller expects a code to report back.
func (o *Orchestrator) PurgeByExternalID(ctx context.Context, externalID string) (string, error) {
	code, err := o.deletions.Create(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("purge audit: %w", err)
	}

	matched, err := o.hasLocalRecord(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("purge lookup: %w", err)
	}
	if matched {
		if err := o.Purge(ctx, externalID); err != nil {
			return "", err
		}
	} else {
		logger.PURGE.Info("no local record",
			slog.String("event", "purge.external"),
			slog.String("subject", logger.MaskSender(externalID)),
			slog.String("outcome", "noop"),
		)
	}

	if err := o.deletions.MarkCompleted(ctx, code); err != nil {
		return "", fmt.Errorf("purge complete: %w", err)
	}
	return code, nil
}

func (o *Orchestrator) hasLocalRecord(ctx context.Context, id string) (bool, error) {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if sess != nil {
		return true, nil
	}
	recorded, _, err := o.consents.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// Status returns the audit record for a confirmation code, or nil when
// the code is unknown.
func (o *Orchestrator) Status(ctx context.Context, code string) (*store.Deletion, error) {
	return o.deletions.Get(ctx, code)
}
