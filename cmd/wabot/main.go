package main

import (
	"context"
	"log"
	"time"

	"github.com/m3rciful/wabot/core/bootstrap"
	"github.com/m3rciful/wabot/core/bot"
	corecmd "github.com/m3rciful/wabot/core/cmd"
	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/directory"
	"github.com/m3rciful/wabot/core/httpapi"
	"github.com/m3rciful/wabot/core/logger"
	"github.com/m3rciful/wabot/core/mailer"
	"github.com/m3rciful/wabot/core/purge"
	"github.com/m3rciful/wabot/core/ratelimit"
	"github.com/m3rciful/wabot/core/store"
	"github.com/m3rciful/wabot/core/whatsapp"
	"log/slog"
)

// Retention horizons for the periodic sweep.
const (
	quotaRetention   = 24 * time.Hour
	dedupRetention   = 7 * 24 * time.Hour
	sessionRetention = 30 * 24 * time.Hour
)

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yml",
		LoadConfig:        coreconfig.Load,
		Bootstrap:         buildApp,
	})
	if err != nil {
		log.Fatalf("wabot: %v", err)
	}
}

func buildApp(cfg *coreconfig.Config) (corecmd.App, func(), error) {
	res, err := bootstrap.Run(bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, nil, err
	}

	turnStore := store.NewTurnStore(res.DB)
	deletions := store.NewDeletionRepo(res.DB)

	limiter := ratelimit.New(turnStore.Quota, ratelimit.Limits{
		InboundPerSenderHour: cfg.Limits.InboundPerSenderHour,
		InboundGlobalHour:    cfg.Limits.InboundGlobalHour,
		SMSPerSenderDay:      cfg.Limits.SMSPerSenderDay,
		SMSGlobalDay:         cfg.Limits.SMSGlobalDay,
		EmailPerSenderDay:    cfg.Limits.EmailPerSenderDay,
		EmailGlobalDay:       cfg.Limits.EmailGlobalDay,
		CallbacksPerDay:      cfg.Limits.CallbacksPerDay,
	})

	client := whatsapp.NewClient(cfg.WhatsApp)
	dispatcher := whatsapp.NewDispatcher(whatsapp.Options{
		QueueSize:    cfg.Sender.QueueSize,
		Workers:      cfg.Sender.Workers,
		MaxRetries:   cfg.Sender.MaxRetries,
		RetryBackoff: cfg.Sender.RetryBackoff(),
	})

	dav := directory.NewClient(cfg.Directory)
	notifier := mailer.New(cfg.SMTP)
	purger := purge.New(turnStore.Sessions, turnStore.Consents, turnStore.Quota, deletions, dav)

	handler := bot.NewHandler(turnStore, limiter, client, dispatcher, dav, notifier, purger, cfg.Contact)
	server := httpapi.NewServer(cfg, handler, purger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runSweeper(sweepCtx, turnStore, cfg.Limits.SweepInterval())

	cleanup := func() {
		stopSweep()
		dispatcher.Close()
		_ = res.DB.Close()
	}
	return server, cleanup, nil
}

// runSweeper drops expired quota, dedup, and idle-session rows: once at
// startup and then on the configured interval. An interval of zero means
// startup-only.
func runSweeper(ctx context.Context, ts *store.TurnStore, interval time.Duration) {
	sweep := func() {
		quota, err := ts.Quota.Sweep(ctx, quotaRetention)
		if err != nil {
			logger.DB.Warn("quota sweep failed",
				slog.String("event", "sweep.quota"),
				slog.String("err", err.Error()),
			)
		}
		dedup, err := ts.Dedup.Sweep(ctx, dedupRetention)
		if err != nil {
			logger.DB.Warn("dedup sweep failed",
				slog.String("event", "sweep.dedup"),
				slog.String("err", err.Error()),
			)
		}
		sessions, err := ts.Sessions.Sweep(ctx, sessionRetention)
		if err != nil {
			logger.DB.Warn("session sweep failed",
				slog.String("event", "sweep.sessions"),
				slog.String("err", err.Error()),
			)
		}
		logger.DB.Debug("sweep done",
			slog.String("event", "sweep.done"),
			slog.Int64("quota_rows", quota),
			slog.Int64("dedup_rows", dedup),
			slog.Int64("session_rows", sessions),
		)
	}

	sweep()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
