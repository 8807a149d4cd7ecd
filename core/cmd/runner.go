package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/wabot/core/config"
	"github.com/m3rciful/wabot/core/logger"

	"log/slog"
)

// App is the minimal interface required to run the service: a blocking
// Start and a graceful Shutdown.
type App interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Options describe how to load configuration, bootstrap the app, and run it.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string
	ShutdownTimeout   time.Duration

	LoadConfig func(path string) (*coreconfig.Config, error)
	// Bootstrap builds the app. The returned cleanup runs after shutdown,
	// in reverse dependency order of what Bootstrap created.
	Bootstrap func(cfg *coreconfig.Config) (App, func(), error)

	ShutdownLogger func() error
}

// Run loads configuration, bootstraps the application, serves it until a
// termination signal arrives, and shuts everything down in order.
func Run(opts Options) error {
	if opts.LoadConfig == nil {
		return fmt.Errorf("cmd: LoadConfig is required")
	}
	if opts.Bootstrap == nil {
		return fmt.Errorf("cmd: Bootstrap is required")
	}

	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		return fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := opts.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	startedAt := time.Now()
	app, cleanup, err := opts.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.L.With("component", "app").Info("app ready",
			slog.String("event", "ready"),
			slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
		)
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("cmd: serve failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.L.With("component", "app").Info("shutting down...",
		slog.String("event", "shutdown"),
	)

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cmd: shutdown failed: %w", err)
	}
	return <-errCh
}
