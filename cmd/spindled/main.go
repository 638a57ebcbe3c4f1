// Command spindled runs the sandbox manager as a long-lived daemon:
// it loads configuration, opens the credential store, and streams every
// sandbox event to the log until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spindle-dev/spindle/internal/config"
	"github.com/spindle-dev/spindle/internal/credentials"
	"github.com/spindle-dev/spindle/internal/events"
	"github.com/spindle-dev/spindle/internal/logging"
	"github.com/spindle-dev/spindle/internal/sandbox"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "spindled: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting spindled",
		zap.String("root", cfg.Storage.Root),
		zap.String("shell", cfg.Shell.Shell))

	store, err := credentials.New(cfg.Credentials.File, cfg.Credentials.Key, logger)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	if cfg.Credentials.InsecureDefaultKey() {
		logger.Warn("credential store is using the built-in default key; set SPINDLE_CREDENTIALS_KEY")
	}

	manager := sandbox.NewManager(cfg, store, logger)

	ch, cancel := manager.Events().Subscribe()
	defer cancel()
	go logEvents(logger, ch)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", zap.String("signal", sig.String()))
	manager.Close()
	return nil
}

// logEvents drains the manager's event stream into the log. The channel
// closes when the manager does.
func logEvents(logger *logging.Logger, ch <-chan events.Event) {
	for evt := range ch {
		logger.Info("event",
			zap.String("type", string(evt.Type)),
			zap.String("sandbox_id", evt.SandboxID),
			zap.String("session_id", evt.SessionID),
			zap.Time("time", evt.Time))
	}
}
