package main

import (
	"context"
	"errors"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lifelog/internal/http"
	"lifelog/internal/lifecycle"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long: `Run the API server. On start the legacy data is migrated once, change
polling begins and lifecycle events are broadcast to connected clients.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopServices := a.start(ctx)

	// Request contexts derive from baseCtx so open event streams end on shutdown.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &nethttp.Server{
		Addr: ":" + cfg.APIPort,
		Handler: http.NewRouter(&http.Deps{
			Store:    a.store,
			Bus:      a.bus,
			Observer: a.observer,
			Posts:    a.posts,
			Habits:   a.habits,
			Settings: a.settings,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting API server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case runErr = <-serveErr:
		a.logger.Error("API server failed", "error", runErr)
	}

	// Shutdown events go out on a fresh context; ctx is already cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopServices(shutdownCtx)
	cancelBase()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", "error", err)
	}
	a.bus.Emit(shutdownCtx, lifecycle.ShutdownComplete, nil)
	a.logger.Info("Server stopped")
	return runErr
}

// start runs the init sequence: INIT_START, the legacy migration, polling
// and the optional file watch, then INIT_COMPLETE (or INIT_ERROR) and
// SESSION_START. A failed migration is reported with INIT_ERROR but does not
// stop the server; it is retried on the next start. The returned function
// ends the session and stops background work.
func (a *app) start(ctx context.Context) func(context.Context) {
	started := time.Now()
	a.bus.Emit(ctx, lifecycle.InitStart, nil)

	initErr := func(stage string, err error) {
		a.logger.ErrorContext(ctx, "Initialization step failed", "stage", stage, "error", err)
		a.bus.Emit(ctx, lifecycle.InitError, map[string]any{"stage": stage, "error": err.Error()})
	}

	failed := false
	report, err := a.migrate(ctx)
	if err != nil {
		initErr("migration", err)
		failed = true
	} else if !report.AlreadyMigrated {
		a.logger.InfoContext(ctx, "Legacy migration finished", "copied", report.Copied, "skipped", report.Skipped)
	}

	stopPolling := a.observer.StartPolling(ctx, a.cfg.PollInterval)

	stopWatch := func() {}
	if a.cfg.WatchDB {
		stop, err := a.observer.WatchFile(ctx, a.cfg.DBPath)
		if err != nil {
			initErr("watch", err)
			failed = true
		} else {
			stopWatch = stop
		}
	}

	if !failed {
		a.bus.Emit(ctx, lifecycle.InitComplete, map[string]any{
			"durationMs": time.Since(started).Milliseconds(),
		})
	}

	sessionID := uuid.NewString()
	a.bus.Emit(ctx, lifecycle.SessionStart, map[string]any{"sessionId": sessionID})

	return func(ctx context.Context) {
		a.bus.Emit(ctx, lifecycle.SessionEnd, map[string]any{"sessionId": sessionID})
		a.bus.Emit(ctx, lifecycle.ShutdownStart, nil)
		stopWatch()
		stopPolling()
	}
}
