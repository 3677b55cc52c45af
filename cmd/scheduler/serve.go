package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentfi/agentfi-bot-scheduler/internal/auth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the schedulers and the ops HTTP server",
	Long: `Connect to Postgres and Redis, start one scheduler per enabled action
plus the pool reward distributor, and serve /healthz, /metrics and the
/api/schedulers and /api/agents endpoints until SIGINT or SIGTERM. When
auth.jwt_secret is set, /api requires a bearer token from "botsched token".`,
	RunE: runServe,
}

var useMemoryStore bool

func init() {
	serveCmd.Flags().BoolVar(&useMemoryStore, "memory", false, "keep schedule state in process memory instead of Redis (single instance only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := newMetricsRegistry()
	eng, err := a.buildEngine(reg)
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      newRouter(eng, a.agents, reg, auth.NewService(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		slog.Error("engine shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return serveErr
}
