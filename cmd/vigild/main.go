// Command vigild runs the vigil governance core: policy gate, artifact
// ledger, checkpoint manager and orchestrator registry behind one HTTP
// boundary.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/praxis-labs/vigil/pkg/api"
	"github.com/praxis-labs/vigil/pkg/checkpoint"
	"github.com/praxis-labs/vigil/pkg/config"
	"github.com/praxis-labs/vigil/pkg/ledger"
	"github.com/praxis-labs/vigil/pkg/observability"
	"github.com/praxis-labs/vigil/pkg/orchestrator"
	"github.com/praxis-labs/vigil/pkg/policy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vigild:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, observability.Config{
		ServiceName:    "vigild",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
		BatchTimeout:   observability.DefaultConfig().BatchTimeout,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	profile := policy.DefaultProfile()
	if cfg.PolicyProfile != "" {
		profile, err = policy.LoadProfile(cfg.PolicyProfile)
		if err != nil {
			return err
		}
		log.Info("policy profile loaded", "path", cfg.PolicyProfile, "rules", len(profile.Rules))
	}
	gate, err := policy.BuildGate(profile)
	if err != nil {
		return err
	}

	led := ledger.New()
	cps := checkpoint.NewManager()

	if cfg.DBPath != "" {
		db, err := sql.Open("sqlite", cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if err := attachStores(ctx, db, led, cps, log); err != nil {
			return err
		}
	} else {
		log.Warn("no database path configured, running in memory")
	}

	idleWindow := cfg.SphereIdleWindow
	if profile.SphereIdleWindow > 0 {
		idleWindow = profile.SphereIdleWindow
	}

	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Gate:        gate,
		Ledger:      led,
		Checkpoints: cps,
		Executor:    orchestrator.NewExecutor(),
		IdleWindow:  idleWindow,
		Logger:      log,
	})
	go registry.RunSweeper(ctx, cfg.SweepInterval)

	server := api.NewServer(registry, led, cps, api.Options{
		SubmitRPS:   cfg.SubmitRPS,
		SubmitBurst: cfg.SubmitBurst,
		Logger:      log,
	})
	defer server.Close()

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("vigild listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// attachStores wires write-through SQLite persistence into the ledger
// and checkpoint manager and replays persisted state into them.
func attachStores(ctx context.Context, db *sql.DB, led *ledger.Ledger, cps *checkpoint.Manager, log *slog.Logger) error {
	ledgerStore, err := ledger.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}
	artifacts, err := ledgerStore.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	if err := led.Restore(artifacts); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	led.WithStore(ledgerStore)

	if ok, broken := led.Verify(); !ok {
		return fmt.Errorf("ledger hash chain broken at artifact %q", broken)
	}

	cpStore, err := checkpoint.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	checkpoints, err := cpStore.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	if err := cps.Restore(checkpoints); err != nil {
		return fmt.Errorf("restore checkpoints: %w", err)
	}
	cps.WithStore(cpStore)

	log.Info("state restored", "artifacts", len(artifacts), "checkpoints", len(checkpoints))
	return nil
}
