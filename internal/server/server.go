// Package server assembles the application: state store, review
// archive, forge provider, LLM client, coordinator, poller, startup
// recovery, HTTP ingress and the maintenance cron. It owns startup
// order and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/prpatrol/prpatrol/internal/api"
	"github.com/prpatrol/prpatrol/internal/audit"
	"github.com/prpatrol/prpatrol/internal/config"
	"github.com/prpatrol/prpatrol/internal/feature"
	"github.com/prpatrol/prpatrol/internal/forge"
	"github.com/prpatrol/prpatrol/internal/git"
	"github.com/prpatrol/prpatrol/internal/guard"
	"github.com/prpatrol/prpatrol/internal/llm"
	"github.com/prpatrol/prpatrol/internal/poller"
	"github.com/prpatrol/prpatrol/internal/recovery"
	"github.com/prpatrol/prpatrol/internal/report"
	"github.com/prpatrol/prpatrol/internal/review"
	"github.com/prpatrol/prpatrol/internal/state"
	"github.com/prpatrol/prpatrol/internal/store"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// HTTP server and shutdown timeouts.
const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultDrainTimeout    = 60 * time.Second

	// retentionSchedule prunes old archive rows nightly at 03:00.
	retentionSchedule = "0 3 * * *"
)

// App wires the long-running components together.
type App struct {
	cfg *config.Config

	states   *state.Store
	archive  store.Store
	auditLog *audit.Logger
	provider forge.Provider
	client   llm.Client
	guard    *guard.Guard
	coord    *review.Coordinator
	poller   *poller.Poller
	recovery *recovery.Recovery

	httpServer *http.Server
	cron       *cron.Cron

	cancel context.CancelFunc
	log    *zap.Logger
}

// New builds the application from configuration. Components are
// created but nothing runs until Start.
func New(cfg *config.Config) (*App, error) {
	log := logger.Named("app")

	for _, dir := range []string{
		filepath.Dir(cfg.Storage.StateFile),
		filepath.Dir(cfg.Storage.AuditFile),
		cfg.Storage.CloneDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	states, err := state.New(cfg.Storage.StateFile)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	auditLog, err := audit.New(cfg.Storage.AuditFile, cfg.Storage.AuditMaxEntries)
	if err != nil {
		states.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	archive, err := store.Open(cfg.Storage.DatabaseFile)
	if err != nil {
		auditLog.Close()
		states.Close()
		return nil, fmt.Errorf("open review archive: %w", err)
	}

	provider, err := forge.Create(cfg.Forge.Type, &forge.Options{
		Token:              cfg.Forge.Token,
		BaseURL:            cfg.Forge.URL,
		InsecureSkipVerify: cfg.Forge.InsecureSkipVerify,
	})
	if err != nil {
		auditLog.Close()
		states.Close()
		return nil, fmt.Errorf("create forge provider: %w", err)
	}

	client, err := llm.Create(cfg.LLM.Client, &llm.ClientConfig{
		Name:      cfg.LLM.Client,
		CLIPath:   cfg.LLM.CLIPath,
		Model:     cfg.LLM.Model,
		ExtraArgs: cfg.LLM.ExtraArgs,
		APIKey:    cfg.LLM.APIKey,
	})
	if err != nil {
		auditLog.Close()
		states.Close()
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	worktrees := git.NewManager(cfg.Storage.CloneDir, provider)

	g := guard.New(guard.WithPauseHook(func(kind string) {
		log.Warn("Review processing paused", zap.String("kind", kind))
	}))

	coord := review.New(review.Deps{
		Config:    cfg,
		States:    states,
		Forge:     provider,
		LLM:       client,
		Worktrees: worktrees,
		Guard:     g,
		Features:  feature.NewRunner(states, feature.BuildFeatures(cfg)...),
		Audit:     auditLog,
		Archive:   archive,
	})

	return &App{
		cfg:      cfg,
		states:   states,
		archive:  archive,
		auditLog: auditLog,
		provider: provider,
		client:   client,
		guard:    g,
		coord:    coord,
		poller:   poller.New(cfg, states, provider, coord, worktrees, auditLog),
		recovery: recovery.New(cfg, states, provider, coord),
		cron:     cron.New(),
		log:      log,
	}, nil
}

// Start brings the application up: HTTP first so health checks answer
// immediately, then startup recovery, then the poll loop. Recovery
// finishes before polling begins so reconciliation sees settled state.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	apiServer := api.NewServer(ctx, api.Deps{
		Config:   a.cfg,
		States:   a.states,
		Coord:    a.coord,
		Provider: a.provider,
		Guard:    a.guard,
		Audit:    a.auditLog,
		Archive:  a.archive,
		Exporter: report.NewExporter(),
	})

	a.httpServer = &http.Server{
		Addr:         a.cfg.Server.Address(),
		Handler:      apiServer.Router(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	a.log.Info("Starting HTTP server",
		zap.String("address", a.cfg.Server.Address()),
		zap.String("mode", a.cfg.Server.Mode),
		zap.String("forge", a.provider.Name()),
		zap.Int("tracked_repos", len(a.cfg.Repositories)),
	)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		a.recovery.Run(ctx)
		if a.cfg.Server.PollingEnabled() {
			a.poller.Run(ctx)
		}
	}()

	if _, err := a.cron.AddFunc(retentionSchedule, a.pruneArchive); err != nil {
		return fmt.Errorf("schedule archive retention: %w", err)
	}
	a.cron.Start()

	return nil
}

// pruneArchive enforces the archive retention window.
func (a *App) pruneArchive() {
	days := a.cfg.Review.ArchiveRetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := a.archive.Archive().DeleteOlderThan(cutoff)
	if err != nil {
		a.log.Warn("Archive retention prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		a.log.Info("Archive retention prune completed",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff),
		)
	}
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts down
// gracefully. A second signal forces immediate exit.
func (a *App) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	a.log.Info("Received shutdown signal, draining (press Ctrl+C again to force exit)",
		zap.String("signal", sig.String()),
	)
	go func() {
		sig := <-quit
		a.log.Warn("Received second shutdown signal, forcing exit",
			zap.String("signal", sig.String()),
		)
		os.Exit(1)
	}()

	a.Shutdown()
}

// Shutdown stops intake, drains in-flight reviews and closes the
// stores. Safe to call once.
func (a *App) Shutdown() {
	// Stop producing work: poll loop, webhook submissions, cron.
	if a.cancel != nil {
		a.cancel()
	}
	cronCtx := a.cron.Stop()

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Error("HTTP server forced to shutdown", zap.Error(err))
		}
		cancel()
	}

	// Let in-flight reviews finish; a hung LLM run should not pin the
	// process forever.
	done := make(chan struct{})
	go func() {
		a.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultDrainTimeout):
		a.log.Warn("Drain timeout reached, abandoning in-flight reviews",
			zap.Int("inflight", a.coord.Inflight()),
		)
	}
	<-cronCtx.Done()

	a.guard.Shutdown()
	if err := a.auditLog.Close(); err != nil {
		a.log.Warn("Failed to close audit log", zap.Error(err))
	}
	if err := a.states.Close(); err != nil {
		a.log.Warn("Failed to close state store", zap.Error(err))
	}
	if db, err := a.archive.DB().DB(); err == nil {
		db.Close()
	}

	a.log.Info("Shutdown complete")
}
