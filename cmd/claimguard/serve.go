package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brainsait/claimguard/internal/api"
	"github.com/brainsait/claimguard/internal/bus"
	"github.com/brainsait/claimguard/internal/cache"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/history"
	"github.com/brainsait/claimguard/internal/repository"
	"github.com/brainsait/claimguard/internal/rules"
	"github.com/brainsait/claimguard/internal/worker"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the async worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, os.Stdout)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(parent context.Context, cfg *domain.Config) error {
	slog.Info("starting claimguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, ruleEngine, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer ruleEngine.Close()
	slog.Info("engine initialized",
		"catalog_version", eng.Catalog().Version(),
		"workers", eng.Config().Workers,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	if err := loadStoredRules(ctx, repo, eng.Catalog().Rules(), ruleEngine); err != nil {
		return err
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	historySvc := history.NewService(repo, cacheImpl, busImpl, 0)
	reportTTL := time.Duration(cfg.Server.ReportTTL) * time.Second

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, &worker.Screener{
			Engine:    eng,
			Repo:      repo,
			Cache:     cacheImpl,
			Bus:       busImpl,
			History:   historySvc,
			ReportTTL: reportTTL,
		})
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:    eng,
		Rules:     ruleEngine,
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		History:   historySvc,
		Version:   Version,
		ReportTTL: reportTTL,
		Worker:    worker.Config{TenantIDs: cfg.Worker.TenantIDs},
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("claimguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"worker", asyncWorker != nil,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("claimguard shutdown complete")
	return nil
}

// loadStoredRules overlays the global rules stored through the API on the
// catalog rules. A repository that cannot list rules leaves the catalog
// rules in place.
func loadStoredRules(ctx context.Context, repo domain.Repository, base []domain.RuleConfig, re *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}
	if len(stored) == 0 {
		return nil
	}

	slog.Info("loading rules from database", "count", len(stored))
	if err := re.ReloadRules(rules.Merge(base, stored)); err != nil {
		return fmt.Errorf("load stored rules: %w", err)
	}
	return nil
}
