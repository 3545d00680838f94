// Package worker runs screening batches and distributes their reports:
// synchronously for the API and asynchronously from the event bus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brainsait/claimguard/internal/bus"
	"github.com/brainsait/claimguard/internal/cache"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/engine"
	"github.com/brainsait/claimguard/internal/history"
)

// GlobalTenant is the subscription tenant used when no tenants are configured.
const GlobalTenant = "_global"

// Per-tenant count of screened batches, kept in the cache.
const (
	BatchCounterKey    = "batches"
	BatchCounterWindow = 24 * time.Hour
)

// BatchMessage is the payload of claimguard.batch.submitted.
type BatchMessage struct {
	ReportID string       `json:"report_id"`
	Input    engine.Input `json:"input"`
}

// ReportCompleted is the payload of claimguard.report.completed.
type ReportCompleted struct {
	ReportID string               `json:"report_id"`
	TenantID string               `json:"tenant_id"`
	Summary  domain.ReportSummary `json:"summary"`
}

// AlertRaised is the payload of claimguard.alert.
type AlertRaised struct {
	ReportID string            `json:"report_id"`
	Alert    domain.FraudAlert `json:"alert"`
}

// Screener runs a batch through the engine, then stores, caches and
// announces the report. Only Engine is required.
type Screener struct {
	Engine    *engine.Engine
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	History   *history.Service
	ReportTTL time.Duration
}

// Screen analyzes in for tenantID. A batch without historical_data is
// screened against the tenant's stored history. Persistence and publishing
// failures are logged; the report is still returned.
func (s *Screener) Screen(ctx context.Context, tenantID string, in *engine.Input) (*domain.FraudAnalysisReport, error) {
	start := time.Now()
	in.TenantID = tenantID

	if len(in.Historical) == 0 && s.History != nil {
		records, err := s.History.Records(ctx, tenantID, time.Time{})
		if err != nil {
			slog.Warn("stored history unavailable, screening without it",
				"tenant_id", tenantID,
				"error", err,
			)
		} else {
			in.Historical = records
		}
	}

	report, err := s.Engine.Run(ctx, in)
	if err != nil {
		return nil, err
	}

	// 1. Save report
	if s.Repo != nil {
		if err := s.Repo.SaveReport(ctx, tenantID, report); err != nil {
			slog.Error("failed to save report",
				"report_id", report.ID,
				"error", err,
			)
		}
	}

	// 2. Cache for report reads
	if s.Cache != nil {
		ttl := s.ReportTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		if err := cache.SetJSON(ctx, s.Cache, tenantID, cache.ReportKey(report.ID), report, ttl); err != nil {
			slog.Warn("failed to cache report",
				"report_id", report.ID,
				"error", err,
			)
		}
	}

	// 3. Announce completion and escalate serious alerts
	if s.Bus != nil {
		s.publish(ctx, tenantID, report)
	}

	var batches int64
	if s.Cache != nil {
		n, err := s.Cache.IncrementCounter(ctx, tenantID, BatchCounterKey, BatchCounterWindow)
		if err != nil {
			slog.Warn("failed to count batch",
				"tenant_id", tenantID,
				"error", err,
			)
		}
		batches = n
	}

	slog.Info("batch screened",
		"tenant_id", tenantID,
		"report_id", report.ID,
		"claims", report.Metadata.ClaimsAnalyzed,
		"alerts", report.TotalAlerts,
		"blocked", report.DecisionCounts[domain.DecisionBlock],
		"batches_24h", batches,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

func (s *Screener) publish(ctx context.Context, tenantID string, report *domain.FraudAnalysisReport) {
	summary := report.Summarize()
	completed := ReportCompleted{ReportID: report.ID, TenantID: tenantID, Summary: summary}
	if err := bus.PublishJSON(ctx, s.Bus, tenantID, domain.TopicReportCompleted, completed); err != nil {
		slog.Error("failed to publish report completion",
			"report_id", report.ID,
			"error", err,
		)
	}

	for _, a := range report.Alerts {
		if !Escalates(a) {
			continue
		}
		if err := bus.PublishJSON(ctx, s.Bus, tenantID, domain.TopicAlert, AlertRaised{ReportID: report.ID, Alert: a}); err != nil {
			slog.Error("failed to publish alert",
				"report_id", report.ID,
				"alert_id", a.ID,
				"error", err,
			)
		}
	}
}

// Escalates reports whether an alert is published on claimguard.alert.
func Escalates(a domain.FraudAlert) bool {
	return a.Severity.Rank() >= domain.SeverityHigh.Rank()
}

// Worker screens batches submitted on the event bus.
type Worker struct {
	bus      domain.EventBus
	screener *Screener

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to subscribe for; empty subscribes the global tenant.
	TenantIDs []string
}

// Route returns the tenant a batch submitted by tenantID must be published
// under to reach a worker started with c. Tenants without a dedicated
// subscription go to GlobalTenant; the batch payload keeps the real tenant.
func (c Config) Route(tenantID string) string {
	for _, t := range c.TenantIDs {
		if t == tenantID {
			return tenantID
		}
	}
	return GlobalTenant
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, screener *Screener) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      b,
		screener: screener,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to claimguard.batch.submitted for each tenant.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenant}
	}

	started := 0
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchSubmitted, w.handleBatch)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
		started++
	}

	if started == 0 {
		return errors.New("no worker subscriptions started")
	}

	slog.Info("workers started",
		"tenant_count", started,
		"topic", domain.TopicBatchSubmitted,
	)
	return nil
}

// handleBatch screens one submitted batch. The message tenant wins over
// the tenant named in the payload.
func (w *Worker) handleBatch(ctx context.Context, msg *domain.Message) error {
	batch, err := bus.Decode[BatchMessage](msg)
	if err != nil {
		return err
	}

	tenantID := msg.TenantID
	if tenantID == GlobalTenant && batch.Input.TenantID != "" {
		tenantID = batch.Input.TenantID
	}

	report, err := w.screener.Screen(ctx, tenantID, &batch.Input)
	if err != nil {
		return fmt.Errorf("screen batch %s: %w", batch.ReportID, err)
	}

	if batch.ReportID != "" && batch.ReportID != report.ID {
		slog.Warn("report id differs from the id handed out at submission",
			"expected", batch.ReportID,
			"actual", report.ID,
		)
	}
	return nil
}

// Stop unsubscribes every subscription.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
