// Package history maintains each tenant's adjudicated claim history, the
// baseline the upcoding and anomaly stages compare new batches against.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brainsait/claimguard/internal/bus"
	"github.com/brainsait/claimguard/internal/cache"
	"github.com/brainsait/claimguard/internal/domain"
)

// DefaultTTL bounds how long a cached snapshot is served.
const DefaultTTL = 10 * time.Minute

// Service loads historical claims from the repository through the cache.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	ttl   time.Duration
}

// NewService creates a history service. cache and bus may be nil.
func NewService(repo domain.Repository, c domain.Cache, b domain.EventBus, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:  repo,
		cache: c,
		bus:   b,
		ttl:   ttl,
	}
}

// IngestResult summarizes an ingestion call.
type IngestResult struct {
	Received    int                 `json:"received"`
	Stored      int                 `json:"stored"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

// Snapshot returns the tenant's historical claims with a service date on or
// after since, ordered by id. A zero since returns the full history.
func (s *Service) Snapshot(ctx context.Context, tenantID string, since time.Time) ([]domain.HistoricalClaim, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	key := cache.HistoryKey(since)
	if s.cache != nil {
		cached, err := cache.GetJSON[[]domain.HistoricalClaim](ctx, s.cache, tenantID, key)
		if err != nil {
			slog.Warn("history cache read failed", "tenant_id", tenantID, "error", err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	claims, err := s.repo.ListHistoricalClaims(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, tenantID, key, claims, s.ttl); err != nil {
			slog.Warn("history cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return claims, nil
}

// Records returns the snapshot in the wire form accepted by engine.Input.
func (s *Service) Records(ctx context.Context, tenantID string, since time.Time) ([]domain.HistoricalRecord, error) {
	claims, err := s.Snapshot(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	records := make([]domain.HistoricalRecord, len(claims))
	for i := range claims {
		records[i] = ToRecord(&claims[i])
	}
	return records, nil
}

// Ingest parses and stores historical records. Malformed records are
// skipped and reported as diagnostics. The full-history snapshot is
// invalidated; date-bounded snapshots age out with the cache TTL.
func (s *Service) Ingest(ctx context.Context, tenantID string, records []domain.HistoricalRecord) (*IngestResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	res := &IngestResult{Received: len(records), Diagnostics: []domain.Diagnostic{}}
	claims := make([]domain.HistoricalClaim, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for i := range records {
		h, err := records[i].Parse()
		if err == nil {
			if _, dup := seen[h.ID]; dup {
				err = &domain.InputError{Kind: domain.RecordHistorical, RecordID: h.ID, Reason: "duplicate historical claim id"}
			}
		}
		if err != nil {
			var ie *domain.InputError
			if !errors.As(err, &ie) {
				ie = &domain.InputError{Kind: domain.RecordHistorical, Reason: err.Error()}
			}
			ie.Index = i
			res.Diagnostics = append(res.Diagnostics, ie.Diagnostic())
			continue
		}
		seen[h.ID] = struct{}{}
		claims = append(claims, h)
	}

	if err := s.repo.SaveHistoricalClaims(ctx, tenantID, claims); err != nil {
		return nil, fmt.Errorf("store history: %w", err)
	}
	res.Stored = len(claims)

	if s.cache != nil {
		if err := s.cache.Delete(ctx, tenantID, cache.HistoryKey(time.Time{})); err != nil {
			slog.Warn("history cache invalidation failed", "tenant_id", tenantID, "error", err)
		}
	}

	if s.bus != nil && res.Stored > 0 {
		if err := bus.PublishJSON(ctx, s.bus, tenantID, domain.TopicHistoryIngested, res); err != nil {
			slog.Warn("failed to publish history ingestion", "tenant_id", tenantID, "error", err)
		}
	}

	slog.Info("historical claims ingested",
		"tenant_id", tenantID,
		"received", res.Received,
		"stored", res.Stored,
		"skipped", len(res.Diagnostics),
	)
	return res, nil
}

// ToRecord converts a parsed historical claim back to wire form.
func ToRecord(h *domain.HistoricalClaim) domain.HistoricalRecord {
	amount := h.BilledAmount
	rec := domain.HistoricalRecord{
		ClaimRecord: domain.ClaimRecord{
			ID:              h.ID,
			PhysicianID:     h.PhysicianID,
			PatientID:       h.PatientID,
			ServiceCode:     h.ServiceCode,
			ProcedureCodes:  h.ProcedureCodes,
			DiagnosisCodes:  h.DiagnosisCodes,
			ServiceDate:     h.DateKey(),
			BilledAmount:    &amount,
			ComplexityLevel: string(h.Complexity),
			FacilityID:      h.FacilityID,
			PayerID:         h.PayerID,
			PreAuthRef:      h.PreAuthRef,
			Attributes:      h.Attributes,
		},
		Outcome: string(h.Outcome),
	}
	if h.AdjudicatedAmount != 0 {
		adjudicated := h.AdjudicatedAmount
		rec.AdjudicatedAmount = &adjudicated
	}
	if b := h.Breakdown; b != nil {
		net, vat, total := b.Net, b.VAT, b.Total
		rec.Net, rec.VAT, rec.Total = &net, &vat, &total
	}
	return rec
}
