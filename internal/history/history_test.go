package history

import (
	"context"
	"testing"
	"time"

	"github.com/brainsait/claimguard/internal/bus"
	"github.com/brainsait/claimguard/internal/cache"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/repository"
)

func record(id, date, outcome string, amount float64) domain.HistoricalRecord {
	return domain.HistoricalRecord{
		ClaimRecord: domain.ClaimRecord{
			ID:              id,
			PhysicianID:     "DR-1",
			PatientID:       "PT-1",
			ServiceCode:     "99213",
			ServiceDate:     date,
			BilledAmount:    &amount,
			ComplexityLevel: "MEDIUM",
			FacilityID:      "FAC-1",
		},
		Outcome: outcome,
	}
}

func newTestService(t *testing.T) (*Service, domain.Repository, *bus.ChannelBus) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: repository.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	b := bus.NewChannelBus(10)
	t.Cleanup(func() { b.Close() })

	return NewService(repo, cache.NewLRUCache(100, 0), b, time.Minute), repo, b
}

func TestIngest(t *testing.T) {
	svc, _, b := newTestService(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	events := make(chan *domain.Message, 1)
	_, err := b.Subscribe(ctx, tenantID, domain.TopicHistoryIngested, func(ctx context.Context, msg *domain.Message) error {
		events <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	res, err := svc.Ingest(ctx, tenantID, []domain.HistoricalRecord{
		record("H-1", "2026-01-02", "APPROVED", 100),
		record("H-2", "2026-01-03", "PENDING", 110),
		record("H-1", "2026-01-04", "APPROVED", 120),
		record("H-3", "2026-01-05", "rejected", 130),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if res.Received != 4 || res.Stored != 2 {
		t.Errorf("expected 4 received and 2 stored, got %+v", res)
	}
	if len(res.Diagnostics) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(res.Diagnostics))
	}
	if d := res.Diagnostics[0]; d.Index != 1 || d.Kind != domain.RecordHistorical || d.RecordID != "H-2" {
		t.Errorf("unexpected diagnostic %+v", d)
	}
	if d := res.Diagnostics[1]; d.Index != 2 || d.RecordID != "H-1" {
		t.Errorf("unexpected duplicate diagnostic %+v", d)
	}

	select {
	case msg := <-events:
		got, err := bus.Decode[IngestResult](msg)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if got.Stored != 2 {
			t.Errorf("expected event to report 2 stored, got %d", got.Stored)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ingestion event")
	}

	claims, err := svc.Snapshot(ctx, tenantID, time.Time{})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(claims) != 2 || claims[1].Outcome != domain.OutcomeRejected {
		t.Errorf("unexpected snapshot %+v", claims)
	}
}

func TestSnapshotCaching(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	if _, err := svc.Ingest(ctx, tenantID, []domain.HistoricalRecord{record("H-1", "2026-01-02", "APPROVED", 100)}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	first, err := svc.Snapshot(ctx, tenantID, time.Time{})
	if err != nil || len(first) != 1 {
		t.Fatalf("expected 1 claim, got %d, %v", len(first), err)
	}

	// A write that bypasses the service is not visible while cached
	h, _ := record("H-2", "2026-01-03", "APPROVED", 110).Parse()
	if err := repo.SaveHistoricalClaims(ctx, tenantID, []domain.HistoricalClaim{h}); err != nil {
		t.Fatalf("SaveHistoricalClaims failed: %v", err)
	}
	cached, _ := svc.Snapshot(ctx, tenantID, time.Time{})
	if len(cached) != 1 {
		t.Errorf("expected cached snapshot of 1 claim, got %d", len(cached))
	}

	// Ingestion invalidates the full snapshot
	if _, err := svc.Ingest(ctx, tenantID, []domain.HistoricalRecord{record("H-3", "2026-01-04", "APPROVED", 120)}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	fresh, _ := svc.Snapshot(ctx, tenantID, time.Time{})
	if len(fresh) != 3 {
		t.Errorf("expected 3 claims after invalidation, got %d", len(fresh))
	}

	since, _ := domain.ParseDate("2026-01-03")
	bounded, _ := svc.Snapshot(ctx, tenantID, since)
	if len(bounded) != 2 {
		t.Errorf("expected 2 claims since 2026-01-03, got %d", len(bounded))
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	in := record("H-1", "2026-01-02", "APPROVED", 100)
	in.ProcedureCodes = []string{"82310"}
	net, vat, total := 100.0, 15.0, 115.0
	in.Net, in.VAT, in.Total = &net, &vat, &total

	if _, err := svc.Ingest(ctx, "tenant-001", []domain.HistoricalRecord{in}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	records, err := svc.Records(ctx, "tenant-001", time.Time{})
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	back, err := records[0].Parse()
	if err != nil {
		t.Fatalf("round-tripped record does not parse: %v", err)
	}
	if back.DateKey() != "2026-01-02" || back.BilledAmount != 100 || back.Breakdown == nil || back.Breakdown.VAT != 15 {
		t.Errorf("record not preserved: %+v", back)
	}
}

func TestRequiresTenantID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Snapshot(ctx, "", time.Time{}); err == nil {
		t.Error("expected error for empty tenantID")
	}
	if _, err := svc.Ingest(ctx, "", nil); err == nil {
		t.Error("expected error for empty tenantID")
	}
}
