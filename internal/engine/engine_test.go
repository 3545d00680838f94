package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainsait/claimguard/internal/catalog"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/rules"
)

var asOf = time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

func ptr(f float64) *float64 { return &f }

func record(id, physician, service, date string, amount float64) domain.ClaimRecord {
	return domain.ClaimRecord{
		ID:              id,
		PhysicianID:     physician,
		PatientID:       "PAT-001",
		ServiceCode:     service,
		ProcedureCodes:  []string{"99213"},
		DiagnosisCodes:  []string{"J45.9"},
		ServiceDate:     date,
		BilledAmount:    ptr(amount),
		ComplexityLevel: "MEDIUM",
		FacilityID:      "F1",
	}
}

func hist(service, complexity string, amounts ...float64) []domain.HistoricalRecord {
	out := make([]domain.HistoricalRecord, len(amounts))
	for i, a := range amounts {
		r := record(fmt.Sprintf("H-%s-%d", service, i), "DOC-H", service, "2023-06-01", a)
		r.ComplexityLevel = complexity
		out[i] = domain.HistoricalRecord{ClaimRecord: r, Outcome: "APPROVED", AdjudicatedAmount: ptr(a)}
	}
	return out
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cat := catalog.MustDefault()
	re, err := rules.NewEngine(4)
	require.NoError(t, err)
	require.NoError(t, re.LoadRules(cat.Rules()))
	t.Cleanup(func() { re.Close() })

	e, err := New(cat, re, domain.DefaultEngineConfig())
	require.NoError(t, err)
	return e
}

func alertsOfType(r *domain.FraudAnalysisReport, typ domain.AlertType) []domain.FraudAlert {
	var out []domain.FraudAlert
	for _, a := range r.Alerts {
		if a.Type == typ {
			out = append(out, a)
		}
	}
	return out
}

func issuesWithRule(v *domain.ClaimVerdict, ruleID string) int {
	n := 0
	for _, is := range v.Issues {
		if is.RuleID == ruleID {
			n++
		}
	}
	return n
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil, nil, domain.DefaultEngineConfig())
	assert.True(t, domain.IsConfigError(err))

	cfg := domain.DefaultEngineConfig()
	cfg.Decision.AnomalyFlagScore = 90
	_, err = New(catalog.MustDefault(), nil, cfg)
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "decision.anomaly_flag_score", ce.Field)
}

func TestDuplicateBillingScenario(t *testing.T) {
	e := newEngine(t)
	report, err := e.Run(context.Background(), &Input{
		AsOf: asOf,
		Claims: []domain.ClaimRecord{
			record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 500),
			record("CLM-002", "DOC-001", "SRV-001", "2024-01-15", 500),
			record("CLM-003", "DOC-001", "SRV-001", "2024-01-15", 500),
		},
	})
	require.NoError(t, err)

	dups := alertsOfType(report, domain.AlertDuplicate)
	require.Len(t, dups, 1)
	assert.Equal(t, domain.SeverityHigh, dups[0].Severity)
	assert.Equal(t, []string{"CLM-001", "CLM-002", "CLM-003"}, dups[0].ClaimIDs)

	doc, ok := report.Physician("DOC-001")
	require.True(t, ok)
	assert.GreaterOrEqual(t, doc.RiskScore, 10.0)
	assert.Equal(t, 3, doc.ClaimCount)

	for _, v := range report.Verdicts {
		assert.Equal(t, domain.DecisionFlag, v.Decision, v.ClaimID)
		require.Len(t, v.Alerts, 1)
	}
}

func TestPhantomBillingScenario(t *testing.T) {
	e := newEngine(t)
	c := record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 500)
	c.PatientID = "PAT-999"

	report, err := e.Run(context.Background(), &Input{
		AsOf:      asOf,
		Claims:    []domain.ClaimRecord{c},
		Schedules: []domain.ScheduleEntry{{FacilityID: "F1", Date: "2024-01-15", PatientIDs: []string{"PAT-001"}}},
	})
	require.NoError(t, err)

	phantom := alertsOfType(report, domain.AlertPhantomBilling)
	require.Len(t, phantom, 1)
	assert.Equal(t, domain.SeverityCritical, phantom[0].Severity)

	v, ok := report.Verdict("CLM-001")
	require.True(t, ok)
	assert.Equal(t, domain.DecisionBlock, v.Decision)
	assert.Equal(t, 1, report.AlertsBySeverity[domain.SeverityCritical])
}

func TestVATRule(t *testing.T) {
	e := newEngine(t)

	ok := record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 1150)
	ok.Net, ok.VAT, ok.Total = ptr(1000), ptr(150), ptr(1150)
	off := record("CLM-002", "DOC-002", "SRV-002", "2024-01-15", 1140)
	off.Net, off.VAT, off.Total = ptr(1000), ptr(150), ptr(1140)

	report, err := e.Run(context.Background(), &Input{AsOf: asOf, Claims: []domain.ClaimRecord{ok, off}})
	require.NoError(t, err)

	v1, _ := report.Verdict("CLM-001")
	assert.Zero(t, issuesWithRule(v1, "MONETARY_TOTAL")+issuesWithRule(v1, "MONETARY_VAT_RATE"))
	assert.NotEqual(t, domain.DecisionBlock, v1.Decision)

	v2, _ := report.Verdict("CLM-002")
	assert.Equal(t, 1, issuesWithRule(v2, "MONETARY_TOTAL"))
	assert.Zero(t, issuesWithRule(v2, "MONETARY_VAT_RATE"))
	assert.Equal(t, domain.DecisionBlock, v2.Decision)
}

func TestInsufficientUpcodingEvidence(t *testing.T) {
	e := newEngine(t)
	report, err := e.Run(context.Background(), &Input{
		AsOf:       asOf,
		Claims:     []domain.ClaimRecord{record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 900_000)},
		Historical: hist("SRV-001", "MEDIUM", 100, 110, 90, 105),
	})
	require.NoError(t, err)
	assert.Empty(t, alertsOfType(report, domain.AlertUpcoding))
	assert.Equal(t, 4, report.Metadata.HistoricalRecords)
}

func TestUpcodingDetected(t *testing.T) {
	e := newEngine(t)
	report, err := e.Run(context.Background(), &Input{
		AsOf:       asOf,
		Claims:     []domain.ClaimRecord{record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 900)},
		Historical: hist("SRV-001", "MEDIUM", 100, 110, 90, 105, 95),
	})
	require.NoError(t, err)
	up := alertsOfType(report, domain.AlertUpcoding)
	require.Len(t, up, 1)
	assert.Equal(t, domain.SeverityMedium, up[0].Severity)
}

func TestSmallBatchAnomalyFallback(t *testing.T) {
	e := newEngine(t)
	report, err := e.Run(context.Background(), &Input{
		AsOf: asOf,
		Claims: []domain.ClaimRecord{
			record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 100),
			record("CLM-002", "DOC-002", "SRV-001", "2024-01-15", 120),
			record("CLM-003", "DOC-003", "SRV-001", "2024-01-15", 90_000),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "median_distance", report.Metadata.ScoringMethod)
	require.Len(t, report.Verdicts, 3)
	for _, v := range report.Verdicts {
		assert.GreaterOrEqual(t, v.AnomalyScore, 0.0)
		assert.LessOrEqual(t, v.AnomalyScore, 100.0)
	}
	v3, _ := report.Verdict("CLM-003")
	assert.Greater(t, v3.AnomalyScore, 80.0)
	assert.Len(t, alertsOfType(report, domain.AlertAnomaly), 1)
}

// largeBatch mixes duplicates, an unbundled lipid panel, one outlier and
// scheduling gaps across a few physicians.
func largeBatch() *Input {
	var claims []domain.ClaimRecord
	for i := 0; i < 40; i++ {
		c := record(
			fmt.Sprintf("CLM-%03d", i),
			fmt.Sprintf("DOC-%d", i%5),
			fmt.Sprintf("SRV-%03d", i%7),
			fmt.Sprintf("2024-01-%02d", 10+i%6),
			200+float64(i%9)*15,
		)
		c.PatientID = fmt.Sprintf("PAT-%03d", i%12)
		if i%3 == 0 {
			c.ComplexityLevel = "HIGH"
		}
		claims = append(claims, c)
	}
	claims[5].ProcedureCodes = []string{"82465", "83718", "84478"}
	claims[11].BilledAmount = ptr(750_000)
	claims[11].ComplexityLevel = "LOW"
	claims = append(claims, record("CLM-900", "DOC-0", "SRV-000", "2024-01-10", 200))

	return &Input{
		TenantID:   "tenant-001",
		AsOf:       asOf,
		Claims:     claims,
		Historical: append(hist("SRV-001", "MEDIUM", 200, 210, 190, 205, 195), hist("SRV-002", "HIGH", 300, 320, 280, 310, 290)...),
		Schedules: []domain.ScheduleEntry{
			{FacilityID: "F1", Date: "2024-01-10", PatientIDs: []string{"PAT-000", "PAT-005", "PAT-010"}},
			{FacilityID: "F1", Date: "2024-01-11", PatientIDs: []string{"PAT-001", "PAT-007"}},
		},
	}
}

func canonical(t *testing.T, r *domain.FraudAnalysisReport) string {
	t.Helper()
	cp := *r
	cp.Verdicts = append([]domain.ClaimVerdict(nil), r.Verdicts...)
	sort.Slice(cp.Verdicts, func(i, j int) bool { return cp.Verdicts[i].ClaimID < cp.Verdicts[j].ClaimID })
	out, err := json.Marshal(cp)
	require.NoError(t, err)
	return string(out)
}

func TestDeterminism(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	first, err := e.Run(ctx, largeBatch())
	require.NoError(t, err)
	second, err := e.Run(ctx, largeBatch())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 5; i++ {
		in := largeBatch()
		rng.Shuffle(len(in.Claims), func(i, j int) { in.Claims[i], in.Claims[j] = in.Claims[j], in.Claims[i] })
		rng.Shuffle(len(in.Historical), func(i, j int) { in.Historical[i], in.Historical[j] = in.Historical[j], in.Historical[i] })

		permuted, err := e.Run(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, canonical(t, first), canonical(t, permuted), "permutation %d", i)
	}
}

func TestReportInvariants(t *testing.T) {
	e := newEngine(t)
	in := largeBatch()
	report, err := e.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "isolation_forest", report.Metadata.ScoringMethod)
	assert.Equal(t, len(in.Claims), report.Metadata.ClaimsAnalyzed)
	assert.Equal(t, len(report.Alerts), report.TotalAlerts)

	t.Run("VerdictsKeepInputOrder", func(t *testing.T) {
		require.Len(t, report.Verdicts, len(in.Claims))
		for i, v := range report.Verdicts {
			assert.Equal(t, in.Claims[i].ID, v.ClaimID)
		}
	})

	t.Run("ScoresBounded", func(t *testing.T) {
		for _, v := range report.Verdicts {
			assert.GreaterOrEqual(t, v.AnomalyScore, 0.0)
			assert.LessOrEqual(t, v.AnomalyScore, 100.0)
		}
		for _, p := range report.PhysicianRisks {
			assert.GreaterOrEqual(t, p.RiskScore, 0.0)
			assert.LessOrEqual(t, p.RiskScore, 100.0)
		}
	})

	t.Run("AlertsReferenceBatchClaims", func(t *testing.T) {
		ids := make(map[string]bool)
		for _, c := range in.Claims {
			ids[c.ID] = true
		}
		for _, a := range report.Alerts {
			require.NotEmpty(t, a.ClaimIDs)
			for _, id := range a.ClaimIDs {
				assert.True(t, ids[id], "alert %s references unknown claim %s", a.Type, id)
			}
			assert.True(t, a.DetectedAt.Equal(asOf))
		}
	})

	t.Run("BlockIffErrorOrCritical", func(t *testing.T) {
		for _, v := range report.Verdicts {
			want := false
			for _, is := range v.Issues {
				want = want || is.Severity == domain.IssueError
			}
			for _, a := range v.Alerts {
				want = want || a.Severity == domain.SeverityCritical
			}
			assert.Equal(t, want, v.Decision == domain.DecisionBlock, v.ClaimID)
		}
	})

	t.Run("ExpectedPatterns", func(t *testing.T) {
		assert.NotEmpty(t, alertsOfType(report, domain.AlertDuplicate))
		unbundled := alertsOfType(report, domain.AlertUnbundling)
		require.Len(t, unbundled, 1)
		assert.Equal(t, []string{"CLM-005"}, unbundled[0].ClaimIDs)

		anomalies := alertsOfType(report, domain.AlertAnomaly)
		require.NotEmpty(t, anomalies)
		v, _ := report.Verdict("CLM-011")
		assert.Equal(t, 100.0, v.AnomalyScore)
	})

	t.Run("Summaries", func(t *testing.T) {
		total := 0
		for _, n := range report.AlertsBySeverity {
			total += n
		}
		assert.Equal(t, report.TotalAlerts, total)

		decided := 0
		for _, n := range report.DecisionCounts {
			decided += n
		}
		assert.Equal(t, len(report.Verdicts), decided)
		assert.Equal(t, asOf, report.GeneratedAt)
		assert.NotEmpty(t, report.ID)
	})
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	e := newEngine(t)

	noID := record("", "DOC-001", "SRV-001", "2024-01-15", 100)
	badDate := record("CLM-002", "DOC-001", "SRV-001", "15/01/2024", 100)
	badComplexity := record("CLM-003", "DOC-001", "SRV-001", "2024-01-15", 100)
	badComplexity.ComplexityLevel = "EXTREME"
	noAmount := record("CLM-004", "DOC-001", "SRV-001", "2024-01-15", 0)
	noAmount.BilledAmount = nil

	report, err := e.Run(context.Background(), &Input{
		AsOf: asOf,
		Claims: []domain.ClaimRecord{
			record("CLM-009", "DOC-001", "SRV-001", "2024-01-15", 100),
			noID,
			badDate,
			badComplexity,
			noAmount,
			record("CLM-001", "DOC-002", "SRV-001", "2024-01-15", 100),
			record("CLM-009", "DOC-003", "SRV-001", "2024-01-15", 100),
		},
		Historical: []domain.HistoricalRecord{{ClaimRecord: record("H-1", "DOC-H", "SRV-001", "2023-01-01", 100), Outcome: "MAYBE"}},
		Schedules:  []domain.ScheduleEntry{{FacilityID: "F1", Date: "not-a-date"}},
	})
	require.NoError(t, err)

	require.Len(t, report.Verdicts, 2)
	assert.Equal(t, "CLM-009", report.Verdicts[0].ClaimID)
	assert.Equal(t, "CLM-001", report.Verdicts[1].ClaimID)

	assert.Equal(t, 7, report.Metadata.ClaimsReceived)
	assert.Equal(t, 5, report.Metadata.ClaimsSkipped)
	require.Len(t, report.Diagnostics, 7)

	indexes := []int{}
	for _, d := range report.Diagnostics[:5] {
		assert.Equal(t, domain.RecordClaim, d.Kind)
		indexes = append(indexes, d.Index)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 6}, indexes)
	assert.Equal(t, "duplicate claim id", report.Diagnostics[4].Message)
	assert.Equal(t, domain.RecordHistorical, report.Diagnostics[5].Kind)
	assert.Equal(t, domain.RecordSchedule, report.Diagnostics[6].Kind)
}

func TestBatchTooLarge(t *testing.T) {
	cfg := domain.DefaultEngineConfig()
	cfg.MaxBatchSize = 2
	e, err := New(catalog.MustDefault(), nil, cfg)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), &Input{Claims: make([]domain.ClaimRecord, 3)})
	assert.True(t, errors.Is(err, ErrBatchTooLarge))
}

func TestCancelledContext(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, largeBatch())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmptyBatch(t *testing.T) {
	e := newEngine(t)
	report, err := e.Run(context.Background(), &Input{AsOf: asOf})
	require.NoError(t, err)
	assert.Empty(t, report.Verdicts)
	assert.NotNil(t, report.Alerts)
	assert.Zero(t, report.TotalAlerts)
	assert.Empty(t, report.PhysicianRisks)
}

func TestAddingErrorNeverUnblocks(t *testing.T) {
	e := newEngine(t)
	base := record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 100)
	base.PatientID = ""

	report, err := e.Run(context.Background(), &Input{AsOf: asOf, Claims: []domain.ClaimRecord{base}})
	require.NoError(t, err)
	require.Equal(t, domain.DecisionBlock, report.Verdicts[0].Decision)

	worse := base
	worse.DiagnosisCodes = []string{"bad"}
	worse.Net, worse.VAT, worse.Total = ptr(1), ptr(1), ptr(100)
	report, err = e.Run(context.Background(), &Input{AsOf: asOf, Claims: []domain.ClaimRecord{worse}})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionBlock, report.Verdicts[0].Decision)
}

func TestValidateClaim(t *testing.T) {
	e := newEngine(t)

	rec := record("CLM-001", "DOC-001", "SRV-001", "2024-01-15", 6000)
	rec.PayerID = "PAYER_A"
	issues, err := e.ValidateClaim(context.Background(), &rec, asOf)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "PAYER_A_PREAUTH", issues[0].RuleID)

	rec.ID = ""
	_, err = e.ValidateClaim(context.Background(), &rec, asOf)
	var ie *domain.InputError
	assert.ErrorAs(t, err, &ie)
}

func TestReportIDMatchesRun(t *testing.T) {
	e := newEngine(t)
	in := largeBatch()
	in.Claims = append(in.Claims, domain.ClaimRecord{ID: "BROKEN"})

	want := ReportID(in)
	report, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, want, report.ID)

	other := largeBatch()
	other.TenantID = "tenant-002"
	assert.NotEqual(t, want, ReportID(other))
}
