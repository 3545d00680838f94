package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDNamespace seeds the name-based UUIDs given to reports and alerts so that
// identical inputs yield identical identifiers.
var IDNamespace = uuid.MustParse("6f1c3d52-8a4e-4b7a-9c21-0d5e2f7a9b14")

// StableID derives a deterministic identifier from parts.
func StableID(parts ...string) string {
	return uuid.NewSHA1(IDNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// IssueSeverity grades a ValidationIssue.
type IssueSeverity string

const (
	IssueInfo    IssueSeverity = "INFO"
	IssueWarning IssueSeverity = "WARNING"
	IssueError   IssueSeverity = "ERROR"
)

// ValidationIssue is one structural or business-rule finding on a claim.
type ValidationIssue struct {
	Field      string        `json:"field"`
	RuleID     string        `json:"rule_id"`
	Severity   IssueSeverity `json:"severity"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// AlertType is the fraud pattern that produced an alert.
type AlertType string

const (
	AlertDuplicate      AlertType = "DUPLICATE"
	AlertUnbundling     AlertType = "UNBUNDLING"
	AlertUpcoding       AlertType = "UPCODING"
	AlertPhantomBilling AlertType = "PHANTOM_BILLING"
	AlertAnomaly        AlertType = "ANOMALY"
)

// AlertTypes lists every alert type in report order.
var AlertTypes = []AlertType{AlertDuplicate, AlertUnbundling, AlertUpcoding, AlertPhantomBilling, AlertAnomaly}

// AlertSeverity grades a FraudAlert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// AlertSeverities lists severities from lowest to highest.
var AlertSeverities = []AlertSeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank orders severities, LOW=0 .. CRITICAL=3.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// FraudAlert is evidence of a fraud pattern over one or more claims.
type FraudAlert struct {
	ID          string        `json:"id"`
	Type        AlertType     `json:"type"`
	Severity    AlertSeverity `json:"severity"`
	PhysicianID string        `json:"physician_id"`
	ClaimIDs    []string      `json:"claim_ids"`
	Description string        `json:"description"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// References reports whether the alert names claimID as evidence.
func (a *FraudAlert) References(claimID string) bool {
	i := sort.SearchStrings(a.ClaimIDs, claimID)
	return i < len(a.ClaimIDs) && a.ClaimIDs[i] == claimID
}

// SortAlerts orders alerts by first claim id, type, severity (highest
// first), physician and description.
func SortAlerts(alerts []FraudAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if fa, fb := firstID(a.ClaimIDs), firstID(b.ClaimIDs); fa != fb {
			return fa < fb
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.PhysicianID != b.PhysicianID {
			return a.PhysicianID < b.PhysicianID
		}
		return a.Description < b.Description
	})
}

func firstID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Decision is the screening outcome for a claim.
type Decision string

const (
	DecisionPass  Decision = "PASS"
	DecisionFlag  Decision = "FLAG"
	DecisionBlock Decision = "BLOCK"
)

// ClaimVerdict is the per-claim result of a run.
type ClaimVerdict struct {
	ClaimID      string            `json:"claim_id"`
	Issues       []ValidationIssue `json:"issues"`
	Alerts       []FraudAlert      `json:"alerts"`
	AnomalyScore float64           `json:"anomaly_score"`
	Decision     Decision          `json:"decision"`
}

// RiskLevel grades a physician's risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// PhysicianRiskProfile rolls a physician's alerts into a single score.
type PhysicianRiskProfile struct {
	PhysicianID           string    `json:"physician_id"`
	RiskScore             float64   `json:"risk_score"`
	RiskLevel             RiskLevel `json:"risk_level"`
	AlertCount            int       `json:"alert_count"`
	ClaimCount            int       `json:"claim_count"`
	RequiresInvestigation bool      `json:"requires_investigation"`
	RequiresTraining      bool      `json:"requires_training"`
}

// Diagnostic is a report-level note about a skipped input record.
type Diagnostic struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	RecordID string `json:"record_id,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ReportMetadata describes how a report was produced.
type ReportMetadata struct {
	ClaimsReceived    int    `json:"claims_received"`
	ClaimsAnalyzed    int    `json:"claims_analyzed"`
	ClaimsSkipped     int    `json:"claims_skipped"`
	HistoricalRecords int    `json:"historical_records"`
	ScheduleEntries   int    `json:"schedule_entries"`
	ScoringMethod     string `json:"scoring_method"`
	Seed              uint64 `json:"seed"`
	CatalogVersion    string `json:"catalog_version"`
	EngineVersion     string `json:"engine_version"`
}

// FraudAnalysisReport is the complete, deterministic output of one run.
type FraudAnalysisReport struct {
	ID                 string                 `json:"id"`
	TenantID           string                 `json:"tenant_id,omitempty"`
	GeneratedAt        time.Time              `json:"generated_at"`
	Alerts             []FraudAlert           `json:"alerts"`
	TotalAlerts        int                    `json:"total_alerts"`
	AlertsBySeverity   map[AlertSeverity]int  `json:"alerts_by_severity"`
	AlertsByType       map[AlertType]int      `json:"alerts_by_type"`
	PhysicianRisks     []PhysicianRiskProfile `json:"physician_risks"`
	HighRiskPhysicians []string               `json:"high_risk_physicians"`
	Verdicts           []ClaimVerdict         `json:"verdicts"`
	DecisionCounts     map[Decision]int       `json:"decision_counts"`
	Diagnostics        []Diagnostic           `json:"diagnostics"`
	Metadata           ReportMetadata         `json:"metadata"`
}

// Verdict returns the verdict for claimID, if present.
func (r *FraudAnalysisReport) Verdict(claimID string) (*ClaimVerdict, bool) {
	for i := range r.Verdicts {
		if r.Verdicts[i].ClaimID == claimID {
			return &r.Verdicts[i], true
		}
	}
	return nil, false
}

// Physician returns the risk profile for physicianID, if present.
func (r *FraudAnalysisReport) Physician(physicianID string) (*PhysicianRiskProfile, bool) {
	for i := range r.PhysicianRisks {
		if r.PhysicianRisks[i].PhysicianID == physicianID {
			return &r.PhysicianRisks[i], true
		}
	}
	return nil, false
}

// ReportSummary is the persisted index row for a report.
type ReportSummary struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	GeneratedAt        time.Time `json:"generated_at"`
	ClaimsAnalyzed     int       `json:"claims_analyzed"`
	TotalAlerts        int       `json:"total_alerts"`
	Blocked            int       `json:"blocked"`
	Flagged            int       `json:"flagged"`
	HighRiskPhysicians int       `json:"high_risk_physicians"`
	CreatedAt          time.Time `json:"created_at"`
}

// Summarize derives the index row for r.
func (r *FraudAnalysisReport) Summarize() ReportSummary {
	return ReportSummary{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		GeneratedAt:        r.GeneratedAt,
		ClaimsAnalyzed:     r.Metadata.ClaimsAnalyzed,
		TotalAlerts:        r.TotalAlerts,
		Blocked:            r.DecisionCounts[DecisionBlock],
		Flagged:            r.DecisionCounts[DecisionFlag],
		HighRiskPhysicians: len(r.HighRiskPhysicians),
	}
}
