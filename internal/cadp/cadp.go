// Package cadp implements the Claim Aggregated Decision Processor.
// CADP merges validation issues, fraud alerts and anomaly scores into
// per-claim verdicts and rolls alerts up into physician risk profiles.
package cadp

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/brainsait/claimguard/internal/detector"
	"github.com/brainsait/claimguard/internal/domain"
)

// Processor holds the decision and risk policy.
type Processor struct {
	Decision domain.DecisionConfig
	Risk     domain.RiskConfig
}

// NewProcessor creates a processor from the engine settings.
func NewProcessor(cfg domain.EngineConfig) *Processor {
	return &Processor{
		Decision: cfg.Decision,
		Risk:     cfg.Risk,
	}
}

// AnomalyAlert returns the synthetic ANOMALY alert for a claim scoring at or
// above the alert cut-off.
func (p *Processor) AnomalyAlert(c *domain.Claim, score float64, at time.Time) (domain.FraudAlert, bool) {
	if score < p.Decision.AnomalyAlertScore {
		return domain.FraudAlert{}, false
	}
	desc := fmt.Sprintf("anomaly score %.2f is at or above %.0f", score, p.Decision.AnomalyAlertScore)
	return detector.NewAlert(domain.AlertAnomaly, domain.SeverityHigh, c.PhysicianID, []string{c.ID}, desc, at), true
}

// Decide applies the verdict policy:
// BLOCK on any ERROR issue or CRITICAL alert, FLAG on any WARNING issue,
// any other alert or a score at the flag cut-off, PASS otherwise.
func (p *Processor) Decide(issues []domain.ValidationIssue, alerts []domain.FraudAlert, score float64) domain.Decision {
	flag := score >= p.Decision.AnomalyFlagScore
	for _, is := range issues {
		switch is.Severity {
		case domain.IssueError:
			return domain.DecisionBlock
		case domain.IssueWarning:
			flag = true
		}
	}
	for _, a := range alerts {
		if a.Severity == domain.SeverityCritical {
			return domain.DecisionBlock
		}
		flag = true
	}
	if flag {
		return domain.DecisionFlag
	}
	return domain.DecisionPass
}

// Verdict assembles the verdict for one claim. alerts must already be the
// subset that references the claim.
func (p *Processor) Verdict(claimID string, issues []domain.ValidationIssue, alerts []domain.FraudAlert, score float64) domain.ClaimVerdict {
	if issues == nil {
		issues = []domain.ValidationIssue{}
	}
	if alerts == nil {
		alerts = []domain.FraudAlert{}
	}
	return domain.ClaimVerdict{
		ClaimID:      claimID,
		Issues:       issues,
		Alerts:       alerts,
		AnomalyScore: score,
		Decision:     p.Decide(issues, alerts, score),
	}
}

// Profiles builds one risk profile for every physician that appears in the
// batch, ordered by risk score (highest first) and then id.
func (p *Processor) Profiles(claims []domain.Claim, alerts []domain.FraudAlert) []domain.PhysicianRiskProfile {
	claimCounts := make(map[string]int)
	for i := range claims {
		if id := claims[i].PhysicianID; id != "" {
			claimCounts[id]++
		}
	}

	bySeverity := make(map[string]map[domain.AlertSeverity]int)
	for _, a := range alerts {
		if a.PhysicianID == "" {
			continue
		}
		if bySeverity[a.PhysicianID] == nil {
			bySeverity[a.PhysicianID] = make(map[domain.AlertSeverity]int)
		}
		bySeverity[a.PhysicianID][a.Severity]++
		if _, ok := claimCounts[a.PhysicianID]; !ok {
			claimCounts[a.PhysicianID] = 0
		}
	}

	profiles := make([]domain.PhysicianRiskProfile, 0, len(claimCounts))
	for id, n := range claimCounts {
		profiles = append(profiles, p.Profile(id, n, bySeverity[id]))
	}
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].RiskScore != profiles[j].RiskScore {
			return profiles[i].RiskScore > profiles[j].RiskScore
		}
		return profiles[i].PhysicianID < profiles[j].PhysicianID
	})
	return profiles
}

// Profile scores a single physician from alert counts by severity.
func (p *Processor) Profile(physicianID string, claimCount int, counts map[domain.AlertSeverity]int) domain.PhysicianRiskProfile {
	var score float64
	alertCount := 0
	for _, sev := range domain.AlertSeverities {
		n := counts[sev]
		alertCount += n
		score += p.Risk.Weights.Weight(sev) * float64(n)
	}
	score = math.Min(100, math.Max(0, score))

	level := p.Level(score)
	return domain.PhysicianRiskProfile{
		PhysicianID:           physicianID,
		RiskScore:             score,
		RiskLevel:             level,
		AlertCount:            alertCount,
		ClaimCount:            claimCount,
		RequiresInvestigation: level == domain.RiskHigh || alertCount >= p.Risk.InvestigationAlertCount,
		RequiresTraining:      level != domain.RiskLow,
	}
}

// Level grades a risk score.
func (p *Processor) Level(score float64) domain.RiskLevel {
	switch {
	case score >= p.Risk.HighLevel:
		return domain.RiskHigh
	case score >= p.Risk.MediumLevel:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// CountBySeverity tallies alerts per severity. Every severity is present.
func CountBySeverity(alerts []domain.FraudAlert) map[domain.AlertSeverity]int {
	out := make(map[domain.AlertSeverity]int, len(domain.AlertSeverities))
	for _, s := range domain.AlertSeverities {
		out[s] = 0
	}
	for _, a := range alerts {
		out[a.Severity]++
	}
	return out
}

// CountByType tallies alerts per type. Every type is present.
func CountByType(alerts []domain.FraudAlert) map[domain.AlertType]int {
	out := make(map[domain.AlertType]int, len(domain.AlertTypes))
	for _, t := range domain.AlertTypes {
		out[t] = 0
	}
	for _, a := range alerts {
		out[a.Type]++
	}
	return out
}

// CountDecisions tallies verdict decisions.
func CountDecisions(verdicts []domain.ClaimVerdict) map[domain.Decision]int {
	out := map[domain.Decision]int{
		domain.DecisionPass:  0,
		domain.DecisionFlag:  0,
		domain.DecisionBlock: 0,
	}
	for _, v := range verdicts {
		out[v.Decision]++
	}
	return out
}

// HighRisk returns the ids of HIGH-level physicians, sorted.
func HighRisk(profiles []domain.PhysicianRiskProfile) []string {
	ids := []string{}
	for _, p := range profiles {
		if p.RiskLevel == domain.RiskHigh {
			ids = append(ids, p.PhysicianID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ShouldInvestigate reports whether any physician needs investigation.
func ShouldInvestigate(profiles []domain.PhysicianRiskProfile) bool {
	for _, p := range profiles {
		if p.RequiresInvestigation {
			return true
		}
	}
	return false
}
