// Package detector implements the batch fraud-pattern detectors. Every
// detector is a pure function of its Input.
package detector

import (
	"sort"
	"time"

	"github.com/brainsait/claimguard/internal/catalog"
	"github.com/brainsait/claimguard/internal/domain"
)

// Input is the read-only batch context shared by all detectors.
type Input struct {
	// Claims sorted by id
	Claims     []domain.Claim
	Historical []domain.HistoricalClaim
	Schedules  domain.FacilitySchedule
	AsOf       time.Time
}

// Detector finds one fraud pattern across a batch.
type Detector interface {
	Name() string
	Detect(in *Input) []domain.FraudAlert
}

// Standard returns the four batch detectors in report order.
func Standard(cfg domain.EngineConfig, cat *catalog.Catalog) []Detector {
	return []Detector{
		NewDuplicate(),
		NewUnbundling(cat.Bundles()),
		NewUpcoding(cfg.Upcoding, cat),
		NewPhantom(cfg.Phantom),
	}
}

// NewAlert builds an alert with sorted, de-duplicated evidence and a stable id.
func NewAlert(typ domain.AlertType, sev domain.AlertSeverity, physicianID string, claimIDs []string, description string, at time.Time) domain.FraudAlert {
	ids := make([]string, 0, len(claimIDs))
	seen := make(map[string]struct{}, len(claimIDs))
	for _, id := range claimIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := append([]string{string(typ), string(sev), physicianID, description}, ids...)
	return domain.FraudAlert{
		ID:          domain.StableID(parts...),
		Type:        typ,
		Severity:    sev,
		PhysicianID: physicianID,
		ClaimIDs:    ids,
		Description: description,
		DetectedAt:  at,
	}
}

// groupBy buckets claims by key, returning the keys in first-seen order.
func groupBy[K comparable](claims []domain.Claim, key func(*domain.Claim) K) ([]K, map[K][]*domain.Claim) {
	var order []K
	groups := make(map[K][]*domain.Claim)
	for i := range claims {
		c := &claims[i]
		k := key(c)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}
	return order, groups
}

func claimIDs(claims []*domain.Claim) []string {
	ids := make([]string, len(claims))
	for i, c := range claims {
		ids[i] = c.ID
	}
	return ids
}
