// Package anomaly scores claims with a seeded isolation forest, falling back
// to a median-distance heuristic on batches too small for stable trees.
package anomaly

import (
	"math"
	"sort"

	"github.com/brainsait/claimguard/internal/domain"
)

// Feature indexes.
const (
	FeatureLogAmount = iota
	FeatureComplexity
	FeatureWeekday
	FeaturePhysicianDayCount
	FeatureHistoricalRatio

	NumFeatures
)

// Vector is the numeric description of one claim.
type Vector [NumFeatures]float64

// Features builds one vector per claim, in the order of claims.
func Features(claims []domain.Claim, historical []domain.HistoricalClaim) []Vector {
	type physicianDay struct {
		physician string
		date      string
	}
	dayCounts := make(map[physicianDay]int)
	for i := range claims {
		dayCounts[physicianDay{claims[i].PhysicianID, claims[i].DateKey()}]++
	}
	means := ServiceMeans(historical)

	out := make([]Vector, len(claims))
	for i := range claims {
		c := &claims[i]
		ratio := 1.0
		if m, ok := means[c.ServiceCode]; ok && m > 0 {
			ratio = c.BilledAmount / m
		}
		out[i] = Vector{
			FeatureLogAmount:         math.Log1p(math.Max(c.BilledAmount, 0)),
			FeatureComplexity:        float64(c.Complexity.Ordinal()),
			FeatureWeekday:           float64(c.ServiceDate.Weekday()),
			FeaturePhysicianDayCount: float64(dayCounts[physicianDay{c.PhysicianID, c.DateKey()}]),
			FeatureHistoricalRatio:   ratio,
		}
	}
	return out
}

// ServiceMeans returns the mean historical billed amount per service code.
func ServiceMeans(historical []domain.HistoricalClaim) map[string]float64 {
	amounts := make(map[string][]float64)
	for i := range historical {
		h := &historical[i]
		amounts[h.ServiceCode] = append(amounts[h.ServiceCode], h.BilledAmount)
	}
	means := make(map[string]float64, len(amounts))
	for svc, xs := range amounts {
		sort.Float64s(xs)
		var sum float64
		for _, x := range xs {
			sum += x
		}
		means[svc] = sum / float64(len(xs))
	}
	return means
}
