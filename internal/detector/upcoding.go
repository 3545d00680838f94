package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/brainsait/claimguard/internal/domain"
)

// BaselineKey identifies a historical billing baseline.
type BaselineKey struct {
	ServiceCode string
	Complexity  domain.ComplexityLevel
}

// Baseline is the billed-amount distribution of one key.
type Baseline struct {
	Mean   float64
	StdDev float64
	N      int
}

// BuildBaselines computes mean and sample standard deviation per
// (service_code, complexity). Amounts are summed in sorted order so the
// result does not depend on input order.
func BuildBaselines(historical []domain.HistoricalClaim) map[BaselineKey]Baseline {
	amounts := make(map[BaselineKey][]float64)
	for i := range historical {
		h := &historical[i]
		k := BaselineKey{ServiceCode: h.ServiceCode, Complexity: h.Complexity}
		amounts[k] = append(amounts[k], h.BilledAmount)
	}

	out := make(map[BaselineKey]Baseline, len(amounts))
	for k, xs := range amounts {
		sort.Float64s(xs)
		out[k] = describe(xs)
	}
	return out
}

func describe(xs []float64) Baseline {
	n := len(xs)
	b := Baseline{N: n}
	if n == 0 {
		return b
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	b.Mean = sum / float64(n)
	if n < 2 {
		return b
	}
	var ss float64
	for _, x := range xs {
		d := x - b.Mean
		ss += d * d
	}
	b.StdDev = math.Sqrt(ss / float64(n-1))
	return b
}

// Justifier reports whether a claim's diagnoses justify above-baseline billing.
type Justifier interface {
	Justified(serviceCode string, diagnosisCodes []string) bool
}

// Upcoding flags claims billed far above the historical baseline for their
// service code and declared complexity, and physicians whose share of
// HIGH-complexity billing jumps against their own history.
type Upcoding struct {
	threshold     float64
	minSamples    int
	mixFactor     float64
	mixMinHistory int
	justifier     Justifier
}

// NewUpcoding creates the detector. justifier may be nil.
func NewUpcoding(cfg domain.UpcodingConfig, justifier Justifier) *Upcoding {
	return &Upcoding{
		threshold:     cfg.ZThreshold,
		minSamples:    cfg.MinSamples,
		mixFactor:     cfg.MixFactor,
		mixMinHistory: cfg.MixMinHistory,
		justifier:     justifier,
	}
}

// Name implements Detector.
func (u *Upcoding) Name() string { return "upcoding" }

// Detect emits one MEDIUM alert per claim whose z-score exceeds the
// threshold, then one MEDIUM alert per physician whose complexity mix
// shifted. Baselines with too few samples or zero variance are skipped.
func (u *Upcoding) Detect(in *Input) []domain.FraudAlert {
	if len(in.Historical) == 0 {
		return nil
	}
	alerts := u.outliers(in)
	if u.mixFactor > 0 {
		alerts = append(alerts, u.mixShifts(in)...)
	}
	return alerts
}

func (u *Upcoding) outliers(in *Input) []domain.FraudAlert {
	baselines := BuildBaselines(in.Historical)

	var alerts []domain.FraudAlert
	for i := range in.Claims {
		c := &in.Claims[i]
		b, ok := baselines[BaselineKey{ServiceCode: c.ServiceCode, Complexity: c.Complexity}]
		if !ok || b.N < u.minSamples || b.StdDev == 0 {
			continue
		}
		z := (c.BilledAmount - b.Mean) / b.StdDev
		if z <= u.threshold {
			continue
		}
		if u.justifier != nil && u.justifier.Justified(c.ServiceCode, c.DiagnosisCodes) {
			continue
		}
		desc := fmt.Sprintf("billed %.2f is %.2f standard deviations above the %s/%s baseline (mean %.2f, n=%d)",
			c.BilledAmount, z, c.ServiceCode, c.Complexity, b.Mean, b.N)
		alerts = append(alerts, NewAlert(domain.AlertUpcoding, domain.SeverityMedium, c.PhysicianID, []string{c.ID}, desc, in.AsOf))
	}
	return alerts
}

// ComplexityMix counts one physician's claims and how many of them were
// billed at HIGH complexity.
type ComplexityMix struct {
	Total int
	High  int
}

// Share is the HIGH-complexity fraction, 0 for an empty mix.
func (m ComplexityMix) Share() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.High) / float64(m.Total)
}

// HistoricalMix returns each physician's complexity mix over historical.
func HistoricalMix(historical []domain.HistoricalClaim) map[string]ComplexityMix {
	out := make(map[string]ComplexityMix)
	for i := range historical {
		h := &historical[i]
		m := out[h.PhysicianID]
		m.Total++
		if h.Complexity == domain.ComplexityHigh {
			m.High++
		}
		out[h.PhysicianID] = m
	}
	return out
}

// mixShifts compares each physician's HIGH share in the batch with their
// historical share. Physicians with fewer than mixMinHistory historical
// claims are not judged.
func (u *Upcoding) mixShifts(in *Input) []domain.FraudAlert {
	history := HistoricalMix(in.Historical)
	physicians, byPhysician := groupBy(in.Claims, func(c *domain.Claim) string { return c.PhysicianID })

	var alerts []domain.FraudAlert
	for _, id := range physicians {
		past, ok := history[id]
		if !ok || past.Total < u.mixMinHistory {
			continue
		}

		var current ComplexityMix
		var high []string
		for _, c := range byPhysician[id] {
			current.Total++
			if c.Complexity == domain.ComplexityHigh {
				current.High++
				high = append(high, c.ID)
			}
		}
		if current.High == 0 || current.Share() <= past.Share()*u.mixFactor {
			continue
		}

		desc := fmt.Sprintf("high-complexity share rose to %.2f from a historical %.2f (%d of %d past claims)",
			current.Share(), past.Share(), past.High, past.Total)
		alerts = append(alerts, NewAlert(domain.AlertUpcoding, domain.SeverityMedium, id, high, desc, in.AsOf))
	}
	return alerts
}
