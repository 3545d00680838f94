package anomaly

import (
	"math"
	"sort"

	"github.com/brainsait/claimguard/internal/domain"
)

// Scoring methods recorded in report metadata.
const (
	MethodIsolationForest = "isolation_forest"
	MethodMedianDistance  = "median_distance"
)

// ForEach runs fn for i in [0,n). Implementations may run calls concurrently.
type ForEach func(n int, fn func(i int))

func sequential(n int, fn func(i int)) {
	for i := 0; i < n; i++ {
		fn(i)
	}
}

// Scorer turns feature vectors into anomaly scores in [0,100].
type Scorer struct {
	cfg domain.AnomalyConfig
}

// NewScorer creates a scorer.
func NewScorer(cfg domain.AnomalyConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Result holds one score per input vector.
type Result struct {
	Scores []float64
	Method string
}

// Score scores a batch. vectors and amounts are parallel slices in a stable
// order. Batches below the configured minimum use the median-distance
// fallback on amounts.
func (s *Scorer) Score(vectors []Vector, amounts []float64, each ForEach) Result {
	if each == nil {
		each = sequential
	}
	n := len(vectors)
	if n < s.cfg.MinBatchSize {
		return Result{Scores: MedianDistance(amounts), Method: MethodMedianDistance}
	}

	forest := Fit(vectors, s.cfg.Trees, s.cfg.SampleSize, s.cfg.Seed)
	raw := make([]float64, n)
	each(n, func(i int) {
		raw[i] = forest.PathLength(vectors[i])
	})

	var scores []float64
	if s.cfg.Normalization == domain.NormalizeReference {
		scores = make([]float64, n)
		for i, r := range raw {
			scores[i] = finish(100 * forest.ReferenceScore(r))
		}
	} else {
		scores = MinMax(raw)
	}
	return Result{Scores: scores, Method: MethodIsolationForest}
}

// MinMax maps path lengths onto [0,100], shortest path scoring highest.
// A batch where every path is equal scores 0 throughout.
func MinMax(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	lo, hi := raw[0], raw[0]
	for _, r := range raw[1:] {
		lo = math.Min(lo, r)
		hi = math.Max(hi, r)
	}
	if hi == lo {
		return out
	}
	for i, r := range raw {
		out[i] = finish(100 * (hi - r) / (hi - lo))
	}
	return out
}

// MedianDistance scores each amount by its relative distance from the batch
// median: 100 * (1 - exp(-|a-m|/m)).
func MedianDistance(amounts []float64) []float64 {
	out := make([]float64, len(amounts))
	if len(amounts) == 0 {
		return out
	}
	m := Median(amounts)
	for i, a := range amounts {
		d := math.Abs(a - m)
		switch {
		case d == 0:
			out[i] = 0
		case m <= 0:
			out[i] = 100
		default:
			out[i] = finish(100 * (1 - math.Exp(-d/m)))
		}
	}
	return out
}

// Median returns the median of xs without modifying it.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// finish clamps to [0,100] and rounds to two decimals.
func finish(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(0, math.Min(100, v))
	return math.Round(v*100) / 100
}
