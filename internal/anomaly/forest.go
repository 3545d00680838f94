package anomaly

import (
	"math"
	"math/rand/v2"
)

const eulerGamma = 0.5772156649015329

type node struct {
	feature     int
	split       float64
	left, right *node
	size        int
}

func (n *node) leaf() bool { return n.left == nil }

// Forest is an ensemble of random isolation trees.
type Forest struct {
	trees []*node
	psi   int
}

// Fit grows trees over data. Tree t draws from its own PCG stream keyed by
// (seed, t), so the forest depends only on data order and seed.
func Fit(data []Vector, trees, sampleSize int, seed uint64) *Forest {
	n := len(data)
	psi := min(sampleSize, n)
	f := &Forest{trees: make([]*node, trees), psi: psi}
	if n == 0 {
		return f
	}
	maxDepth := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	for t := range f.trees {
		rng := rand.New(rand.NewPCG(seed, uint64(t)))
		sample := make([]Vector, psi)
		if psi == n {
			copy(sample, data)
		} else {
			for i, idx := range rng.Perm(n)[:psi] {
				sample[i] = data[idx]
			}
		}
		f.trees[t] = grow(sample, 0, maxDepth, rng)
	}
	return f
}

func grow(points []Vector, depth, maxDepth int, rng *rand.Rand) *node {
	if len(points) <= 1 || depth >= maxDepth {
		return &node{size: len(points)}
	}

	var lo, hi Vector
	var candidates []int
	for f := 0; f < NumFeatures; f++ {
		lo[f], hi[f] = points[0][f], points[0][f]
		for _, p := range points[1:] {
			lo[f] = math.Min(lo[f], p[f])
			hi[f] = math.Max(hi[f], p[f])
		}
		if hi[f] > lo[f] {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &node{size: len(points)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right []Vector
	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return &node{
		feature: feature,
		split:   split,
		left:    grow(left, depth+1, maxDepth, rng),
		right:   grow(right, depth+1, maxDepth, rng),
	}
}

// PathLength returns the average isolation depth of x across all trees.
func (f *Forest) PathLength(x Vector) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, x)
	}
	return total / float64(len(f.trees))
}

func pathLength(n *node, x Vector) float64 {
	depth := 0
	for n != nil && !n.leaf() {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	if n == nil {
		return float64(depth)
	}
	return float64(depth) + averagePath(n.size)
}

// averagePath is the expected path length of an unsuccessful search in a
// binary search tree of n points.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n - 1)
	return 2*(math.Log(m)+eulerGamma) - 2*m/float64(n)
}

// ReferenceScore maps a path length onto the standard isolation score in
// (0,1], independent of the rest of the batch.
func (f *Forest) ReferenceScore(pathLength float64) float64 {
	c := averagePath(f.psi)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -pathLength/c)
}
