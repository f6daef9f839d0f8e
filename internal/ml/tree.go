package ml

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one node of a regression tree, stored flat so trees serialize to
// JSON without recursion. Leaf nodes carry Value; internal nodes route on
// Feature <= Threshold to Left, else Right.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a CART regression tree grown by variance reduction.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

type TreeConfig struct {
	MaxDepth int
	MinLeaf  int

	// FeatureSample in (0,1] subsamples candidate split features per node.
	FeatureSample float64
}

// FitTree grows a tree on the rows listed in idx. X is row-major; y is the
// (possibly pseudo-residual) target.
func FitTree(X [][]float64, y []float64, idx []int, cfg TreeConfig, rng *rand.Rand) *Tree {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 4
	}
	if cfg.MinLeaf <= 0 {
		cfg.MinLeaf = 5
	}
	if cfg.FeatureSample <= 0 || cfg.FeatureSample > 1 {
		cfg.FeatureSample = 1
	}
	t := &Tree{}
	t.grow(X, y, idx, cfg, rng, 0)
	return t
}

func (t *Tree) grow(X [][]float64, y []float64, idx []int, cfg TreeConfig, rng *rand.Rand, depth int) int {
	nodeID := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{})

	if depth >= cfg.MaxDepth || len(idx) < 2*cfg.MinLeaf {
		t.Nodes[nodeID] = Node{Leaf: true, Value: mean(y, idx)}
		return nodeID
	}

	feature, threshold, ok := bestSplit(X, y, idx, cfg, rng)
	if !ok {
		t.Nodes[nodeID] = Node{Leaf: true, Value: mean(y, idx)}
		return nodeID
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < cfg.MinLeaf || len(right) < cfg.MinLeaf {
		t.Nodes[nodeID] = Node{Leaf: true, Value: mean(y, idx)}
		return nodeID
	}

	l := t.grow(X, y, left, cfg, rng, depth+1)
	r := t.grow(X, y, right, cfg, rng, depth+1)
	t.Nodes[nodeID] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return nodeID
}

// bestSplit scans sampled features for the variance-reducing split with the
// lowest weighted sum of squared errors.
func bestSplit(X [][]float64, y []float64, idx []int, cfg TreeConfig, rng *rand.Rand) (int, float64, bool) {
	nFeatures := len(X[idx[0]])
	features := sampleFeatures(nFeatures, cfg.FeatureSample, rng)

	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	for _, f := range features {
		// Candidate thresholds from the sorted unique values of this
		// feature; midpoints between adjacent distinct values.
		vals := make([]float64, len(idx))
		for i, row := range idx {
			vals[i] = X[row][f]
		}
		sort.Float64s(vals)

		for i := 1; i < len(vals); i++ {
			if vals[i] == vals[i-1] {
				continue
			}
			threshold := (vals[i] + vals[i-1]) / 2

			var sumL, sumR, sqL, sqR float64
			var nL, nR int
			for _, row := range idx {
				v := y[row]
				if X[row][f] <= threshold {
					sumL += v
					sqL += v * v
					nL++
				} else {
					sumR += v
					sqR += v * v
					nR++
				}
			}
			if nL < cfg.MinLeaf || nR < cfg.MinLeaf {
				continue
			}
			score := (sqL - sumL*sumL/float64(nL)) + (sqR - sumR*sumR/float64(nR))
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = threshold
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

// Predict routes x down the tree to a leaf value.
func (t *Tree) Predict(x []float64) float64 {
	if len(t.Nodes) == 0 {
		return 0
	}
	n := t.Nodes[0]
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

func sampleFeatures(n int, frac float64, rng *rand.Rand) []int {
	k := int(math.Ceil(frac * float64(n)))
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return rng.Perm(n)[:k]
}

func mean(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}
