package cluster

import (
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// LearnEpsilon derives the neighbourhood radius for points from their own
// spacing.
//
// The k-distance curve gives a first estimate: the value just below its
// largest successive jump. That estimate only reflects how tight a single
// gate's scans are, so it is widened to the midpoint of the most pronounced
// gap in the minimum spanning tree edge lengths when one exists. The gap
// separates edges inside a gate from edges between gates, which is what
// makes the radius track the venue: tightly packed gates yield a small
// radius, far apart gates a large one.
func LearnEpsilon(points []orb.Point, cfg Config) (float64, error) {
	if len(points) <= cfg.K {
		return 0, fmt.Errorf("need more than %d points to learn epsilon, got %d: %w",
			cfg.K, len(points), model.ErrInsufficientData)
	}
	return learnEpsilon(pairwise(points), cfg), nil
}

func learnEpsilon(dist [][]float64, cfg Config) float64 {
	eps := kneeEpsilon(kDistances(dist, cfg.K))
	if gap, ok := gapEpsilon(spanningEdges(dist), cfg.MinEpsilon, cfg.MinGapRatio); ok {
		eps = math.Max(eps, gap)
	}
	return math.Min(cfg.MaxEpsilon, math.Max(cfg.MinEpsilon, eps))
}

// pairwise returns the symmetric distance matrix of points in metres.
func pairwise(points []orb.Point) [][]float64 {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := geo.Distance(points[i], points[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// kDistances returns, for each point, the distance to its k-th nearest
// other point. Points with fewer than k neighbours use the farthest one.
func kDistances(dist [][]float64, k int) []float64 {
	out := make([]float64, len(dist))
	row := make([]float64, 0, len(dist))
	for i := range dist {
		row = row[:0]
		for j, d := range dist[i] {
			if j != i {
				row = append(row, d)
			}
		}
		if len(row) == 0 {
			continue
		}
		slices.Sort(row)
		out[i] = row[min(k, len(row))-1]
	}
	return out
}

// kneeEpsilon sorts the k-distances and returns the value on the low side of
// the largest successive jump. Ties keep the first jump.
func kneeEpsilon(kd []float64) float64 {
	if len(kd) == 0 {
		return 0
	}
	sorted := slices.Clone(kd)
	slices.Sort(sorted)

	knee := sorted[len(sorted)-1]
	best := 0.0
	for i := 1; i < len(sorted); i++ {
		if jump := sorted[i] - sorted[i-1]; jump > best {
			best = jump
			knee = sorted[i-1]
		}
	}
	return knee
}

// spanningEdges returns the edge lengths of the minimum spanning tree over
// dist (Prim), sorted ascending. These are the single-linkage merge heights.
func spanningEdges(dist [][]float64) []float64 {
	n := len(dist)
	if n < 2 {
		return nil
	}
	inTree := make([]bool, n)
	best := make([]float64, n)
	for i := range best {
		best[i] = math.Inf(1)
	}
	best[0] = 0

	edges := make([]float64, 0, n-1)
	for step := 0; step < n; step++ {
		u := -1
		for v := 0; v < n; v++ {
			if !inTree[v] && (u == -1 || best[v] < best[u]) {
				u = v
			}
		}
		inTree[u] = true
		if step > 0 {
			edges = append(edges, best[u])
		}
		for v := 0; v < n; v++ {
			if !inTree[v] && dist[u][v] < best[v] {
				best[v] = dist[u][v]
			}
		}
	}
	slices.Sort(edges)
	return edges
}

// gapEpsilon finds the successive pair of sorted edge lengths with the
// largest ratio, damped by floor so sub-metre jitter cannot dominate, and
// returns the midpoint of that pair. ok is false when no ratio reaches
// minRatio, which is the single-gate case.
func gapEpsilon(edges []float64, floor, minRatio float64) (eps float64, ok bool) {
	bestRatio := minRatio
	for i := 1; i < len(edges); i++ {
		r := (edges[i] + floor) / (edges[i-1] + floor)
		if r > bestRatio {
			bestRatio = r
			eps = (edges[i] + edges[i-1]) / 2
			ok = true
		}
	}
	return eps, ok
}
