package cluster

import (
	"math"
	"slices"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/geo"
)

// minVariance keeps a component from collapsing onto a single point (m²).
const minVariance = 1.0

type component struct {
	x, y     float64
	variance float64
	weight   float64
}

// RefineGMM fits an isotropic Gaussian mixture to the clustered points,
// seeded with one component per density group, and reassigns every point to
// its most responsible component. Noise points are not part of groups and
// stay untouched. Components that end up empty are dropped.
func RefineGMM(points []orb.Point, groups [][]int, iterations int) [][]int {
	if len(groups) < 2 {
		return groups
	}

	var idx []int
	for _, g := range groups {
		idx = append(idx, g...)
	}
	slices.Sort(idx)

	members := make([]orb.Point, len(idx))
	for i, p := range idx {
		members[i] = points[p]
	}
	proj := geo.NewProjection(geo.Centroid(members))
	xs := make([]float64, len(idx))
	ys := make([]float64, len(idx))
	pos := make(map[int]int, len(idx))
	for i, p := range members {
		xs[i], ys[i] = proj.Forward(p)
		pos[idx[i]] = i
	}

	total := float64(len(idx))
	comps := make([]component, len(groups))
	for k, g := range groups {
		var c component
		for _, p := range g {
			c.x += xs[pos[p]]
			c.y += ys[pos[p]]
		}
		m := float64(len(g))
		c.x /= m
		c.y /= m
		var ss float64
		for _, p := range g {
			dx, dy := xs[pos[p]]-c.x, ys[pos[p]]-c.y
			ss += dx*dx + dy*dy
		}
		c.variance = math.Max(minVariance, ss/(2*m))
		c.weight = m / total
		comps[k] = c
	}

	resp := make([][]float64, len(idx))
	for i := range resp {
		resp[i] = make([]float64, len(comps))
	}

	for it := 0; it < iterations; it++ {
		expectation(xs, ys, comps, resp)
		maximization(xs, ys, comps, resp)
	}
	expectation(xs, ys, comps, resp)

	out := make([][]int, len(comps))
	for i, r := range resp {
		best := 0
		for k := 1; k < len(r); k++ {
			if r[k] > r[best] {
				best = k
			}
		}
		out[best] = append(out[best], idx[i])
	}
	return slices.DeleteFunc(out, func(g []int) bool { return len(g) == 0 })
}

func expectation(xs, ys []float64, comps []component, resp [][]float64) {
	logs := make([]float64, len(comps))
	for i := range xs {
		top := math.Inf(-1)
		for k, c := range comps {
			if c.weight <= 0 {
				logs[k] = math.Inf(-1)
				continue
			}
			dx, dy := xs[i]-c.x, ys[i]-c.y
			logs[k] = math.Log(c.weight) - math.Log(2*math.Pi*c.variance) - (dx*dx+dy*dy)/(2*c.variance)
			top = math.Max(top, logs[k])
		}
		var sum float64
		for k := range comps {
			resp[i][k] = math.Exp(logs[k] - top)
			sum += resp[i][k]
		}
		for k := range comps {
			resp[i][k] /= sum
		}
	}
}

func maximization(xs, ys []float64, comps []component, resp [][]float64) {
	total := float64(len(xs))
	for k := range comps {
		var nk, sx, sy float64
		for i := range xs {
			nk += resp[i][k]
			sx += resp[i][k] * xs[i]
			sy += resp[i][k] * ys[i]
		}
		if nk < 1e-9 {
			comps[k].weight = 0
			continue
		}
		c := component{x: sx / nk, y: sy / nk, weight: nk / total}
		var ss float64
		for i := range xs {
			dx, dy := xs[i]-c.x, ys[i]-c.y
			ss += resp[i][k] * (dx*dx + dy*dy)
		}
		c.variance = math.Max(minVariance, ss/(2*nk))
		comps[k] = c
	}
}
