// Package cluster turns unlinked check-ins into spatial clusters using a
// neighbourhood radius learned from the check-ins themselves.
package cluster

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/paulmach/orb"

	"github.com/alfredjeanlab/gatekeep/internal/geo"
	"github.com/alfredjeanlab/gatekeep/internal/model"
)

// Cluster is a group of check-ins judged to come from one entry point.
type Cluster struct {
	Members  []*model.Checkin
	Centroid orb.Point
	Epsilon  float64
}

// Points returns the member locations.
func (c *Cluster) Points() []orb.Point {
	out := make([]orb.Point, len(c.Members))
	for i, m := range c.Members {
		out[i] = m.Point()
	}
	return out
}

// CategoryCount is the number of cluster members of one wristband category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// CategoryDistribution returns member counts per category, largest first,
// ties broken by category name.
func (c *Cluster) CategoryDistribution() []CategoryCount {
	counts := make(map[string]int)
	for _, m := range c.Members {
		counts[m.Category]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for cat, n := range counts {
		out = append(out, CategoryCount{Category: cat, Count: n})
	}
	slices.SortFunc(out, func(a, b CategoryCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return out
}

// DominantCategory returns the most frequent category, or "" when empty.
func (c *Cluster) DominantCategory() string {
	dist := c.CategoryDistribution()
	if len(dist) == 0 {
		return ""
	}
	return dist[0].Category
}

// Result is the outcome of one clustering pass.
type Result struct {
	Epsilon  float64
	Clusters []Cluster
	// Noise holds usable check-ins that did not reach a cluster of
	// MinClusterSize. They stay unlinked for a later run.
	Noise []*model.Checkin
	// Rejected holds check-ins without coordinates or with poor accuracy.
	Rejected []*model.Checkin
}

// Filter orders check-ins by (timestamp, id) and splits them into those
// usable for clustering and those rejected for missing or inaccurate
// coordinates.
func Filter(checkins []*model.Checkin, maxAccuracy float64) (usable, rejected []*model.Checkin) {
	sorted := slices.Clone(checkins)
	slices.SortStableFunc(sorted, compareCheckins)
	for _, c := range sorted {
		if !c.HasLocation() || (maxAccuracy > 0 && c.AccuracyM != nil && *c.AccuracyM > maxAccuracy) {
			rejected = append(rejected, c)
			continue
		}
		usable = append(usable, c)
	}
	return usable, rejected
}

func compareCheckins(a, b *model.Checkin) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Run clusters checkins. The same set of check-ins always yields the same
// epsilon and the same clusters regardless of the order they are passed in.
// It returns model.ErrInsufficientData when fewer than ColdStartMinimum
// check-ins are usable; the partial Result still lists what was rejected.
func Run(checkins []*model.Checkin, cfg Config) (Result, error) {
	usable, rejected := Filter(checkins, cfg.MaxAccuracyMeters)
	res := Result{Rejected: rejected}
	if len(usable) < cfg.ColdStartMinimum {
		res.Noise = usable
		return res, fmt.Errorf("%d usable check-ins, need %d: %w",
			len(usable), cfg.ColdStartMinimum, model.ErrInsufficientData)
	}

	points := make([]orb.Point, len(usable))
	for i, c := range usable {
		points[i] = c.Point()
	}
	dist := pairwise(points)
	res.Epsilon = learnEpsilon(dist, cfg)

	groups, noisy := dbscan(dist, res.Epsilon, cfg.MinPts)
	if cfg.RefineGMM {
		groups = RefineGMM(points, groups, cfg.GMMIterations)
	}

	for _, g := range groups {
		if len(g) < cfg.MinClusterSize {
			noisy = append(noisy, g...)
			continue
		}
		slices.Sort(g)
		members := make([]*model.Checkin, len(g))
		memberPoints := make([]orb.Point, len(g))
		for i, idx := range g {
			members[i] = usable[idx]
			memberPoints[i] = points[idx]
		}
		res.Clusters = append(res.Clusters, Cluster{
			Members:  members,
			Centroid: geo.Centroid(memberPoints),
			Epsilon:  res.Epsilon,
		})
	}

	slices.SortFunc(res.Clusters, func(a, b Cluster) int {
		if c := cmp.Compare(a.Centroid.Lon(), b.Centroid.Lon()); c != 0 {
			return c
		}
		return cmp.Compare(a.Centroid.Lat(), b.Centroid.Lat())
	})

	slices.Sort(noisy)
	for _, idx := range noisy {
		res.Noise = append(res.Noise, usable[idx])
	}
	return res, nil
}
