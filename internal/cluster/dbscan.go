package cluster

import "github.com/paulmach/orb"

const (
	unvisited = 0
	noise     = -1
)

// DBSCAN groups points whose eps-neighbourhoods chain together. It returns
// the member indices of each group in discovery order and the indices left
// as noise. Points are visited in slice order, so the result depends only
// on the input order.
func DBSCAN(points []orb.Point, eps float64, minPts int) (groups [][]int, noisy []int) {
	return dbscan(pairwise(points), eps, minPts)
}

func dbscan(dist [][]float64, eps float64, minPts int) ([][]int, []int) {
	n := len(dist)
	labels := make([]int, n)
	clusterID := 0

	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		neighbors := regionQuery(dist, i, eps)
		if len(neighbors) < minPts {
			labels[i] = noise
			continue
		}
		clusterID++
		expandCluster(dist, labels, i, neighbors, clusterID, eps, minPts)
	}

	groups := make([][]int, clusterID)
	var noisy []int
	for i, label := range labels {
		if label == noise {
			noisy = append(noisy, i)
			continue
		}
		groups[label-1] = append(groups[label-1], i)
	}
	return groups, noisy
}

// regionQuery returns every index within eps of i, including i itself.
func regionQuery(dist [][]float64, i int, eps float64) []int {
	var out []int
	for j, d := range dist[i] {
		if d <= eps {
			out = append(out, j)
		}
	}
	return out
}

func expandCluster(dist [][]float64, labels []int, seed int, neighbors []int, clusterID int, eps float64, minPts int) {
	labels[seed] = clusterID

	for j := 0; j < len(neighbors); j++ {
		idx := neighbors[j]
		if labels[idx] == noise {
			labels[idx] = clusterID // border point
		}
		if labels[idx] != unvisited {
			continue
		}
		labels[idx] = clusterID
		if more := regionQuery(dist, idx, eps); len(more) >= minPts {
			neighbors = append(neighbors, more...)
		}
	}
}
