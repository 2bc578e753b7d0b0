package cluster

import "fmt"

// Config controls epsilon learning and density clustering.
type Config struct {
	// K is the neighbour rank used for the k-distance curve.
	K int `toml:"k"`
	// MinPts is the DBSCAN core-point threshold, counting the point itself.
	MinPts int `toml:"min_pts"`
	// MinClusterSize is the member count a cluster needs before it may
	// create or update a gate. Smaller clusters stay queued.
	MinClusterSize int `toml:"min_cluster_size"`
	// ColdStartMinimum is the number of usable check-ins needed to run at all.
	ColdStartMinimum int `toml:"cold_start_minimum"`

	MinEpsilon float64 `toml:"min_epsilon_m"`
	MaxEpsilon float64 `toml:"max_epsilon_m"`
	// MinGapRatio is how much longer the shortest inter-group spanning edge
	// must be than the longest intra-group one before it widens epsilon.
	MinGapRatio float64 `toml:"min_gap_ratio"`

	// MaxAccuracyMeters drops check-ins with a worse reported accuracy.
	// Zero disables the filter.
	MaxAccuracyMeters float64 `toml:"max_accuracy_m"`

	RefineGMM     bool `toml:"refine_gmm"`
	GMMIterations int  `toml:"gmm_iterations"`
}

// DefaultConfig returns the built-in clustering parameters.
func DefaultConfig() Config {
	return Config{
		K:                 4,
		MinPts:            4,
		MinClusterSize:    10,
		ColdStartMinimum:  20,
		MinEpsilon:        2,
		MaxEpsilon:        150,
		MinGapRatio:       2,
		MaxAccuracyMeters: 100,
		GMMIterations:     25,
	}
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	switch {
	case c.K < 1:
		return fmt.Errorf("k must be at least 1, got %d", c.K)
	case c.MinPts < 1:
		return fmt.Errorf("min_pts must be at least 1, got %d", c.MinPts)
	case c.MinClusterSize < 1:
		return fmt.Errorf("min_cluster_size must be at least 1, got %d", c.MinClusterSize)
	case c.ColdStartMinimum <= c.K:
		return fmt.Errorf("cold_start_minimum (%d) must exceed k (%d)", c.ColdStartMinimum, c.K)
	case c.MinEpsilon <= 0 || c.MaxEpsilon < c.MinEpsilon:
		return fmt.Errorf("epsilon bounds [%v, %v] are invalid", c.MinEpsilon, c.MaxEpsilon)
	case c.MinGapRatio <= 1:
		return fmt.Errorf("min_gap_ratio must exceed 1, got %v", c.MinGapRatio)
	case c.MaxAccuracyMeters < 0:
		return fmt.Errorf("max_accuracy_m must not be negative, got %v", c.MaxAccuracyMeters)
	case c.RefineGMM && c.GMMIterations < 1:
		return fmt.Errorf("gmm_iterations must be at least 1 when refine_gmm is set")
	}
	return nil
}
