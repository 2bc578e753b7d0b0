package model

// DiscoveryReport summarizes one clustering run for an event.
type DiscoveryReport struct {
	EventID         string  `json:"event_id"`
	CheckinsRead    int     `json:"checkins_read"`
	Epsilon         float64 `json:"epsilon_m"`
	ClustersFound   int     `json:"clusters_found"`
	GatesCreated    int     `json:"gates_created"`
	GatesUpdated    int     `json:"gates_updated"`
	BindingsCreated int     `json:"bindings_created"`
	BindingsUpdated int     `json:"bindings_updated"`
	CheckinsLinked  int     `json:"checkins_linked"`
	NoisePoints     int     `json:"noise_points"`
	Virtual         bool    `json:"virtual,omitempty"`
	// Deferred counts virtual gates held back by the creation cooldown.
	Deferred int `json:"deferred,omitempty"`
	// Skipped carries the reason a run was a no-op (insufficient data,
	// virtual-gate cooldown). Empty when the run did work.
	Skipped string `json:"skipped,omitempty"`
}

// DeduplicationReport summarizes one deduplication run for an event.
type DeduplicationReport struct {
	EventID          string           `json:"event_id"`
	VenueThreshold   float64          `json:"venue_threshold_m"`
	ClustersFound    int              `json:"clusters_found"`
	GatesDeleted     int              `json:"gates_deleted"`
	CheckinsRelinked int              `json:"checkins_relinked"`
	Recommendations  []Recommendation `json:"recommendations,omitempty"`
}

// Recommendation is the post-merge re-verification result for one merged
// binding. It is advisory: merges never change status on their own.
type Recommendation struct {
	GateID               string        `json:"gate_id"`
	Category             string        `json:"category"`
	TotalSampleCount     int           `json:"total_sample_count"`
	HighestConfidence    float64       `json:"highest_confidence"`
	QualifiesForBinding  bool          `json:"qualifies_for_binding"`
	QualifiesForEnforced bool          `json:"qualifies_for_enforced"`
	CurrentStatus        BindingStatus `json:"current_status"`
	RecommendedStatus    BindingStatus `json:"recommended_status"`
}

// IsPromotion reports whether applying the recommendation raises the status.
func (r Recommendation) IsPromotion() bool {
	return r.RecommendedStatus > r.CurrentStatus
}
