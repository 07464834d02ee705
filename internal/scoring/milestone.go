package scoring

// Milestones are the celebratory momentum thresholds, ascending.
var Milestones = []int{25, 40, 50, 75, 100}

// DetectMilestone returns the lowest milestone m with previous < m <= current,
// or nil when the transition crossed none.
func DetectMilestone(previous, current float64) *int {
	for _, m := range Milestones {
		fm := float64(m)
		if previous < fm && fm <= current {
			hit := m
			return &hit
		}
	}
	return nil
}
