package scoring

import "github.com/thebtf/momentum/pkg/models"

// ScoreDrill counts answers whose chosen option is optimal. Helpful and
// negative picks score nothing, and an index outside a scenario's options
// scores nothing. Pairs beyond the shorter slice are ignored.
func ScoreDrill(scenarios []models.DrillScenario, answers []int) int {
	score := 0
	for i := 0; i < len(scenarios) && i < len(answers); i++ {
		opts := scenarios[i].Options
		idx := answers[i]
		if idx < 0 || idx >= len(opts) {
			continue
		}
		if opts[idx].Category == models.CategoryOptimal {
			score++
		}
	}
	return score
}
