package engine

// ConclusionDecider makes the per-turn probabilistic conclusion draw.
type ConclusionDecider struct {
	rand Rand
}

func NewConclusionDecider(r Rand) *ConclusionDecider {
	if r == nil {
		r = DefaultRand()
	}
	return &ConclusionDecider{rand: r}
}

// Probability returns the chance that a turn ending at tension in stage
// concludes the scenario. Extreme tension wins over stage.
func Probability(tension, stage int) float64 {
	switch {
	case tension <= 10:
		return 0.8
	case tension >= 90:
		return 0.9
	case stage >= 4:
		return 0.3 * float64(stage-3)
	default:
		return 0.1
	}
}

// IsConcluded draws once against Probability.
func (d *ConclusionDecider) IsConcluded(tension, stage int) bool {
	return d.rand.Float64() < Probability(tension, stage)
}
