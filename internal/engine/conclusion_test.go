package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbability(t *testing.T) {
	tests := []struct {
		tension, stage int
		want           float64
	}{
		{0, 0, 0.8},
		{10, 7, 0.8},
		{90, 0, 0.9},
		{100, 9, 0.9},
		{50, 0, 0.1},
		{50, 3, 0.1},
		{50, 4, 0.3},
		{50, 5, 0.6},
		{11, 6, 0.9},
		{89, 2, 0.1},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, Probability(tt.tension, tt.stage), 1e-9,
			"tension=%d stage=%d", tt.tension, tt.stage)
	}
}

func TestConclusionDecider_Draw(t *testing.T) {
	assert.True(t, NewConclusionDecider(fixedRand{uniform: 0.79}).IsConcluded(5, 0))
	assert.False(t, NewConclusionDecider(fixedRand{uniform: 0.8}).IsConcluded(5, 0))
	assert.True(t, NewConclusionDecider(fixedRand{uniform: 0.05}).IsConcluded(50, 1))
	assert.False(t, NewConclusionDecider(fixedRand{uniform: 0.5}).IsConcluded(50, 1))
}

func TestConclusionDecider_Proportions(t *testing.T) {
	const trials = 20000
	tests := []struct {
		name           string
		tension, stage int
		want           float64
	}{
		{"low tension", 5, 0, 0.8},
		{"high tension", 95, 0, 0.9},
		{"mid tension early stage", 50, 2, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewConclusionDecider(NewSeededRand(2024))
			hits := 0
			for i := 0; i < trials; i++ {
				if d.IsConcluded(tt.tension, tt.stage) {
					hits++
				}
			}
			assert.InDelta(t, tt.want, float64(hits)/trials, 0.02)
		})
	}
}
