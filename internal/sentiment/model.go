// Package sentiment scores free text on a [-1, 1] scale with a TF-IDF
// vectorizer feeding a single logistic output unit. Model artifacts are
// plain YAML (or JSON) files produced by the offline training job.
package sentiment

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrModelUnavailable = errors.New("sentiment model unavailable")
	ErrInvalidModel     = errors.New("invalid sentiment model")
)

// Model holds the fitted vectorizer state and classifier weights.
type Model struct {
	// Vocabulary maps a term (or space-joined n-gram) to its feature index.
	Vocabulary map[string]int `yaml:"vocabulary" json:"vocabulary"`

	// IDF holds one inverse-document-frequency weight per feature.
	IDF []float64 `yaml:"idf" json:"idf"`

	// Weights and Bias define the logistic output unit.
	Weights []float64 `yaml:"weights" json:"weights"`
	Bias    float64   `yaml:"bias" json:"bias"`

	// SublinearTF replaces raw counts with 1 + ln(tf).
	SublinearTF bool `yaml:"sublinear_tf" json:"sublinear_tf"`

	// NGramMax is the largest n-gram order in the vocabulary (default 1).
	NGramMax int `yaml:"ngram_max" json:"ngram_max"`
}

// LoadModel reads and validates a model artifact from disk.
func LoadModel(path string) (*Model, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no model path configured", ErrModelUnavailable)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	model, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return model, nil
}

// ParseModel decodes a model artifact. JSON artifacts are accepted since
// JSON is valid YAML.
func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if m.NGramMax < 1 {
		m.NGramMax = 1
	}
	return &m, nil
}

func (m *Model) validate() error {
	if len(m.Vocabulary) == 0 {
		return fmt.Errorf("%w: empty vocabulary", ErrInvalidModel)
	}
	if len(m.IDF) != len(m.Weights) {
		return fmt.Errorf("%w: %d idf weights for %d classifier weights", ErrInvalidModel, len(m.IDF), len(m.Weights))
	}
	for term, idx := range m.Vocabulary {
		if idx < 0 || idx >= len(m.Weights) {
			return fmt.Errorf("%w: term %q has out-of-range index %d", ErrInvalidModel, term, idx)
		}
	}
	return nil
}
