package sentiment

import (
	"math"
	"regexp"
	"strings"
)

// tokenPattern matches runs of two or more letters, digits or underscores.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// vectorize returns the L2-normalised TF-IDF features of text as a sparse
// index -> weight map. Out-of-vocabulary terms are dropped.
func (m *Model) vectorize(text string) map[int]float64 {
	tokens := tokenize(text)
	counts := make(map[int]float64)

	for n := 1; n <= m.NGramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			term := strings.Join(tokens[i:i+n], " ")
			if idx, ok := m.Vocabulary[term]; ok {
				counts[idx]++
			}
		}
	}

	var norm float64
	for idx, tf := range counts {
		if m.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		w := tf * m.IDF[idx]
		counts[idx] = w
		norm += w * w
	}

	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range counts {
			counts[idx] /= norm
		}
	}
	return counts
}

// predict returns the positive-class probability for text.
func (m *Model) predict(text string) float64 {
	z := m.Bias
	for idx, x := range m.vectorize(text) {
		z += m.Weights[idx] * x
	}
	return 1 / (1 + math.Exp(-z))
}
