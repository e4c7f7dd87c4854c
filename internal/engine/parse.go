package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// This file holds the parsers for free-form LLM output. Each parser accepts
// any string and degrades to documented defaults; none of them fail.
//
// Structured draft grammar (conflict KALKI and role-play evaluation):
//
//	EMPATHY: <int>
//	DIPLOMATIC_SKILL: <int>
//	HISTORICAL_ACCURACY: <int>
//	ETHICAL_BALANCE: <int>
//
// Labels are matched case-insensitively, "_" may be a space, and markdown
// emphasis around the number is tolerated. Missing labels take
// Category.Default().
//
// Analysis grammar (results aggregation): for each category title, the 200
// characters following the title are searched for "<n>/<max>", then for
// "score:|rating:|points: <n>". Missing values are 0. Values are capped at
// the category maximum.

const analysisWindow = 200

// NoFeedback is the feedback text used when none could be extracted.
const NoFeedback = "No specific feedback available."

var (
	draftPatterns      = map[Category]*regexp.Regexp{}
	analysisPatterns   = map[Category]*regexp.Regexp{}
	titlePatterns      = map[Category]*regexp.Regexp{}
	labelledScore      = regexp.MustCompile(`(?i)(?:score|rating|points)\s*:\s*(\d{1,3})`)
	fractionScore      = regexp.MustCompile(`\b\d{1,3}\s*/\s*\d{1,3}\b`)
	listMarker         = regexp.MustCompile(`^(?:\d+[.)]|[*\-•])\s*`)
	draftLineLabel     = regexp.MustCompile(`(?i)^\W*(?:EMPATHY|DIPLOMATIC[_ ]SKILL|HISTORICAL[_ ]ACCURACY|ETHICAL[_ ]BALANCE)\W*:`)
	trailingScoreRange = regexp.MustCompile(`^\s*(?:/\s*\d+)?\**\s*[-:.)]?\s*`)
)

func init() {
	for _, c := range Categories {
		label := strings.ReplaceAll(c.DraftLabel(), "_", "[_ ]")
		draftPatterns[c] = regexp.MustCompile(`(?i)\b` + label + `\W{0,3}:\s*\**\s*(\d{1,3})`)
		analysisPatterns[c] = regexp.MustCompile(fmt.Sprintf(`\b(\d{1,3})\s*/\s*%d\b`, c.Max()))
		titlePatterns[c] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(c.Title()))
	}
}

// ParseDraftRubric extracts raw sub-scores from a structured rubric reply.
func ParseDraftRubric(text string) ParsedRubric {
	parsed := ParsedRubric{Scores: make(map[Category]int, len(Categories))}
	for _, c := range Categories {
		m := draftPatterns[c].FindStringSubmatch(text)
		if m == nil {
			parsed.Scores[c] = c.Default()
			parsed.Defaulted = append(parsed.Defaulted, c)
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			parsed.Scores[c] = c.Default()
			parsed.Defaulted = append(parsed.Defaulted, c)
			continue
		}
		parsed.Scores[c] = v
	}
	return parsed
}

// ExtractDraftFeedback returns any explanation written after each
// "LABEL: n" line, up to the next label line or blank line. Categories
// without explanation are omitted.
func ExtractDraftFeedback(text string) map[string]string {
	lines := strings.Split(text, "\n")
	feedback := make(map[string]string)

	for _, c := range Categories {
		pattern := draftPatterns[c]
		for i, line := range lines {
			loc := pattern.FindStringSubmatchIndex(line)
			if loc == nil {
				continue
			}

			var parts []string
			rest := trailingScoreRange.ReplaceAllString(line[loc[1]:], "")
			if rest = strings.TrimSpace(rest); rest != "" {
				parts = append(parts, rest)
			}
			for _, next := range lines[i+1:] {
				next = strings.TrimSpace(next)
				if next == "" || draftLineLabel.MatchString(next) {
					break
				}
				parts = append(parts, next)
			}
			if len(parts) > 0 {
				feedback[string(c)] = strings.Join(parts, " ")
			}
			break
		}
	}
	return feedback
}

// ParseAnalysisRubric extracts raw sub-scores from free-form analysis text.
func ParseAnalysisRubric(text string) ParsedRubric {
	parsed := ParsedRubric{Scores: make(map[Category]int, len(Categories))}

	for _, c := range Categories {
		loc := titlePatterns[c].FindStringIndex(text)
		if loc == nil {
			parsed.Scores[c] = 0
			parsed.Defaulted = append(parsed.Defaulted, c)
			continue
		}

		segment := text[loc[0]:min(len(text), loc[0]+analysisWindow)]

		score, ok := firstInt(analysisPatterns[c], segment)
		if !ok {
			score, ok = firstInt(labelledScore, segment)
		}
		if !ok {
			parsed.Scores[c] = 0
			parsed.Defaulted = append(parsed.Defaulted, c)
			continue
		}
		parsed.Scores[c] = min(score, c.Max())
	}
	return parsed
}

func firstInt(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractFeedback returns the first paragraph between the category title and
// the next category title, with score patterns removed.
func ExtractFeedback(text string, c Category) string {
	loc := titlePatterns[c].FindStringIndex(text)
	if loc == nil {
		return NoFeedback
	}
	start := loc[1]

	end := len(text)
	for _, other := range Categories {
		if other == c {
			continue
		}
		if j := titlePatterns[other].FindStringIndex(text[start:]); j != nil && start+j[0] < end {
			end = start + j[0]
		}
	}

	fb := strings.TrimSpace(text[start:end])
	fb, _, _ = strings.Cut(fb, "\n\n")
	fb = fractionScore.ReplaceAllString(fb, "")
	fb = labelledScore.ReplaceAllString(fb, "")
	fb = strings.TrimLeft(strings.TrimSpace(fb), ":-*() ")
	fb = strings.TrimSpace(fb)
	if fb == "" {
		return NoFeedback
	}
	return fb
}

// ExtractAllFeedback runs ExtractFeedback for every category.
func ExtractAllFeedback(text string) map[string]string {
	feedback := make(map[string]string, len(Categories))
	for _, c := range Categories {
		feedback[string(c)] = ExtractFeedback(text, c)
	}
	return feedback
}

// MaxSuggestions caps the improvement suggestions returned to users.
const MaxSuggestions = 5

var fallbackSuggestions = []string{
	"Focus on considering multiple perspectives.",
	"Study historical context more deeply.",
	"Practice diplomatic approaches to conflicts.",
}

// ExtractSuggestions returns list items (numbered or bulleted lines) from
// text, or failing that sentences longer than 20 characters. The boolean is
// true when the fixed fallback list was used.
func ExtractSuggestions(text string) ([]string, bool) {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !listMarker.MatchString(line) {
			continue
		}
		if s := strings.TrimSpace(stripListMarker(line)); s != "" {
			out = append(out, s)
		}
	}

	if len(out) == 0 {
		for _, s := range splitSentences(text) {
			if len(s) > 20 {
				out = append(out, s)
			}
		}
	}

	if len(out) == 0 {
		fallback := make([]string, len(fallbackSuggestions))
		copy(fallback, fallbackSuggestions)
		return fallback, true
	}
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out, false
}

func stripListMarker(s string) string {
	return listMarker.ReplaceAllString(s, "")
}

// splitSentences splits after '.', '!' or '?' followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && isSpace(text[i+1]) {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// DebateEvaluation is the parsed reply of a debate evaluation prompt:
//
//	Evaluation: <text>
//	Scores:
//	<criterion>: <number>
//	...
//	Suggestion: <text>
type DebateEvaluation struct {
	Evaluation string             `json:"evaluation"`
	Scores     map[string]float64 `json:"scores"`
	Suggestion string             `json:"suggestions,omitempty"`
}

// ParseDebateEvaluation reads the line-oriented debate evaluation format.
// Score keys are lower-cased; lines whose value is not a number are skipped.
func ParseDebateEvaluation(text string) DebateEvaluation {
	eval := DebateEvaluation{Scores: make(map[string]float64)}

	const (
		modeNone = iota
		modeEvaluation
		modeScores
	)
	mode := modeNone

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "*#"))
		line = strings.TrimSpace(stripListMarker(line))
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "evaluation:"):
			mode = modeEvaluation
			eval.Evaluation = strings.TrimSpace(line[len("evaluation:"):])
		case strings.HasPrefix(lower, "scores:"):
			mode = modeScores
		case strings.HasPrefix(lower, "suggestion:"), strings.HasPrefix(lower, "suggestions:"):
			mode = modeNone
			_, after, _ := strings.Cut(line, ":")
			eval.Suggestion = strings.TrimSpace(after)
		case mode == modeScores && strings.Contains(line, ":"):
			key, val, _ := strings.Cut(line, ":")
			key = strings.ToLower(strings.Trim(strings.TrimSpace(key), "*"))
			if v, ok := parseScoreValue(val); ok && key != "" {
				eval.Scores[key] = v
			}
		case mode == modeEvaluation && line != "":
			eval.Evaluation = strings.TrimSpace(eval.Evaluation + " " + line)
		}
	}
	return eval
}

// parseScoreValue accepts "7", "7.5", "7/10" and "**8**".
func parseScoreValue(s string) (float64, bool) {
	s = strings.Trim(strings.TrimSpace(s), "*")
	s, _, _ = strings.Cut(s, "/")
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
