package policy

import (
	"strings"
	"unicode"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskAssessment is the keyword-level read of a single message.
type RiskAssessment struct {
	Level    RiskLevel
	Score    float64
	Keywords []string
}

var (
	highRiskKeywords = []string{
		"danger", "help", "emergency", "bleeding", "unconscious",
		"fire", "accident", "violence", "weapon", "injured",
		"suicide", "kill", "attack",
	}
	mediumRiskKeywords = []string{
		"worried", "concern", "unsafe", "scared", "threat", "fear", "problem",
	}
)

// AssessRisk classifies text by keyword. A single high-risk keyword makes the
// whole message high risk; matches are reported in list order.
func AssessRisk(text string) RiskAssessment {
	words := tokenize(text)
	if len(words) == 0 {
		return RiskAssessment{Level: RiskLow, Score: 0.1}
	}

	if hits := matchKeywords(words, highRiskKeywords); len(hits) > 0 {
		return RiskAssessment{Level: RiskHigh, Score: 0.9, Keywords: hits}
	}
	if hits := matchKeywords(words, mediumRiskKeywords); len(hits) > 0 {
		return RiskAssessment{Level: RiskMedium, Score: 0.5, Keywords: hits}
	}
	return RiskAssessment{Level: RiskLow, Score: 0.1}
}

// matchKeywords treats a keyword as present when a word starts with it, so
// "attacked" and "threatened" count.
func matchKeywords(words []string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		for _, w := range words {
			if strings.HasPrefix(w, kw) {
				hits = append(hits, kw)
				break
			}
		}
	}
	return hits
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
