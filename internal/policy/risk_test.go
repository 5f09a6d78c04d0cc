package policy

import (
	"reflect"
	"testing"
)

func TestAssessRiskLevels(t *testing.T) {
	cases := []struct {
		text  string
		level RiskLevel
		score float64
	}{
		{"", RiskLow, 0.1},
		{"I had a good day at the market.", RiskLow, 0.1},
		{"I'm worried about my neighbour.", RiskMedium, 0.5},
		{"He THREATENED me after work", RiskMedium, 0.5},
		{"There is a fire next door, please help!", RiskHigh, 0.9},
		{"I was attacked and I feel scared", RiskHigh, 0.9},
	}
	for _, tc := range cases {
		got := AssessRisk(tc.text)
		if got.Level != tc.level || got.Score != tc.score {
			t.Fatalf("AssessRisk(%q) = %s/%.1f, want %s/%.1f", tc.text, got.Level, got.Score, tc.level, tc.score)
		}
	}
}

func TestAssessRiskReportsKeywordsInListOrder(t *testing.T) {
	got := AssessRisk("Help! There's a weapon and someone is bleeding.")
	want := []string{"help", "bleeding", "weapon"}
	if !reflect.DeepEqual(got.Keywords, want) {
		t.Fatalf("Keywords = %v, want %v", got.Keywords, want)
	}
}

func TestAssessRiskIgnoresSubstringsInsideWords(t *testing.T) {
	// "skill" contains "kill" but does not start with it.
	if got := AssessRisk("I want to improve my skills"); got.Level != RiskLow {
		t.Fatalf("Level = %s, want %s", got.Level, RiskLow)
	}
}
