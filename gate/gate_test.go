package gate

import (
	"testing"

	"github.com/pithecene-io/crucible/config"
	"github.com/pithecene-io/crucible/types"
)

func version(findings ...types.Finding) *types.ArtifactVersion {
	return &types.ArtifactVersion{Number: 1, Findings: findings}
}

func TestScore_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		v    *types.ArtifactVersion
		want int
	}{
		{"clean", version(), 100},
		{"one critical", version(
			types.Finding{Kind: types.FindingQuality, Severity: types.SeverityCritical},
		), 80},
		{"one of each", version(
			types.Finding{Severity: types.SeverityCritical},
			types.Finding{Severity: types.SeverityHigh},
			types.Finding{Severity: types.SeverityMedium},
			types.Finding{Severity: types.SeverityLow},
		), 63},
		{"clamped at zero", version(
			types.Finding{Severity: types.SeverityCritical},
			types.Finding{Severity: types.SeverityCritical},
			types.Finding{Severity: types.SeverityCritical},
			types.Finding{Severity: types.SeverityCritical},
			types.Finding{Severity: types.SeverityCritical},
			types.Finding{Severity: types.SeverityCritical},
		), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.v, Rubric{})
			if got.Score != tt.want {
				t.Errorf("Score = %d, want %d", got.Score, tt.want)
			}
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	v := version(
		types.Finding{Severity: types.SeverityHigh, Message: "x"},
		types.Finding{Severity: types.SeverityLow, Message: "y"},
	)
	v.Metrics = map[string]float64{"coverage": 0.9}
	rubric := Rubric{Bonuses: []config.BonusRule{{Metric: "coverage", Threshold: 0.8, Points: 5}}}

	first := Score(v, rubric)
	second := Score(v, rubric)
	if first != second {
		t.Errorf("identical inputs diverged: %+v vs %+v", first, second)
	}
}

func TestScore_BonusCapped(t *testing.T) {
	v := version()
	v.Metrics = map[string]float64{"coverage": 0.95, "docs": 1, "lint": 1}
	rubric := Rubric{Bonuses: []config.BonusRule{
		{Metric: "coverage", Threshold: 0.8, Points: 10},
		{Metric: "docs", Threshold: 0.5, Points: 10},
		{Metric: "lint", Threshold: 0.5, Points: 10},
	}}

	got := Score(v, rubric)
	if got.Bonus != MaxBonus {
		t.Errorf("bonus = %d, want capped at %d", got.Bonus, MaxBonus)
	}
	// Clean version: 100 + capped bonus still clamps to 100.
	if got.Score != 100 {
		t.Errorf("score = %d, want 100", got.Score)
	}
}

func TestScore_BonusBelowThresholdIgnored(t *testing.T) {
	v := version(types.Finding{Severity: types.SeverityMedium})
	v.Metrics = map[string]float64{"coverage": 0.5}
	rubric := Rubric{Bonuses: []config.BonusRule{{Metric: "coverage", Threshold: 0.8, Points: 10}}}

	got := Score(v, rubric)
	if got.Bonus != 0 || got.Score != 95 {
		t.Errorf("verdict = %+v, want score 95 without bonus", got)
	}
}

func TestVerdict_Passes(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
		want    bool
	}{
		{"clears", Verdict{Score: 85}, true},
		{"at the bar", Verdict{Score: 80}, true},
		{"below bar", Verdict{Score: 79}, false},
		{"blocking finding vetoes", Verdict{Score: 95, Blocking: 1}, false},
		{"failing tests veto", Verdict{Score: 95, TestFailures: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.verdict.Passes(80); got != tt.want {
				t.Errorf("Passes(80) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_CountsBlockingAndTestFailures(t *testing.T) {
	v := version(
		types.Finding{Kind: types.FindingQuality, Severity: types.SeverityCritical},
		types.Finding{Kind: types.FindingTestFailure, Severity: types.SeverityHigh},
		types.Finding{Kind: types.FindingTestFailure, Severity: types.SeverityLow},
	)

	got := Score(v, Rubric{})
	if got.Blocking != 2 {
		t.Errorf("blocking = %d, want 2", got.Blocking)
	}
	if got.TestFailures != 2 {
		t.Errorf("test failures = %d, want 2", got.TestFailures)
	}
}
