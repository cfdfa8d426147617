// Package gate implements the deterministic quality gate.
//
// Scoring is fixed, auditable arithmetic rather than a black-box
// judgment so retry decisions are reproducible and testable: identical
// findings and rubric always yield the identical score.
package gate

import (
	"github.com/pithecene-io/crucible/config"
	"github.com/pithecene-io/crucible/types"
)

// Deduction points per finding severity.
const (
	DeductCritical = 20
	DeductHigh     = 10
	DeductMedium   = 5
	DeductLow      = 2
)

// MaxBonus caps the total positive-signal award.
const MaxBonus = 15

// Rubric configures the gate. Deduction arithmetic is fixed; only the
// bonus rules vary per deployment.
type Rubric struct {
	// Bonuses award points when a version metric meets its threshold.
	Bonuses []config.BonusRule
}

// Verdict is the outcome of scoring one artifact version.
type Verdict struct {
	// Score is the aggregate quality score in [0, 100].
	Score int
	// Bonus is the awarded positive-signal total (already in Score).
	Bonus int
	// Blocking counts critical and high findings.
	Blocking int
	// TestFailures counts test_failure findings.
	TestFailures int
}

// Score evaluates a version's findings and metrics against the rubric.
// Pure function: no hidden randomness, no external reads.
//
// Policy: start at 100; subtract 20 per critical, 10 per high, 5 per
// medium, 2 per low; add back bonus points for rubric signals, capped
// at +15; clamp to [0, 100].
func Score(v *types.ArtifactVersion, rubric Rubric) Verdict {
	verdict := Verdict{Score: 100}

	for _, f := range v.Findings {
		switch f.Severity {
		case types.SeverityCritical:
			verdict.Score -= DeductCritical
		case types.SeverityHigh:
			verdict.Score -= DeductHigh
		case types.SeverityMedium:
			verdict.Score -= DeductMedium
		default:
			verdict.Score -= DeductLow
		}
		if f.Severity.Blocking() {
			verdict.Blocking++
		}
		if f.Kind == types.FindingTestFailure {
			verdict.TestFailures++
		}
	}

	for _, rule := range rubric.Bonuses {
		value, ok := v.Metrics[rule.Metric]
		if !ok || value < rule.Threshold {
			continue
		}
		verdict.Bonus += rule.Points
	}
	if verdict.Bonus > MaxBonus {
		verdict.Bonus = MaxBonus
	}
	verdict.Score += verdict.Bonus

	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 100 {
		verdict.Score = 100
	}
	return verdict
}

// Passes reports whether the verdict clears the gate: score at or above
// the pass bar, no blocking findings, all tests passing.
func (v Verdict) Passes(passScore int) bool {
	return v.Score >= passScore && v.Blocking == 0 && v.TestFailures == 0
}
