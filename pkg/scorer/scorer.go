// Package scorer assigns a 0-100 confidence to converted code. Scoring is
// pure: the same input always yields the same score.
package scorer

import (
	"strings"

	"github.com/pario-ai/polyglot/pkg/models"
)

// Base scores by provider tier.
const (
	BasePremium  = 85
	BaseStandard = 75
	BaseEconomy  = 65
	BaseUnknown  = 60
)

// Adjustments applied on top of the base score.
const (
	PenaltyNearEmpty  = 40
	PenaltyTruncated  = 20
	PenaltyBloated    = 10
	PenaltyUnbalanced = 20
	PenaltyOpenFence  = 5
	BonusReliable     = 10
)

// ReviewThreshold is the score below which a manual review is suggested.
const ReviewThreshold = 70

const (
	minOutputBytes = 8
	bloatFloor     = 400
)

// Input is everything the scorer looks at.
type Input struct {
	Request     models.ConversionRequest
	Output      string
	Tier        models.ProviderTier
	SuccessRate float64
	Samples     int
}

// Assessment is a score plus human-readable findings.
type Assessment struct {
	Score       int
	Warnings    []string
	Suggestions []string
}

// Scorer holds the reliability bonus parameters.
type Scorer struct {
	threshold  float64
	minSamples int
}

// New returns a Scorer granting the reliability bonus to providers with at
// least minSamples recorded outcomes and a success rate of threshold or more.
func New(threshold float64, minSamples int) Scorer {
	return Scorer{threshold: threshold, minSamples: minSamples}
}

// Score returns only the numeric confidence.
func (s Scorer) Score(in Input) int {
	return s.Assess(in).Score
}

// Assess scores the output and explains every deduction.
func (s Scorer) Assess(in Input) Assessment {
	var a Assessment
	score := baseScore(in.Tier)

	src := strings.TrimSpace(in.Request.SourceCode)
	out := strings.TrimSpace(in.Output)
	inLen, outLen := len(src), len(out)

	switch {
	case outLen < minOutputBytes || outLen*10 < inLen:
		score -= PenaltyNearEmpty
		a.Warnings = append(a.Warnings, "output is nearly empty")
		a.Suggestions = append(a.Suggestions, "retry the conversion or split the source into smaller units")
	case outLen*100 < inLen*35:
		score -= PenaltyTruncated
		a.Warnings = append(a.Warnings, "output is much shorter than the source and may be truncated")
	case outLen > 6*inLen && outLen > bloatFloor:
		score -= PenaltyBloated
		a.Warnings = append(a.Warnings, "output is much longer than the source")
	}

	if !balanced(out, in.Request.TargetLanguage) {
		score -= PenaltyUnbalanced
		a.Warnings = append(a.Warnings, "unbalanced brackets in output")
		a.Suggestions = append(a.Suggestions, "check bracket nesting before compiling")
	}

	if strings.Count("\n"+out, "\n```")%2 == 1 {
		score -= PenaltyOpenFence
		a.Warnings = append(a.Warnings, "output contains an unterminated code fence")
	}

	if s.minSamples > 0 && in.Samples >= s.minSamples && in.SuccessRate >= s.threshold {
		score += BonusReliable
	}

	a.Score = max(0, min(100, score))
	if a.Score < ReviewThreshold {
		a.Suggestions = append(a.Suggestions, "manual review recommended")
	}
	return a
}

func baseScore(tier models.ProviderTier) int {
	switch tier {
	case models.TierPremium:
		return BasePremium
	case models.TierStandard:
		return BaseStandard
	case models.TierEconomy:
		return BaseEconomy
	default:
		return BaseUnknown
	}
}
