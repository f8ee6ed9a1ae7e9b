package service

import (
	"sort"

	"github.com/Avidan87/KAI-sub000/internal/model"
)

type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityInadequate Severity = "inadequate"
	SeverityExcessive  Severity = "excessive"
	SeverityMet        Severity = "met"
)

const (
	criticalBelowPct   = 30.0
	inadequateBelowPct = 50.0
	excessiveAbovePct  = 150.0
)

var severityTier = map[Severity]int{
	SeverityCritical:   0,
	SeverityInadequate: 1,
	SeverityExcessive:  2,
}

type NutrientGap struct {
	Nutrient model.Nutrient `json:"nutrient"`
	Unit     string         `json:"unit"`
	Current  float64        `json:"current"`
	Target   float64        `json:"target"`
	Percent  float64        `json:"percent"`
	Deficit  float64        `json:"deficit"`
	Severity Severity       `json:"severity"`
	Priority int            `json:"priority,omitempty"`
}

type GapReport struct {
	Ranked  []NutrientGap `json:"ranked"`
	Summary []NutrientGap `json:"summary"`
	Primary *NutrientGap  `json:"primary_gap"`
	AllMet  bool          `json:"all_met"`
}

func ClassifySeverity(percent float64) Severity {
	switch {
	case percent < criticalBelowPct:
		return SeverityCritical
	case percent < inadequateBelowPct:
		return SeverityInadequate
	case percent > excessiveAbovePct:
		return SeverityExcessive
	default:
		return SeverityMet
	}
}

// AnalyzeGaps compares intake with targets. Ranking depends only on severity tier and percent, never on which nutrient it is.
func AnalyzeGaps(intake, targets model.NutrientVector) GapReport {
	summary := make([]NutrientGap, 0, model.NutrientCount)
	ranked := make([]NutrientGap, 0, model.NutrientCount)
	for _, n := range model.Nutrients() {
		target := targets.Get(n)
		if target <= 0 {
			continue
		}
		current := intake.Get(n)
		percent := current / target * 100
		g := NutrientGap{
			Nutrient: n,
			Unit:     n.Info().Unit,
			Current:  current,
			Target:   target,
			Percent:  percent,
			Deficit:  target - current,
			Severity: ClassifySeverity(percent),
		}
		summary = append(summary, g)
		if g.Severity != SeverityMet {
			ranked = append(ranked, g)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ti, tj := severityTier[ranked[i].Severity], severityTier[ranked[j].Severity]
		if ti != tj {
			return ti < tj
		}
		return ranked[i].Percent < ranked[j].Percent
	})
	for i := range ranked {
		ranked[i].Priority = i + 1
	}

	out := GapReport{
		Ranked:  roundGaps(ranked),
		Summary: roundGaps(summary),
		AllMet:  len(ranked) == 0,
	}
	if len(out.Ranked) > 0 {
		primary := out.Ranked[0]
		out.Primary = &primary
	}
	return out
}

func roundGaps(gaps []NutrientGap) []NutrientGap {
	out := make([]NutrientGap, len(gaps))
	for i, g := range gaps {
		g.Current = roundTo(g.Current, 2)
		g.Target = roundTo(g.Target, 2)
		g.Percent = roundTo(g.Percent, 1)
		g.Deficit = roundTo(g.Deficit, 2)
		out[i] = g
	}
	return out
}
