// internal/scoring/scoring.go

// Package scoring turns a patient snapshot into a re-engagement priority
// signal. Score is a deterministic function of (snapshot, as-of time); the
// ambient clock is never read so identical inputs always produce identical
// output.
package scoring

import (
	"time"

	"reengage-engine/internal/models"
)

// Recency bands in days since last appointment.
const (
	bandActive   = 180  // < 6 months
	bandWarm     = 365  // 6-12 months
	bandCool     = 730  // 1-2 years
	bandCold     = 1095 // 2-3 years
	bandVeryCold = 1825 // 3-5 years
)

// Score computes the additive re-engagement score and recency tier for a
// patient snapshot. Factors are independent and order-insensitive; the final
// score is clamped to [0, 100]. A missing last appointment counts as the
// oldest recency band.
func Score(p *models.Patient, asOf time.Time) models.ScoreResult {
	score := recencyPoints(p.LastAppt, asOf)

	if p.Email != "" {
		score += 20
	}
	if p.CellPhone != "" {
		score += 15
	}
	if p.AltPhone != "" {
		score += 5
	}

	switch {
	case p.TotalVisits >= 20:
		score += 10
	case p.TotalVisits >= 10:
		score += 7
	case p.TotalVisits >= 5:
		score += 4
	}

	if p.HasInsurance {
		score += 8
	}

	// Penalties apply after all additive factors, before clamping.
	if p.IsDNC {
		score -= 30
	}
	if !p.HasUsableContact() {
		score -= 15
	}

	return models.ScoreResult{
		Score: clamp(score),
		Tier:  TierFor(p.LastAppt, asOf),
	}
}

// TierFor derives the tier from the recency band alone, independent of the
// numeric score. A missing last appointment is dormant.
func TierFor(lastAppt *time.Time, asOf time.Time) models.Tier {
	if lastAppt == nil {
		return models.TierDormant
	}
	days := daysBetween(*lastAppt, asOf)
	switch {
	case days < bandActive:
		return models.TierActive
	case days < bandWarm:
		return models.TierWarm
	case days < bandCool:
		return models.TierCool
	case days < bandVeryCold:
		return models.TierCold
	default:
		return models.TierDormant
	}
}

func recencyPoints(lastAppt *time.Time, asOf time.Time) int {
	if lastAppt == nil {
		return 2
	}
	days := daysBetween(*lastAppt, asOf)
	switch {
	case days < bandActive:
		return 40
	case days < bandWarm:
		return 35
	case days < bandCool:
		return 28
	case days < bandCold:
		return 18
	case days < bandVeryCold:
		return 10
	default:
		return 2
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
