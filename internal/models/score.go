// internal/models/score.go
package models

// Tier is the coarse recency classification of a patient.
type Tier string

const (
	TierActive  Tier = "active"
	TierWarm    Tier = "warm"
	TierCool    Tier = "cool"
	TierCold    Tier = "cold"
	TierDormant Tier = "dormant"
)

// ValidTier reports whether s names a known tier.
func ValidTier(s string) bool {
	switch Tier(s) {
	case TierActive, TierWarm, TierCool, TierCold, TierDormant:
		return true
	}
	return false
}

// ScoreResult is the output of the scoring engine. It is derived from a
// patient snapshot and is never stored apart from it.
type ScoreResult struct {
	Score int  `json:"score"`
	Tier  Tier `json:"tier"`
}
