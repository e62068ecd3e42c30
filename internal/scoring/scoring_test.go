// internal/scoring/scoring_test.go
package scoring

import (
	"testing"
	"time"

	"reengage-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

var asOf = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) *time.Time {
	t := asOf.AddDate(0, 0, -n)
	return &t
}

func TestScore_Factors(t *testing.T) {
	tests := []struct {
		name      string
		patient   models.Patient
		wantScore int
		wantTier  models.Tier
	}{
		{
			name: "eight months ago with email only",
			patient: models.Patient{
				LastAppt:    daysAgo(240),
				Email:       "pat@example.com",
				TotalVisits: 12,
			},
			wantScore: 62, // 35 recency + 20 email + 7 visits
			wantTier:  models.TierWarm,
		},
		{
			name: "same snapshot but DNC",
			patient: models.Patient{
				LastAppt:    daysAgo(240),
				Email:       "pat@example.com",
				TotalVisits: 12,
				IsDNC:       true,
			},
			wantScore: 32, // 62 - 30
			wantTier:  models.TierWarm,
		},
		{
			name: "recent visit with full contact info and insurance",
			patient: models.Patient{
				LastAppt:     daysAgo(30),
				Email:        "a@b.com",
				CellPhone:    "5551234567",
				AltPhone:     "5557654321",
				TotalVisits:  25,
				HasInsurance: true,
			},
			wantScore: 98, // 40 + 20 + 15 + 5 + 10 + 8
			wantTier:  models.TierActive,
		},
		{
			name: "no last appointment on file",
			patient: models.Patient{
				CellPhone:   "5551234567",
				TotalVisits: 3,
			},
			wantScore: 17, // 2 oldest band + 15 cell
			wantTier:  models.TierDormant,
		},
		{
			name:      "no usable contact info clamps at zero",
			patient:   models.Patient{LastAppt: daysAgo(2000)},
			wantScore: 0, // 2 - 15 clamped
			wantTier:  models.TierDormant,
		},
		{
			name: "two year old visit lands in cold band",
			patient: models.Patient{
				LastAppt:  daysAgo(800),
				CellPhone: "5551234567",
			},
			wantScore: 33, // 18 recency + 15 cell
			wantTier:  models.TierCold,
		},
		{
			name: "four year old visit scores very cold but stays cold tier",
			patient: models.Patient{
				LastAppt: daysAgo(1500),
				Email:    "a@b.com",
			},
			wantScore: 30, // 10 recency + 20 email
			wantTier:  models.TierCold,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(&tt.patient, asOf)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantTier, got.Tier)
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	p := models.Patient{
		LastAppt:     daysAgo(100),
		Email:        "pat@example.com",
		CellPhone:    "5551230000",
		TotalVisits:  11,
		HasInsurance: true,
	}

	first := Score(&p, asOf)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Score(&p, asOf))
	}
}

func TestScore_Bounds(t *testing.T) {
	// Max additive combination stays within [0, 100].
	p := models.Patient{
		LastAppt:     daysAgo(1),
		Email:        "a@b.com",
		CellPhone:    "5550001111",
		AltPhone:     "5550002222",
		TotalVisits:  100,
		HasInsurance: true,
	}
	got := Score(&p, asOf)
	assert.LessOrEqual(t, got.Score, 100)
	assert.GreaterOrEqual(t, got.Score, 0)
}

func TestTierFor_BandEdges(t *testing.T) {
	tests := []struct {
		days int
		want models.Tier
	}{
		{0, models.TierActive},
		{179, models.TierActive},
		{180, models.TierWarm},
		{364, models.TierWarm},
		{365, models.TierCool},
		{729, models.TierCool},
		{730, models.TierCold},
		{1824, models.TierCold},
		{1825, models.TierDormant},
	}

	for _, tt := range tests {
		got := TierFor(daysAgo(tt.days), asOf)
		assert.Equal(t, tt.want, got, "days=%d", tt.days)
	}
}
