// internal/eligibility/resolver.go

// Package eligibility decides who a campaign is allowed to reach. The
// resolver produces a point-in-time recipient snapshot; patients who become
// ineligible afterwards are caught again by the dispatcher's per-message
// recheck.
package eligibility

import (
	"context"

	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
	"reengage-engine/internal/repository"
)

// Store is the query surface the resolver needs. Satisfied by
// repository.EligibilityRepository.
type Store interface {
	ListEligible(ctx context.Context, f repository.EligibilityFilter) ([]models.QueueItem, error)
}

type Resolver struct {
	store  Store
	logger logger.Logger
}

func NewResolver(store Store, log logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "eligibility-resolver"}),
	}
}

// Resolve returns the recipient snapshot for a campaign, ordered score
// descending. Items with no usable address on the campaign's channel are
// dropped here rather than surfacing as provider failures later.
func (r *Resolver) Resolve(ctx context.Context, campaign *models.Campaign) ([]models.QueueItem, error) {
	items, err := r.store.ListEligible(ctx, repository.EligibilityFilter{
		Tier:     campaign.TierFilter,
		ScoreMin: campaign.ScoreMin,
	})
	if err != nil {
		return nil, err
	}

	recipients := make([]models.QueueItem, 0, len(items))
	for _, item := range items {
		if !item.Status.Eligible() {
			continue
		}
		if item.Address(campaign.Channel) == "" {
			continue
		}
		recipients = append(recipients, item)
	}

	r.logger.Info("recipient snapshot resolved", map[string]interface{}{
		"campaignId": campaign.ID,
		"channel":    campaign.Channel,
		"candidates": len(items),
		"recipients": len(recipients),
	})
	return recipients, nil
}
