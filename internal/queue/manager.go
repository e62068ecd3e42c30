// internal/queue/manager.go

// Package queue owns the outreach funnel state machine. All queue item
// status changes flow through the Manager so transition legality is enforced
// in one place.
package queue

import (
	"context"
	"time"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
	"reengage-engine/internal/repository"
)

// Store is the persistence surface the manager needs. Satisfied by
// repository.QueueRepository.
type Store interface {
	GetByID(ctx context.Context, id int64) (*models.QueueItem, error)
	Upsert(ctx context.Context, patientID int64, contact models.ContactSnapshot, result models.ScoreResult) (*models.QueueItem, error)
	UpdateStatus(ctx context.Context, id int64, status models.QueueStatus) (*models.QueueItem, error)
	RecordContactAttempt(ctx context.Context, id int64, at time.Time) (*models.QueueItem, error)
	List(ctx context.Context, f repository.ListFilter) ([]models.QueueItem, int, error)
}

// legalTransitions is the forward edge set of the funnel. dead is reachable
// from every state because manual abandonment is always allowed.
var legalTransitions = map[models.QueueStatus][]models.QueueStatus{
	models.QueuePending:   {models.QueueContacted, models.QueueDead},
	models.QueueContacted: {models.QueueResponded, models.QueueDead},
	models.QueueResponded: {models.QueueBooked, models.QueueDead},
	models.QueueBooked:    {models.QueueDead},
	models.QueueDead:      {},
}

func transitionAllowed(from, to models.QueueStatus) bool {
	if to == models.QueueDead {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Manager struct {
	store  Store
	logger logger.Logger
}

func NewManager(store Store, log logger.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "queue-manager"}),
	}
}

// UpsertFromScore creates or refreshes the queue item for a patient after a
// scoring run. Outreach progress (status, attempts, last contact) is never
// touched here; that is the store's contract.
func (m *Manager) UpsertFromScore(ctx context.Context, patientID int64, contact models.ContactSnapshot, result models.ScoreResult) (*models.QueueItem, error) {
	item, err := m.store.Upsert(ctx, patientID, contact, result)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("queue item refreshed", map[string]interface{}{
		"patientId": patientID,
		"tier":      item.Tier,
		"score":     item.Score,
	})
	return item, nil
}

// SetStatus applies an operator- or system-driven transition. Illegal
// transitions are rejected before any write.
func (m *Manager) SetStatus(ctx context.Context, id int64, newStatus models.QueueStatus) (*models.QueueItem, error) {
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if item.Status == newStatus {
		return item, nil
	}
	if !transitionAllowed(item.Status, newStatus) {
		return nil, apperrors.NewInvalidTransitionError("queue item",
			string(item.Status), string(newStatus))
	}

	updated, err := m.store.UpdateStatus(ctx, id, newStatus)
	if err != nil {
		return nil, err
	}
	m.logger.Info("queue item status changed", map[string]interface{}{
		"queueItemId": id,
		"from":        item.Status,
		"to":          newStatus,
	})
	return updated, nil
}

// RecordContactAttempt is called by the dispatch coordinator after a
// successful provider send.
func (m *Manager) RecordContactAttempt(ctx context.Context, id int64, at time.Time) (*models.QueueItem, error) {
	return m.store.RecordContactAttempt(ctx, id, at)
}

// List exposes the dashboard queue read model.
func (m *Manager) List(ctx context.Context, f repository.ListFilter) ([]models.QueueItem, int, error) {
	return m.store.List(ctx, f)
}
