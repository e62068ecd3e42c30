// internal/reconcile/handler_test.go

package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
)

type mockLookup struct {
	getFunc    func(ctx context.Context, externalID string) (*models.OutreachMessage, error)
	latestFunc func(ctx context.Context, patientID int64) (*models.OutreachMessage, error)
}

func (m *mockLookup) GetByExternalID(ctx context.Context, externalID string) (*models.OutreachMessage, error) {
	return m.getFunc(ctx, externalID)
}

func (m *mockLookup) GetLatestForPatient(ctx context.Context, patientID int64) (*models.OutreachMessage, error) {
	if m.latestFunc == nil {
		return nil, apperrors.NewNotFoundError("outreach message", patientID)
	}
	return m.latestFunc(ctx, patientID)
}

type mockPatientFinder struct {
	tails    []string
	findFunc func(ctx context.Context, tail string) (*models.Patient, error)
}

func (m *mockPatientFinder) FindByPhoneTail(ctx context.Context, tail string) (*models.Patient, error) {
	m.tails = append(m.tails, tail)
	return m.findFunc(ctx, tail)
}

type mockEventStore struct {
	deliveredCalls int
	bouncedCalls   int
	optOutCalls    int
	replyCalls     int

	optOutErr  func(attempt int) error
	replyText  string
	optOutText string
}

func (m *mockEventStore) ApplyDelivered(ctx context.Context, ev *models.ProviderEvent, messageID int64) (bool, error) {
	m.deliveredCalls++
	return true, nil
}

func (m *mockEventStore) ApplyBounced(ctx context.Context, ev *models.ProviderEvent, messageID int64) (bool, error) {
	m.bouncedCalls++
	return true, nil
}

func (m *mockEventStore) ApplyOptOut(ctx context.Context, ev *models.ProviderEvent, messageID, patientID int64, responseText string) (bool, error) {
	m.optOutCalls++
	m.optOutText = responseText
	if m.optOutErr != nil {
		if err := m.optOutErr(m.optOutCalls); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (m *mockEventStore) ApplyInboundReply(ctx context.Context, ev *models.ProviderEvent, messageID, campaignID int64, responseText string) (bool, error) {
	m.replyCalls++
	m.replyText = responseText
	return true, nil
}

type redisCache struct {
	client *redis.Client
}

func (c *redisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *redisCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

func newTestCache(t *testing.T) *redisCache {
	srv := miniredis.RunT(t)
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: srv.Addr()})}
}

func knownMessage() *mockLookup {
	return &mockLookup{
		getFunc: func(ctx context.Context, externalID string) (*models.OutreachMessage, error) {
			return &models.OutreachMessage{
				ID:         7,
				CampaignID: 3,
				PatientID:  11,
				Status:     models.MessageSent,
				ExternalID: externalID,
			}, nil
		},
	}
}

func newTestHandler(lookup MessageLookup, store EventStore, cache DedupCache) *Handler {
	return newTestHandlerWithPatients(lookup, nil, store, cache)
}

func newTestHandlerWithPatients(lookup MessageLookup, patients PatientFinder, store EventStore, cache DedupCache) *Handler {
	h := NewHandler(lookup, patients, store, cache, logger.NewNoOpLogger())
	h.dncBackoff = 0
	h.sleep = func(time.Duration) {}
	return h
}

func event(kind models.EventKind, eventID string) *models.ProviderEvent {
	return &models.ProviderEvent{
		ExternalID:      "ext-1",
		Kind:            kind,
		ProviderEventID: eventID,
		OccurredAt:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func eventWithBody(kind models.EventKind, eventID, body string) *models.ProviderEvent {
	ev := event(kind, eventID)
	payload, _ := json.Marshal(map[string]string{"body": body})
	ev.Payload = payload
	return ev
}

func TestHandleEvent_UnknownKindIgnored(t *testing.T) {
	store := &mockEventStore{}
	h := newTestHandler(knownMessage(), store, nil)

	err := h.HandleEvent(context.Background(), event("link_clicked", "evt-1"))

	require.NoError(t, err)
	assert.Zero(t, store.deliveredCalls+store.bouncedCalls+store.optOutCalls+store.replyCalls)
}

func TestHandleEvent_StaleEventDroppedSilently(t *testing.T) {
	lookup := &mockLookup{
		getFunc: func(ctx context.Context, externalID string) (*models.OutreachMessage, error) {
			return nil, apperrors.NewStaleEventError(externalID)
		},
	}
	store := &mockEventStore{}
	h := newTestHandler(lookup, store, nil)

	err := h.HandleEvent(context.Background(), event(models.EventDelivered, "evt-1"))

	require.NoError(t, err)
	assert.Zero(t, store.deliveredCalls)
}

func TestHandleEvent_DeliveredApplied(t *testing.T) {
	store := &mockEventStore{}
	h := newTestHandler(knownMessage(), store, nil)

	err := h.HandleEvent(context.Background(), event(models.EventDelivered, "evt-1"))

	require.NoError(t, err)
	assert.Equal(t, 1, store.deliveredCalls)
}

func TestHandleEvent_BouncedApplied(t *testing.T) {
	store := &mockEventStore{}
	h := newTestHandler(knownMessage(), store, nil)

	err := h.HandleEvent(context.Background(), event(models.EventBounced, "evt-1"))

	require.NoError(t, err)
	assert.Equal(t, 1, store.bouncedCalls)
}

func TestHandleEvent_RedeliveryShortCircuitsOnCache(t *testing.T) {
	store := &mockEventStore{}
	h := newTestHandler(knownMessage(), store, newTestCache(t))

	require.NoError(t, h.HandleEvent(context.Background(), event(models.EventDelivered, "evt-1")))
	require.NoError(t, h.HandleEvent(context.Background(), event(models.EventDelivered, "evt-1")))

	assert.Equal(t, 1, store.deliveredCalls)
}

func TestHandleEvent_DistinctEventsBothApply(t *testing.T) {
	store := &mockEventStore{}
	h := newTestHandler(knownMessage(), store, newTestCache(t))

	require.NoError(t, h.HandleEvent(context.Background(), event(models.EventDelivered, "evt-1")))
	require.NoError(t, h.HandleEvent(context.Background(), event(models.EventDelivered, "evt-2")))

	assert.Equal(t, 2, store.deliveredCalls)
}

func TestHandleEvent_InboundReplyRecorded(t *testing.T) {
	store := &mockEventStore{}
	h := newTestHandler(knownMessage(), store, nil)

	err := h.HandleEvent(context.Background(),
		eventWithBody(models.EventInboundReply, "evt-1", "Yes, book me in for Tuesday"))

	require.NoError(t, err)
	assert.Equal(t, 1, store.replyCalls)
	assert.Zero(t, store.optOutCalls)
	assert.Equal(t, "Yes, book me in for Tuesday", store.replyText)
}

func TestHandleEvent_StopReplyClassifiedAsOptOut(t *testing.T) {
	for _, body := range []string{"STOP", "stop", " Stop ", "UNSUBSCRIBE", "cancel", "Quit", "END"} {
		t.Run(body, func(t *testing.T) {
			store := &mockEventStore{}
			h := newTestHandler(knownMessage(), store, nil)

			err := h.HandleEvent(context.Background(),
				eventWithBody(models.EventInboundReply, "evt-1", body))

			require.NoError(t, err)
			assert.Equal(t, 1, store.optOutCalls)
			assert.Zero(t, store.replyCalls)
		})
	}
}

func TestIsOptOutText(t *testing.T) {
	assert.True(t, IsOptOutText("STOP"))
	assert.True(t, IsOptOutText("  stop  "))
	assert.False(t, IsOptOutText("please stop texting me"))
	assert.False(t, IsOptOutText(""))
	assert.False(t, IsOptOutText("STOPP"))
}

func TestHandleEvent_OptOutPropagationRetriesUntilSuccess(t *testing.T) {
	store := &mockEventStore{
		optOutErr: func(attempt int) error {
			if attempt < 3 {
				return apperrors.NewDNCPropagationError(11, assert.AnError)
			}
			return nil
		},
	}
	h := newTestHandler(knownMessage(), store, nil)

	err := h.HandleEvent(context.Background(), eventWithBody(models.EventOptOut, "evt-1", "STOP"))

	require.NoError(t, err)
	assert.Equal(t, 3, store.optOutCalls)
}

func TestHandleEvent_OptOutPropagationExhaustionSurfaces(t *testing.T) {
	store := &mockEventStore{
		optOutErr: func(attempt int) error {
			return apperrors.NewDNCPropagationError(11, assert.AnError)
		},
	}
	h := newTestHandler(knownMessage(), store, nil)

	err := h.HandleEvent(context.Background(), eventWithBody(models.EventOptOut, "evt-1", "STOP"))

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 5, store.optOutCalls)
}

func TestHandleEvent_ComplaintTreatedAsOptOut(t *testing.T) {
	store := &mockEventStore{}
	h := newTestHandler(knownMessage(), store, nil)

	err := h.HandleEvent(context.Background(), event(models.EventComplaint, "evt-1"))

	require.NoError(t, err)
	assert.Equal(t, 1, store.optOutCalls)
}

func TestHandleEvent_FailedOptOutIsRetriedOnRedelivery(t *testing.T) {
	// The cache must never hide an event whose store apply failed. The key
	// is written only on success, so the redelivery reaches the store.
	storeDown := true
	store := &mockEventStore{
		optOutErr: func(attempt int) error {
			if storeDown {
				return apperrors.NewDNCPropagationError(11, assert.AnError)
			}
			return nil
		},
	}
	h := newTestHandler(knownMessage(), store, newTestCache(t))
	ev := eventWithBody(models.EventOptOut, "evt-1", "STOP")

	err := h.HandleEvent(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, 5, store.optOutCalls)

	storeDown = false
	require.NoError(t, h.HandleEvent(context.Background(), ev))
	assert.Equal(t, 6, store.optOutCalls)

	// A third delivery after the successful apply short-circuits.
	require.NoError(t, h.HandleEvent(context.Background(), ev))
	assert.Equal(t, 6, store.optOutCalls)
}

func TestHandleEvent_DeliveredOnTerminalMessageSkipsStore(t *testing.T) {
	lookup := &mockLookup{
		getFunc: func(ctx context.Context, externalID string) (*models.OutreachMessage, error) {
			return &models.OutreachMessage{
				ID:         7,
				CampaignID: 3,
				PatientID:  11,
				Status:     models.MessageBounced,
				ExternalID: externalID,
			}, nil
		},
	}
	store := &mockEventStore{}
	h := newTestHandler(lookup, store, nil)

	err := h.HandleEvent(context.Background(), event(models.EventDelivered, "evt-1"))

	require.NoError(t, err)
	assert.Zero(t, store.deliveredCalls)
}

func TestHandleEvent_ReplyAttributedByPhoneTail(t *testing.T) {
	lookup := &mockLookup{
		getFunc: func(ctx context.Context, externalID string) (*models.OutreachMessage, error) {
			return nil, apperrors.NewStaleEventError(externalID)
		},
		latestFunc: func(ctx context.Context, patientID int64) (*models.OutreachMessage, error) {
			return &models.OutreachMessage{
				ID:         7,
				CampaignID: 3,
				PatientID:  patientID,
				Status:     models.MessageSent,
			}, nil
		},
	}
	patients := &mockPatientFinder{
		findFunc: func(ctx context.Context, tail string) (*models.Patient, error) {
			return &models.Patient{ID: 11}, nil
		},
	}
	store := &mockEventStore{}
	h := newTestHandlerWithPatients(lookup, patients, store, nil)

	ev := event(models.EventInboundReply, "evt-1")
	ev.ExternalID = "unmatched"
	payload, _ := json.Marshal(map[string]string{"body": "yes please", "from": "+1 (503) 555-1234"})
	ev.Payload = payload

	err := h.HandleEvent(context.Background(), ev)

	require.NoError(t, err)
	assert.Equal(t, []string{"5035551234"}, patients.tails)
	assert.Equal(t, 1, store.replyCalls)
	assert.Equal(t, "yes please", store.replyText)
}

func TestHandleEvent_DeliveredEventNeverAttributedByPhone(t *testing.T) {
	lookup := &mockLookup{
		getFunc: func(ctx context.Context, externalID string) (*models.OutreachMessage, error) {
			return nil, apperrors.NewStaleEventError(externalID)
		},
	}
	patients := &mockPatientFinder{
		findFunc: func(ctx context.Context, tail string) (*models.Patient, error) {
			return &models.Patient{ID: 11}, nil
		},
	}
	store := &mockEventStore{}
	h := newTestHandlerWithPatients(lookup, patients, store, nil)

	ev := event(models.EventDelivered, "evt-1")
	payload, _ := json.Marshal(map[string]string{"from": "+15035551234"})
	ev.Payload = payload

	require.NoError(t, h.HandleEvent(context.Background(), ev))
	assert.Empty(t, patients.tails)
	assert.Zero(t, store.deliveredCalls)
}
