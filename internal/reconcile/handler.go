// internal/reconcile/handler.go

// Package reconcile folds asynchronous provider events back into message
// state. Providers redeliver webhooks freely, so every path here is
// idempotent: the database idempotency tuple is authoritative and a redis
// first-seen check in front of it keeps redeliveries cheap.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/common/metrics"
	"reengage-engine/internal/models"
)

// MessageLookup resolves a provider event to the message it belongs to.
// Satisfied by repository.MessageRepository.
type MessageLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.OutreachMessage, error)
	GetLatestForPatient(ctx context.Context, patientID int64) (*models.OutreachMessage, error)
}

// PatientFinder attributes raw inbound SMS to a patient by phone number.
// Satisfied by repository.PatientRepository.
type PatientFinder interface {
	FindByPhoneTail(ctx context.Context, tail string) (*models.Patient, error)
}

// EventStore applies one event transactionally. Satisfied by
// repository.ReconcileStore. The applied return is false when the event was
// already processed.
type EventStore interface {
	ApplyDelivered(ctx context.Context, ev *models.ProviderEvent, messageID int64) (bool, error)
	ApplyBounced(ctx context.Context, ev *models.ProviderEvent, messageID int64) (bool, error)
	ApplyOptOut(ctx context.Context, ev *models.ProviderEvent, messageID, patientID int64, responseText string) (bool, error)
	ApplyInboundReply(ctx context.Context, ev *models.ProviderEvent, messageID, campaignID int64, responseText string) (bool, error)
}

// DedupCache is the optional already-processed fast path. Satisfied by
// database.RedisClient; a nil cache disables the fast path and the database
// unique constraint still guarantees exactly-once application. The key is
// written only after the store has applied the event, so a failed apply is
// always visible to the redelivery.
type DedupCache interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

// optOutKeywords are the SMS reply bodies that legally constitute an opt-out
// request regardless of how the provider classified the event.
var optOutKeywords = map[string]struct{}{
	"STOP":        {},
	"UNSUBSCRIBE": {},
	"CANCEL":      {},
	"QUIT":        {},
	"END":         {},
}

const dedupTTL = 48 * time.Hour

type Handler struct {
	messages MessageLookup
	patients PatientFinder
	store    EventStore
	cache    DedupCache
	logger   logger.Logger

	// dncMaxAttempts bounds the opt-out propagation retry loop. When it is
	// exhausted the error is surfaced so the provider redelivers the event;
	// the opt-out is never silently dropped.
	dncMaxAttempts int
	dncBackoff     time.Duration
	sleep          func(time.Duration)
}

func NewHandler(messages MessageLookup, patients PatientFinder, store EventStore, cache DedupCache, log logger.Logger) *Handler {
	return &Handler{
		messages:       messages,
		patients:       patients,
		store:          store,
		cache:          cache,
		logger:         log.WithFields(map[string]interface{}{"component": "reconcile-handler"}),
		dncMaxAttempts: 5,
		dncBackoff:     200 * time.Millisecond,
		sleep:          time.Sleep,
	}
}

// eventBody is the slice of the provider payload the handler cares about.
type eventBody struct {
	Body string `json:"body"`
	From string `json:"from"`
}

func parseBody(ev *models.ProviderEvent) eventBody {
	var body eventBody
	if len(ev.Payload) == 0 {
		return body
	}
	if err := json.Unmarshal(ev.Payload, &body); err != nil {
		return eventBody{}
	}
	return body
}

// IsOptOutText reports whether an inbound reply body is an opt-out request.
func IsOptOutText(text string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(text))
	_, ok := optOutKeywords[normalized]
	return ok
}

// HandleEvent applies one provider event. Unknown kinds and events matching
// no known message are dropped silently with telemetry; a non-nil return
// means the provider should redeliver.
func (h *Handler) HandleEvent(ctx context.Context, ev *models.ProviderEvent) error {
	if !models.KnownEventKind(ev.Kind) {
		h.logger.Debug("ignoring unknown event kind", map[string]interface{}{
			"kind":       ev.Kind,
			"externalId": ev.ExternalID,
		})
		return nil
	}

	body := parseBody(ev)
	msg, err := h.messages.GetByExternalID(ctx, ev.ExternalID)
	if err != nil {
		if !apperrors.IsStaleEvent(err) {
			return err
		}
		msg = h.attributeByPhone(ctx, ev, body.From)
		if msg == nil {
			metrics.WebhookEventsStale.Inc()
			h.logger.Warn("event matches no known message", map[string]interface{}{
				"kind":       ev.Kind,
				"externalId": ev.ExternalID,
			})
			return nil
		}
	}

	kind := ev.Kind
	if kind == models.EventInboundReply && IsOptOutText(body.Body) {
		kind = models.EventOptOut
	}

	if h.seenBefore(ctx, ev) {
		metrics.WebhookEventsDuplicate.Inc()
		return nil
	}

	var applied bool
	switch kind {
	case models.EventDelivered:
		if msg.Status.CanAdvanceTo(models.MessageDelivered) {
			applied, err = h.store.ApplyDelivered(ctx, ev, msg.ID)
		}
	case models.EventBounced:
		if msg.Status.CanAdvanceTo(models.MessageBounced) {
			applied, err = h.store.ApplyBounced(ctx, ev, msg.ID)
		}
	case models.EventComplaint, models.EventOptOut:
		applied, err = h.applyOptOut(ctx, ev, msg, body.Body)
	case models.EventInboundReply:
		applied, err = h.store.ApplyInboundReply(ctx, ev, msg.ID, msg.CampaignID, body.Body)
	}
	if err != nil {
		return err
	}
	h.markSeen(ctx, ev)

	if applied {
		metrics.WebhookEventsProcessed.WithLabelValues(string(kind)).Inc()
	} else {
		metrics.WebhookEventsDuplicate.Inc()
	}
	return nil
}

// attributeByPhone resolves a reply-class event that carries a sender phone
// number but no usable correlation id, the way raw inbound SMS arrives. The
// patient's most recent outreach message absorbs the reply.
func (h *Handler) attributeByPhone(ctx context.Context, ev *models.ProviderEvent, from string) *models.OutreachMessage {
	if h.patients == nil || from == "" {
		return nil
	}
	switch ev.Kind {
	case models.EventInboundReply, models.EventOptOut, models.EventComplaint:
	default:
		return nil
	}
	tail := phoneTail(from)
	if tail == "" {
		return nil
	}
	patient, err := h.patients.FindByPhoneTail(ctx, tail)
	if err != nil {
		return nil
	}
	msg, err := h.messages.GetLatestForPatient(ctx, patient.ID)
	if err != nil {
		return nil
	}
	return msg
}

// phoneTail strips a number to its last 10 digits.
func phoneTail(phone string) string {
	var digits []byte
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) < 10 {
		return ""
	}
	return string(digits[len(digits)-10:])
}

func dedupKey(ev *models.ProviderEvent) string {
	return "reconcile:evt:" + ev.ExternalID + ":" + string(ev.Kind) + ":" + ev.ProviderEventID
}

// seenBefore is the read-only redis fast path. A cache failure is treated as
// unseen; the database tuple catches any duplicate that slips through.
func (h *Handler) seenBefore(ctx context.Context, ev *models.ProviderEvent) bool {
	if h.cache == nil {
		return false
	}
	_, err := h.cache.Get(ctx, dedupKey(ev))
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		h.logger.Warn("dedup cache unavailable", map[string]interface{}{"error": err})
		return false
	}
	return true
}

// markSeen records the event in redis only after the store has applied it.
// A failed apply leaves no key behind, so the provider's redelivery reaches
// the store again instead of short-circuiting here.
func (h *Handler) markSeen(ctx context.Context, ev *models.ProviderEvent) {
	if h.cache == nil {
		return
	}
	if _, err := h.cache.SetNX(ctx, dedupKey(ev), 1, dedupTTL); err != nil {
		h.logger.Warn("dedup cache unavailable", map[string]interface{}{"error": err})
	}
}

// applyOptOut retries the opt-out transaction until it sticks or attempts
// run out. Unlike every other failure in this service the DNC write may not
// be skipped, so exhaustion propagates the error and the provider redelivers.
func (h *Handler) applyOptOut(ctx context.Context, ev *models.ProviderEvent, msg *models.OutreachMessage, text string) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= h.dncMaxAttempts; attempt++ {
		applied, err := h.store.ApplyOptOut(ctx, ev, msg.ID, msg.PatientID, text)
		if err == nil {
			if applied {
				metrics.DNCPropagations.Inc()
			}
			return applied, nil
		}
		lastErr = err
		h.logger.Error("opt-out propagation attempt failed", map[string]interface{}{
			"attempt":   attempt,
			"messageId": msg.ID,
			"patientId": msg.PatientID,
			"error":     err,
		})
		if attempt < h.dncMaxAttempts {
			h.sleep(time.Duration(attempt) * h.dncBackoff)
		}
	}
	return false, lastErr
}
