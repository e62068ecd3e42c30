// internal/models/event.go
package models

import (
	"encoding/json"
	"time"
)

// EventKind classifies an inbound provider event. Kinds outside this set are
// ignored on receipt so new provider event types never break the handler.
type EventKind string

const (
	EventDelivered    EventKind = "delivered"
	EventBounced      EventKind = "bounced"
	EventComplaint    EventKind = "complaint"
	EventInboundReply EventKind = "inbound_reply"
	EventOptOut       EventKind = "opt_out"
)

// KnownEventKind reports whether k is a kind this service reconciles.
func KnownEventKind(k EventKind) bool {
	switch k {
	case EventDelivered, EventBounced, EventComplaint, EventInboundReply, EventOptOut:
		return true
	}
	return false
}

// ProviderEvent is the normalized webhook payload. ProviderEventID is the
// idempotency key component: redelivery of the same (external_id, kind,
// provider_event_id) tuple is a no-op.
type ProviderEvent struct {
	ExternalID      string          `json:"external_id"`
	Kind            EventKind       `json:"kind"`
	ProviderEventID string          `json:"provider_event_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}
