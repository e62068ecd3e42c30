// internal/api/webhook_handler.go
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
)

// EventHandler applies one provider event. Satisfied by reconcile.Handler.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev *models.ProviderEvent) error
}

// eventBatchSchema is the wire contract for provider callbacks. Kind is
// deliberately an open string: unknown kinds must validate and then be
// ignored, so new provider event types never bounce a batch.
const eventBatchSchema = `{
	"type": "object",
	"required": ["events"],
	"properties": {
		"events": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["external_id", "kind", "provider_event_id", "occurred_at"],
				"properties": {
					"external_id":       {"type": "string", "minLength": 1},
					"kind":              {"type": "string", "minLength": 1},
					"provider_event_id": {"type": "string", "minLength": 1},
					"occurred_at":       {"type": "string", "format": "date-time"},
					"payload":           {"type": "object"}
				}
			}
		}
	}
}`

type WebhookHandler struct {
	events EventHandler
	schema *gojsonschema.Schema
	logger logger.Logger
}

func NewWebhookHandler(events EventHandler, log logger.Logger) (*WebhookHandler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(eventBatchSchema))
	if err != nil {
		return nil, err
	}
	return &WebhookHandler{
		events: events,
		schema: schema,
		logger: log.WithFields(map[string]interface{}{"handler": "webhooks"}),
	}, nil
}

type eventBatch struct {
	Events []models.ProviderEvent `json:"events"`
}

// Receive ingests a provider event batch. Events are isolated from each
// other: one failing event is reported back for redelivery without blocking
// the rest of the batch.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, apperrors.NewValidationError("unreadable request body"))
		return
	}

	result, err := h.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		respondError(w, apperrors.NewValidationError("invalid JSON: "+err.Error()))
		return
	}
	if !result.Valid() {
		detail := ""
		for _, desc := range result.Errors() {
			if detail != "" {
				detail += "; "
			}
			detail += desc.String()
		}
		respondError(w, apperrors.NewValidationError(detail))
		return
	}

	var batch eventBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		respondError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	processed := 0
	failed := []map[string]string{}
	for i := range batch.Events {
		ev := &batch.Events[i]
		if err := h.events.HandleEvent(r.Context(), ev); err != nil {
			h.logger.Error("event processing failed", map[string]interface{}{
				"externalId":      ev.ExternalID,
				"kind":            ev.Kind,
				"providerEventId": ev.ProviderEventID,
				"error":           err,
			})
			failed = append(failed, map[string]string{
				"provider_event_id": ev.ProviderEventID,
				"error":             err.Error(),
			})
			continue
		}
		processed++
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"processed": processed,
		"failed":    failed,
	})
}
