// internal/api/queue_handler.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
	"reengage-engine/internal/repository"
)

// QueueService is the slice of the queue manager the HTTP layer uses.
type QueueService interface {
	SetStatus(ctx context.Context, id int64, status models.QueueStatus) (*models.QueueItem, error)
	List(ctx context.Context, f repository.ListFilter) ([]models.QueueItem, int, error)
}

type QueueHandler struct {
	queue  QueueService
	logger logger.Logger
}

func NewQueueHandler(queue QueueService, log logger.Logger) *QueueHandler {
	return &QueueHandler{
		queue:  queue,
		logger: log.WithFields(map[string]interface{}{"handler": "queue"}),
	}
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.ListFilter{
		Tier:   r.URL.Query().Get("tier"),
		Status: r.URL.Query().Get("status"),
	}
	if filter.Tier != "" && !models.ValidTier(filter.Tier) {
		respondError(w, apperrors.NewValidationError("unknown tier: "+filter.Tier))
		return
	}
	if filter.Status != "" && !models.ValidQueueStatus(filter.Status) {
		respondError(w, apperrors.NewValidationError("unknown status: "+filter.Status))
		return
	}
	if raw := r.URL.Query().Get("score_min"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, apperrors.NewValidationError("score_min must be an integer"))
			return
		}
		filter.ScoreMin = &v
	}
	filter.Limit, filter.Offset = pagination(r)

	items, total, err := h.queue.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": total,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus applies an operator transition; illegal moves map to 422.
func (h *QueueHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if !models.ValidQueueStatus(req.Status) {
		respondError(w, apperrors.NewValidationError("unknown status: "+req.Status))
		return
	}

	item, err := h.queue.SetStatus(r.Context(), id, models.QueueStatus(req.Status))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}
