// internal/api/campaign_handler.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"reengage-engine/internal/common/config"
	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
	"reengage-engine/internal/repository"
)

type CampaignStore interface {
	Create(ctx context.Context, c *models.Campaign) (*models.Campaign, error)
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	List(ctx context.Context, f repository.CampaignFilter) ([]models.Campaign, int, error)
}

type MessageLister interface {
	ListByCampaign(ctx context.Context, campaignID int64, f repository.MessageFilter) ([]models.OutreachMessage, int, error)
}

// Dispatcher runs a campaign send to completion.
type Dispatcher interface {
	Submit(ctx context.Context, campaignID int64) error
}

type CampaignHandler struct {
	campaigns  CampaignStore
	messages   MessageLister
	dispatcher Dispatcher
	comms      config.CommsConfig
	logger     logger.Logger
}

func NewCampaignHandler(campaigns CampaignStore, messages MessageLister, dispatcher Dispatcher, comms config.CommsConfig, log logger.Logger) *CampaignHandler {
	return &CampaignHandler{
		campaigns:  campaigns,
		messages:   messages,
		dispatcher: dispatcher,
		comms:      comms,
		logger:     log.WithFields(map[string]interface{}{"handler": "campaigns"}),
	}
}

type createCampaignRequest struct {
	Name            string `json:"name"`
	Channel         string `json:"channel"`
	TierFilter      string `json:"tier_filter,omitempty"`
	ScoreMin        int    `json:"score_min"`
	MessageTemplate string `json:"message_template"`
	Subject         string `json:"subject,omitempty"`
}

func (r *createCampaignRequest) validate() error {
	switch {
	case r.Name == "":
		return apperrors.NewValidationError("name is required")
	case !models.ValidChannel(r.Channel):
		return apperrors.NewValidationError("channel must be sms or email")
	case r.MessageTemplate == "":
		return apperrors.NewValidationError("message_template is required")
	case models.Channel(r.Channel) == models.ChannelEmail && r.Subject == "":
		return apperrors.NewValidationError("subject is required for email campaigns")
	case r.TierFilter != "" && !models.ValidTier(r.TierFilter):
		return apperrors.NewValidationError("tier_filter must be one of active, warm, cool, cold, dormant")
	case r.ScoreMin < 0 || r.ScoreMin > 100:
		return apperrors.NewValidationError("score_min must be between 0 and 100")
	}
	return nil
}

// Create rejects a malformed campaign before any state change.
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, err)
		return
	}

	campaign, err := h.campaigns.Create(r.Context(), &models.Campaign{
		Name:            req.Name,
		Channel:         models.Channel(req.Channel),
		TierFilter:      req.TierFilter,
		ScoreMin:        req.ScoreMin,
		MessageTemplate: req.MessageTemplate,
		Subject:         req.Subject,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, campaign)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	campaigns, total, err := h.campaigns.List(r.Context(), repository.CampaignFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     total,
	})
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	campaign, err := h.campaigns.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

// Send runs the dispatch synchronously. Losing the draft->sending race maps
// to 409; the campaign is being sent either way.
func (h *CampaignHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.dispatcher.Submit(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	campaign, err := h.campaigns.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, campaign)
}

type messageView struct {
	ID          int64                `json:"id"`
	PatientID   int64                `json:"patient_id"`
	Channel     models.Channel       `json:"channel"`
	Recipient   string               `json:"recipient"`
	Status      models.MessageStatus `json:"status"`
	ErrorMsg    string               `json:"error_message,omitempty"`
	IsOptOut    bool                 `json:"is_opt_out"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
	DeliveredAt *time.Time           `json:"delivered_at,omitempty"`
	RespondedAt *time.Time           `json:"responded_at,omitempty"`
}

// Messages is the per-campaign audit log. Recipient addresses are masked;
// the dashboard never needs the full address.
func (h *CampaignHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := h.campaigns.GetByID(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	limit, offset := pagination(r)
	messages, total, err := h.messages.ListByCampaign(r.Context(), id, repository.MessageFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{
			ID:          m.ID,
			PatientID:   m.PatientID,
			Channel:     m.Channel,
			Recipient:   maskRecipient(m.Recipient),
			Status:      m.Status,
			ErrorMsg:    m.ErrorMessage,
			IsOptOut:    m.IsOptOut,
			SentAt:      m.SentAt,
			DeliveredAt: m.DeliveredAt,
			RespondedAt: m.RespondedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": views,
		"total":    total,
	})
}

// CommsStatus tells the dashboard which channels are live.
func (h *CampaignHandler) CommsStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"mock_mode":        h.comms.MockMode,
		"sms_configured":   h.comms.MockMode || h.comms.AWS.SNS.Enabled,
		"email_configured": h.comms.MockMode || h.comms.AWS.SES.Enabled,
	})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError("id must be an integer")
	}
	return id, nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
