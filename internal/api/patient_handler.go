// internal/api/patient_handler.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/common/logger"
	"reengage-engine/internal/models"
	"reengage-engine/internal/scoring"
)

type PatientStore interface {
	UpsertSnapshot(ctx context.Context, p *models.Patient) (*models.Patient, error)
}

type QueueUpserter interface {
	UpsertFromScore(ctx context.Context, patientID int64, contact models.ContactSnapshot, result models.ScoreResult) (*models.QueueItem, error)
}

type PatientHandler struct {
	patients PatientStore
	queue    QueueUpserter
	logger   logger.Logger
	now      func() time.Time
}

func NewPatientHandler(patients PatientStore, queue QueueUpserter, log logger.Logger) *PatientHandler {
	return &PatientHandler{
		patients: patients,
		queue:    queue,
		logger:   log.WithFields(map[string]interface{}{"handler": "patients"}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type patientSnapshot struct {
	AccountID    string     `json:"account_id"`
	FirstName    string     `json:"first_name"`
	CalledName   string     `json:"called_name"`
	LastName     string     `json:"last_name"`
	CellPhone    string     `json:"cell_phone"`
	AltPhone     string     `json:"alt_phone"`
	Email        string     `json:"email"`
	IsDNC        bool       `json:"is_dnc"`
	LastAppt     *time.Time `json:"last_appt,omitempty"`
	TotalVisits  int        `json:"total_visits"`
	HasInsurance bool       `json:"has_insurance"`
}

type syncRequest struct {
	Patients []patientSnapshot `json:"patients"`
}

type syncFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

// Sync ingests a batch of patient snapshots from the ETL pipeline: upsert the
// patient record, rescore it, and refresh its queue item. Failures are scoped
// to the single snapshot; the rest of the batch proceeds.
func (h *PatientHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if len(req.Patients) == 0 {
		respondError(w, apperrors.NewValidationError("patients is required"))
		return
	}

	asOf := h.now()
	synced := 0
	failures := []syncFailure{}
	for _, snap := range req.Patients {
		if snap.AccountID == "" {
			failures = append(failures, syncFailure{Error: "account_id is required"})
			continue
		}
		if err := h.syncOne(r.Context(), &snap, asOf); err != nil {
			h.logger.Error("patient sync failed", map[string]interface{}{
				"accountId": snap.AccountID,
				"error":     err,
			})
			failures = append(failures, syncFailure{AccountID: snap.AccountID, Error: err.Error()})
			continue
		}
		synced++
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"synced":   synced,
		"failed":   len(failures),
		"failures": failures,
	})
}

func (h *PatientHandler) syncOne(ctx context.Context, snap *patientSnapshot, asOf time.Time) error {
	patient, err := h.patients.UpsertSnapshot(ctx, &models.Patient{
		AccountID:    snap.AccountID,
		FirstName:    snap.FirstName,
		CalledName:   snap.CalledName,
		LastName:     snap.LastName,
		CellPhone:    snap.CellPhone,
		AltPhone:     snap.AltPhone,
		Email:        snap.Email,
		IsDNC:        snap.IsDNC,
		LastAppt:     snap.LastAppt,
		TotalVisits:  snap.TotalVisits,
		HasInsurance: snap.HasInsurance,
	})
	if err != nil {
		return err
	}

	result := scoring.Score(patient, asOf)
	_, err = h.queue.UpsertFromScore(ctx, patient.ID, models.ContactSnapshot{
		FullName:   patient.FirstName + " " + patient.LastName,
		CalledName: patient.CalledName,
		CellPhone:  patient.CellPhone,
		Email:      patient.Email,
	}, result)
	return err
}
