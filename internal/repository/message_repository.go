// internal/repository/message_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/models"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, campaign_id, queue_item_id, patient_id, channel,
	recipient, message_body, subject, status, external_id, error_message,
	is_opt_out, sent_at, delivered_at, responded_at, response_text`

func scanMessage(row *sql.Row) (*models.OutreachMessage, error) {
	var m models.OutreachMessage
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.QueueItemID, &m.PatientID, &m.Channel,
		&m.Recipient, &m.MessageBody, &m.Subject, &m.Status, &m.ExternalID,
		&m.ErrorMessage, &m.IsOptOut, &m.SentAt, &m.DeliveredAt,
		&m.RespondedAt, &m.ResponseText,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreatePending inserts the message row for one recipient. The unique index
// on (campaign_id, patient_id) makes concurrent resolution safe: the loser
// of a duplicate insert gets the existing row back instead of a second one.
func (r *MessageRepository) CreatePending(ctx context.Context, m *models.OutreachMessage) (*models.OutreachMessage, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO outreach_messages (
			campaign_id, queue_item_id, patient_id, channel, recipient,
			message_body, subject, status, is_opt_out
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', FALSE)
		ON CONFLICT (campaign_id, patient_id) DO NOTHING
		RETURNING `+messageColumns,
		m.CampaignID, m.QueueItemID, m.PatientID, m.Channel, m.Recipient,
		m.MessageBody, m.Subject,
	)
	saved, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: another worker already created this pair.
		return r.GetByCampaignAndPatient(ctx, m.CampaignID, m.PatientID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("message.create", err)
	}
	return saved, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*models.OutreachMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM outreach_messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("outreach message", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("message.get", err)
	}
	return m, nil
}

func (r *MessageRepository) GetByCampaignAndPatient(ctx context.Context, campaignID, patientID int64) (*models.OutreachMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM outreach_messages
		 WHERE campaign_id = $1 AND patient_id = $2`, campaignID, patientID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("outreach message", campaignID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("message.get_pair", err)
	}
	return m, nil
}

// GetLatestForPatient returns the patient's most recent outreach message.
// Used to attribute inbound replies that arrive with a phone number instead
// of a message correlation id.
func (r *MessageRepository) GetLatestForPatient(ctx context.Context, patientID int64) (*models.OutreachMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM outreach_messages
		 WHERE patient_id = $1
		 ORDER BY id DESC LIMIT 1`, patientID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("outreach message", patientID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("message.get_latest", err)
	}
	return m, nil
}

func (r *MessageRepository) GetByExternalID(ctx context.Context, externalID string) (*models.OutreachMessage, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM outreach_messages
		 WHERE external_id = $1`, externalID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewStaleEventError(externalID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("message.get_external", err)
	}
	return m, nil
}

// MarkSent records provider acceptance. Only pending messages advance.
func (r *MessageRepository) MarkSent(ctx context.Context, id int64, externalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = 'sent', external_id = $2, sent_at = $3
		WHERE id = $1 AND status = 'pending'`, id, externalID, at)
	if err != nil {
		return apperrors.NewQueryExecutionError("message.mark_sent", err)
	}
	return nil
}

// MarkFailed records a permanent send failure.
func (r *MessageRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = 'pending'`, id, errMsg)
	if err != nil {
		return apperrors.NewQueryExecutionError("message.mark_failed", err)
	}
	return nil
}

// MarkBlocked records a DNC/opt-out block at send time; the provider was
// never called.
func (r *MessageRepository) MarkBlocked(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = 'blocked', error_message = $2
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return apperrors.NewQueryExecutionError("message.mark_blocked", err)
	}
	return nil
}

// ListFilter references repository.ListFilter for queue; messages use their
// own smaller filter.
type MessageFilter struct {
	Status string
	Limit  int
	Offset int
}

func (r *MessageRepository) ListByCampaign(ctx context.Context, campaignID int64, f MessageFilter) ([]models.OutreachMessage, int, error) {
	where := ` WHERE campaign_id = $1`
	args := []interface{}{campaignID}
	n := 2

	if f.Status != "" {
		where += ` AND status = $` + strconv.Itoa(n)
		args = append(args, f.Status)
		n++
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outreach_messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("message.count", err)
	}

	query := `SELECT ` + messageColumns + ` FROM outreach_messages` + where +
		` ORDER BY id DESC LIMIT $` + strconv.Itoa(n) + ` OFFSET $` + strconv.Itoa(n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("message.list", err)
	}
	defer rows.Close()

	messages := []models.OutreachMessage{}
	for rows.Next() {
		var m models.OutreachMessage
		if err := rows.Scan(
			&m.ID, &m.CampaignID, &m.QueueItemID, &m.PatientID, &m.Channel,
			&m.Recipient, &m.MessageBody, &m.Subject, &m.Status, &m.ExternalID,
			&m.ErrorMessage, &m.IsOptOut, &m.SentAt, &m.DeliveredAt,
			&m.RespondedAt, &m.ResponseText,
		); err != nil {
			return nil, 0, apperrors.NewQueryExecutionError("message.list_scan", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("message.list_rows", err)
	}
	return messages, total, nil
}
