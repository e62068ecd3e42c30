// internal/repository/queue_repository.go
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

type QueueRepository struct {
	db DBTX
}

func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

const queueColumns = `id, patient_id, full_name, called_name, cell_phone,
	email, tier, score, status, contact_attempts, last_contacted_at,
	created_at, updated_at`

func scanQueueItem(row *sql.Row) (*models.QueueItem, error) {
	var q models.QueueItem
	err := row.Scan(
		&q.ID, &q.PatientID, &q.Contact.FullName, &q.Contact.CalledName,
		&q.Contact.CellPhone, &q.Contact.Email, &q.Tier, &q.Score, &q.Status,
		&q.ContactAttempts, &q.LastContactedAt, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QueueRepository) GetByID(ctx context.Context, id int64) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM reengagement_queue WHERE id = $1`, id)
	q, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("queue item", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("queue.get", err)
	}
	return q, nil
}

func (r *QueueRepository) GetByPatientID(ctx context.Context, patientID int64) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM reengagement_queue WHERE patient_id = $1`, patientID)
	q, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("queue item", patientID)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("queue.get_by_patient", err)
	}
	return q, nil
}

// Upsert creates or refreshes the single queue item for a patient. On
// conflict only tier, score and the contact snapshot are updated; status,
// contact_attempts and last_contacted_at are left untouched so rescoring
// never regresses outreach progress.
func (r *QueueRepository) Upsert(ctx context.Context, patientID int64, contact models.ContactSnapshot, result models.ScoreResult) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO reengagement_queue (
			patient_id, full_name, called_name, cell_phone, email,
			tier, score, status, contact_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 0, NOW(), NOW())
		ON CONFLICT (patient_id) DO UPDATE SET
			full_name   = EXCLUDED.full_name,
			called_name = EXCLUDED.called_name,
			cell_phone  = EXCLUDED.cell_phone,
			email       = EXCLUDED.email,
			tier        = EXCLUDED.tier,
			score       = EXCLUDED.score,
			updated_at  = NOW()
		RETURNING `+queueColumns,
		patientID, contact.FullName, contact.CalledName, contact.CellPhone,
		contact.Email, result.Tier, result.Score,
	)
	q, err := scanQueueItem(row)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("queue.upsert", err)
	}
	return q, nil
}

// UpdateStatus writes a new status unconditionally; transition legality is
// enforced by the queue manager before this is called.
func (r *QueueRepository) UpdateStatus(ctx context.Context, id int64, status models.QueueStatus) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE reengagement_queue
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+queueColumns,
		id, status,
	)
	q, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("queue item", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("queue.update_status", err)
	}
	return q, nil
}

// RecordContactAttempt bumps the attempt counter, stamps the contact time
// and advances pending items to contacted, all in one statement.
func (r *QueueRepository) RecordContactAttempt(ctx context.Context, id int64, at time.Time) (*models.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE reengagement_queue
		SET contact_attempts  = contact_attempts + 1,
		    last_contacted_at = $2,
		    status            = CASE WHEN status = 'pending' THEN 'contacted' ELSE status END,
		    updated_at        = NOW()
		WHERE id = $1
		RETURNING `+queueColumns,
		id, at,
	)
	q, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("queue item", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("queue.record_attempt", err)
	}
	return q, nil
}

// ListFilter narrows the dashboard queue listing.
type ListFilter struct {
	Tier     string
	Status   string
	ScoreMin *int
	Limit    int
	Offset   int
}

// List returns queue items ordered by score descending for the dashboard
// read model, plus the unpaginated total.
func (r *QueueRepository) List(ctx context.Context, f ListFilter) ([]models.QueueItem, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	n := 1

	if f.Tier != "" {
		where += ` AND tier = $` + strconv.Itoa(n)
		args = append(args, f.Tier)
		n++
	}
	if f.Status != "" {
		where += ` AND status = $` + strconv.Itoa(n)
		args = append(args, f.Status)
		n++
	}
	if f.ScoreMin != nil {
		where += ` AND score >= $` + strconv.Itoa(n)
		args = append(args, *f.ScoreMin)
		n++
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reengagement_queue`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("queue.count", err)
	}

	query := `SELECT ` + queueColumns + ` FROM reengagement_queue` + where +
		` ORDER BY score DESC, patient_id ASC LIMIT $` + strconv.Itoa(n) + ` OFFSET $` + strconv.Itoa(n+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("queue.list", err)
	}
	defer rows.Close()

	items := []models.QueueItem{}
	for rows.Next() {
		var q models.QueueItem
		if err := rows.Scan(
			&q.ID, &q.PatientID, &q.Contact.FullName, &q.Contact.CalledName,
			&q.Contact.CellPhone, &q.Contact.Email, &q.Tier, &q.Score, &q.Status,
			&q.ContactAttempts, &q.LastContactedAt, &q.CreatedAt, &q.UpdatedAt,
		); err != nil {
			return nil, 0, apperrors.NewQueryExecutionError("queue.list_scan", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewQueryExecutionError("queue.list_rows", err)
	}
	return items, total, nil
}
