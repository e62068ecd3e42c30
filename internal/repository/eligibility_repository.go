// internal/repository/eligibility_repository.go
package repository

import (
	"context"
	"strconv"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/models"
)

// EligibilityFilter narrows the recipient snapshot query. Tier empty means
// all tiers.
type EligibilityFilter struct {
	Tier     string
	ScoreMin int
}

type EligibilityRepository struct {
	db DBTX
}

func NewEligibilityRepository(db DBTX) *EligibilityRepository {
	return &EligibilityRepository{db: db}
}

// ListEligible returns queue items that may receive outreach right now:
// funnel status pending or contacted, live patient record not on the
// do-not-contact list, and no prior opt-out reply on record. The result is
// ordered score descending with patient_id as tiebreaker so recipient order
// is stable across runs.
func (r *EligibilityRepository) ListEligible(ctx context.Context, f EligibilityFilter) ([]models.QueueItem, error) {
	query := `
		SELECT q.id, q.patient_id, q.full_name, q.called_name, q.cell_phone,
		       q.email, q.tier, q.score, q.status, q.contact_attempts,
		       q.last_contacted_at, q.created_at, q.updated_at
		FROM reengagement_queue q
		JOIN patients p ON p.id = q.patient_id
		WHERE q.status IN ('pending', 'contacted')
		  AND p.is_dnc = FALSE
		  AND NOT EXISTS (
		        SELECT 1 FROM outreach_messages m
		        WHERE m.patient_id = q.patient_id AND m.is_opt_out = TRUE
		  )
		  AND q.score >= $1`
	args := []interface{}{f.ScoreMin}

	if f.Tier != "" {
		args = append(args, f.Tier)
		query += ` AND q.tier = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY q.score DESC, q.patient_id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("eligibility.list", err)
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
			return nil, apperrors.NewQueryExecutionError("eligibility.scan", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionError("eligibility.rows", err)
	}
	return items, nil
}
