// internal/repository/patient_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/models"
)

type PatientRepository struct {
	db DBTX
}

func NewPatientRepository(db DBTX) *PatientRepository {
	return &PatientRepository{db: db}
}

const patientColumns = `id, account_id, first_name, called_name, last_name,
	cell_phone, alt_phone, email, is_dnc, last_appt, total_visits,
	has_insurance, created_at, updated_at`

func scanPatient(row *sql.Row) (*models.Patient, error) {
	var p models.Patient
	err := row.Scan(
		&p.ID, &p.AccountID, &p.FirstName, &p.CalledName, &p.LastName,
		&p.CellPhone, &p.AltPhone, &p.Email, &p.IsDNC, &p.LastAppt,
		&p.TotalVisits, &p.HasInsurance, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PatientRepository) GetByID(ctx context.Context, id int64) (*models.Patient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("patient", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("patient.get", err)
	}
	return p, nil
}

// FindByPhoneTail matches a patient by the last 10 digits of their cell
// phone. Used to attribute inbound SMS replies that arrive without a message
// correlation id.
func (r *PatientRepository) FindByPhoneTail(ctx context.Context, tail string) (*models.Patient, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients
		 WHERE RIGHT(regexp_replace(cell_phone, '[^0-9]', '', 'g'), 10) = $1
		 LIMIT 1`, tail)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("patient", 0)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("patient.find_by_phone", err)
	}
	return p, nil
}

// UpsertSnapshot writes an ingested patient snapshot keyed by account_id.
// is_dnc is monotonic: the statement ORs the incoming flag with the stored
// one so no snapshot can ever clear it.
func (r *PatientRepository) UpsertSnapshot(ctx context.Context, p *models.Patient) (*models.Patient, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO patients (
			account_id, first_name, called_name, last_name, cell_phone,
			alt_phone, email, is_dnc, last_appt, total_visits, has_insurance,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			first_name    = EXCLUDED.first_name,
			called_name   = EXCLUDED.called_name,
			last_name     = EXCLUDED.last_name,
			cell_phone    = EXCLUDED.cell_phone,
			alt_phone     = EXCLUDED.alt_phone,
			email         = EXCLUDED.email,
			is_dnc        = patients.is_dnc OR EXCLUDED.is_dnc,
			last_appt     = EXCLUDED.last_appt,
			total_visits  = EXCLUDED.total_visits,
			has_insurance = EXCLUDED.has_insurance,
			updated_at    = NOW()
		RETURNING `+patientColumns,
		p.AccountID, p.FirstName, p.CalledName, p.LastName, p.CellPhone,
		p.AltPhone, p.Email, p.IsDNC, p.LastAppt, p.TotalVisits, p.HasInsurance,
	)
	saved, err := scanPatient(row)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("patient.upsert", err)
	}
	return saved, nil
}

// ListAll streams every patient record, ordered by id. Used by the batch
// rescoring tool.
func (r *PatientRepository) ListAll(ctx context.Context) ([]models.Patient, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+patientColumns+` FROM patients ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewQueryExecutionError("patient.list", err)
	}
	defer rows.Close()

	patients := []models.Patient{}
	for rows.Next() {
		var p models.Patient
		if err := rows.Scan(
			&p.ID, &p.AccountID, &p.FirstName, &p.CalledName, &p.LastName,
			&p.CellPhone, &p.AltPhone, &p.Email, &p.IsDNC, &p.LastAppt,
			&p.TotalVisits, &p.HasInsurance, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, apperrors.NewQueryExecutionError("patient.list_scan", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryExecutionError("patient.list_rows", err)
	}
	return patients, nil
}

// setDNC flips the do-not-contact flag to true. There is deliberately no
// operation anywhere in this service that writes false.
func setDNC(ctx context.Context, db DBTX, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE patients SET is_dnc = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewQueryExecutionError("patient.set_dnc", err)
	}
	return nil
}

// HasOptOut reports whether any prior outreach message for this patient
// carries a sticky opt-out.
func (r *PatientRepository) HasOptOut(ctx context.Context, patientID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM outreach_messages
			WHERE patient_id = $1 AND is_opt_out = TRUE
		)`, patientID).Scan(&exists)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("patient.has_opt_out", err)
	}
	return exists, nil
}
