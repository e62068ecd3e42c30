// internal/models/patient.go
package models

import "time"

// Patient is the snapshot produced by the ingestion pipeline. This service
// reads it and owns exactly one field transition on it: IsDNC false -> true.
type Patient struct {
	ID           int64      `db:"id" json:"id"`
	AccountID    string     `db:"account_id" json:"account_id"`
	FirstName    string     `db:"first_name" json:"first_name"`
	CalledName   string     `db:"called_name" json:"called_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	CellPhone    string     `db:"cell_phone" json:"cell_phone"`
	AltPhone     string     `db:"alt_phone" json:"alt_phone"`
	Email        string     `db:"email" json:"email"`
	IsDNC        bool       `db:"is_dnc" json:"is_dnc"`
	LastAppt     *time.Time `db:"last_appt" json:"last_appt,omitempty"`
	TotalVisits  int        `db:"total_visits" json:"total_visits"`
	HasInsurance bool       `db:"has_insurance" json:"has_insurance"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// HasUsableContact reports whether any channel can reach this patient.
func (p *Patient) HasUsableContact() bool {
	return p.Email != "" || p.CellPhone != "" || p.AltPhone != ""
}
