// internal/models/queue_item.go
package models

import "time"

// QueueStatus tracks a patient's standing in the outreach funnel.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueContacted QueueStatus = "contacted"
	QueueResponded QueueStatus = "responded"
	QueueBooked    QueueStatus = "booked"
	QueueDead      QueueStatus = "dead"
)

// ValidQueueStatus reports whether s names a known queue status.
func ValidQueueStatus(s string) bool {
	switch QueueStatus(s) {
	case QueuePending, QueueContacted, QueueResponded, QueueBooked, QueueDead:
		return true
	}
	return false
}

// Eligible reports whether an item in this status may receive new outreach.
func (s QueueStatus) Eligible() bool {
	return s == QueuePending || s == QueueContacted
}

// ContactSnapshot is the denormalized contact info carried on a queue item.
// It is copied from the patient at scoring time so dispatch keeps working
// even if the live patient record changes underneath it.
type ContactSnapshot struct {
	FullName   string `db:"full_name" json:"full_name"`
	CalledName string `db:"called_name" json:"called_name"`
	CellPhone  string `db:"cell_phone" json:"cell_phone"`
	Email      string `db:"email" json:"email"`
}

// QueueItem is one patient's row in the re-engagement queue. Exactly one
// exists per patient; rescoring refreshes tier/score/contact but never
// touches outreach progress.
type QueueItem struct {
	ID               int64       `db:"id" json:"id"`
	PatientID        int64       `db:"patient_id" json:"patient_id"`
	Contact          ContactSnapshot `json:"contact"`
	Tier             Tier        `db:"tier" json:"tier"`
	Score            int         `db:"score" json:"score"`
	Status           QueueStatus `db:"status" json:"status"`
	ContactAttempts  int         `db:"contact_attempts" json:"contact_attempts"`
	LastContactedAt  *time.Time  `db:"last_contacted_at" json:"last_contacted_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// Address returns the contact address for the given channel, or "" when the
// patient cannot be reached on it.
func (q *QueueItem) Address(channel Channel) string {
	switch channel {
	case ChannelSMS:
		return q.Contact.CellPhone
	case ChannelEmail:
		return q.Contact.Email
	}
	return ""
}
