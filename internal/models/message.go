// internal/models/message.go
package models

import "time"

// MessageStatus is the delivery state of an outreach message. Statuses only
// advance forward: pending -> {sent, blocked, failed} -> {delivered, bounced}.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
	MessageBounced   MessageStatus = "bounced"
	MessageBlocked   MessageStatus = "blocked"
)

// rank orders statuses along the forward lattice. Terminal negatives rank
// highest so a later positive event can never overwrite them.
func (s MessageStatus) rank() int {
	switch s {
	case MessagePending:
		return 0
	case MessageSent:
		return 1
	case MessageDelivered, MessageFailed, MessageBounced, MessageBlocked:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether a transition from s to next moves forward
// along the lattice. Equal-rank and backward transitions are refused.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

// OutreachMessage is one (campaign, patient) send attempt and its full audit
// trail. ExternalID correlates asynchronous provider events back to the row.
type OutreachMessage struct {
	ID           int64         `db:"id" json:"id"`
	CampaignID   int64         `db:"campaign_id" json:"campaign_id"`
	QueueItemID  int64         `db:"queue_item_id" json:"queue_item_id"`
	PatientID    int64         `db:"patient_id" json:"patient_id"`
	Channel      Channel       `db:"channel" json:"channel"`
	Recipient    string        `db:"recipient" json:"recipient"`
	MessageBody  string        `db:"message_body" json:"message_body"`
	Subject      string        `db:"subject" json:"subject,omitempty"`
	Status       MessageStatus `db:"status" json:"status"`
	ExternalID   string        `db:"external_id" json:"external_id,omitempty"`
	ErrorMessage string        `db:"error_message" json:"error_message,omitempty"`
	IsOptOut     bool          `db:"is_opt_out" json:"is_opt_out"`
	SentAt       *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt  *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	RespondedAt  *time.Time    `db:"responded_at" json:"responded_at,omitempty"`
	ResponseText string        `db:"response_text" json:"response_text,omitempty"`
}
