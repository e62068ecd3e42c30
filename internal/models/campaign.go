// internal/models/campaign.go
package models

import "time"

// Channel is the outreach medium a campaign sends on.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ValidChannel reports whether s names a known channel.
func ValidChannel(s string) bool {
	return Channel(s) == ChannelSMS || Channel(s) == ChannelEmail
}

// CampaignStatus is the dispatch lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
	CampaignFailed  CampaignStatus = "failed"
)

// Campaign is a single batch outreach definition and its execution record.
// The draft -> sending transition happens exactly once, enforced by a
// conditional update in storage.
type Campaign struct {
	ID              int64          `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	Channel         Channel        `db:"channel" json:"channel"`
	TierFilter      string         `db:"tier_filter" json:"tier_filter,omitempty"`
	ScoreMin        int            `db:"score_min" json:"score_min"`
	MessageTemplate string         `db:"message_template" json:"message_template"`
	Subject         string         `db:"subject" json:"subject,omitempty"`
	Status          CampaignStatus `db:"status" json:"status"`
	TotalRecipients int            `db:"total_recipients" json:"total_recipients"`
	SentCount       int            `db:"sent_count" json:"sent_count"`
	FailedCount     int            `db:"failed_count" json:"failed_count"`
	RespondedCount  int            `db:"responded_count" json:"responded_count"`
	BookedCount     int            `db:"booked_count" json:"booked_count"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	SentAt          *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
}
