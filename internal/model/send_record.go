package model

import "time"

// SendRecord is one accepted send in the email log.
type SendRecord struct {
	ID                int64      `db:"id" json:"id"`
	LeadID            int        `db:"user_id" json:"user_id"`
	EmailAddress      string     `db:"email_address" json:"email_address"`
	Channel           Channel    `db:"lead_source" json:"lead_source"`
	SenderEmail       string     `db:"sender_email" json:"sender_email"`
	EmailType         string     `db:"email_type" json:"email_type"`
	Variant           Variant    `db:"email_version" json:"email_version"`
	SentAt            time.Time  `db:"sent_at" json:"sent_at"`
	ProviderMessageID string     `db:"resend_id" json:"resend_id"`
	HasOpened         bool       `db:"has_opened" json:"has_opened"`
	OpenedAt          *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	HasClicked        bool       `db:"has_clicked" json:"has_clicked"`
	ClickedAt         *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
}
