package model

import "time"

type Lead struct {
	ID                int        `db:"id" json:"id"`
	Name              string     `db:"name" json:"name"`
	Email             string     `db:"email" json:"email"`
	Phone             *string    `db:"phone" json:"phone,omitempty"`
	IsVIP             bool       `db:"is_vip" json:"is_vip"`
	Variant           Variant    `db:"user_testing_version" json:"variant,omitempty"`
	FirstSentAt       *time.Time `db:"email_1_sent_at" json:"email_1_sent_at,omitempty"`
	ProviderMessageID string     `db:"email_1_resend_id" json:"email_1_resend_id,omitempty"`
	SendAttempts      int        `db:"send_attempts" json:"send_attempts"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}
