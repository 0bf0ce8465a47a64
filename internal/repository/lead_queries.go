package repository

import (
	appErrors "github.com/unclebandit/outreach-driver/internal/errors"
	"github.com/unclebandit/outreach-driver/internal/model"
)

// leadQueries is the static SQL for one channel's lead table. Table names are
// literals so that no identifier is ever built at runtime.
type leadQueries struct {
	fetchUnsent   string
	assignVariant string
	delete        string
	claim         string
	confirm       string
	release       string
}

var kickstarterQueries = leadQueries{
	fetchUnsent: `
        SELECT id, name, email, phone, is_vip, COALESCE(user_testing_version, ''), send_attempts, created_at
        FROM leads_kickstarter
        WHERE email_1_sent_at IS NULL AND ($2 = 0 OR send_attempts < $2)
        ORDER BY id
        LIMIT $1`,
	assignVariant: `
        UPDATE leads_kickstarter
        SET user_testing_version = COALESCE(user_testing_version, $1)
        WHERE id = $2
        RETURNING user_testing_version`,
	delete: `DELETE FROM leads_kickstarter WHERE id = $1`,
	claim: `
        UPDATE leads_kickstarter
        SET email_1_sent_at = $1, outbound_message = TRUE
        WHERE id = $2 AND email_1_sent_at IS NULL`,
	confirm: `UPDATE leads_kickstarter SET email_1_resend_id = $1 WHERE id = $2`,
	release: `
        UPDATE leads_kickstarter
        SET email_1_sent_at = NULL, email_1_resend_id = NULL, outbound_message = FALSE, send_attempts = send_attempts + 1
        WHERE id = $1`,
}

var instagramQueries = leadQueries{
	fetchUnsent: `
        SELECT id, name, email, phone, is_vip, COALESCE(user_testing_version, ''), send_attempts, created_at
        FROM leads_instagram
        WHERE email_1_sent_at IS NULL AND ($2 = 0 OR send_attempts < $2)
        ORDER BY id
        LIMIT $1`,
	assignVariant: `
        UPDATE leads_instagram
        SET user_testing_version = COALESCE(user_testing_version, $1)
        WHERE id = $2
        RETURNING user_testing_version`,
	delete: `DELETE FROM leads_instagram WHERE id = $1`,
	claim: `
        UPDATE leads_instagram
        SET email_1_sent_at = $1, outbound_message = TRUE
        WHERE id = $2 AND email_1_sent_at IS NULL`,
	confirm: `UPDATE leads_instagram SET email_1_resend_id = $1 WHERE id = $2`,
	release: `
        UPDATE leads_instagram
        SET email_1_sent_at = NULL, email_1_resend_id = NULL, outbound_message = FALSE, send_attempts = send_attempts + 1
        WHERE id = $1`,
}

func queriesFor(ch model.Channel) (leadQueries, error) {
	switch ch {
	case model.ChannelKickstarter:
		return kickstarterQueries, nil
	case model.ChannelInstagram:
		return instagramQueries, nil
	}
	return leadQueries{}, appErrors.NewUnknownChannel(ch)
}
