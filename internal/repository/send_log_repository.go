package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/unclebandit/outreach-driver/internal/model"
)

// ErrAlreadyClaimed means another run stamped the lead first.
var ErrAlreadyClaimed = errors.New("lead already claimed")

// SendLogRepositoryInterface is the ledger's persistence. A send is claimed
// before dispatch (log row + lead stamp), then confirmed with the provider id
// or released when dispatch fails.
type SendLogRepositoryInterface interface {
	Claim(ctx context.Context, rec *model.SendRecord) error
	Confirm(ctx context.Context, rec *model.SendRecord) error
	Release(ctx context.Context, rec *model.SendRecord) error
	CountBySender(ctx context.Context, sender string, from, to time.Time) (int, error)
	CountAll(ctx context.Context, from, to time.Time) (int, error)
}

type SendLogRepository struct {
	DB *sql.DB
}

func (r *SendLogRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// Claim inserts the email log row without a provider id and stamps the
// lead's first-send time, in one transaction. rec.ID is set on success.
func (r *SendLogRepository) Claim(ctx context.Context, rec *model.SendRecord) error {
	q, err := queriesFor(rec.Channel)
	if err != nil {
		return err
	}

	insert := `
        INSERT INTO email_logs (user_id, email_address, lead_source, sender_email, email_type, email_version, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id
    `
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		if err := tx.QueryRowContext(ctx, insert,
			rec.LeadID, rec.EmailAddress, string(rec.Channel), rec.SenderEmail,
			rec.EmailType, string(rec.Variant), rec.SentAt,
		).Scan(&id); err != nil {
			return errors.Wrapf(err, "insert email log for lead %d", rec.LeadID)
		}

		res, err := tx.ExecContext(ctx, q.claim, rec.SentAt, rec.LeadID)
		if err != nil {
			return errors.Wrapf(err, "stamp lead %d", rec.LeadID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errors.Wrapf(err, "stamp lead %d", rec.LeadID)
		}
		if n == 0 {
			return errors.Wrapf(ErrAlreadyClaimed, "lead %d", rec.LeadID)
		}

		rec.ID = id
		return nil
	})
}

// Confirm attaches the provider message id to the log row and the lead.
func (r *SendLogRepository) Confirm(ctx context.Context, rec *model.SendRecord) error {
	q, err := queriesFor(rec.Channel)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE email_logs SET resend_id = $1 WHERE id = $2`, rec.ProviderMessageID, rec.ID); err != nil {
			return errors.Wrapf(err, "confirm email log %d", rec.ID)
		}
		if _, err := tx.ExecContext(ctx, q.confirm, rec.ProviderMessageID, rec.LeadID); err != nil {
			return errors.Wrapf(err, "confirm lead %d", rec.LeadID)
		}
		return nil
	})
}

// Release undoes a claim after a failed dispatch: the log row goes, the lead
// becomes eligible again and its attempt counter grows.
func (r *SendLogRepository) Release(ctx context.Context, rec *model.SendRecord) error {
	q, err := queriesFor(rec.Channel)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM email_logs WHERE id = $1`, rec.ID); err != nil {
			return errors.Wrapf(err, "delete email log %d", rec.ID)
		}
		if _, err := tx.ExecContext(ctx, q.release, rec.LeadID); err != nil {
			return errors.Wrapf(err, "release lead %d", rec.LeadID)
		}
		return nil
	})
}

func (r *SendLogRepository) CountBySender(ctx context.Context, sender string, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM email_logs WHERE sender_email = $1 AND sent_at >= $2 AND sent_at < $3`
	var count int
	if err := r.DB.QueryRowContext(ctx, query, sender, from, to).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, "count email logs for %s", sender)
	}
	return count, nil
}

func (r *SendLogRepository) CountAll(ctx context.Context, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM email_logs WHERE sent_at >= $1 AND sent_at < $2`
	var count int
	if err := r.DB.QueryRowContext(ctx, query, from, to).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count email logs")
	}
	return count, nil
}

var _ SendLogRepositoryInterface = (*SendLogRepository)(nil)
