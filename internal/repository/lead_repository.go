package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/unclebandit/outreach-driver/internal/model"
)

// LeadRepositoryInterface defines the lead-pool operations the driver needs.
type LeadRepositoryInterface interface {
	FetchUnsent(ctx context.Context, ch model.Channel, limit, maxAttempts int) ([]model.Lead, error)
	AssignVariant(ctx context.Context, ch model.Channel, leadID int, v model.Variant) (model.Variant, error)
	Delete(ctx context.Context, ch model.Channel, leadID int) error
}

type LeadRepository struct {
	DB *sql.DB
}

// FetchUnsent returns up to limit leads with no first-send timestamp, in
// insertion order. maxAttempts > 0 also skips leads whose failed dispatch
// count reached it.
func (r *LeadRepository) FetchUnsent(ctx context.Context, ch model.Channel, limit, maxAttempts int) ([]model.Lead, error) {
	q, err := queriesFor(ch)
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.QueryContext(ctx, q.fetchUnsent, limit, maxAttempts)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch unsent %s leads", ch)
	}
	defer rows.Close()

	leads := []model.Lead{}
	for rows.Next() {
		var (
			l       model.Lead
			phone   sql.NullString
			variant string
		)
		if err := rows.Scan(&l.ID, &l.Name, &l.Email, &phone, &l.IsVIP, &variant, &l.SendAttempts, &l.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan lead")
		}
		if phone.Valid {
			l.Phone = &phone.String
		}
		l.Variant = model.Variant(variant)
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate leads")
	}
	return leads, nil
}

// AssignVariant sets the lead's variant only if it has none and returns the
// variant that is stored afterwards, so an earlier assignment always wins.
func (r *LeadRepository) AssignVariant(ctx context.Context, ch model.Channel, leadID int, v model.Variant) (model.Variant, error) {
	q, err := queriesFor(ch)
	if err != nil {
		return "", err
	}

	var stored string
	if err := r.DB.QueryRowContext(ctx, q.assignVariant, string(v), leadID).Scan(&stored); err != nil {
		return "", errors.Wrapf(err, "assign variant to lead %d", leadID)
	}
	return model.Variant(stored), nil
}

// Delete permanently removes a lead from the pool.
func (r *LeadRepository) Delete(ctx context.Context, ch model.Channel, leadID int) error {
	q, err := queriesFor(ch)
	if err != nil {
		return err
	}
	if _, err := r.DB.ExecContext(ctx, q.delete, leadID); err != nil {
		return errors.Wrapf(err, "delete lead %d", leadID)
	}
	return nil
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
