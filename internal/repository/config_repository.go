package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

const (
	KeyCampaignStartDate = "campaign_start_date"
	dateLayout           = "2006-01-02"
)

// ConfigRepositoryInterface is the campaign key-value configuration store.
type ConfigRepositoryInterface interface {
	StartDate(ctx context.Context) (time.Time, bool, error)
	EnsureStartDate(ctx context.Context, today time.Time) (time.Time, error)
}

type ConfigRepository struct {
	DB       *sql.DB
	Location *time.Location
}

func (r *ConfigRepository) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM campaign_config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "read config %s", key)
	}
	return value, true, nil
}

func (r *ConfigRepository) parseDate(value string) (time.Time, error) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	// Older rows may carry a full timestamp; only the date part matters.
	if len(value) > len(dateLayout) {
		value = value[:len(dateLayout)]
	}
	t, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse %s %q", KeyCampaignStartDate, value)
	}
	return t, nil
}

// StartDate reads the campaign start date without writing anything.
func (r *ConfigRepository) StartDate(ctx context.Context) (time.Time, bool, error) {
	value, ok, err := r.get(ctx, KeyCampaignStartDate)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := r.parseDate(value)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// EnsureStartDate returns the stored start date, writing today only when the
// key is absent. An existing value is never overwritten.
func (r *ConfigRepository) EnsureStartDate(ctx context.Context, today time.Time) (time.Time, error) {
	if t, ok, err := r.StartDate(ctx); err != nil || ok {
		return t, err
	}

	insert := `INSERT INTO campaign_config (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`
	if _, err := r.DB.ExecContext(ctx, insert, KeyCampaignStartDate, today.Format(dateLayout)); err != nil {
		return time.Time{}, errors.Wrap(err, "write campaign start date")
	}

	// Re-read: a concurrent writer may have won the insert.
	t, ok, err := r.StartDate(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errors.New("campaign start date missing after insert")
	}
	return t, nil
}

var _ ConfigRepositoryInterface = (*ConfigRepository)(nil)
