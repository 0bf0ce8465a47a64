package quota

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// SendCounter counts persisted send records inside a time range.
type SendCounter interface {
	CountBySender(ctx context.Context, sender string, from, to time.Time) (int, error)
	CountAll(ctx context.Context, from, to time.Time) (int, error)
}

// Ledger answers "how much has already gone out today" from the persisted
// send log. It keeps no state between calls: every answer is a fresh read,
// so a restarted run sees exactly what earlier runs committed.
type Ledger struct {
	Store    SendCounter
	Location *time.Location
}

func NewLedger(store SendCounter, loc *time.Location) *Ledger {
	return &Ledger{Store: store, Location: loc}
}

// SentToday counts sender's records whose sent_at falls on the campaign-local
// calendar day containing now.
func (l *Ledger) SentToday(ctx context.Context, sender string, now time.Time) (int, error) {
	from, to := DayBounds(now, l.Location)
	n, err := l.Store.CountBySender(ctx, sender, from, to)
	if err != nil {
		return 0, errors.Wrapf(err, "count sends for %s", sender)
	}
	return n, nil
}

// SentTodayAll counts every record on the campaign-local day containing now.
func (l *Ledger) SentTodayAll(ctx context.Context, now time.Time) (int, error) {
	from, to := DayBounds(now, l.Location)
	n, err := l.Store.CountAll(ctx, from, to)
	if err != nil {
		return 0, errors.Wrap(err, "count sends")
	}
	return n, nil
}

// Remaining is max(quota - sent, 0).
func Remaining(quota, sent int) int {
	return max(quota-sent, 0)
}
