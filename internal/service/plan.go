package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/unclebandit/outreach-driver/internal/model"
	"github.com/unclebandit/outreach-driver/internal/quota"
)

// SenderPlan is what one sender would send if a run started now.
type SenderPlan struct {
	Sender    string `json:"sender"`
	Sent      int    `json:"sent"`
	Remaining int    `json:"remaining"`
	Batch     int    `json:"batch"`
}

type ChannelReport struct {
	Channel model.Channel `json:"channel"`
	Quota   int           `json:"quota"`
	Senders []SenderPlan  `json:"senders"`
}

// PlanReport previews today's quotas without sending or writing anything.
type PlanReport struct {
	Now        time.Time       `json:"now"`
	Enabled    bool            `json:"enabled"`
	InWindow   bool            `json:"in_window"`
	StartDate  *time.Time      `json:"start_date,omitempty"`
	DayIndex   int             `json:"day_index"`
	HoursLeft  int             `json:"hours_left"`
	GlobalCap  int             `json:"global_cap,omitempty"`
	GlobalSent int             `json:"global_sent,omitempty"`
	Channels   []ChannelReport `json:"channels"`
}

// Plan computes today's per-sender allowance. A campaign that has not started
// yet is previewed as day 0.
func (d *Driver) Plan(ctx context.Context) (*PlanReport, error) {
	now := d.Now()
	report := &PlanReport{
		Now:       now.In(d.location()),
		Enabled:   d.opts.Enabled,
		InWindow:  d.opts.Window.Contains(now),
		HoursLeft: d.opts.Window.HoursLeft(now),
	}

	start, ok, err := d.Settings.StartDate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read start date")
	}
	if ok {
		report.StartDate = &start
		report.DayIndex = quota.DayIndex(start, now, d.location())
	}

	if d.opts.GlobalCap != nil {
		report.GlobalCap = d.opts.GlobalCap.Quota(report.DayIndex)
		if report.GlobalSent, err = d.ledger.SentTodayAll(ctx, now); err != nil {
			return nil, err
		}
	}

	for _, cp := range d.opts.Channels {
		cr := ChannelReport{
			Channel: cp.Channel,
			Quota:   quota.LinearRamp(cp.Ramp).Quota(report.DayIndex),
		}
		for _, sender := range cp.Senders {
			remaining, err := d.remaining(ctx, sender, cr.Quota, report.DayIndex, now)
			if err != nil {
				return nil, err
			}
			sent, err := d.ledger.SentToday(ctx, sender, now)
			if err != nil {
				return nil, err
			}
			sp := SenderPlan{Sender: sender, Sent: sent, Remaining: remaining}
			if remaining > 0 {
				sp.Batch = quota.BatchLimit(remaining, report.HoursLeft)
			}
			cr.Senders = append(cr.Senders, sp)
		}
		report.Channels = append(report.Channels, cr)
	}
	return report, nil
}
