// Package service runs the outreach campaign: one pass over every channel
// and sender, sending as many emails as today's ramp and pacing allow.
package service

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/outreach-driver/internal/errors"
	"github.com/unclebandit/outreach-driver/internal/mailer"
	"github.com/unclebandit/outreach-driver/internal/model"
	"github.com/unclebandit/outreach-driver/internal/queue"
	"github.com/unclebandit/outreach-driver/internal/quota"
	"github.com/unclebandit/outreach-driver/internal/repository"
	"github.com/unclebandit/outreach-driver/internal/templates"
	"github.com/unclebandit/outreach-driver/internal/tracking"
	"github.com/unclebandit/outreach-driver/internal/validator"
)

// Validator decides whether an address should receive mail from sender.
type Validator interface {
	Validate(ctx context.Context, email, sender string) (validator.Result, error)
}

// Renderer produces the subject and bodies for a channel/variant pair.
type Renderer interface {
	Render(ch model.Channel, v model.Variant, data templates.Data) (*templates.Rendered, error)
}

// Publisher receives send events. Failures are logged, never retried by the driver.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// ChannelPlan is one channel's sender pool and ramp.
type ChannelPlan struct {
	Channel model.Channel
	Senders []string
	Ramp    model.RampConfig
}

// Options are the run settings resolved from configuration.
type Options struct {
	Enabled         bool
	Window          quota.Window
	Channels        []ChannelPlan
	FromName        string
	SendDelay       time.Duration
	MaxSendAttempts int
	// GlobalCap bounds the total sends of a day across all senders; nil disables it.
	GlobalCap quota.Ramp
}

// GateOpen reports whether sending is enabled and now falls inside the window.
func (o Options) GateOpen(now time.Time) bool {
	return o.Enabled && o.Window.Contains(now)
}

// Deps are the collaborators of a Driver.
type Deps struct {
	Leads     repository.LeadRepositoryInterface
	SendLogs  repository.SendLogRepositoryInterface
	Settings  repository.ConfigRepositoryInterface
	Validator Validator
	Mailer    mailer.Sender
	Renderer  Renderer
	Links     *tracking.Rewriter
	Events    Publisher

	Now   func() time.Time
	Rand  *rand.Rand
	Sleep func(ctx context.Context, d time.Duration) error
}

type Driver struct {
	Deps
	opts   Options
	ledger *quota.Ledger
}

// RunResult summarises one pass.
type RunResult struct {
	RunID     string
	Gated     bool
	DayIndex  int
	Sent      int
	Rejected  int
	Failed    int
	Errors    int
	Exhausted []model.Channel
}

func New(deps Deps, opts Options) *Driver {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	if deps.Events == nil {
		deps.Events = queue.NewInMemoryQueue()
	}
	return &Driver{
		Deps:   deps,
		opts:   opts,
		ledger: quota.NewLedger(deps.SendLogs, opts.Window.Location),
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run performs one campaign pass. Only a failure to resolve the campaign
// start date or a cancelled context is returned as an error; everything
// below the run level is logged and counted.
func (d *Driver) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{RunID: uuid.NewString()}
	log := logrus.WithField("run_id", res.RunID)
	now := d.Now()

	if !d.opts.Enabled {
		log.Info("⏸️ sending disabled, nothing to do")
		res.Gated = true
		return res, nil
	}
	if !d.opts.Window.Contains(now) {
		log.WithField("hour", now.In(d.location()).Hour()).Info("⏸️ outside sending window, nothing to do")
		res.Gated = true
		return res, nil
	}

	start, err := d.resolveStartDate(ctx, now)
	if err != nil {
		return res, err
	}
	res.DayIndex = quota.DayIndex(start, now, d.location())
	log.WithFields(logrus.Fields{
		"start_date": start.Format("2006-01-02"),
		"day_index":  res.DayIndex,
	}).Info("🚀 campaign run started")

	for _, cp := range d.opts.Channels {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d.runChannel(ctx, log.WithField("channel", cp.Channel), cp, res)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	log.WithFields(logrus.Fields{
		"sent":     res.Sent,
		"rejected": res.Rejected,
		"failed":   res.Failed,
		"errors":   res.Errors,
	}).Info("✅ campaign run finished")
	return res, nil
}

func (d *Driver) location() *time.Location {
	if d.opts.Window.Location == nil {
		return time.UTC
	}
	return d.opts.Window.Location
}

func (d *Driver) resolveStartDate(ctx context.Context, now time.Time) (time.Time, error) {
	start, ok, err := d.Settings.StartDate(ctx)
	if err != nil {
		return time.Time{}, appErrors.NewStartDateError(err)
	}
	if ok {
		return start, nil
	}
	start, err = d.Settings.EnsureStartDate(ctx, now.In(d.location()))
	if err != nil {
		return time.Time{}, appErrors.NewStartDateError(err)
	}
	logrus.WithField("start_date", start.Format("2006-01-02")).Info("📅 campaign start date initialised")
	return start, nil
}

func (d *Driver) runChannel(ctx context.Context, log *logrus.Entry, cp ChannelPlan, res *RunResult) {
	dailyQuota := quota.LinearRamp(cp.Ramp).Quota(res.DayIndex)
	log.WithFields(logrus.Fields{
		"quota":   dailyQuota,
		"senders": len(cp.Senders),
	}).Info("📬 processing channel")

	for _, sender := range cp.Senders {
		if ctx.Err() != nil {
			return
		}
		senderLog := log.WithField("sender", sender)
		exhausted, err := d.runSender(ctx, senderLog, cp.Channel, sender, dailyQuota, res)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			res.Errors++
			senderLog.WithError(err).Warn("sender skipped")
			continue
		}
		if exhausted {
			senderLog.Info("🏁 no unsent leads left, channel done")
			res.Exhausted = append(res.Exhausted, cp.Channel)
			return
		}
	}
}

// runSender sends one batch from sender. exhausted reports that the channel
// has no unsent leads left.
func (d *Driver) runSender(ctx context.Context, log *logrus.Entry, ch model.Channel, sender string, dailyQuota int, res *RunResult) (bool, error) {
	now := d.Now()
	remaining, err := d.remaining(ctx, sender, dailyQuota, res.DayIndex, now)
	if err != nil {
		return false, err
	}
	if remaining <= 0 {
		log.Debug("quota reached for today")
		return false, nil
	}

	limit := quota.BatchLimit(remaining, d.opts.Window.HoursLeft(now))
	leads, err := d.Leads.FetchUnsent(ctx, ch, limit, d.opts.MaxSendAttempts)
	if err != nil {
		return false, err
	}
	if len(leads) == 0 {
		return true, nil
	}
	log.WithFields(logrus.Fields{
		"remaining": remaining,
		"batch":     limit,
		"fetched":   len(leads),
	}).Debug("sending batch")

	for i := range leads {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !d.processLead(ctx, log.WithField("lead_id", leads[i].ID), ch, sender, &leads[i], res) {
			continue
		}
		if err := d.Sleep(ctx, d.opts.SendDelay); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (d *Driver) remaining(ctx context.Context, sender string, dailyQuota, dayIndex int, now time.Time) (int, error) {
	sent, err := d.ledger.SentToday(ctx, sender, now)
	if err != nil {
		return 0, err
	}
	remaining := quota.Remaining(dailyQuota, sent)
	if d.opts.GlobalCap == nil || remaining == 0 {
		return remaining, nil
	}
	total, err := d.ledger.SentTodayAll(ctx, now)
	if err != nil {
		return 0, err
	}
	return min(remaining, quota.Remaining(d.opts.GlobalCap.Quota(dayIndex), total)), nil
}

// processLead validates, renders, sends and records one lead. It reports
// whether the provider was contacted, so the caller knows to pause.
func (d *Driver) processLead(ctx context.Context, log *logrus.Entry, ch model.Channel, sender string, lead *model.Lead, res *RunResult) bool {
	result, err := d.Validator.Validate(ctx, lead.Email, sender)
	if err != nil {
		log.WithError(err).Warn("validation failed, treating lead as invalid")
		result = validator.Result{Valid: false, Reason: validator.ReasonValidationError}
	}
	if !result.Valid {
		if err := d.Leads.Delete(ctx, ch, lead.ID); err != nil {
			res.Errors++
			log.WithError(err).Error("failed to delete invalid lead")
			return false
		}
		res.Rejected++
		log.WithField("reason", result.Reason).Info("🗑️ invalid lead deleted")
		return false
	}

	variant, err := d.Leads.AssignVariant(ctx, ch, lead.ID, model.Variants[d.Rand.IntN(len(model.Variants))])
	if err != nil {
		res.Errors++
		log.WithError(err).Error("failed to assign variant")
		return false
	}
	lead.Variant = variant

	rendered, err := d.Renderer.Render(ch, variant, templates.Data{Name: lead.Name, FromName: d.opts.FromName})
	if err != nil {
		res.Errors++
		log.WithError(err).Error("failed to render template")
		return false
	}

	// The ledger row exists before the provider is contacted, so a send can
	// never go out uncounted.
	rec := &model.SendRecord{
		LeadID:       lead.ID,
		EmailAddress: lead.Email,
		Channel:      ch,
		SenderEmail:  sender,
		EmailType:    ch.EmailType(),
		Variant:      variant,
		SentAt:       d.Now(),
	}
	if err := d.SendLogs.Claim(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrAlreadyClaimed) {
			log.Info("lead already sent by another run")
			return false
		}
		res.Errors++
		log.WithError(err).Error("failed to claim lead")
		return false
	}
	log = log.WithField("log_id", rec.ID)

	body, err := d.Links.Rewrite(rendered.HTML, tracking.Ref{LogID: rec.ID, Channel: ch, Variant: variant})
	if err != nil {
		res.Errors++
		log.WithError(err).Error("failed to rewrite links")
		d.release(ctx, log, rec)
		return false
	}

	email := &mailer.Email{
		From:    mailer.Address(d.opts.FromName, sender),
		To:      lead.Email,
		Subject: rendered.Subject,
		HTML:    body,
		Text:    rendered.Text,
		Tags: map[string]string{
			"channel":    string(ch),
			"variant":    string(variant),
			"email_type": ch.EmailType(),
		},
	}
	providerID, err := d.Mailer.Send(ctx, email)
	if err != nil {
		res.Failed++
		log.WithError(err).Warn("❌ dispatch failed, lead stays eligible")
		d.release(ctx, log, rec)
		return true
	}

	res.Sent++
	rec.ProviderMessageID = providerID
	log = log.WithField("provider_id", providerID)
	if err := d.SendLogs.Confirm(context.WithoutCancel(ctx), rec); err != nil {
		res.Errors++
		log.WithError(err).Error("email sent and counted, provider id not stored")
	}
	log.Info("📤 email sent")

	d.publish(ctx, log, rec)
	return true
}

// release undoes a claim. It runs even when ctx is cancelled; a failed
// release leaves the lead counted as sent.
func (d *Driver) release(ctx context.Context, log *logrus.Entry, rec *model.SendRecord) {
	if err := d.SendLogs.Release(context.WithoutCancel(ctx), rec); err != nil {
		log.WithError(err).Error("failed to release claimed lead")
	}
}

func (d *Driver) publish(ctx context.Context, log *logrus.Entry, rec *model.SendRecord) {
	ev := queue.SentEvent{
		LogID:             rec.ID,
		LeadID:            rec.LeadID,
		Channel:           string(rec.Channel),
		Sender:            rec.SenderEmail,
		Variant:           string(rec.Variant),
		ProviderMessageID: rec.ProviderMessageID,
		SentAt:            rec.SentAt,
	}
	if err := d.Events.Publish(ctx, queue.TopicEmailSent, ev); err != nil {
		log.WithError(err).Warn("failed to publish send event")
	}
}
