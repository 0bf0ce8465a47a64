package service_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-driver/internal/errors"
	"github.com/unclebandit/outreach-driver/internal/mailer"
	"github.com/unclebandit/outreach-driver/internal/model"
	"github.com/unclebandit/outreach-driver/internal/queue"
	"github.com/unclebandit/outreach-driver/internal/quota"
	"github.com/unclebandit/outreach-driver/internal/repository"
	"github.com/unclebandit/outreach-driver/internal/service"
	"github.com/unclebandit/outreach-driver/internal/templates"
	"github.com/unclebandit/outreach-driver/internal/tracking"
	"github.com/unclebandit/outreach-driver/internal/validator"
)

type harness struct {
	store     *memStore
	validator *fakeValidator
	mailer    *fakeMailer
	clock     *fakeClock
	events    *queue.InMemoryQueue
	published []queue.SentEvent
	opts      service.Options
	loc       *time.Location
}

func newHarness(t *testing.T, hour int) *harness {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	h := &harness{
		store:     newMemStore(),
		validator: &fakeValidator{results: map[string]validator.Result{}, errs: map[string]error{}},
		mailer:    &fakeMailer{fail: map[string]error{}},
		clock:     &fakeClock{now: time.Date(2026, 3, 10, hour, 0, 0, 0, loc)},
		events:    queue.NewInMemoryQueue(),
		loc:       loc,
	}
	require.NoError(t, h.events.Subscribe(queue.TopicEmailSent, func(payload any) error {
		h.published = append(h.published, payload.(queue.SentEvent))
		return nil
	}))
	h.opts = service.Options{
		Enabled:  true,
		Window:   quota.Window{Start: 7, End: 24, Location: loc},
		FromName: "Fabrizio",
		Channels: []service.ChannelPlan{{
			Channel: model.ChannelInstagram,
			Senders: quota.Registry{}.Senders(1, "launch.example.com"),
			Ramp:    model.RampConfig{StartQuota: 25, EndQuota: 100, RampDays: 6},
		}},
		SendDelay: 600 * time.Millisecond,
	}
	return h
}

func (h *harness) driver(t *testing.T) *service.Driver {
	t.Helper()
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	return service.New(service.Deps{
		Leads:     h.store,
		SendLogs:  h.store,
		Settings:  h.store,
		Validator: h.validator,
		Mailer:    h.mailer,
		Renderer:  renderer,
		Links: &tracking.Rewriter{
			TrackingDomain:  "https://t.example.com",
			MarketingDomain: "clura.dev",
			UTMCampaign:     "cold_outreach_v1",
		},
		Events: h.events,
		Now:    h.clock.Now,
		Sleep:  h.clock.Sleep,
		Rand:   rand.New(rand.NewPCG(1, 2)),
	}, h.opts)
}

func emails(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d@example.org", prefix, i+1)
	}
	return out
}

func TestRun_FirstBatchOfTheDay(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, emails(10, "lead")...)
	runStart := h.clock.Now()

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Gated)
	require.Equal(t, 0, res.DayIndex)
	require.Equal(t, 3, res.Sent)
	require.Len(t, h.store.records, 3)

	seen := map[time.Time]bool{}
	for i, rec := range h.store.records {
		require.Equal(t, i+1, rec.LeadID)
		require.Equal(t, "fabri@launch.example.com", rec.SenderEmail)
		require.Equal(t, "Email_1_instagram", rec.EmailType)
		require.Equal(t, model.ChannelInstagram, rec.Channel)
		require.True(t, rec.Variant.Valid())
		require.False(t, rec.SentAt.Before(runStart))
		require.False(t, seen[rec.SentAt], "timestamps must be distinct")
		seen[rec.SentAt] = true

		lead := h.store.lead(model.ChannelInstagram, rec.LeadID)
		require.NotNil(t, lead.FirstSentAt)
		require.Equal(t, rec.ProviderMessageID, lead.ProviderMessageID)
	}
	require.Nil(t, h.store.lead(model.ChannelInstagram, 4).FirstSentAt)

	sent, err := quota.NewLedger(h.store, h.loc).SentToday(context.Background(), "fabri@launch.example.com", h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 3, sent)

	require.Len(t, h.published, 3)
	require.Equal(t, []time.Duration{600 * time.Millisecond, 600 * time.Millisecond, 600 * time.Millisecond}, h.clock.sleeps)
}

func TestRun_EmailContents(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "only@example.org")

	_, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.mailer.sent, 1)

	email := h.mailer.sent[0]
	rec := h.store.records[0]
	require.Equal(t, "Fabrizio <fabri@launch.example.com>", email.From)
	require.Equal(t, "only@example.org", email.To)
	require.NotEmpty(t, email.Subject)
	require.Contains(t, email.HTML, fmt.Sprintf("https://t.example.com/api/track/click?log_id=%d&amp;dest=", rec.ID))
	require.Contains(t, email.HTML, "utm_content%3Dversion_"+string(rec.Variant))
	require.Equal(t, "instagram", email.Tags["channel"])
	require.Equal(t, string(rec.Variant), email.Tags["variant"])
}

func TestRun_RepeatedRunsNeverExceedQuota(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, emails(60, "lead")...)
	d := h.driver(t)

	for range 20 {
		_, err := d.Run(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, h.store.records, 25)

	leadIDs := map[int]bool{}
	for _, rec := range h.store.records {
		require.False(t, leadIDs[rec.LeadID], "lead %d sent twice", rec.LeadID)
		leadIDs[rec.LeadID] = true
	}
}

func TestRun_LastHourSendsWholeRemainder(t *testing.T) {
	h := newHarness(t, 23)
	h.store.addLeads(model.ChannelInstagram, emails(40, "lead")...)
	d := h.driver(t)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 25, res.Sent)

	res, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Sent)
	require.Len(t, h.store.records, 25)
}

func TestRun_InvalidLeadDeleted(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "bad@gmial.com", "good@example.org")
	h.validator.results["bad@gmial.com"] = validator.Result{Reason: validator.ReasonTypo}

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Rejected)
	require.Equal(t, 1, res.Sent)
	require.Nil(t, h.store.lead(model.ChannelInstagram, 1))
	require.Equal(t, []int{1}, h.store.deleted)

	// The rejected lead never comes back.
	leads, err := h.store.FetchUnsent(context.Background(), model.ChannelInstagram, 10, 0)
	require.NoError(t, err)
	require.Empty(t, leads)
}

func TestRun_ValidatorErrorFailsClosed(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "flaky@example.org")
	h.validator.errs["flaky@example.org"] = errors.New("dns timeout")

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Rejected)
	require.Zero(t, res.Sent)
	require.Empty(t, h.mailer.sent)
	require.Nil(t, h.store.lead(model.ChannelInstagram, 1))
}

func TestRun_DispatchFailureKeepsLeadEligible(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "down@example.org", "up@example.org")
	h.mailer.fail["down@example.org"] = errors.New("provider unavailable")

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Sent)
	require.Len(t, h.store.records, 1)
	require.Equal(t, 2, h.store.records[0].LeadID)

	lead := h.store.lead(model.ChannelInstagram, 1)
	require.Nil(t, lead.FirstSentAt)
	require.Equal(t, 1, lead.SendAttempts)
}

func TestRun_MaxSendAttempts(t *testing.T) {
	h := newHarness(t, 14)
	h.opts.MaxSendAttempts = 1
	h.store.addLeads(model.ChannelInstagram, "down@example.org")
	h.mailer.fail["down@example.org"] = errors.New("provider unavailable")
	d := h.driver(t)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	res, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Failed)
	require.Equal(t, []model.Channel{model.ChannelInstagram}, res.Exhausted)
}

func TestRun_ConfirmFailureStillCountsSend(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "a@example.org")
	h.store.confirmErr = errors.New("connection reset")
	d := h.driver(t)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, 1, res.Errors)
	require.Len(t, h.mailer.sent, 1)
	require.Len(t, h.store.records, 1)
	require.Empty(t, h.store.records[0].ProviderMessageID)
	require.NotNil(t, h.store.lead(model.ChannelInstagram, 1).FirstSentAt)

	res, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Sent)
	require.Len(t, h.mailer.sent, 1)
}

func TestRun_ClaimFailureSkipsDispatch(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "a@example.org")
	h.store.claimErr = errors.New("connection reset")

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Sent)
	require.Equal(t, 1, res.Errors)
	require.Empty(t, h.mailer.sent)
	require.Empty(t, h.published)
	require.Nil(t, h.store.lead(model.ChannelInstagram, 1).FirstSentAt)
}

func TestRun_LeadClaimedElsewhereIsSkipped(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "a@example.org")
	h.store.claimErr = fmt.Errorf("lead 1: %w", repository.ErrAlreadyClaimed)

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Sent)
	require.Zero(t, res.Errors)
	require.Empty(t, h.mailer.sent)
}

func TestRun_DispatchFailureRemovesLedgerRow(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "down@example.org")
	h.mailer.fail["down@example.org"] = errors.New("provider unavailable")

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Empty(t, h.store.records)
	n, err := h.store.CountBySender(context.Background(), "fabri@launch.example.com", h.clock.now.Add(-24*time.Hour), h.clock.now.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRun_ExhaustionStopsChannel(t *testing.T) {
	h := newHarness(t, 14)
	h.opts.Channels[0].Senders = quota.Registry{}.Senders(5, "launch.example.com")
	h.store.addLeads(model.ChannelInstagram, emails(4, "lead")...)

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	// fabri@ takes 3, fabri1@ takes the last one, fabri2@ finds nothing.
	require.Equal(t, 4, res.Sent)
	require.Equal(t, []model.Channel{model.ChannelInstagram}, res.Exhausted)
	require.Equal(t, "fabri1@launch.example.com", h.store.records[3].SenderEmail)
}

func TestRun_ChannelsInOrder(t *testing.T) {
	h := newHarness(t, 14)
	h.opts.Channels = []service.ChannelPlan{
		{Channel: model.ChannelKickstarter, Senders: []string{"fabri@ks.example.com"}, Ramp: model.RampConfig{StartQuota: 25, EndQuota: 40, RampDays: 6}},
		{Channel: model.ChannelInstagram, Senders: []string{"fabri@launch.example.com"}, Ramp: model.RampConfig{StartQuota: 25, EndQuota: 100, RampDays: 6}},
	}
	h.store.addLeads(model.ChannelKickstarter, "ks@example.org")
	h.store.addLeads(model.ChannelInstagram, "ig@example.org")

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Sent)
	require.Equal(t, model.ChannelKickstarter, h.store.records[0].Channel)
	require.Equal(t, "Email_1_kickstarter", h.store.records[0].EmailType)
	require.Equal(t, model.ChannelInstagram, h.store.records[1].Channel)
}

func TestRun_Gates(t *testing.T) {
	for _, tc := range []struct {
		name    string
		hour    int
		enabled bool
	}{
		{"disabled", 14, false},
		{"before window", 6, true},
		{"midnight", 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.hour)
			h.opts.Enabled = tc.enabled
			h.store.addLeads(model.ChannelInstagram, "a@example.org")

			res, err := h.driver(t).Run(context.Background())
			require.NoError(t, err)
			require.True(t, res.Gated)
			require.Empty(t, h.mailer.sent)
			require.Nil(t, h.store.start, "gated runs must not touch the start date")
		})
	}
}

func TestRun_StartDateIsStable(t *testing.T) {
	h := newHarness(t, 14)
	earlier := time.Date(2026, 3, 7, 0, 0, 0, 0, h.loc)
	h.store.start = &earlier
	h.store.addLeads(model.ChannelInstagram, emails(100, "lead")...)

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, res.DayIndex)
	require.Equal(t, earlier, *h.store.start)
	// quota(3) = 25 + 3/6*75 = 62, ceil(62/10) = 7
	require.Equal(t, 7, res.Sent)
}

func TestRun_StartDateUnavailable(t *testing.T) {
	h := newHarness(t, 14)
	cause := errors.New("relation campaign_config does not exist")
	h.store.startErr = cause

	_, err := h.driver(t).Run(context.Background())
	require.ErrorIs(t, err, appErrors.ErrStartDateUnavailable)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "relation campaign_config does not exist")
}

func TestRun_SenderAtQuotaIsSkipped(t *testing.T) {
	h := newHarness(t, 23)
	h.opts.Channels[0].Senders = []string{"fabri@launch.example.com", "fabri1@launch.example.com"}
	h.opts.Channels[0].Ramp = model.RampConfig{StartQuota: 2, EndQuota: 2}
	h.store.addLeads(model.ChannelInstagram, emails(10, "lead")...)
	d := h.driver(t)

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.store.records, 4)

	res, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, res.Sent)
	require.Empty(t, res.Exhausted)
}

func TestRun_VariantNotReassigned(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, "a@example.org")
	h.store.leads[model.ChannelInstagram][1].Variant = model.VariantC

	_, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.VariantC, h.store.records[0].Variant)
	require.Equal(t, "C", h.mailer.sent[0].Tags["variant"])
}

func TestRun_GlobalCap(t *testing.T) {
	h := newHarness(t, 23)
	h.opts.Channels[0].Senders = []string{"fabri@launch.example.com", "fabri1@launch.example.com"}
	h.opts.GlobalCap = quota.PowerLawRamp{Base: 30, Cap: 30, Exponent: 1.5}
	h.store.addLeads(model.ChannelInstagram, emails(60, "lead")...)

	res, err := h.driver(t).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, res.Sent)

	perSender := map[string]int{}
	for _, rec := range h.store.records {
		perSender[rec.SenderEmail]++
	}
	require.Equal(t, map[string]int{"fabri@launch.example.com": 25, "fabri1@launch.example.com": 5}, perSender)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, emails(5, "lead")...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.driver(t).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, h.mailer.sent)
}

func TestRun_DefaultSleepHonoursContext(t *testing.T) {
	h := newHarness(t, 14)
	h.store.addLeads(model.ChannelInstagram, emails(3, "lead")...)
	h.opts.SendDelay = time.Hour
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	m := &cancellingMailer{fakeMailer: h.mailer, cancel: cancel}
	d := service.New(service.Deps{
		Leads:     h.store,
		SendLogs:  h.store,
		Settings:  h.store,
		Validator: h.validator,
		Mailer:    m,
		Renderer:  renderer,
		Links:     &tracking.Rewriter{TrackingDomain: "https://t.example.com"},
		Now:       h.clock.Now,
	}, h.opts)

	_, err = d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.mailer.sent, 1)
	require.Len(t, h.store.records, 1)
}

// cancellingMailer cancels the run right after the first accepted send.
type cancellingMailer struct {
	*fakeMailer
	cancel context.CancelFunc
}

func (m *cancellingMailer) Send(ctx context.Context, email *mailer.Email) (string, error) {
	id, err := m.fakeMailer.Send(ctx, email)
	m.cancel()
	return id, err
}

func TestPlan(t *testing.T) {
	h := newHarness(t, 14)
	h.opts.Channels[0].Senders = []string{"fabri@launch.example.com", "fabri1@launch.example.com"}
	h.store.addLeads(model.ChannelInstagram, emails(10, "lead")...)
	d := h.driver(t)

	report, err := d.Plan(context.Background())
	require.NoError(t, err)
	require.Nil(t, report.StartDate)
	require.Equal(t, 10, report.HoursLeft)
	require.True(t, report.InWindow)
	require.Len(t, report.Channels, 1)
	require.Equal(t, 25, report.Channels[0].Quota)
	require.Equal(t, service.SenderPlan{Sender: "fabri@launch.example.com", Remaining: 25, Batch: 3}, report.Channels[0].Senders[0])
	require.Nil(t, h.store.start, "plan must not write the start date")

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	report, err = d.Plan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.StartDate)
	sp := report.Channels[0].Senders[0]
	require.Equal(t, 3, sp.Sent)
	require.Equal(t, 22, sp.Remaining)
	require.True(t, strings.HasPrefix(sp.Sender, "fabri@"))
}
