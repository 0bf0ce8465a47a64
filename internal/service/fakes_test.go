package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/outreach-driver/internal/mailer"
	"github.com/unclebandit/outreach-driver/internal/model"
	"github.com/unclebandit/outreach-driver/internal/repository"
	"github.com/unclebandit/outreach-driver/internal/validator"
)

// memStore is an in-memory stand-in for the lead tables, the send log and
// campaign_config.
type memStore struct {
	mu      sync.Mutex
	leads   map[model.Channel]map[int]*model.Lead
	records []model.SendRecord
	nextID  int64
	start   *time.Time

	fetchErr   error
	claimErr   error
	confirmErr error
	startErr   error
	deleted    []int
}

func newMemStore() *memStore {
	return &memStore{leads: map[model.Channel]map[int]*model.Lead{}}
}

func (s *memStore) addLeads(ch model.Channel, emails ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leads[ch] == nil {
		s.leads[ch] = map[int]*model.Lead{}
	}
	for _, e := range emails {
		id := len(s.leads[ch]) + 1
		for s.leads[ch][id] != nil {
			id++
		}
		s.leads[ch][id] = &model.Lead{ID: id, Name: "Maker " + e, Email: e}
	}
}

func (s *memStore) lead(ch model.Channel, id int) *model.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[ch][id]
	if !ok {
		return nil
	}
	cp := *l
	return &cp
}

func (s *memStore) FetchUnsent(_ context.Context, ch model.Channel, limit, maxAttempts int) ([]model.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	ids := make([]int, 0, len(s.leads[ch]))
	for id := range s.leads[ch] {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := []model.Lead{}
	for _, id := range ids {
		l := s.leads[ch][id]
		if l.FirstSentAt != nil {
			continue
		}
		if maxAttempts > 0 && l.SendAttempts >= maxAttempts {
			continue
		}
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) AssignVariant(_ context.Context, ch model.Channel, leadID int, v model.Variant) (model.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[ch][leadID]
	if !ok {
		return "", errors.New("lead not found")
	}
	if l.Variant == "" {
		l.Variant = v
	}
	return l.Variant, nil
}

func (s *memStore) Delete(_ context.Context, ch model.Channel, leadID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leads[ch], leadID)
	s.deleted = append(s.deleted, leadID)
	return nil
}

func (s *memStore) Claim(_ context.Context, rec *model.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return s.claimErr
	}
	l, ok := s.leads[rec.Channel][rec.LeadID]
	if !ok {
		return errors.New("lead not found")
	}
	if l.FirstSentAt != nil {
		return repository.ErrAlreadyClaimed
	}
	s.nextID++
	rec.ID = s.nextID
	sentAt := rec.SentAt
	l.FirstSentAt = &sentAt
	s.records = append(s.records, *rec)
	return nil
}

func (s *memStore) Confirm(_ context.Context, rec *model.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmErr != nil {
		return s.confirmErr
	}
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i].ProviderMessageID = rec.ProviderMessageID
		}
	}
	if l, ok := s.leads[rec.Channel][rec.LeadID]; ok {
		l.ProviderMessageID = rec.ProviderMessageID
	}
	return nil
}

func (s *memStore) Release(_ context.Context, rec *model.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.ID != rec.ID {
			kept = append(kept, r)
		}
	}
	s.records = kept
	if l, ok := s.leads[rec.Channel][rec.LeadID]; ok {
		l.FirstSentAt = nil
		l.ProviderMessageID = ""
		l.SendAttempts++
	}
	return nil
}

func (s *memStore) CountBySender(_ context.Context, sender string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.SenderEmail == sender && !r.SentAt.Before(from) && r.SentAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountAll(_ context.Context, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if !r.SentAt.Before(from) && r.SentAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) StartDate(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return time.Time{}, false, s.startErr
	}
	if s.start == nil {
		return time.Time{}, false, nil
	}
	return *s.start, true, nil
}

func (s *memStore) EnsureStartDate(_ context.Context, today time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start == nil {
		d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
		s.start = &d
	}
	return *s.start, nil
}

var (
	_ repository.LeadRepositoryInterface    = (*memStore)(nil)
	_ repository.SendLogRepositoryInterface = (*memStore)(nil)
	_ repository.ConfigRepositoryInterface  = (*memStore)(nil)
)

type fakeValidator struct {
	results map[string]validator.Result
	errs    map[string]error
	calls   []string
}

func (v *fakeValidator) Validate(_ context.Context, email, _ string) (validator.Result, error) {
	v.calls = append(v.calls, email)
	if err, ok := v.errs[email]; ok {
		return validator.Result{}, err
	}
	if r, ok := v.results[email]; ok {
		return r, nil
	}
	return validator.Result{Valid: true}, nil
}

type fakeMailer struct {
	sent []*mailer.Email
	fail map[string]error
}

func (m *fakeMailer) Send(_ context.Context, email *mailer.Email) (string, error) {
	if err, ok := m.fail[email.To]; ok {
		return "", err
	}
	m.sent = append(m.sent, email)
	return "msg-" + email.To, nil
}

// fakeClock advances only when the driver pauses between sends.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}
