package resend

import (
	"context"
	"net/url"
	"sort"

	"github.com/pkg/errors"
	"github.com/resend/resend-go/v3"

	"github.com/unclebandit/outreach-driver/internal/mailer"
)

// Sender implements mailer.Sender using the Resend API.
type Sender struct {
	client *resend.Client
}

func New(apiKey string) *Sender {
	return &Sender{client: resend.NewClient(apiKey)}
}

// WithBaseURL points the client at another API host.
func (s *Sender) WithBaseURL(base *url.URL) *Sender {
	s.client.BaseURL = base
	return s
}

func (s *Sender) Send(ctx context.Context, email *mailer.Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}

	req := &resend.SendEmailRequest{
		From:    email.From,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		Tags:    convertTags(email.Tags),
	}

	resp, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "resend: failed to send email")
	}
	if resp == nil || resp.Id == "" {
		return "", errors.New("resend: response carried no message id")
	}
	return resp.Id, nil
}

func convertTags(tags map[string]string) []resend.Tag {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]resend.Tag, 0, len(tags))
	for _, name := range names {
		result = append(result, resend.Tag{Name: name, Value: tags[name]})
	}
	return result
}
