package mailer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Fabrizio <fabri@x.com>", Address("Fabrizio", "fabri@x.com"))
	require.Equal(t, "fabri@x.com", Address("", "fabri@x.com"))
}

func TestEmailValidate(t *testing.T) {
	t.Parallel()

	e := &Email{From: "a@x.com", To: "b@y.com", Subject: "Hi", HTML: "<p>hi</p>"}
	require.NoError(t, e.Validate())

	tests := []struct {
		name   string
		mutate func(*Email)
		want   error
	}{
		{"no recipient", func(e *Email) { e.To = "" }, ErrNoRecipient},
		{"no sender", func(e *Email) { e.From = "" }, ErrNoSender},
		{"no subject", func(e *Email) { e.Subject = "" }, ErrNoSubject},
		{"no html", func(e *Email) { e.HTML = "" }, ErrNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := *e
			tt.mutate(&c)
			require.ErrorIs(t, c.Validate(), tt.want)
		})
	}
}
