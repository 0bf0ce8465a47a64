// Package mailer defines the outbound email capability. Delivery itself is
// delegated to a provider adapter such as mailer/resend.
package mailer

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoRecipient = errors.New("email must have a recipient")
	ErrNoSender    = errors.New("email must have a sender")
	ErrNoSubject   = errors.New("email must have a subject")
	ErrNoContent   = errors.New("email must have HTML content")
)

// Email is a fully prepared message.
type Email struct {
	From    string // "Name <address>" or bare address
	To      string
	Subject string
	HTML    string
	Text    string
	Tags    map[string]string
}

func (e *Email) Validate() error {
	switch {
	case e.To == "":
		return ErrNoRecipient
	case e.From == "":
		return ErrNoSender
	case e.Subject == "":
		return ErrNoSubject
	case e.HTML == "":
		return ErrNoContent
	}
	return nil
}

// Sender delivers an email and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, email *Email) (string, error)
}

// Address formats name and email as "Name <email>", or just email when name is empty.
func Address(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
