package validator

import (
	"context"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/pkg/errors"
)

var ErrMailboxRejected = errors.New("mailbox rejected")

// SMTPProber opens a session to the exchanger and stops after RCPT TO; no
// message is ever transmitted.
type SMTPProber struct {
	HelloName string
	Port      string
	Timeout   time.Duration
}

func NewSMTPProber(helloName string) *SMTPProber {
	return &SMTPProber{HelloName: helloName, Port: "25", Timeout: 10 * time.Second}
}

func (p *SMTPProber) Probe(ctx context.Context, mxHost, from, to string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, p.Port))
	if err != nil {
		return errors.Wrapf(err, "dial %s", mxHost)
	}
	_ = conn.SetDeadline(time.Now().Add(p.Timeout))

	c, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		conn.Close()
		return errors.Wrapf(err, "smtp greeting from %s", mxHost)
	}
	defer c.Close()

	if err := c.Hello(p.HelloName); err != nil {
		return classify(err)
	}
	if err := c.Mail(from); err != nil {
		return classify(err)
	}
	if err := c.Rcpt(to); err != nil {
		return classify(err)
	}
	_ = c.Quit()
	return nil
}

// classify maps permanent 5xx replies to ErrMailboxRejected.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return errors.Wrap(ErrMailboxRejected, tpErr.Msg)
	}
	return err
}
