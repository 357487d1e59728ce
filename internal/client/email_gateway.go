package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"
)

// EmailGateway delivers queued emails over SMTP.
type EmailGateway struct {
	host string
	port int
	user string
	pass string
	from string
}

// NewEmailGateway creates an SMTP-backed email gateway.
func NewEmailGateway(host string, port int, user, pass, from string) *EmailGateway {
	return &EmailGateway{host: host, port: port, user: user, pass: pass, from: from}
}

// Send delivers one email. Transient SMTP failures are retried with
// exponential backoff inside a bounded window so a flapping relay does not
// immediately burn a queue attempt.
func (g *EmailGateway) Send(ctx context.Context, recipient, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", g.from)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(g.host, g.port, g.user, g.pass)

	operation := func() error {
		return d.DialAndSend(m)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", recipient, err)
	}
	return nil
}
