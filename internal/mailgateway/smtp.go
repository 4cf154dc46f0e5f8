package mailgateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"gopkg.in/gomail.v2"

	appErrors "github.com/jwalitptl/campaignsched/pkg/errors"
)

// SMTPConfig configures the real sending path. No default credentials are
// assumed: an empty Host or FromEmail is a configuration error at pipeline
// start, per §6's "API key required for any non-dry-run call" rule.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	// Timeout bounds a single send call, default 15s per §5.
	Timeout time.Duration
}

// SMTPGateway sends through a real SMTP relay via gopkg.in/gomail.v2. It
// is the production Gateway; dry-run mode uses DryRunGateway instead and
// never constructs one of these.
type SMTPGateway struct {
	cfg   SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPGateway validates cfg and builds the underlying dialer. Returns a
// *pkg/errors.DomainError of KindConfiguration if required fields are
// missing, since an unusable gateway must fail pipeline start rather than
// fail silently per message.
func NewSMTPGateway(cfg SMTPConfig) (*SMTPGateway, error) {
	if cfg.Host == "" || cfg.FromEmail == "" {
		return nil, appErrors.NewDomainError(appErrors.KindConfiguration,
			"smtp gateway requires host and from-email", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &SMTPGateway{cfg: cfg, dialer: dialer}, nil
}

func (g *SMTPGateway) Send(ctx context.Context, envelope Envelope) (SendResult, error) {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", g.cfg.FromEmail, g.cfg.FromName)
	m.SetHeader("To", envelope.To)
	m.SetHeader("Subject", envelope.Subject)
	for k, v := range envelope.Headers {
		m.SetHeader(k, v)
	}
	if envelope.TextBody != "" {
		m.SetBody("text/plain", envelope.TextBody)
	}
	if envelope.HTMLBody != "" {
		if envelope.TextBody != "" {
			m.AddAlternative("text/html", envelope.HTMLBody)
		} else {
			m.SetBody("text/html", envelope.HTMLBody)
		}
	}

	done := make(chan error, 1)
	go func() { done <- g.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	case <-time.After(g.cfg.Timeout):
		return SendResult{Accepted: false, Transient: true, Error: "smtp send timed out"}, nil
	case err := <-done:
		if err == nil {
			return SendResult{Accepted: true, ExternalMessageID: messageID(m)}, nil
		}
		if isTransient(err) {
			return SendResult{Accepted: false, Transient: true, Error: err.Error()}, nil
		}
		return SendResult{Accepted: false, Transient: false, Error: err.Error()}, nil
	}
}

// messageID returns a synthetic external id, "smtp:" followed by the send
// time in Unix nanoseconds. It is not read from the message's Message-ID
// header, which gomail does not expose.
func messageID(m *gomail.Message) string {
	return fmt.Sprintf("smtp:%d", time.Now().UnixNano())
}

// isTransient classifies a send failure as retry-eligible. A net.Error
// found by unwrapping is transient only when it is a timeout (a refused
// connection, for example, is permanent); every other error is treated as
// transient. SMTP reply codes are not inspected.
func isTransient(err error) bool {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return netErr.Timeout()
	}
	return true
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// QueryStatus is not implemented for the SMTP path: plain SMTP carries no
// delivery-tracking protocol of its own. Callers wanting delivery status
// rely on the webhook receiver (webhook.go) pushing updates instead.
func (g *SMTPGateway) QueryStatus(ctx context.Context, externalMessageID string) (StatusResult, error) {
	return StatusResult{Status: StatusUnknown}, nil
}

var _ Gateway = (*SMTPGateway)(nil)
