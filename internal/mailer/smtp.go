package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mail "github.com/wneessen/go-mail"
)

const (
	// Per-transport timeouts. The socket timeout applies to every read and
	// write on the SMTP connection; connect and greeting bound how long an
	// attempt may spend before the session is usable.
	connectTimeout  = 30 * time.Second
	greetingTimeout = 30 * time.Second
	socketTimeout   = 60 * time.Second

	defaultPDFFilename = "purchase-order.pdf"
)

// SMTPConfig describes one SMTP submission endpoint.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPTransport submits messages to a single SMTP server using go-mail.
type SMTPTransport struct {
	name   string
	client *mail.Client
	from   string
}

var _ Transport = (*SMTPTransport)(nil)

func NewSMTPTransport(name string, cfg SMTPConfig) (*SMTPTransport, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp sender address is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(socketTimeout),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if strings.TrimSpace(cfg.Username) != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client for %q: %w", host, err)
	}

	if strings.TrimSpace(name) == "" {
		name = host
	}

	return &SMTPTransport{
		name:   name,
		client: client,
		from:   strings.TrimSpace(cfg.From),
	}, nil
}

func (t *SMTPTransport) Name() string { return t.name }

func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("transport is not initialized")
	}
	if err := msg.Validate(); err != nil {
		// Malformed payloads never become deliverable by retrying.
		return &DeliveryError{Transport: t.name, Message: "invalid message", Cause: err}
	}

	m := mail.NewMsg()
	if err := m.From(t.from); err != nil {
		return &DeliveryError{Transport: t.name, Message: "invalid sender address", Cause: err}
	}
	if err := m.To(msg.To); err != nil {
		return &DeliveryError{Transport: t.name, Message: "invalid recipient address", Cause: err}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)

	if len(msg.PDF) > 0 {
		filename := strings.TrimSpace(msg.PDFFilename)
		if filename == "" {
			filename = defaultPDFFilename
		}
		m.AttachReader(filename, bytes.NewReader(msg.PDF), mail.WithFileContentType(mail.TypeAppOctetStream))
	}

	// Bounds a single attempt end to end; the client's own socket timeout
	// covers individual reads and writes within it.
	attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout+greetingTimeout+socketTimeout)
	defer cancel()

	if err := t.client.DialAndSendWithContext(attemptCtx, m); err != nil {
		return &DeliveryError{
			Transport: t.name,
			Message:   "smtp send failed",
			Transient: isTransientSMTPError(err),
			Cause:     err,
		}
	}

	return nil
}

func isTransientSMTPError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}

	// Connection-level failures (refused, reset, DNS) are worth retrying.
	return true
}
