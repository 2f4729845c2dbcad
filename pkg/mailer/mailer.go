package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"
)

// Config holds SMTP relay settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
	TLS      bool
	// Timeout bounds one delivery when the caller's context has no deadline.
	Timeout time.Duration
}

// SMTP sends plain-text notification mail through a relay.
type SMTP struct {
	cfg    Config
	logger zerolog.Logger
}

// New constructs an SMTP mailer. From defaults to User.
func New(cfg Config, logger zerolog.Logger) (*SMTP, error) {
	if cfg.Host == "" || cfg.Port == "" {
		return nil, fmt.Errorf("smtp host and port must be provided")
	}
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp sender address must be provided")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &SMTP{cfg: cfg, logger: logger.With().Str("component", "mailer").Logger()}, nil
}

// Send delivers one message to every address in to.
func (m *SMTP) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := m.deliver(ctx, to, compose(m.cfg.From, to, subject, body, time.Now())); err != nil {
		m.logger.Error().Err(err).Strs("to", to).Msg("failed to send mail")
		return err
	}

	m.logger.Info().Strs("to", to).Str("subject", subject).Msg("mail sent")
	return nil
}

// deliver runs one SMTP session on a connection bound to ctx.
func (m *SMTP) deliver(ctx context.Context, to []string, msg string) error {
	addr := net.JoinHostPort(m.cfg.Host, m.cfg.Port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp relay: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if m.cfg.TLS {
		conn = tls.Client(conn, &tls.Config{ServerName: m.cfg.Host})
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if m.cfg.User != "" {
		if err := client.Auth(sasl.NewPlainClient("", m.cfg.User, m.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.SendMail(m.cfg.From, to, strings.NewReader(msg)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		return err
	}

	if err := client.Quit(); err != nil {
		m.logger.Debug().Err(err).Msg("smtp quit failed after delivery")
	}
	return nil
}

func compose(from string, to []string, subject, body string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", at.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return b.String()
}
