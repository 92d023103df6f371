package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/harun/toolgate/pkg/provider"
)

// SMTPTransport talks to SMTP servers with net/smtp.
type SMTPTransport struct {
	dialer    net.Dialer
	tlsConfig *tls.Config
}

// NewSMTPTransport returns a transport that gives up connecting after dialTimeout.
func NewSMTPTransport(dialTimeout time.Duration) *SMTPTransport {
	return &SMTPTransport{dialer: net.Dialer{Timeout: dialTimeout}}
}

// Send implements Transport.
func (t *SMTPTransport) Send(ctx context.Context, cfg ServerConfig, msg Message) error {
	return t.session(ctx, cfg, func(c *smtp.Client) error {
		if err := c.Mail(msg.From); err != nil {
			return rejected("MAIL FROM", err)
		}
		for _, rcpt := range msg.Recipients() {
			if err := c.Rcpt(rcpt); err != nil {
				return rejected("RCPT TO", err)
			}
		}
		w, err := c.Data()
		if err != nil {
			return rejected("DATA", err)
		}
		if _, err := w.Write(renderMessage(msg)); err != nil {
			w.Close()
			return fmt.Errorf("%w: write message: %v", provider.ErrProviderError, err)
		}
		if err := w.Close(); err != nil {
			return rejected("DATA", err)
		}
		return nil
	})
}

// Verify implements Transport.
func (t *SMTPTransport) Verify(ctx context.Context, cfg ServerConfig, address string) (VerifyResult, error) {
	res := VerifyResult{Address: address}
	err := t.session(ctx, cfg, func(c *smtp.Client) error {
		err := c.Verify(address)
		if err == nil {
			res.Status = VerifyDeliverable
			return nil
		}
		var tpErr *textproto.Error
		if !errors.As(err, &tpErr) {
			return fmt.Errorf("%w: VRFY: %v", provider.ErrProviderError, err)
		}
		res.Detail = tpErr.Msg
		switch {
		case tpErr.Code == 252 || tpErr.Code == 502 || tpErr.Code == 500:
			// Server will not confirm either way.
			res.Status = VerifyUnknown
		case tpErr.Code >= 550 && tpErr.Code <= 553:
			res.Status = VerifyRejected
		default:
			return fmt.Errorf("%w: VRFY: %d %s", provider.ErrProviderError, tpErr.Code, tpErr.Msg)
		}
		return nil
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return res, nil
}

// session dials, secures and authenticates, runs fn and quits.
func (t *SMTPTransport) session(ctx context.Context, cfg ServerConfig, fn func(*smtp.Client) error) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: dial %s: %v", provider.ErrProviderUnavailable, cfg.Addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	raw := conn
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	if cfg.TLS == TLSImplicit {
		conn = tls.Client(conn, t.tlsFor(cfg.Host))
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return t.wrap(ctx, fmt.Errorf("%w: greeting: %v", provider.ErrProviderUnavailable, err))
	}
	defer c.Close()

	if cfg.TLS == TLSStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("%w: server does not offer STARTTLS", provider.ErrProviderError)
		}
		if err := c.StartTLS(t.tlsFor(cfg.Host)); err != nil {
			return t.wrap(ctx, fmt.Errorf("%w: starttls: %v", provider.ErrProviderError, err))
		}
	}

	if cfg.Password != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
			if err := c.Auth(auth); err != nil {
				return t.wrap(ctx, fmt.Errorf("%w: authentication failed: %v", provider.ErrInvalidConnection, err))
			}
		}
	}

	if err := fn(c); err != nil {
		return t.wrap(ctx, err)
	}
	return c.Quit()
}

func (t *SMTPTransport) tlsFor(host string) *tls.Config {
	if t.tlsConfig != nil {
		cfg := t.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// wrap prefers the context error when the session was torn down by cancellation.
func (t *SMTPTransport) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func rejected(stage string, err error) error {
	return fmt.Errorf("%w: %s: %v", provider.ErrProviderError, stage, err)
}

func renderMessage(msg Message) []byte {
	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}

	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Message-ID", msg.ID)
	header("Date", msg.Date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	if msg.HTML {
		header("Content-Type", `text/html; charset="utf-8"`)
	} else {
		header("Content-Type", `text/plain; charset="utf-8"`)
	}
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}
