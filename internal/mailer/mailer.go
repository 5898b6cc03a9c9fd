// Package mailer sends single plain-text emails over SMTP.
//
// A Mailer never retries. Every failure, including a bad configuration
// detected on the first Send, is returned as a *DeliveryError.
package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"

	logx "trackerd/pkg/logx"
)

const (
	DefaultPort    = 465
	DefaultTimeout = 15 * time.Second
	DefaultAppName = "trackerd"
)

// services maps well-known provider identifiers to their SMTP host.
var services = map[string]string{
	"gmail":    "smtp.gmail.com",
	"outlook":  "smtp.office365.com",
	"hotmail":  "smtp.office365.com",
	"yahoo":    "smtp.mail.yahoo.com",
	"sendgrid": "smtp.sendgrid.net",
	"mailgun":  "smtp.mailgun.org",
}

// Config is read once at construction.
type Config struct {
	Service  string
	Host     string
	Port     int
	Secure   bool // implicit TLS; otherwise STARTTLS when the server offers it
	User     string
	Password string
	From     string
	AppName  string
	Timeout  time.Duration
}

// DeliveryError wraps the cause of a failed send.
type DeliveryError struct {
	Op  string // config | compose | dial | tls | auth | send
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("mail delivery failed (%s): %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Mailer struct {
	raw Config
	log logx.Logger

	once   sync.Once
	cfg    Config
	cfgErr error
}

func New(cfg Config, log logx.Logger) *Mailer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Mailer{raw: cfg, log: log.With(logx.String("comp", "mailer"))}
}

// Send delivers one message to a single recipient. It blocks until the
// server accepted the message, the configured timeout passed or ctx ended.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	cfg, err := m.config()
	if err != nil {
		return m.fail(to, &DeliveryError{Op: "config", Err: err})
	}

	rcpt, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return m.fail(to, &DeliveryError{Op: "compose", Err: fmt.Errorf("recipient %q: %w", to, err)})
	}
	msg, err := compose(cfg, rcpt, subject, body, time.Now())
	if err != nil {
		return m.fail(to, &DeliveryError{Op: "compose", Err: err})
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	if derr := deliver(ctx, cfg, rcpt.Address, msg); derr != nil {
		return m.fail(to, derr)
	}
	m.log.Debug("mail sent", logx.String("to", rcpt.Address), logx.String("subject", subject), logx.Duration("took", time.Since(start)))
	return nil
}

// Validate resolves and checks the configuration without sending anything.
func (m *Mailer) Validate() error {
	if _, err := m.config(); err != nil {
		return &DeliveryError{Op: "config", Err: err}
	}
	return nil
}

// fail logs at warn so the error alert sink, which mails ERROR records,
// never feeds on its own delivery failures.
func (m *Mailer) fail(to string, err *DeliveryError) error {
	m.log.Warn("mail delivery failed", logx.String("to", to), logx.String("op", err.Op), logx.Err(err.Err))
	return err
}

func (m *Mailer) config() (Config, error) {
	m.once.Do(func() {
		m.cfg, m.cfgErr = resolve(m.raw)
	})
	return m.cfg, m.cfgErr
}

func resolve(c Config) (Config, error) {
	c.Service = strings.ToLower(strings.TrimSpace(c.Service))
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" && c.Service != "" {
		host, ok := services[c.Service]
		if !ok {
			return c, fmt.Errorf("unknown mail service %q", c.Service)
		}
		c.Host = host
	}
	if c.Host == "" {
		return c, errors.New("mail host or service required")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return c, fmt.Errorf("invalid mail port %d", c.Port)
	}
	if strings.TrimSpace(c.From) == "" {
		c.From = c.User
	}
	if strings.TrimSpace(c.From) == "" {
		return c, errors.New("mail sender required (set from or user)")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return c, fmt.Errorf("invalid sender %q: %w", c.From, err)
	}
	if c.User != "" && c.Password == "" {
		return c, errors.New("mail password required when user is set")
	}
	if strings.TrimSpace(c.AppName) == "" {
		c.AppName = DefaultAppName
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c, nil
}

func compose(cfg Config, to *mail.Address, subject, body string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: cfg.AppName, Address: cfg.From}})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing body: %w", err)
	}
	return buf.Bytes(), nil
}

func deliver(ctx context.Context, cfg Config, to string, msg []byte) *DeliveryError {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	var (
		conn net.Conn
		err  error
	)
	if cfg.Secure {
		d := tls.Dialer{NetDialer: &net.Dialer{}, Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return &DeliveryError{Op: "dial", Err: fmt.Errorf("dial %s: %w", addr, err)}
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	// Unblock protocol reads if ctx ends before the deadline does.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return &DeliveryError{Op: "dial", Err: fmt.Errorf("creating SMTP client: %w", err)}
	}
	defer client.Close()

	if !cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return &DeliveryError{Op: "tls", Err: fmt.Errorf("SMTP STARTTLS: %w", err)}
			}
		}
	}

	if cfg.User != "" {
		auth := smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return &DeliveryError{Op: "auth", Err: fmt.Errorf("SMTP auth: %w", err)}
		}
	}

	if err := sendViaClient(client, cfg.From, to, msg); err != nil {
		return &DeliveryError{Op: "send", Err: err}
	}
	return nil
}

func sendViaClient(client *smtp.Client, from, to string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing message: %w", err)
	}
	return client.Quit()
}
