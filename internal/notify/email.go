package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Recipients get new-result and recall emails.
	Recipients []string
	// Admins get failure emails.
	Admins []string
}

// DefaultSendTimeout bounds one SMTP exchange when ctx has no deadline.
const DefaultSendTimeout = 30 * time.Second

// SendFunc delivers one message. It is smtp.SendMail with a context.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends plain-text notifications over SMTP.
type Email struct {
	cfg  EmailConfig
	send SendFunc
	now  func() time.Time
}

// NewEmail returns an SMTP notifier. send may be nil to use SendMail.
func NewEmail(cfg EmailConfig, send SendFunc) *Email {
	if send == nil {
		send = SendMail
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Email{cfg: cfg, send: send, now: time.Now}
}

// NotifySuccess mails the recipients a summary of the new result.
func (e *Email) NotifySuccess(ctx context.Context, job types.Job) error {
	var body strings.Builder
	body.WriteString("A new reel was processed.\n\n")
	fmt.Fprintf(&body, "%s\n", job.Title)
	fmt.Fprintf(&body, "Source: %s\n\n", job.SourceURL)
	writeTriggers(&body, job.Triggers)
	return e.deliver(ctx, e.cfg.Recipients, "TRIGGER ENGINE: New Reel Processed", body.String())
}

// NotifyFailure mails the admins the URL and error summary.
func (e *Email) NotifyFailure(ctx context.Context, url, summary string) error {
	subject := fmt.Sprintf("TRIGGER ENGINE ERROR: %s...", truncate(url, 30))
	body := fmt.Sprintf("Trigger Engine encountered an error while processing:\nURL: %s\n\nERROR:\n%s\n", url, summary)
	return e.deliver(ctx, e.cfg.Admins, subject, body)
}

// SendRecall mails the daily recall selection. Nothing is sent for an empty
// selection.
func (e *Email) SendRecall(ctx context.Context, jobs []types.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	today := e.now().Format("2006-01-02")

	var body strings.Builder
	body.WriteString("Here is your daily recall:\n\n")
	for _, job := range jobs {
		heading := job.Title
		if heading == "" {
			heading = "Reel"
		}
		fmt.Fprintf(&body, "%s (%s)\n", heading, job.Language)
		fmt.Fprintf(&body, "Source: %s\n", job.SourceURL)
		writeTriggers(&body, job.Triggers)
		body.WriteString("\n")
	}
	return e.deliver(ctx, e.cfg.Recipients, fmt.Sprintf("TRIGGER ENGINE: Daily Recall (%s)", today), body.String())
}

func writeTriggers(sb *strings.Builder, triggers []string) {
	sb.WriteString("Triggers:\n")
	for _, t := range triggers {
		if t = strings.TrimSpace(t); t != "" {
			fmt.Fprintf(sb, "- %s\n", t)
		}
	}
}

func (e *Email) deliver(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return errors.New("email: no recipients configured")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	if err := e.send(ctx, addr, auth, e.cfg.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("email: send %q: %w", subject, err)
	}
	return nil
}

// SendMail does what smtp.SendMail does, but the whole exchange is bound to
// ctx, or to DefaultSendTimeout when ctx has no deadline.
func SendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSendTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		conn.Close()
		return err
	}
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
