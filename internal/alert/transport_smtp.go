// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
)

// SMTPTransport mails alerts through a relay.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	// Hostname identifies this installation in the subject line.
	Hostname string
}

// NewSMTPTransport fills Hostname from the OS when empty.
func NewSMTPTransport(t SMTPTransport) *SMTPTransport {
	if t.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			t.Hostname = h
		} else {
			t.Hostname = "unknown"
		}
	}
	return &t
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Deliver sends one message. Connection failures wrap ErrTransportUnavailable.
func (t *SMTPTransport) Deliver(ctx context.Context, a Alert) error {
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransportUnavailable, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(time.Minute))
	}

	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: handshake: %v", ErrTransportUnavailable, err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if t.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.Username, t.Password, t.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(t.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range t.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(t.message(a)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

// Subject renders "[recingest][<severity>] <host>: <first line>".
func (t *SMTPTransport) Subject(a Alert) string {
	first := a.Subject
	if first == "" {
		first = a.Message
	}
	if i := strings.IndexAny(first, "\r\n"); i >= 0 {
		first = first[:i]
	}
	return fmt.Sprintf("[recingest][%s] %s: %s", a.Severity, t.Hostname, first)
}

func (t *SMTPTransport) message(a Alert) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", t.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(t.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", t.Subject(a))
	fmt.Fprintf(&b, "Date: %s\r\n", a.CreatedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", a.ID, t.Hostname)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Severity: %s\r\n", a.Severity)
	if a.Kind != "" {
		fmt.Fprintf(&b, "Kind: %s\r\n", a.Kind)
	}
	if a.Path != "" {
		fmt.Fprintf(&b, "Path: %s\r\n", a.Path)
	}
	if a.JobID != "" {
		fmt.Fprintf(&b, "Job: %s\r\n", a.JobID)
	}
	fmt.Fprintf(&b, "Created: %s\r\n", a.CreatedAt.Format(time.RFC3339))
	if a.DeliveryAttempts > 0 {
		fmt.Fprintf(&b, "Delivery attempts: %d\r\n", a.DeliveryAttempts+1)
	}
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(a.Message, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
