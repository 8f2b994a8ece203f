package worker

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
)

// SMTPSender submits mail to an SMTP server, typically a mailbox provider's
// submission port (smtp.gmail.com:587). Several SMTPSenders under one
// provider name form a rotation pool.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
	now      func() time.Time
}

// NewSMTPSender creates an SMTP sender. Credentials are only sent after a
// successful STARTTLS.
func NewSMTPSender(host string, port int, username, password string, timeout time.Duration) *SMTPSender {
	if port == 0 {
		port = 587
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Send delivers a single email over SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.host == "" {
		return nil, fmt.Errorf("SMTP host not configured")
	}
	if msg.FromEmail == "" {
		return nil, fmt.Errorf("SMTP sender has no from address")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), domainOf(msg.FromEmail))
	data := s.buildMessage(msg, messageID)

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	if err := s.deliver(ctx, addr, msg.FromEmail, msg.Email, data); err != nil {
		return nil, fmt.Errorf("SMTP send via %s: %w", addr, err)
	}

	logger.Debug("smtp: sent", "recipient", msg.Email, "host", s.host, "message_id", messageID)
	return accepted(domain.ESPSMTP, messageID), nil
}

func (s *SMTPSender) buildMessage(msg *domain.EmailMessage, messageID string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", formatFromHeader(msg.FromName, msg.FromEmail))
	fmt.Fprintf(&buf, "To: %s\r\n", msg.Email)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	if msg.CampaignID != "" {
		fmt.Fprintf(&buf, "X-Campaign-ID: %s\r\n", msg.CampaignID)
	}

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, msg.Headers[k])
	}

	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	qp := quotedprintable.NewWriter(&buf)
	qp.Write([]byte(msg.HTMLContent))
	qp.Close()
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// deliver performs the SMTP transaction. The whole exchange shares one
// deadline: the earlier of ctx's deadline and the configured timeout.
func (s *SMTPSender) deliver(ctx context.Context, addr, from, to string, data []byte) error {
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if s.username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return fmt.Errorf("server does not offer AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}

func formatFromHeader(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), email)
}

func domainOf(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
