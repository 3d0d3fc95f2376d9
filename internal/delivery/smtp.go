package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/almanacmail/almanac/internal/models"
)

// SMTPOpts holds configuration options for the SMTP gateway.
type SMTPOpts struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPOption defines a configuration option for the SMTP gateway.
type SMTPOption func(*SMTPOpts)

func WithSMTPHost(host string) SMTPOption {
	return func(o *SMTPOpts) { o.Host = host }
}

func WithSMTPPort(port string) SMTPOption {
	return func(o *SMTPOpts) { o.Port = port }
}

func WithSMTPCredentials(username, password string) SMTPOption {
	return func(o *SMTPOpts) {
		o.Username = username
		o.Password = password
	}
}

func WithSMTPFrom(from string) SMTPOption {
	return func(o *SMTPOpts) { o.From = from }
}

// SMTPGateway delivers email over plain SMTP with AUTH PLAIN.
type SMTPGateway struct {
	addr string
	auth smtp.Auth
	from string
	// sendMail is swapped in tests to avoid dialing a real server.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPGateway(opts ...SMTPOption) (*SMTPGateway, error) {
	var cfg SMTPOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.Host == "" {
		cfg.Host = os.Getenv("SMTP_HOST")
	}
	if cfg.Port == "" {
		cfg.Port = os.Getenv("SMTP_PORT")
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("SMTP_USERNAME")
	}
	if cfg.Password == "" {
		cfg.Password = os.Getenv("SMTP_PASSWORD")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("SMTP_FROM")
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address must be provided")
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	slog.Debug("SMTP gateway config loaded",
		"host", cfg.Host, "port", cfg.Port,
		"auth_set", auth != nil, "from", cfg.From)

	return &SMTPGateway{
		addr:     cfg.Host + ":" + cfg.Port,
		auth:     auth,
		from:     cfg.From,
		sendMail: smtp.SendMail,
	}, nil
}

func (g *SMTPGateway) Send(ctx context.Context, recipient string, emailType models.EmailType, contentRef string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@almanac.mail>", uuid.NewString())
	msg := buildMessage(g.from, recipient, messageID, emailType, contentRef)

	if err := g.sendMail(g.addr, g.auth, g.from, []string{recipient}, msg); err != nil {
		slog.Error("SMTP send failed", "to", recipient, "type", emailType, "error", err)
		return "", &Error{Provider: "smtp", Recipient: recipient, Err: err}
	}
	slog.Debug("SMTP message sent", "to", recipient, "type", emailType, "message_id", messageID)
	return messageID, nil
}

// buildMessage assembles RFC 5322 headers plus a body naming the
// content reference the composer should render.
func buildMessage(from, to, messageID string, emailType models.EmailType, contentRef string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Subject: %s\r\n", subjectFor(emailType, contentRef))
	fmt.Fprintf(&b, "X-Almanac-Type: %s\r\n", emailType)
	if contentRef != "" {
		fmt.Fprintf(&b, "X-Almanac-Content-Ref: %s\r\n", contentRef)
	}
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "content: %s\r\n", contentRef)
	return []byte(b.String())
}

func subjectFor(emailType models.EmailType, contentRef string) string {
	if contentRef != "" {
		return fmt.Sprintf("[%s] %s", emailType, contentRef)
	}
	return string(emailType)
}

var _ Gateway = (*SMTPGateway)(nil)
