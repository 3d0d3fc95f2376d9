package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/almanacmail/almanac/internal/models"
)

// TwilioOpts holds configuration options for the Twilio gateway.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// TwilioOption defines a configuration option for the Twilio gateway.
type TwilioOption func(*TwilioOpts)

func WithTwilioAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

func WithTwilioAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

func WithTwilioFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

// TwilioGateway delivers notifications through the Twilio messaging
// API for operators who route email-to-SMS bridges or verified
// messaging channels instead of SMTP.
type TwilioGateway struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioGateway(opts ...TwilioOption) (*TwilioGateway, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM")
	}
	slog.Debug("Twilio gateway config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from address must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &TwilioGateway{client: client, from: cfg.From}, nil
}

func (g *TwilioGateway) Send(ctx context.Context, recipient string, emailType models.EmailType, contentRef string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(g.from)
	params.SetBody(fmt.Sprintf("[%s] %s", emailType, contentRef))

	resp, err := g.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio send failed", "to", recipient, "type", emailType, "error", err)
		return "", &Error{Provider: "twilio", Recipient: recipient, Err: err}
	}

	var sid string
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Twilio message sent", "to", recipient, "type", emailType, "sid", sid)
	return sid, nil
}

var _ Gateway = (*TwilioGateway)(nil)
