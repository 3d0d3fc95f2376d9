// Package delivery sends decided emails through a pluggable gateway
// (SMTP or Twilio SendGrid) with rate limiting and bounded retries.
package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/almanacmail/almanac/internal/models"
)

// Gateway delivers a single email and reports the provider message ID.
type Gateway interface {
	Send(ctx context.Context, recipient string, emailType models.EmailType, contentRef string) (string, error)
}

// Error carries the provider name alongside the underlying failure so
// callers can log which gateway rejected the send.
type Error struct {
	Provider  string
	Recipient string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Provider, e.Recipient, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SentEmail records one delivery accepted by the MockGateway.
type SentEmail struct {
	Recipient  string
	EmailType  models.EmailType
	ContentRef string
}

// MockGateway records sends in memory and can inject failures per
// recipient. Safe for concurrent use.
type MockGateway struct {
	mu       sync.Mutex
	sent     []SentEmail
	failFor  map[string]error
	failNext int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{failFor: make(map[string]error)}
}

// FailRecipient makes every send to the given recipient return err.
func (m *MockGateway) FailRecipient(recipient string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[recipient] = err
}

// FailNext makes the next n sends fail regardless of recipient.
func (m *MockGateway) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *MockGateway) Send(ctx context.Context, recipient string, emailType models.EmailType, contentRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return "", &Error{Provider: "mock", Recipient: recipient, Err: fmt.Errorf("injected failure")}
	}
	if err, ok := m.failFor[recipient]; ok {
		return "", &Error{Provider: "mock", Recipient: recipient, Err: err}
	}
	m.sent = append(m.sent, SentEmail{Recipient: recipient, EmailType: emailType, ContentRef: contentRef})
	return fmt.Sprintf("mock-%d", len(m.sent)), nil
}

// Sent returns a copy of all accepted deliveries.
func (m *MockGateway) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEmail, len(m.sent))
	copy(out, m.sent)
	return out
}

var _ Gateway = (*MockGateway)(nil)
