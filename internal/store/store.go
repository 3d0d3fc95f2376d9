// Package store provides storage backends for Almanac.
//
// It includes an in-memory store for tests and small deployments, plus
// SQLite- and PostgreSQL-backed stores for durable state. Each backend
// implements the subscriber repository, the send ledger, and the
// correspondence rotation cursor.
package store

import (
	"strings"
	"time"

	"github.com/almanacmail/almanac/internal/models"
)

// SubscriberRepo defines durable access to per-recipient records.
type SubscriberRepo interface {
	// ListActive returns all subscribers in the active lifecycle state.
	ListActive() ([]models.Subscriber, error)

	// GetSubscriber returns one subscriber, or models.ErrSubscriberNotFound.
	GetSubscriber(id string) (*models.Subscriber, error)

	// SaveSubscriber inserts or replaces a subscriber record.
	SaveSubscriber(sub models.Subscriber) error

	// UpdateLifecycleState sets the lifecycle state; verifiedAt is applied
	// when non-nil.
	UpdateLifecycleState(id string, state models.LifecycleState, verifiedAt *time.Time) error

	// UpdateCadenceMarks updates last_rhythm_sent_at and, when non-nil,
	// last_invitation_sent_at. This update is what consumes a cadence slot.
	UpdateCadenceMarks(id string, lastRhythm time.Time, lastInvitation *time.Time) error
}

// LedgerRepo defines the append-only send ledger. The claim insert is the
// unit of mutual exclusion for the whole engine: an atomic insert-if-absent
// keyed by idempotency key.
type LedgerRepo interface {
	// ClaimSend inserts a pending record. Returns claimed=false when the
	// idempotency key is already taken (another run holds the claim).
	ClaimSend(rec models.SendRecord) (bool, error)

	// MarkSent transitions a pending record to sent.
	MarkSent(id string, sentAt time.Time) error

	// MarkFailed transitions a pending record to failed and bumps attempts.
	MarkFailed(id string, lastError string) error

	// GetRecordByKey returns the record holding an idempotency key, or
	// models.ErrRecordNotFound.
	GetRecordByKey(key string) (*models.SendRecord, error)

	// SentRhythmBetween returns sent rhythm records for a subscriber whose
	// decided_for date falls in [from, to] inclusive.
	SentRhythmBetween(subscriberID string, from, to time.Time) ([]models.SendRecord, error)

	// InvitationSentInMonth reports whether a sent invitation exists for the
	// subscriber in the given calendar month.
	InvitationSentInMonth(subscriberID string, year int, month time.Month) (bool, error)

	// ConsumedInvitationRefs returns the content refs of invitations already
	// sent to the subscriber.
	ConsumedInvitationRefs(subscriberID string) (map[string]bool, error)

	// HasSentTransactional reports whether the subscriber already received a
	// sent record of the given transactional type.
	HasSentTransactional(subscriberID string, emailType models.EmailType) (bool, error)

	// ListRecords returns all ledger records for a subscriber, oldest first.
	ListRecords(subscriberID string) ([]models.SendRecord, error)

	// ListPendingOlderThan returns pending records created before the
	// cutoff. These are claims abandoned by a crashed run.
	ListPendingOlderThan(cutoff time.Time) ([]models.SendRecord, error)
}

// RotationRepo tracks the global correspondence rotation cursor.
type RotationRepo interface {
	// RotationPosition returns the current cursor position.
	RotationPosition() (int, error)

	// AdvanceRotation moves the cursor forward by one. It advances at most
	// once per run date: repeat calls for the same date are no-ops.
	AdvanceRotation(forDate time.Time) error
}

// Store is the full storage surface the engine depends on.
type Store interface {
	SubscriberRepo
	LedgerRepo
	RotationRepo
	Close() error
}

// Opts holds configuration options for storage backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for storage backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". Anything that is
// not recognizably a PostgreSQL connection string is treated as a SQLite
// file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
