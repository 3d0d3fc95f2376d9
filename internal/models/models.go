// Package models defines the core data structures for Almanac.
//
// It includes subscriber lifecycle state, the email type variants, engagement
// tiers, and send ledger records, which are shared across modules.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DateLayout is the canonical format for civil dates in records and CLI input.
const DateLayout = "2006-01-02"

// EmailType identifies which kind of message a send decision produced.
// Types fall in two families: transactional types fire once per lifecycle
// transition and are exempt from the cadence gate; rhythm types are
// repeatable and cadence-gated.
type EmailType string

const (
	// EmailTypeVerification confirms a new subscriber's address.
	EmailTypeVerification EmailType = "verification"
	// EmailTypeWelcome greets a subscriber after verification.
	EmailTypeWelcome EmailType = "welcome"
	// EmailTypeInitiation introduces the content rhythm once a subscriber is active.
	EmailTypeInitiation EmailType = "initiation"
	// EmailTypeCorrespondence is the rotating filler content.
	EmailTypeCorrespondence EmailType = "correspondence"
	// EmailTypeRitual is bound to specific calendar dates or windows.
	EmailTypeRitual EmailType = "ritual"
	// EmailTypeInvitation offers tier-gated content, capped per month.
	EmailTypeInvitation EmailType = "invitation"
)

// IsValidEmailType checks if the given email type is supported.
func IsValidEmailType(et EmailType) bool {
	switch et {
	case EmailTypeVerification, EmailTypeWelcome, EmailTypeInitiation,
		EmailTypeCorrespondence, EmailTypeRitual, EmailTypeInvitation:
		return true
	default:
		return false
	}
}

// IsRhythm reports whether the type belongs to the cadence-gated family.
func (et EmailType) IsRhythm() bool {
	switch et {
	case EmailTypeCorrespondence, EmailTypeRitual, EmailTypeInvitation:
		return true
	default:
		return false
	}
}

// IsTransactional reports whether the type fires on a lifecycle transition.
func (et EmailType) IsTransactional() bool {
	switch et {
	case EmailTypeVerification, EmailTypeWelcome, EmailTypeInitiation:
		return true
	default:
		return false
	}
}

// LifecycleState represents where a subscriber sits in the signup lifecycle.
type LifecycleState string

const (
	// StatePendingVerification indicates the subscriber has signed up but not confirmed.
	StatePendingVerification LifecycleState = "pending_verification"
	// StateVerified indicates the address is confirmed but the welcome has not gone out.
	StateVerified LifecycleState = "verified"
	// StateActive indicates the subscriber receives rhythm sends.
	StateActive LifecycleState = "active"
	// StatePaused indicates delivery is suspended by a bounce/complaint signal.
	StatePaused LifecycleState = "paused"
	// StateUnsubscribed is terminal.
	StateUnsubscribed LifecycleState = "unsubscribed"
)

// IsValidLifecycleState checks if the given lifecycle state is valid.
func IsValidLifecycleState(s LifecycleState) bool {
	switch s {
	case StatePendingVerification, StateVerified, StateActive, StatePaused, StateUnsubscribed:
		return true
	default:
		return false
	}
}

// lifecycleTransitions enumerates the allowed state machine edges.
// Unsubscribed is terminal: nothing leaves it.
var lifecycleTransitions = map[LifecycleState][]LifecycleState{
	StatePendingVerification: {StateVerified, StateUnsubscribed},
	StateVerified:            {StateActive, StateUnsubscribed},
	StateActive:              {StatePaused, StateUnsubscribed},
	StatePaused:              {StateActive, StateUnsubscribed},
	StateUnsubscribed:        {},
}

// CanTransition reports whether the lifecycle state machine allows from → to.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range lifecycleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EngagementTier classifies subscriber responsiveness. Tiers are totally
// ordered by priority; Replier is highest and sticky once earned.
type EngagementTier string

const (
	TierReplier  EngagementTier = "replier"
	TierEngaged  EngagementTier = "engaged"
	TierModerate EngagementTier = "moderate"
	TierPassive  EngagementTier = "passive"
)

// Priority returns the tie-break rank of a tier; higher wins.
func (t EngagementTier) Priority() int {
	switch t {
	case TierReplier:
		return 3
	case TierEngaged:
		return 2
	case TierModerate:
		return 1
	default:
		return 0
	}
}

// Subscriber is the durable per-recipient record. The engine mutates the
// lifecycle state and the cadence marks; engagement counters and
// requested_content are owned by the external signup/tracking flow.
type Subscriber struct {
	ID                   string         `json:"id"`
	Email                string         `json:"email"`
	LifecycleState       LifecycleState `json:"lifecycle_state"`
	VerifiedAt           *time.Time     `json:"verified_at,omitempty"`
	LastRhythmSentAt     *time.Time     `json:"last_rhythm_sent_at,omitempty"`
	LastInvitationSentAt *time.Time     `json:"last_invitation_sent_at,omitempty"`
	Delivered            int            `json:"delivered"`
	Opens                int            `json:"opens"`
	RepliesEver          int            `json:"replies_ever"`
	Clicks               int            `json:"clicks"`
	RequestedContent     []string       `json:"requested_content,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// SendStatus represents the state of a send ledger record.
type SendStatus string

const (
	// SendStatusPending indicates the claim exists but dispatch has not concluded.
	SendStatusPending SendStatus = "pending"
	// SendStatusSent indicates the gateway acknowledged delivery.
	SendStatusSent SendStatus = "sent"
	// SendStatusFailed indicates dispatch failed after retries.
	SendStatusFailed SendStatus = "failed"
	// SendStatusSkipped indicates the decision was recorded but deliberately not dispatched.
	SendStatusSkipped SendStatus = "skipped"
)

// SendRecord is an append-only entry in the send ledger. The status may
// transition pending→sent or pending→failed; the idempotency key is claimed
// exactly once.
type SendRecord struct {
	ID             string     `json:"id"`
	SubscriberID   string     `json:"subscriber_id"`
	EmailType      EmailType  `json:"email_type"`
	ContentRef     string     `json:"content_ref,omitempty"`
	DecidedFor     time.Time  `json:"decided_for"`
	Status         SendStatus `json:"status"`
	IdempotencyKey string     `json:"idempotency_key"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RhythmIdempotencyKey derives the unique claim key for a rhythm send:
// one claim per subscriber per civil date.
func RhythmIdempotencyKey(subscriberID string, day time.Time) string {
	sum := sha256.Sum256([]byte(subscriberID + "|" + day.Format(DateLayout)))
	return hex.EncodeToString(sum[:])
}

// TransitionIdempotencyKey derives the unique claim key for a transactional
// send: one claim per subscriber per lifecycle transition, independent of date.
func TransitionIdempotencyKey(subscriberID string, emailType EmailType) string {
	sum := sha256.Sum256([]byte(subscriberID + "|transition|" + string(emailType)))
	return hex.EncodeToString(sum[:])
}

// DecisionOutcome summarizes what the daily run did for one subscriber.
type DecisionOutcome string

const (
	// OutcomeSent indicates the gateway acknowledged the send.
	OutcomeSent DecisionOutcome = "sent"
	// OutcomeFailed indicates dispatch failed after retries.
	OutcomeFailed DecisionOutcome = "failed"
	// OutcomeSkipped indicates no send happened (gate, no content, or claim conflict).
	OutcomeSkipped DecisionOutcome = "skipped"
	// OutcomeWouldSend indicates a dry run that would have dispatched.
	OutcomeWouldSend DecisionOutcome = "would_send"
)

// Decision is the per-subscriber output of a scheduling run.
type Decision struct {
	SubscriberID string          `json:"subscriber_id"`
	EmailType    EmailType       `json:"email_type,omitempty"`
	ContentRef   string          `json:"content_ref,omitempty"`
	Outcome      DecisionOutcome `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	MessageID    string          `json:"message_id,omitempty"`
}

// CadenceState is the observability view of a subscriber's gate inputs.
type CadenceState struct {
	LastRhythmSentAt     *time.Time     `json:"last_rhythm_sent_at,omitempty"`
	LastInvitationSentAt *time.Time     `json:"last_invitation_sent_at,omitempty"`
	Tier                 EngagementTier `json:"tier"`
}

// Error variables for better error handling and testability
var (
	ErrClaimConflict      = errors.New("send already claimed for this key")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
	ErrCadenceViolation   = errors.New("send would violate cadence invariants")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrRecordNotFound     = errors.New("send record not found")
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
)
