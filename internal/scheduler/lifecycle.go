package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/almanacmail/almanac/internal/models"
	"github.com/almanacmail/almanac/internal/util"
)

// RequestVerification dispatches the verification email to a subscriber who
// has signed up but not confirmed. At most one verification ever goes out
// per subscriber.
func (e *Engine) RequestVerification(ctx context.Context, id string) error {
	sub, err := e.store.GetSubscriber(id)
	if err != nil {
		return err
	}
	if sub.LifecycleState != models.StatePendingVerification {
		return fmt.Errorf("subscriber %s is %s: %w", id, sub.LifecycleState, models.ErrInvalidTransition)
	}
	return e.sendTransactional(ctx, *sub, models.EmailTypeVerification)
}

// ConfirmVerification records the address confirmation, sends the welcome,
// activates the subscriber and sends the initiation. Each transactional send
// is claimed independently, so a crash mid-sequence resumes without
// duplicates on the next call.
func (e *Engine) ConfirmVerification(ctx context.Context, id string, at time.Time) error {
	sub, err := e.store.GetSubscriber(id)
	if err != nil {
		return err
	}

	if sub.LifecycleState == models.StatePendingVerification {
		verifiedAt := at.UTC()
		if err := e.transition(id, sub.LifecycleState, models.StateVerified, &verifiedAt); err != nil {
			return err
		}
		sub.LifecycleState = models.StateVerified
	}

	switch sub.LifecycleState {
	case models.StateVerified:
		if err := e.sendTransactional(ctx, *sub, models.EmailTypeWelcome); err != nil {
			return err
		}
		if err := e.transition(id, models.StateVerified, models.StateActive, nil); err != nil {
			return err
		}
		sub.LifecycleState = models.StateActive
	case models.StateActive:
		// Already activated. Fall through to the initiation claim so a
		// crash after the activation transition still sends it; the
		// claim makes this a no-op when it already went out.
	default:
		return fmt.Errorf("subscriber %s is %s: %w", id, sub.LifecycleState, models.ErrInvalidTransition)
	}
	return e.sendTransactional(ctx, *sub, models.EmailTypeInitiation)
}

// Pause suspends rhythm delivery, typically on a bounce or complaint signal.
func (e *Engine) Pause(id string) error {
	return e.transitionFromCurrent(id, models.StatePaused, nil)
}

// Resume returns a paused subscriber to active.
func (e *Engine) Resume(id string) error {
	return e.transitionFromCurrent(id, models.StateActive, nil)
}

// Unsubscribe is terminal. No email accompanies it.
func (e *Engine) Unsubscribe(id string) error {
	return e.transitionFromCurrent(id, models.StateUnsubscribed, nil)
}

func (e *Engine) transitionFromCurrent(id string, to models.LifecycleState, verifiedAt *time.Time) error {
	sub, err := e.store.GetSubscriber(id)
	if err != nil {
		return err
	}
	return e.transition(id, sub.LifecycleState, to, verifiedAt)
}

func (e *Engine) transition(id string, from, to models.LifecycleState, verifiedAt *time.Time) error {
	if !models.CanTransition(from, to) {
		return fmt.Errorf("subscriber %s: %s -> %s: %w", id, from, to, models.ErrInvalidTransition)
	}
	if err := e.store.UpdateLifecycleState(id, to, verifiedAt); err != nil {
		return fmt.Errorf("update lifecycle state failed: %w", err)
	}
	slog.Info("lifecycle transition", "subscriber", id, "from", from, "to", to)
	return nil
}

// sendTransactional claims and dispatches one lifecycle email. The claim key
// depends only on the subscriber and the transition, so repeat calls are
// no-ops whether the first attempt succeeded or failed: transactional sends
// are at-most-once.
func (e *Engine) sendTransactional(ctx context.Context, sub models.Subscriber, emailType models.EmailType) error {
	sent, err := e.store.HasSentTransactional(sub.ID, emailType)
	if err != nil {
		return fmt.Errorf("transactional lookup %s for %s failed: %w", emailType, sub.ID, err)
	}
	if sent {
		slog.Debug("transactional already sent", "subscriber", sub.ID, "type", emailType)
		return nil
	}

	rec := models.SendRecord{
		ID:             util.GenerateSendRecordID(),
		SubscriberID:   sub.ID,
		EmailType:      emailType,
		DecidedFor:     models.CivilDate(time.Now().UTC()),
		IdempotencyKey: models.TransitionIdempotencyKey(sub.ID, emailType),
	}
	claimed, err := e.store.ClaimSend(rec)
	if err != nil {
		return fmt.Errorf("claim %s for %s failed: %w", emailType, sub.ID, err)
	}
	if !claimed {
		slog.Debug("transactional already claimed", "subscriber", sub.ID, "type", emailType)
		return nil
	}

	msgID, err := e.sender.Dispatch(ctx, sub.Email, emailType, "")
	if err != nil {
		if markErr := e.store.MarkFailed(rec.ID, err.Error()); markErr != nil {
			slog.Error("mark failed errored", "record", rec.ID, "error", markErr)
		}
		return fmt.Errorf("dispatch %s to %s failed: %w", emailType, sub.ID, err)
	}
	if err := e.store.MarkSent(rec.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark sent %s failed: %w", rec.ID, err)
	}
	slog.Info("transactional sent", "subscriber", sub.ID, "type", emailType, "message_id", msgID)
	return nil
}
