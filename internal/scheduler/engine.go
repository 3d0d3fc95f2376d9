// Package scheduler orchestrates the once-per-day send decision for every
// active subscriber and drives the lifecycle transitions that produce
// transactional sends.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/almanacmail/almanac/internal/cadence"
	"github.com/almanacmail/almanac/internal/calendar"
	"github.com/almanacmail/almanac/internal/engagement"
	"github.com/almanacmail/almanac/internal/models"
	"github.com/almanacmail/almanac/internal/store"
	"github.com/almanacmail/almanac/internal/util"
)

// DefaultConcurrency is the number of subscribers decided in parallel.
const DefaultConcurrency = 8

// Sender dispatches one email and returns the provider message ID.
// delivery.Dispatcher satisfies it.
type Sender interface {
	Dispatch(ctx context.Context, recipient string, emailType models.EmailType, contentRef string) (string, error)
}

// EngineOpts holds configuration options for the engine.
type EngineOpts struct {
	Concurrency int
}

// EngineOption defines a configuration option for the engine.
type EngineOption func(*EngineOpts)

func WithConcurrency(n int) EngineOption {
	return func(o *EngineOpts) { o.Concurrency = n }
}

// Engine owns the daily run. It is the single writer of cadence marks and
// ledger statuses; all mutual exclusion between concurrent runs goes through
// the ledger's claim insert.
type Engine struct {
	store       store.Store
	sender      Sender
	resolver    *calendar.Resolver
	concurrency int
}

func NewEngine(st store.Store, sender Sender, cal *calendar.Calendar, opts ...EngineOption) *Engine {
	cfg := EngineOpts{Concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{
		store:       st,
		sender:      sender,
		resolver:    calendar.NewResolver(cal),
		concurrency: cfg.Concurrency,
	}
}

// RunOptions narrows or softens a run.
type RunOptions struct {
	// DryRun resolves and gates but neither claims nor dispatches.
	DryRun bool
	// SubscriberIDs limits the run to the named subscribers. Empty means
	// every active subscriber.
	SubscriberIDs []string
}

// Run executes the send decision for one civil date. Rerunning the same
// date is safe: claimed days resolve to skipped decisions.
func (e *Engine) Run(ctx context.Context, date time.Time, opts RunOptions) ([]models.Decision, error) {
	date = models.CivilDate(date)

	subs, err := e.runSubscribers(opts.SubscriberIDs)
	if err != nil {
		return nil, err
	}
	rotationPos, err := e.store.RotationPosition()
	if err != nil {
		return nil, fmt.Errorf("read rotation position failed: %w", err)
	}

	slog.Info("run starting", "date", date.Format(models.DateLayout),
		"subscribers", len(subs), "dry_run", opts.DryRun, "rotation_pos", rotationPos)

	jobs := make(chan models.Subscriber)
	results := make(chan models.Decision, len(subs))
	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				results <- e.decide(ctx, date, sub, rotationPos, opts.DryRun)
			}
		}()
	}
	for _, sub := range subs {
		jobs <- sub
	}
	close(jobs)
	wg.Wait()
	close(results)

	decisions := make([]models.Decision, 0, len(subs))
	correspondenceSent := false
	for d := range results {
		decisions = append(decisions, d)
		if d.Outcome == models.OutcomeSent && d.EmailType == models.EmailTypeCorrespondence {
			correspondenceSent = true
		}
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].SubscriberID < decisions[j].SubscriberID
	})

	// The cursor moves once per run date, and only when somebody actually
	// received the rotation's current item.
	if correspondenceSent && !opts.DryRun {
		if err := e.store.AdvanceRotation(date); err != nil {
			return decisions, fmt.Errorf("advance rotation failed: %w", err)
		}
	}

	slog.Info("run finished", "date", date.Format(models.DateLayout),
		"decisions", len(decisions), "rotation_advanced", correspondenceSent && !opts.DryRun)
	return decisions, nil
}

func (e *Engine) runSubscribers(ids []string) ([]models.Subscriber, error) {
	if len(ids) == 0 {
		subs, err := e.store.ListActive()
		if err != nil {
			return nil, fmt.Errorf("list active subscribers failed: %w", err)
		}
		return subs, nil
	}
	subs := make([]models.Subscriber, 0, len(ids))
	for _, id := range ids {
		sub, err := e.store.GetSubscriber(id)
		if err != nil {
			return nil, fmt.Errorf("load subscriber %s failed: %w", id, err)
		}
		if sub.LifecycleState != models.StateActive {
			slog.Warn("subscriber not active, skipping", "subscriber", id, "state", sub.LifecycleState)
			continue
		}
		subs = append(subs, *sub)
	}
	return subs, nil
}

// decide produces the single decision for one subscriber on one date.
func (e *Engine) decide(ctx context.Context, date time.Time, sub models.Subscriber, rotationPos int, dryRun bool) models.Decision {
	hist, err := e.history(sub, date)
	if err != nil {
		return errorDecision(sub.ID, err)
	}
	tier := engagement.ClassifySubscriber(sub)
	consumed, err := e.store.ConsumedInvitationRefs(sub.ID)
	if err != nil {
		return errorDecision(sub.ID, err)
	}

	candidates := e.resolver.Candidates(date, tier, consumed, rotationPos)
	pick, ok := cadence.Pick(date, hist, candidates)
	if !ok {
		reason := "no eligible content"
		if cadence.RhythmBlocked(date, hist) {
			reason = "rhythm gap not elapsed"
		}
		return models.Decision{SubscriberID: sub.ID, Outcome: models.OutcomeSkipped, Reason: reason}
	}

	if dryRun {
		return models.Decision{
			SubscriberID: sub.ID,
			EmailType:    pick.Type,
			ContentRef:   pick.ContentRef,
			Outcome:      models.OutcomeWouldSend,
		}
	}

	rec := models.SendRecord{
		ID:             util.GenerateSendRecordID(),
		SubscriberID:   sub.ID,
		EmailType:      pick.Type,
		ContentRef:     pick.ContentRef,
		DecidedFor:     date,
		IdempotencyKey: models.RhythmIdempotencyKey(sub.ID, date),
	}
	claimed, err := e.store.ClaimSend(rec)
	if err != nil {
		return errorDecision(sub.ID, err)
	}
	if !claimed {
		return models.Decision{SubscriberID: sub.ID, Outcome: models.OutcomeSkipped, Reason: "date already claimed"}
	}

	// The claim is held. Re-read the marks before dispatch: another
	// process may have consumed the slot between our gate check and the
	// claim insert.
	fresh, err := e.store.GetSubscriber(sub.ID)
	if err == nil {
		freshHist, histErr := e.history(*fresh, date)
		if histErr == nil {
			blocked := cadence.RhythmBlocked(date, freshHist)
			if !blocked && pick.Type == models.EmailTypeInvitation {
				blocked = cadence.InvitationBlocked(date, freshHist)
			}
			if blocked {
				_ = e.store.MarkFailed(rec.ID, models.ErrCadenceViolation.Error())
				slog.Warn("claim abandoned, cadence moved underneath", "subscriber", sub.ID, "date", date.Format(models.DateLayout))
				return models.Decision{SubscriberID: sub.ID, Outcome: models.OutcomeSkipped, Reason: models.ErrCadenceViolation.Error()}
			}
		}
	}

	msgID, err := e.sender.Dispatch(ctx, sub.Email, pick.Type, pick.ContentRef)
	if err != nil {
		if markErr := e.store.MarkFailed(rec.ID, err.Error()); markErr != nil {
			slog.Error("mark failed errored", "record", rec.ID, "error", markErr)
		}
		return models.Decision{
			SubscriberID: sub.ID,
			EmailType:    pick.Type,
			ContentRef:   pick.ContentRef,
			Outcome:      models.OutcomeFailed,
			Reason:       err.Error(),
		}
	}

	if err := e.commitSent(rec, date); err != nil {
		return errorDecision(sub.ID, err)
	}
	return models.Decision{
		SubscriberID: sub.ID,
		EmailType:    pick.Type,
		ContentRef:   pick.ContentRef,
		Outcome:      models.OutcomeSent,
		MessageID:    msgID,
	}
}

// commitSent transitions the claimed record to sent and consumes the
// subscriber's cadence slot in the same step.
func (e *Engine) commitSent(rec models.SendRecord, date time.Time) error {
	if err := e.store.MarkSent(rec.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark sent %s failed: %w", rec.ID, err)
	}
	var lastInvitation *time.Time
	if rec.EmailType == models.EmailTypeInvitation {
		lastInvitation = &date
	}
	if err := e.store.UpdateCadenceMarks(rec.SubscriberID, date, lastInvitation); err != nil {
		return fmt.Errorf("update cadence marks for %s failed: %w", rec.SubscriberID, err)
	}
	return nil
}

func (e *Engine) history(sub models.Subscriber, date time.Time) (cadence.History, error) {
	invThisMonth, err := e.store.InvitationSentInMonth(sub.ID, date.Year(), date.Month())
	if err != nil {
		return cadence.History{}, fmt.Errorf("invitation month lookup for %s failed: %w", sub.ID, err)
	}
	return cadence.History{
		LastRhythmSentAt:        sub.LastRhythmSentAt,
		LastInvitationSentAt:    sub.LastInvitationSentAt,
		InvitationSentThisMonth: invThisMonth,
	}, nil
}

// CadenceState exposes the gate inputs for one subscriber.
func (e *Engine) CadenceState(id string) (*models.CadenceState, error) {
	sub, err := e.store.GetSubscriber(id)
	if err != nil {
		return nil, err
	}
	return &models.CadenceState{
		LastRhythmSentAt:     sub.LastRhythmSentAt,
		LastInvitationSentAt: sub.LastInvitationSentAt,
		Tier:                 engagement.ClassifySubscriber(*sub),
	}, nil
}

func errorDecision(subscriberID string, err error) models.Decision {
	slog.Error("decision errored", "subscriber", subscriberID, "error", err)
	return models.Decision{SubscriberID: subscriberID, Outcome: models.OutcomeFailed, Reason: err.Error()}
}
