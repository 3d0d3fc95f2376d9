// Package recovery cleans up state left behind by a crashed run.
//
// A run that dies between claiming a send and concluding it leaves a
// pending ledger record. The claim holds the subscriber's date forever,
// so the sweep marks sufficiently old pending records as failed before
// the next run starts. Failed records do not consume a cadence slot.
package recovery

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/almanacmail/almanac/internal/models"
	"github.com/almanacmail/almanac/internal/store"
)

// DefaultStaleAfter is how old a pending claim must be before the sweep
// considers it abandoned. It must comfortably exceed the dispatcher's
// worst-case retry span so a live run is never swept.
const DefaultStaleAfter = 15 * time.Minute

// Sweeper marks abandoned pending claims as failed.
type Sweeper struct {
	ledger     store.LedgerRepo
	staleAfter time.Duration
}

// SweeperOpts holds configuration options for the sweeper.
type SweeperOpts struct {
	StaleAfter time.Duration
}

// SweeperOption defines a configuration option for the sweeper.
type SweeperOption func(*SweeperOpts)

func WithStaleAfter(d time.Duration) SweeperOption {
	return func(o *SweeperOpts) { o.StaleAfter = d }
}

func NewSweeper(ledger store.LedgerRepo, opts ...SweeperOption) *Sweeper {
	cfg := SweeperOpts{StaleAfter: DefaultStaleAfter}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Sweeper{ledger: ledger, staleAfter: cfg.StaleAfter}
}

// Sweep fails every pending claim older than the staleness cutoff and
// returns how many records it settled.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	cutoff := now.Add(-s.staleAfter)
	stale, err := s.ledger.ListPendingOlderThan(cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale pending claims failed: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	swept := 0
	for _, rec := range stale {
		reason := fmt.Sprintf("abandoned claim swept after %s", s.staleAfter)
		if err := s.ledger.MarkFailed(rec.ID, reason); err != nil {
			// Another process may have concluded the record since the
			// listing. Losing that race is fine.
			slog.Warn("sweep could not settle record", "record", rec.ID, "error", err)
			continue
		}
		slog.Info("swept abandoned claim",
			"record", rec.ID,
			"subscriber", rec.SubscriberID,
			"type", rec.EmailType,
			"decided_for", rec.DecidedFor.Format(models.DateLayout),
			"age", now.Sub(rec.CreatedAt).Round(time.Second))
		swept++
	}
	return swept, nil
}
