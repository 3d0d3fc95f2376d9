// Package cadence enforces the send-gap invariants over a subscriber's
// history.
//
// The guard is a pure function of its inputs (history plus the resolver's
// candidate list); it performs no I/O. Rejecting every candidate is normal
// control flow, never an error.
package cadence

import (
	"time"

	"github.com/almanacmail/almanac/internal/calendar"
	"github.com/almanacmail/almanac/internal/models"
)

const (
	// MinRhythmGapDays is the minimum number of civil days between any two
	// rhythm sends. The gate is global across the whole rhythm family.
	MinRhythmGapDays = 7
	// MinInvitationGapDays is the rolling minimum between invitation sends.
	// The calendar-month cap applies on top: the stricter rule wins.
	MinInvitationGapDays = 30
)

// History carries the per-subscriber gate inputs.
type History struct {
	LastRhythmSentAt        *time.Time
	LastInvitationSentAt    *time.Time
	InvitationSentThisMonth bool
}

// RhythmBlocked reports whether the global rhythm gate rejects all rhythm
// sends for today. A send earlier today counts: the day is already decided.
func RhythmBlocked(today time.Time, hist History) bool {
	if hist.LastRhythmSentAt == nil {
		return false
	}
	return models.DaysBetween(*hist.LastRhythmSentAt, today) < MinRhythmGapDays
}

// InvitationBlocked reports whether the invitation-specific caps reject an
// invitation today, beyond the global rhythm gate.
func InvitationBlocked(today time.Time, hist History) bool {
	if hist.InvitationSentThisMonth {
		return true
	}
	if hist.LastInvitationSentAt == nil {
		return false
	}
	if models.SameCalendarMonth(*hist.LastInvitationSentAt, today) {
		return true
	}
	return models.DaysBetween(*hist.LastInvitationSentAt, today) < MinInvitationGapDays
}

// Pick returns the single candidate to send today, walking the resolver's
// priority-ordered list, or ok=false when nothing survives.
//
// The 7-day gate rejects the entire rhythm family at once: a ritual missed
// because of a recent correspondence send is final for that occurrence.
// There is no backlog or catch-up queue.
func Pick(today time.Time, hist History, candidates []calendar.Candidate) (calendar.Candidate, bool) {
	if RhythmBlocked(today, hist) {
		return calendar.Candidate{}, false
	}
	for _, c := range candidates {
		if !c.Type.IsRhythm() {
			continue
		}
		if c.Type == models.EmailTypeInvitation && InvitationBlocked(today, hist) {
			continue
		}
		return c, true
	}
	return calendar.Candidate{}, false
}
