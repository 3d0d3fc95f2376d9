package cadence

import (
	"testing"
	"time"

	"github.com/almanacmail/almanac/internal/calendar"
	"github.com/almanacmail/almanac/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func correspondence() []calendar.Candidate {
	return []calendar.Candidate{{Type: models.EmailTypeCorrespondence, ContentRef: "letter-01"}}
}

func TestPickWithEmptyHistory(t *testing.T) {
	got, ok := Pick(day(2025, 1, 8), History{}, correspondence())
	if !ok || got.Type != models.EmailTypeCorrespondence {
		t.Errorf("Pick() = %+v, %v; want correspondence", got, ok)
	}
}

// Scenario B: a rhythm send two days ago rejects every rhythm candidate.
func TestRhythmGateRejectsWithinSevenDays(t *testing.T) {
	hist := History{LastRhythmSentAt: ptr(day(2025, 1, 8))}
	if _, ok := Pick(day(2025, 1, 10), hist, correspondence()); ok {
		t.Error("candidate should be rejected 2 days after a rhythm send")
	}
}

func TestRhythmGateBoundary(t *testing.T) {
	hist := History{LastRhythmSentAt: ptr(day(2025, 1, 1))}

	// Day 6 is still inside the gate.
	if _, ok := Pick(day(2025, 1, 7), hist, correspondence()); ok {
		t.Error("6 days elapsed should still be blocked")
	}
	// Day 7 reopens the gate.
	if _, ok := Pick(day(2025, 1, 8), hist, correspondence()); !ok {
		t.Error("7 days elapsed should be allowed")
	}
	// A send earlier today means the day is already decided.
	if _, ok := Pick(day(2025, 1, 1), hist, correspondence()); ok {
		t.Error("same-day send should be blocked")
	}
}

// Scenario C: the gate is global across the rhythm family. A ritual falling
// two days after a correspondence send is rejected, with no later catch-up.
func TestRitualMissIsFinal(t *testing.T) {
	hist := History{LastRhythmSentAt: ptr(day(2025, 12, 19))}
	cands := []calendar.Candidate{{Type: models.EmailTypeRitual, ContentRef: "solstice"}}

	if _, ok := Pick(day(2025, 12, 21), hist, cands); ok {
		t.Error("ritual should be rejected by the global 7-day gate")
	}
}

func TestInvitationMonthlyCap(t *testing.T) {
	sent := day(2025, 2, 5)
	cands := []calendar.Candidate{{Type: models.EmailTypeInvitation, ContentRef: "gathering-01"}}

	// Scenario D, first half: same calendar month rejects.
	hist := History{LastInvitationSentAt: ptr(sent), InvitationSentThisMonth: true}
	if _, ok := Pick(day(2025, 2, 20), hist, cands); ok {
		t.Error("second invitation in the same month should be rejected")
	}

	// New month but under 30 days still rejects: the stricter rule wins.
	// (2025-03-06 is 29 days after 2025-02-05.)
	hist = History{LastInvitationSentAt: ptr(sent)}
	if _, ok := Pick(day(2025, 3, 6), hist, cands); ok {
		t.Error("29 days elapsed should be rejected by the rolling cap")
	}

	// New month and a full 30 days: allowed.
	got, ok := Pick(day(2025, 3, 7), hist, cands)
	if !ok || got.Type != models.EmailTypeInvitation {
		t.Errorf("Pick() = %+v, %v; want invitation after 30 days", got, ok)
	}
}

// The invitation caps do not bleed into other rhythm types: a blocked
// invitation falls through to the next candidate in priority order.
func TestBlockedInvitationFallsThrough(t *testing.T) {
	hist := History{
		LastInvitationSentAt:    ptr(day(2025, 3, 2)),
		InvitationSentThisMonth: true,
	}
	cands := []calendar.Candidate{
		{Type: models.EmailTypeInvitation, ContentRef: "gathering-01"},
		{Type: models.EmailTypeCorrespondence, ContentRef: "letter-01"},
	}

	got, ok := Pick(day(2025, 3, 20), hist, cands)
	if !ok || got.Type != models.EmailTypeCorrespondence {
		t.Errorf("Pick() = %+v, %v; want fall-through to correspondence", got, ok)
	}
}

func TestPickHonorsPriorityOrder(t *testing.T) {
	cands := []calendar.Candidate{
		{Type: models.EmailTypeRitual, ContentRef: "solstice"},
		{Type: models.EmailTypeInvitation, ContentRef: "gathering-01"},
		{Type: models.EmailTypeCorrespondence, ContentRef: "letter-01"},
	}
	got, ok := Pick(day(2025, 12, 21), History{}, cands)
	if !ok || got.Type != models.EmailTypeRitual {
		t.Errorf("Pick() = %+v, %v; want ritual first", got, ok)
	}
}

func TestPickIgnoresTransactionalCandidates(t *testing.T) {
	cands := []calendar.Candidate{
		{Type: models.EmailTypeWelcome, ContentRef: "welcome"},
		{Type: models.EmailTypeCorrespondence, ContentRef: "letter-01"},
	}
	got, ok := Pick(day(2025, 1, 8), History{}, cands)
	if !ok || got.Type != models.EmailTypeCorrespondence {
		t.Errorf("Pick() = %+v, %v; transactional types are not guard business", got, ok)
	}
}
