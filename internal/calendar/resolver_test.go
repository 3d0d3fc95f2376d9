package calendar

import (
	"testing"
	"time"

	"github.com/almanacmail/almanac/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func allMonths(types ...string) map[int]MonthPlan {
	months := make(map[int]MonthPlan, 12)
	for m := 1; m <= 12; m++ {
		months[m] = MonthPlan{Theme: "theme", EligibleTypes: types}
	}
	return months
}

func TestCandidatePriorityOrder(t *testing.T) {
	cal := &Calendar{
		Months: allMonths("ritual", "invitation", "correspondence"),
		RitualWindows: []RitualWindow{
			{Name: "solstice", AnchorDate: date(2025, 12, 21), WindowDays: 3},
		},
		CorrespondenceRotation: []string{"letter-01"},
		InvitationPool:         map[string][]string{"replier": {"gathering-01"}},
	}
	r := NewResolver(cal)

	cands := r.Candidates(date(2025, 12, 21), models.TierReplier, nil, 0)
	if len(cands) != 3 {
		t.Fatalf("candidate count = %d, want 3", len(cands))
	}
	wantOrder := []models.EmailType{
		models.EmailTypeRitual,
		models.EmailTypeInvitation,
		models.EmailTypeCorrespondence,
	}
	for i, want := range wantOrder {
		if cands[i].Type != want {
			t.Errorf("candidate %d = %s, want %s", i, cands[i].Type, want)
		}
	}
}

func TestRitualWindowMembership(t *testing.T) {
	cal := &Calendar{
		Months: allMonths("ritual"),
		RitualWindows: []RitualWindow{
			{Name: "solstice", AnchorDate: date(2025, 12, 21), WindowDays: 3},
		},
	}
	r := NewResolver(cal)

	tests := []struct {
		name string
		day  time.Time
		want bool
	}{
		{"anchor day", date(2025, 12, 21), true},
		{"window start", date(2025, 12, 18), true},
		{"window end", date(2025, 12, 24), true},
		{"day before window", date(2025, 12, 17), false},
		{"day after window", date(2025, 12, 25), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands := r.Candidates(tt.day, models.TierPassive, nil, 0)
			got := len(cands) == 1 && cands[0].Type == models.EmailTypeRitual
			if got != tt.want {
				t.Errorf("ritual candidate present = %v, want %v", got, tt.want)
			}
		})
	}
}

// A window reaching across a month boundary stays eligible on the adjacent
// month's days, provided that month lists rituals.
func TestRitualWindowCrossesMonthBoundary(t *testing.T) {
	cal := &Calendar{
		Months: allMonths("ritual"),
		RitualWindows: []RitualWindow{
			{Name: "newyear", AnchorDate: date(2025, 12, 31), WindowDays: 2},
		},
	}
	r := NewResolver(cal)

	cands := r.Candidates(date(2026, 1, 2), models.TierPassive, nil, 0)
	if len(cands) != 1 || cands[0].ContentRef != "newyear" {
		t.Errorf("expected newyear ritual on adjacent-month day, got %+v", cands)
	}
}

func TestOverlappingRitualWindows(t *testing.T) {
	cal := &Calendar{
		Months: allMonths("ritual"),
		RitualWindows: []RitualWindow{
			{Name: "first", AnchorDate: date(2025, 6, 10), WindowDays: 5},
			{Name: "second", AnchorDate: date(2025, 6, 14), WindowDays: 5},
		},
	}
	r := NewResolver(cal)

	// June 13 is 3 days from the first anchor, 1 day from the second.
	cands := r.Candidates(date(2025, 6, 13), models.TierPassive, nil, 0)
	if len(cands) != 1 || cands[0].ContentRef != "second" {
		t.Errorf("nearer anchor should win, got %+v", cands)
	}

	// June 12 is equidistant: configuration order breaks the tie.
	cands = r.Candidates(date(2025, 6, 12), models.TierPassive, nil, 0)
	if len(cands) != 1 || cands[0].ContentRef != "first" {
		t.Errorf("tie should resolve to config order, got %+v", cands)
	}
}

func TestRitualContentRefOverride(t *testing.T) {
	cal := &Calendar{
		Months: allMonths("ritual"),
		RitualWindows: []RitualWindow{
			{Name: "solstice", AnchorDate: date(2025, 12, 21), WindowDays: 0, ContentRef: "solstice-2025"},
		},
	}
	r := NewResolver(cal)

	cands := r.Candidates(date(2025, 12, 21), models.TierPassive, nil, 0)
	if len(cands) != 1 || cands[0].ContentRef != "solstice-2025" {
		t.Errorf("content_ref override not applied, got %+v", cands)
	}
}

func TestInvitationPoolTierGating(t *testing.T) {
	cal := &Calendar{
		Months: allMonths("invitation"),
		InvitationPool: map[string][]string{
			"replier": {"gathering-01", "gathering-02"},
		},
	}
	r := NewResolver(cal)
	day := date(2025, 3, 10)

	// Tier without a pool gets no candidate.
	if cands := r.Candidates(day, models.TierPassive, nil, 0); len(cands) != 0 {
		t.Errorf("passive tier should see no invitation, got %+v", cands)
	}

	// Replier gets the first unconsumed ref.
	cands := r.Candidates(day, models.TierReplier, nil, 0)
	if len(cands) != 1 || cands[0].ContentRef != "gathering-01" {
		t.Errorf("expected gathering-01, got %+v", cands)
	}

	// Consumed refs are skipped; an exhausted pool yields no candidate.
	consumed := map[string]bool{"gathering-01": true}
	cands = r.Candidates(day, models.TierReplier, consumed, 0)
	if len(cands) != 1 || cands[0].ContentRef != "gathering-02" {
		t.Errorf("expected gathering-02 after consumption, got %+v", cands)
	}
	consumed["gathering-02"] = true
	if cands := r.Candidates(day, models.TierReplier, consumed, 0); len(cands) != 0 {
		t.Errorf("exhausted pool should yield no candidate, got %+v", cands)
	}
}

func TestCorrespondenceRotationCursor(t *testing.T) {
	cal := &Calendar{
		Months:                 allMonths("correspondence"),
		CorrespondenceRotation: []string{"letter-01", "letter-02"},
	}
	r := NewResolver(cal)
	day := date(2025, 1, 8)

	cands := r.Candidates(day, models.TierPassive, nil, 1)
	if len(cands) != 1 || cands[0].ContentRef != "letter-02" {
		t.Errorf("cursor position 1 should yield letter-02, got %+v", cands)
	}
	if cands := r.Candidates(day, models.TierPassive, nil, 2); len(cands) != 0 {
		t.Errorf("exhausted rotation should yield no candidate, got %+v", cands)
	}
}

func TestMonthGating(t *testing.T) {
	months := allMonths("correspondence")
	months[2] = MonthPlan{Theme: "quiet", EligibleTypes: nil}
	cal := &Calendar{
		Months:                 months,
		CorrespondenceRotation: []string{"letter-01"},
	}
	r := NewResolver(cal)

	if cands := r.Candidates(date(2025, 2, 10), models.TierPassive, nil, 0); len(cands) != 0 {
		t.Errorf("month without eligible types should yield nothing, got %+v", cands)
	}
	if cands := r.Candidates(date(2025, 3, 10), models.TierPassive, nil, 0); len(cands) != 1 {
		t.Errorf("eligible month should yield correspondence, got %+v", cands)
	}
}
