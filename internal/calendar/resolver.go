package calendar

import (
	"log/slog"
	"time"

	"github.com/almanacmail/almanac/internal/models"
)

// Candidate is one (type, content) pair eligible for a given date.
type Candidate struct {
	Type       models.EmailType
	ContentRef string
}

// Resolver answers "which sends are eligible today" against an immutable
// calendar. Candidates come back in fixed priority order
// Ritual > Invitation > Correspondence: rituals are time-bound and cannot be
// made up later, invitations are capped and rarely conflict, and
// correspondence is the filler default.
type Resolver struct {
	cal *Calendar
}

// NewResolver creates a resolver over a validated calendar.
func NewResolver(cal *Calendar) *Resolver {
	return &Resolver{cal: cal}
}

// Candidates returns the ordered candidate list for a date.
//
// consumedInvitations holds content refs the subscriber has already received;
// rotationPos is the global correspondence cursor. Absence of eligible
// content yields no candidate of that type, never an error.
func (r *Resolver) Candidates(date time.Time, tier models.EngagementTier, consumedInvitations map[string]bool, rotationPos int) []Candidate {
	var out []Candidate

	if ref, ok := r.ritualRef(date); ok {
		out = append(out, Candidate{Type: models.EmailTypeRitual, ContentRef: ref})
	}
	if ref, ok := r.invitationRef(date, tier, consumedInvitations); ok {
		out = append(out, Candidate{Type: models.EmailTypeInvitation, ContentRef: ref})
	}
	if ref, ok := r.correspondenceRef(date, rotationPos); ok {
		out = append(out, Candidate{Type: models.EmailTypeCorrespondence, ContentRef: ref})
	}

	slog.Debug("Resolver.Candidates", "date", date.Format(models.DateLayout), "tier", tier, "count", len(out))
	return out
}

// ritualRef returns the ritual content ref when the date falls inside a
// configured anchor window. Overlapping windows resolve to the nearer anchor;
// ties resolve to configuration order.
func (r *Resolver) ritualRef(date time.Time) (string, bool) {
	if !r.cal.typeEligible(date, models.EmailTypeRitual) {
		return "", false
	}

	bestDistance := -1
	var best *RitualWindow
	for i := range r.cal.RitualWindows {
		w := &r.cal.RitualWindows[i]
		distance := models.DaysBetween(w.AnchorDate, date)
		if distance < 0 {
			distance = -distance
		}
		if distance > w.WindowDays {
			continue
		}
		if best == nil || distance < bestDistance {
			best = w
			bestDistance = distance
		}
	}
	if best == nil {
		return "", false
	}
	if best.ContentRef != "" {
		return best.ContentRef, true
	}
	return best.Name, true
}

// invitationRef returns the first unconsumed invitation ref from the
// subscriber's tier pool. Tiers gate which collections a subscriber may
// receive, e.g. Replier-only content.
func (r *Resolver) invitationRef(date time.Time, tier models.EngagementTier, consumed map[string]bool) (string, bool) {
	if !r.cal.typeEligible(date, models.EmailTypeInvitation) {
		return "", false
	}
	for _, ref := range r.cal.InvitationPool[string(tier)] {
		if !consumed[ref] {
			return ref, true
		}
	}
	return "", false
}

// correspondenceRef returns the rotation item at the global cursor. The
// cursor advances per run date, not per subscriber, so every subscriber
// eligible on a given day sees the same content ref.
func (r *Resolver) correspondenceRef(date time.Time, rotationPos int) (string, bool) {
	if !r.cal.typeEligible(date, models.EmailTypeCorrespondence) {
		return "", false
	}
	return r.cal.CorrespondenceAt(rotationPos)
}
