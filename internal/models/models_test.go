package models

import (
	"testing"
	"time"
)

func TestEmailTypeFamilies(t *testing.T) {
	rhythm := []EmailType{EmailTypeCorrespondence, EmailTypeRitual, EmailTypeInvitation}
	transactional := []EmailType{EmailTypeVerification, EmailTypeWelcome, EmailTypeInitiation}

	for _, et := range rhythm {
		if !et.IsRhythm() || et.IsTransactional() {
			t.Errorf("%s should be rhythm and not transactional", et)
		}
	}
	for _, et := range transactional {
		if !et.IsTransactional() || et.IsRhythm() {
			t.Errorf("%s should be transactional and not rhythm", et)
		}
	}
	if IsValidEmailType("newsletter") {
		t.Error("unknown email type should not be valid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to LifecycleState
		want     bool
	}{
		{StatePendingVerification, StateVerified, true},
		{StateVerified, StateActive, true},
		{StateActive, StatePaused, true},
		{StatePaused, StateActive, true},
		{StateActive, StateUnsubscribed, true},
		{StateUnsubscribed, StateActive, false},
		{StatePendingVerification, StateActive, false},
		{StatePaused, StateVerified, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTierPriorityOrdering(t *testing.T) {
	ordered := []EngagementTier{TierPassive, TierModerate, TierEngaged, TierReplier}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Priority() <= ordered[i-1].Priority() {
			t.Errorf("%s should outrank %s", ordered[i], ordered[i-1])
		}
	}
}

func TestRhythmIdempotencyKey(t *testing.T) {
	day := time.Date(2025, 1, 8, 14, 30, 0, 0, time.UTC)
	sameDay := time.Date(2025, 1, 8, 2, 0, 0, 0, time.UTC)
	otherDay := time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)

	k1 := RhythmIdempotencyKey("s_abc", day)
	if k1 != RhythmIdempotencyKey("s_abc", sameDay) {
		t.Error("keys for the same subscriber and civil date should match")
	}
	if k1 == RhythmIdempotencyKey("s_abc", otherDay) {
		t.Error("keys for different dates should differ")
	}
	if k1 == RhythmIdempotencyKey("s_def", day) {
		t.Error("keys for different subscribers should differ")
	}
	if k1 == TransitionIdempotencyKey("s_abc", EmailTypeWelcome) {
		t.Error("rhythm and transition keys should never collide")
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{
			"same instant",
			time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
			0,
		},
		{
			"same date different hours",
			time.Date(2025, 1, 8, 23, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 8, 1, 0, 0, 0, time.UTC),
			0,
		},
		{
			"two days apart",
			time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC),
			2,
		},
		{
			"reversed is negative",
			time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
			-2,
		},
		{
			"across february",
			time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
			30,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysBetween(tt.a, tt.b); got != tt.want {
				t.Errorf("DaysBetween() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSameCalendarMonth(t *testing.T) {
	feb := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)
	lateFeb := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	febNextYear := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)

	if !SameCalendarMonth(feb, lateFeb) {
		t.Error("dates in the same month should match")
	}
	if SameCalendarMonth(feb, mar) {
		t.Error("adjacent months should not match")
	}
	if SameCalendarMonth(feb, febNextYear) {
		t.Error("same month in different years should not match")
	}
}
