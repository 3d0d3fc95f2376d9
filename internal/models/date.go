package models

import "time"

// CivilDate truncates a timestamp to its calendar date at midnight UTC.
// Cadence arithmetic compares civil dates, never wall-clock instants.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of civil days from a to b. The result is
// negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(CivilDate(b).Sub(CivilDate(a)).Hours() / 24)
}

// SameCalendarMonth reports whether two timestamps fall in the same
// year and month.
func SameCalendarMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
