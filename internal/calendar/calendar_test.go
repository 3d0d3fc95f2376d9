package calendar

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validDoc = `
months:
  1: {theme: "beginnings", eligible_types: [ritual, invitation, correspondence]}
  12: {theme: "stillness", eligible_types: [ritual, correspondence]}
ritual_windows:
  - {name: solstice, anchor_date: 2025-12-21, window_days: 3}
correspondence_rotation: [letter-01, letter-02]
invitation_pool:
  replier: [gathering-01]
`

func TestParseValidDocument(t *testing.T) {
	cal, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.Months[1].Theme != "beginnings" {
		t.Errorf("month theme = %q, want %q", cal.Months[1].Theme, "beginnings")
	}
	if len(cal.RitualWindows) != 1 || cal.RitualWindows[0].Name != "solstice" {
		t.Errorf("ritual windows parsed incorrectly: %+v", cal.RitualWindows)
	}
	if cal.RitualWindows[0].AnchorDate.Year() != 2025 {
		t.Errorf("anchor date year = %d, want 2025", cal.RitualWindows[0].AnchorDate.Year())
	}
	if got, ok := cal.CorrespondenceAt(1); !ok || got != "letter-02" {
		t.Errorf("CorrespondenceAt(1) = %q, %v", got, ok)
	}
	if _, ok := cal.CorrespondenceAt(2); ok {
		t.Error("CorrespondenceAt past end should report not ok")
	}
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			"invalid yaml",
			"months: [not a map",
			"parse calendar YAML",
		},
		{
			"missing months",
			"correspondence_rotation: [a]",
			"months section is required",
		},
		{
			"month out of range",
			"months:\n  13: {theme: x, eligible_types: [ritual]}",
			"invalid month key",
		},
		{
			"transactional type in month plan",
			"months:\n  1: {theme: x, eligible_types: [welcome]}",
			"not a rhythm type",
		},
		{
			"ritual window without anchor",
			"months:\n  1: {theme: x}\nritual_windows:\n  - {name: y, window_days: 2}",
			"anchor_date is required",
		},
		{
			"negative window",
			"months:\n  1: {theme: x}\nritual_windows:\n  - {name: y, anchor_date: 2025-01-05, window_days: -1}",
			"window_days must be >= 0",
		},
		{
			"duplicate window name",
			"months:\n  1: {theme: x}\nritual_windows:\n  - {name: y, anchor_date: 2025-01-05, window_days: 1}\n  - {name: y, anchor_date: 2025-02-05, window_days: 1}",
			"duplicate name",
		},
		{
			"empty rotation ref",
			"months:\n  1: {theme: x}\ncorrespondence_rotation: [\"\"]",
			"empty content ref",
		},
		{
			"unknown pool tier",
			"months:\n  1: {theme: x}\ninvitation_pool:\n  vip: [a]",
			"unknown tier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadReturnsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error %T is not a ConfigError", err)
	}

	path := filepath.Join(t.TempDir(), "calendar.yaml")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cal, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cal.CorrespondenceRotation) != 2 {
		t.Errorf("rotation length = %d, want 2", len(cal.CorrespondenceRotation))
	}
}
