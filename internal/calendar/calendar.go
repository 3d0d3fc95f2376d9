// Package calendar loads the structured content calendar and resolves which
// message candidates are eligible on a given date.
//
// The calendar document is validated once at load time and treated as
// immutable for the duration of a run. Any malformation is a ConfigError:
// the engine fails closed rather than guessing at send content.
package calendar

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/almanacmail/almanac/internal/models"
)

// ConfigError indicates a malformed or missing calendar document. It is
// fatal: a run must abort before claiming anything.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("calendar config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("calendar config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// MonthPlan describes one month's theme and which rhythm families may be
// offered during it.
type MonthPlan struct {
	Theme         string   `yaml:"theme"`
	EligibleTypes []string `yaml:"eligible_types"`
}

// RitualWindow binds a ritual send to an anchor date plus a symmetric window
// of eligible days around it. ContentRef defaults to the window name.
type RitualWindow struct {
	Name       string    `yaml:"name"`
	AnchorDate time.Time `yaml:"anchor_date"`
	WindowDays int       `yaml:"window_days"`
	ContentRef string    `yaml:"content_ref,omitempty"`
}

// Calendar is the full content calendar document.
type Calendar struct {
	Months                 map[int]MonthPlan   `yaml:"months"`
	RitualWindows          []RitualWindow      `yaml:"ritual_windows"`
	CorrespondenceRotation []string            `yaml:"correspondence_rotation"`
	InvitationPool         map[string][]string `yaml:"invitation_pool"`
}

// Load reads and validates a calendar document from a YAML file.
func Load(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("calendar.Load: read failed", "path", path, "error", err)
		return nil, &ConfigError{Path: path, Err: err}
	}
	cal, err := Parse(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	slog.Debug("calendar.Load: calendar loaded",
		"path", path,
		"months", len(cal.Months),
		"ritual_windows", len(cal.RitualWindows),
		"rotation_items", len(cal.CorrespondenceRotation))
	return cal, nil
}

// Parse unmarshals and validates a calendar document from raw YAML.
func Parse(data []byte) (*Calendar, error) {
	var cal Calendar
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("failed to parse calendar YAML: %w", err)
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return &cal, nil
}

// Validate checks structural soundness of the document. It rejects anything
// the resolver could misinterpret rather than patching over it.
func (c *Calendar) Validate() error {
	if len(c.Months) == 0 {
		return fmt.Errorf("months section is required")
	}
	for month, plan := range c.Months {
		if month < 1 || month > 12 {
			return fmt.Errorf("invalid month key %d: must be 1-12", month)
		}
		for _, et := range plan.EligibleTypes {
			if !models.EmailType(et).IsRhythm() {
				return fmt.Errorf("month %d: eligible type %q is not a rhythm type", month, et)
			}
		}
	}
	seen := make(map[string]bool, len(c.RitualWindows))
	for i, w := range c.RitualWindows {
		if w.Name == "" {
			return fmt.Errorf("ritual window %d: name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("ritual window %q: duplicate name", w.Name)
		}
		seen[w.Name] = true
		if w.AnchorDate.IsZero() {
			return fmt.Errorf("ritual window %q: anchor_date is required", w.Name)
		}
		if w.WindowDays < 0 {
			return fmt.Errorf("ritual window %q: window_days must be >= 0", w.Name)
		}
	}
	for i, ref := range c.CorrespondenceRotation {
		if ref == "" {
			return fmt.Errorf("correspondence_rotation item %d: empty content ref", i)
		}
	}
	for tier, refs := range c.InvitationPool {
		switch models.EngagementTier(tier) {
		case models.TierReplier, models.TierEngaged, models.TierModerate, models.TierPassive:
		default:
			return fmt.Errorf("invitation_pool: unknown tier %q", tier)
		}
		for i, ref := range refs {
			if ref == "" {
				return fmt.Errorf("invitation_pool tier %q item %d: empty content ref", tier, i)
			}
		}
	}
	return nil
}

// monthPlan returns the plan for a date's month, if configured.
func (c *Calendar) monthPlan(date time.Time) (MonthPlan, bool) {
	plan, ok := c.Months[int(date.Month())]
	return plan, ok
}

// typeEligible reports whether a rhythm type is listed for the date's month.
func (c *Calendar) typeEligible(date time.Time, et models.EmailType) bool {
	plan, ok := c.monthPlan(date)
	if !ok {
		return false
	}
	for _, t := range plan.EligibleTypes {
		if models.EmailType(t) == et {
			return true
		}
	}
	return false
}

// Theme returns the configured theme label for a date's month.
func (c *Calendar) Theme(date time.Time) string {
	plan, _ := c.monthPlan(date)
	return plan.Theme
}

// CorrespondenceAt returns the rotation item at the given cursor position.
func (c *Calendar) CorrespondenceAt(position int) (string, bool) {
	if position < 0 || position >= len(c.CorrespondenceRotation) {
		return "", false
	}
	return c.CorrespondenceRotation[position], true
}
