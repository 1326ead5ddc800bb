package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04"
	DateTimeLayout = "2006-01-02T15:04:05"
)

// Shift is one contiguous work interval scraped from the roster.
// Date is YYYY-MM-DD; Start and End are HH:MM, or empty while an editable
// row has not been filled in yet.
type Shift struct {
	Date  string
	Start string
	End   string
}

// Key returns the identity used for deduplication and sync state lookup.
// Missing times are kept as empty placeholders so incomplete rows can still be tracked.
func (s Shift) Key() string {
	return s.Date + "-" + s.Start + "-" + s.End
}

// ParseKey reverses Key. Only the date is required.
func ParseKey(key string) (Shift, error) {
	if len(key) < len(DateLayout) {
		return Shift{}, fmt.Errorf("invalid shift key %q", key)
	}
	date := key[:len(DateLayout)]
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Shift{}, fmt.Errorf("invalid shift key %q: %w", key, err)
	}
	rest := key[len(DateLayout):]
	if rest == "" {
		return Shift{Date: date}, nil
	}
	parts := strings.Split(strings.TrimPrefix(rest, "-"), "-")
	if !strings.HasPrefix(rest, "-") || len(parts) != 2 {
		return Shift{}, fmt.Errorf("invalid shift key %q", key)
	}
	s := Shift{Date: date, Start: parts[0], End: parts[1]}
	for _, t := range []string{s.Start, s.End} {
		if t == "" {
			continue
		}
		if _, err := time.Parse(TimeLayout, t); err != nil {
			return Shift{}, fmt.Errorf("invalid shift key %q: %w", key, err)
		}
	}
	return s, nil
}

// LegacyKey is the date-only key older versions wrote for finalized rows.
func (s Shift) LegacyKey() string {
	return s.Date
}

// Complete reports whether both times are known.
func (s Shift) Complete() bool {
	return s.Date != "" && s.Start != "" && s.End != ""
}

// CrossesMidnight reports whether the shift ends on the following day.
func (s Shift) CrossesMidnight() bool {
	return s.Complete() && s.End < s.Start
}

// EndDate returns the calendar date the shift ends on.
func (s Shift) EndDate() (string, error) {
	d, err := time.Parse(DateLayout, s.Date)
	if err != nil {
		return "", fmt.Errorf("invalid shift date %q: %w", s.Date, err)
	}
	if s.CrossesMidnight() {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format(DateLayout), nil
}

// StartDateTime renders the start as local wall-clock time without an offset.
func (s Shift) StartDateTime() (string, error) {
	if !s.Complete() {
		return "", fmt.Errorf("shift %s is incomplete", s.Key())
	}
	return s.Date + "T" + s.Start + ":00", nil
}

// EndDateTime renders the end as local wall-clock time without an offset,
// moved to the next day when the shift crosses midnight.
func (s Shift) EndDateTime() (string, error) {
	if !s.Complete() {
		return "", fmt.Errorf("shift %s is incomplete", s.Key())
	}
	date, err := s.EndDate()
	if err != nil {
		return "", err
	}
	return date + "T" + s.End + ":00", nil
}

func (s Shift) String() string {
	return fmt.Sprintf("%s %s-%s", s.Date, s.Start, s.End)
}
