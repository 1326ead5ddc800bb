package roster

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shiftcal/internal/models"
)

// RangeSeparator splits the start and end of a finalized time slot ("1700〜2200").
const RangeSeparator = "〜"

var (
	dateTextPattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
	urlYearPattern  = regexp.MustCompile(`edit/(\d{4})-\d{2}-\d{2}`)
	rawTimePattern  = regexp.MustCompile(`^\d{4}$`)

	separatorVariants = strings.NewReplacer("～", RangeSeparator, "~", RangeSeparator)
)

// RawSlot is one time-slot cell as scraped from the page. Editable cells carry
// their input field values in Inputs; finalized cells carry display Text.
type RawSlot struct {
	Text   string
	Inputs []string
}

// RawRow is one table row: the date cell text and its time-slot cells.
type RawRow struct {
	DateText string
	Editable bool
	Slots    []RawSlot
}

// Slot is a parsed time slot. Editable slots may be incomplete.
type Slot struct {
	Shift    models.Shift
	Editable bool
}

// yearTracker carries the assumed year across one pass over the table.
type yearTracker struct {
	year      int
	prevMonth int
	rolled    bool
}

func (y *yearTracker) observe(month int) int {
	if !y.rolled && y.prevMonth == 12 && month < 12 {
		y.year++
		y.rolled = true
	}
	y.prevMonth = month
	return y.year
}

// Scan turns raw rows into slots in source order. year is the year assumed
// for the first row; it advances once on a December to January rollover.
// Rows without a recognizable date are skipped, as are finalized slots
// without a valid time range.
func Scan(rows []RawRow, year int) []Slot {
	years := &yearTracker{year: year, prevMonth: -1}
	var slots []Slot

	for _, row := range rows {
		month, day, ok := ParseDateText(row.DateText)
		if !ok {
			continue
		}
		y := years.observe(month)
		date := fmt.Sprintf("%04d-%02d-%02d", y, month, day)
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			continue
		}

		for _, raw := range row.Slots {
			if row.Editable {
				if len(raw.Inputs) != 2 {
					continue
				}
				start, _ := NormalizeTime(raw.Inputs[0])
				end, _ := NormalizeTime(raw.Inputs[1])
				slots = append(slots, Slot{
					Shift:    models.Shift{Date: date, Start: start, End: end},
					Editable: true,
				})
				continue
			}

			start, end, ok := splitRange(raw.Text)
			if !ok {
				continue
			}
			slots = append(slots, Slot{Shift: models.Shift{Date: date, Start: start, End: end}})
		}
	}
	return slots
}

// Parse returns the complete shifts found in rows, in source order.
func Parse(rows []RawRow, year int) []models.Shift {
	var shifts []models.Shift
	for _, slot := range Scan(rows, year) {
		if slot.Shift.Complete() {
			shifts = append(shifts, slot.Shift)
		}
	}
	return shifts
}

func splitRange(text string) (start, end string, ok bool) {
	parts := strings.Split(separatorVariants.Replace(strings.TrimSpace(text)), RangeSeparator)
	if len(parts) != 2 {
		return "", "", false
	}
	start, okStart := NormalizeTime(parts[0])
	end, okEnd := NormalizeTime(parts[1])
	if !okStart || !okEnd {
		return "", "", false
	}
	return start, end, true
}

// NormalizeTime converts a four-digit roster time ("1700") to "17:00".
// Anything else, including "OFF" and blanks, is rejected.
func NormalizeTime(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !rawTimePattern.MatchString(trimmed) {
		return "", false
	}
	hour, _ := strconv.Atoi(trimmed[:2])
	minute, _ := strconv.Atoi(trimmed[2:])
	if hour > 23 || minute > 59 {
		return "", false
	}
	return trimmed[:2] + ":" + trimmed[2:], true
}

// ParseDateText extracts month and day from a date cell such as "12/31(水)".
func ParseDateText(text string) (month, day int, ok bool) {
	m := dateTextPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, 0, false
	}
	month, _ = strconv.Atoi(m[1])
	day, _ = strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, false
	}
	return month, day, true
}

// YearFromURL returns the year embedded in a roster edit URL
// (".../edit/2025-12-01").
func YearFromURL(url string) (int, bool) {
	m := urlYearPattern.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

// CheckURL verifies that url points at a roster page.
func CheckURL(url, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid roster url pattern %q: %w", pattern, err)
	}
	if !re.MatchString(url) {
		return fmt.Errorf("%s is not a roster schedule page", url)
	}
	return nil
}
