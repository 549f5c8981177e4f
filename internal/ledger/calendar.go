package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Calendar maps instants to trading days in the exchange's IANA zone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the named zone, e.g. "Asia/Kolkata".
func NewCalendar(zone string) (Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Calendar{}, fmt.Errorf("ledger: load trading timezone %q: %w", zone, err)
	}
	return Calendar{loc: loc}, nil
}

// CalendarIn wraps an already loaded location.
func CalendarIn(loc *time.Location) Calendar {
	return Calendar{loc: loc}
}

// Location returns the trading zone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// DayStart returns local midnight of the trading day containing t.
func (c Calendar) DayStart(t time.Time) time.Time {
	y, m, d := t.In(c.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Location())
}

// DayRange returns [midnight, next midnight) of the trading day containing t.
func (c Calendar) DayRange(t time.Time) (time.Time, time.Time) {
	start := c.DayStart(t)
	return start, start.AddDate(0, 0, 1)
}

// WeekStart returns midnight of the most recent Monday on or before t.
func (c Calendar) WeekStart(t time.Time) time.Time {
	start := c.DayStart(t)
	offset := (int(start.Weekday()) + 6) % 7
	return start.AddDate(0, 0, -offset)
}

// MonthStart returns midnight of the first day of t's month.
func (c Calendar) MonthStart(t time.Time) time.Time {
	y, m, _ := t.In(c.Location()).Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, c.Location())
}

// YearStart returns midnight of January 1st of t's year.
func (c Calendar) YearStart(t time.Time) time.Time {
	y := t.In(c.Location()).Year()
	return time.Date(y, time.January, 1, 0, 0, 0, 0, c.Location())
}

// Date formats the trading day containing t.
func (c Calendar) Date(t time.Time) string {
	return t.In(c.Location()).Format(domain.DateLayout)
}

// ParseDate parses a YYYY-MM-DD trading day into its local midnight.
func (c Calendar) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(domain.DateLayout, s, c.Location())
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: "date", Reason: "expected YYYY-MM-DD", Ref: s}
	}
	return t, nil
}

// Days returns the distinct trading days touched by times, in order.
func (c Calendar) Days(times []time.Time) []time.Time {
	seen := make(map[string]bool, len(times))
	var out []time.Time
	for _, t := range times {
		key := c.Date(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c.DayStart(t))
	}
	slices.SortFunc(out, time.Time.Compare)
	return out
}
