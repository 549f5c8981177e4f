package reconcile

import (
	"strings"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// naiveLayouts are the zone-less timestamp layouts brokers report. Go's
// parser accepts a fractional second after the seconds field, so each
// layout also covers its fractional variant.
var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02-01-2006 15:04:05",
	"2006-01-02 15:04",
}

// ParseFillTime parses a fill timestamp. Timestamps carrying an offset are
// honoured as-is; zone-less ones are read as wall-clock time in loc, which
// resolves DST transitions per the zone's rules.
func ParseFillTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, &domain.ValidationError{Field: "filled_at", Reason: "missing timestamp"}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &domain.ValidationError{Field: "filled_at", Reason: "unrecognised timestamp " + s}
}
