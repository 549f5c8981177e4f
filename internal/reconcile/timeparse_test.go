package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func TestParseFillTime(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"winter wall clock", "2026-01-14 10:00:00", time.Date(2026, 1, 14, 15, 0, 0, 0, time.UTC)},
		{"summer wall clock", "2026-07-01 10:00:00", time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)},
		{"T separator", "2026-07-01T10:00:00", time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)},
		{"day first", "14-01-2026 10:00:00", time.Date(2026, 1, 14, 15, 0, 0, 0, time.UTC)},
		{"fractional", "2026-01-14 10:00:00.250", time.Date(2026, 1, 14, 15, 0, 0, 250_000_000, time.UTC)},
		{"explicit offset wins", "2026-01-14T10:00:00+05:30", time.Date(2026, 1, 14, 4, 30, 0, 0, time.UTC)},
		{"utc", "2026-01-14T10:00:00Z", time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFillTime(tt.raw, ny)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got.UTC(), tt.want)
		})
	}
}

func TestParseFillTime_Rejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "yesterday", "2026/01/14 10:00"} {
		_, err := ParseFillTime(raw, time.UTC)
		require.Error(t, err, raw)

		var verr *domain.ValidationError
		assert.True(t, errors.As(err, &verr))
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}
