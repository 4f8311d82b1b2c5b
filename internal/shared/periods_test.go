package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonthPeriodBounds(t *testing.T) {
	p, err := MonthPeriod(2025, 6)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), p.Start)
	require.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), p.End)
	require.Equal(t, "2025-06", p.Label())
}

func TestMonthPeriodDecemberRollsOver(t *testing.T) {
	p, err := MonthPeriod(2025, 12)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), p.End)
}

func TestMonthPeriodRejectsOutOfRange(t *testing.T) {
	for _, tc := range []struct{ year, month int }{
		{2025, 0},
		{2025, 13},
		{1969, 6},
		{10000, 6},
	} {
		_, err := MonthPeriod(tc.year, tc.month)
		require.Error(t, err, "year=%d month=%d", tc.year, tc.month)
		require.Equal(t, KindInvalidEntry, KindOf(err))
	}
}

func TestPeriodContainsHalfOpen(t *testing.T) {
	p, err := MonthPeriod(2025, 6)
	require.NoError(t, err)
	require.True(t, p.Contains(p.Start))
	require.True(t, p.Contains(p.End.Add(-time.Nanosecond)))
	require.False(t, p.Contains(p.End))
	require.False(t, p.Contains(p.Start.Add(-time.Nanosecond)))
}

func TestDaysBetweenIgnoresTimeOfDay(t *testing.T) {
	a := time.Date(2025, 5, 15, 23, 30, 0, 0, time.UTC)
	b := time.Date(2025, 5, 16, 0, 5, 0, 0, time.UTC)
	require.Equal(t, 1, DaysBetween(a, b))

	require.Equal(t, 0, DaysBetween(b, b))
	require.Equal(t, 31, DaysBetween(
		time.Date(2025, 5, 15, 1, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC),
	))
}
