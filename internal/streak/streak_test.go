package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-03-11 is a Monday.
var monday = time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)

func completed(dates ...string) []Entry {
	out := make([]Entry, 0, len(dates))
	for _, d := range dates {
		out = append(out, Entry{Date: d, Completed: true})
	}
	return out
}

func fixedCalculator(now time.Time) Calculator {
	return Calculator{Now: func() time.Time { return now }}
}

func TestCalculate_WeekdayScheduleSkipsWeekend(t *testing.T) {
	history := completed("2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08")

	got := Calculate(history, Weekdays(), monday)
	assert.Equal(t, 5, got)
}

func TestCalculate_Table(t *testing.T) {
	tests := []struct {
		name     string
		history  []Entry
		schedule Schedule
		want     int
	}{
		{
			name:     "empty history",
			history:  nil,
			schedule: Daily(),
			want:     0,
		},
		{
			name:     "empty schedule terminates",
			history:  completed("2024-03-10", "2024-03-09"),
			schedule: Schedule{},
			want:     0,
		},
		{
			name:     "daily run ending yesterday",
			history:  completed("2024-03-08", "2024-03-09", "2024-03-10"),
			schedule: Daily(),
			want:     3,
		},
		{
			name:     "yesterday missed breaks streak",
			history:  completed("2024-03-08", "2024-03-09"),
			schedule: Daily(),
			want:     0,
		},
		{
			name:     "today does not count",
			history:  completed("2024-03-10", "2024-03-11"),
			schedule: Daily(),
			want:     1,
		},
		{
			name: "explicit incomplete entry stops the walk",
			history: []Entry{
				{Date: "2024-03-08", Completed: true},
				{Date: "2024-03-09", Completed: false},
				{Date: "2024-03-10", Completed: true},
			},
			schedule: Daily(),
			want:     1,
		},
		{
			name:     "sparse schedule only checks mondays",
			history:  completed("2024-03-04", "2024-02-26", "2024-02-19"),
			schedule: Schedule{1},
			want:     3,
		},
		{
			name:     "unparseable dates are ignored",
			history:  append(completed("2024-03-10"), Entry{Date: "not-a-date", Completed: true}),
			schedule: Daily(),
			want:     1,
		},
		{
			name:     "rfc3339 dates are accepted",
			history:  completed("2024-03-10T18:00:00Z", "2024-03-09T07:15:00Z"),
			schedule: Daily(),
			want:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Calculate(tt.history, tt.schedule, monday))
		})
	}
}

func TestCalculate_PureAndIdempotent(t *testing.T) {
	history := completed("2024-03-06", "2024-03-07", "2024-03-08")
	snapshot := append([]Entry(nil), history...)

	first := Calculate(history, Weekdays(), monday)
	second := Calculate(history, Weekdays(), monday)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, history)
}

func TestCalculator_LookbackBound(t *testing.T) {
	// A completed entry every day for two years.
	var history []Entry
	for d := 1; d <= 730; d++ {
		history = append(history, Entry{Date: FormatDate(monday.AddDate(0, 0, -d)), Completed: true})
	}

	assert.Equal(t, DefaultMaxLookback, Calculate(history, Daily(), monday))

	c := fixedCalculator(monday)
	c.MaxLookback = 30
	assert.Equal(t, 30, c.Current(history, Daily()))
}

func TestCalculator_Longest(t *testing.T) {
	history := []Entry{
		{Date: "2024-02-01", Completed: true},
		{Date: "2024-02-02", Completed: true},
		{Date: "2024-02-03", Completed: true},
		{Date: "2024-02-04", Completed: true},
		{Date: "2024-02-05", Completed: false},
		{Date: "2024-03-09", Completed: true},
		{Date: "2024-03-10", Completed: true},
	}

	c := fixedCalculator(monday)
	assert.Equal(t, 4, c.Longest(history, Daily()))
	assert.Equal(t, 2, c.Current(history, Daily()))
	assert.Equal(t, 0, c.Longest(nil, Daily()))
	assert.Equal(t, 0, c.Longest(history, Schedule{}))
}

func TestCalculator_LongestIncludesToday(t *testing.T) {
	c := fixedCalculator(monday)
	history := completed("2024-03-09", "2024-03-10", "2024-03-11")

	assert.Equal(t, 3, c.Longest(history, Daily()))
	assert.Equal(t, 2, c.Current(history, Daily()))
}

func TestSchedule(t *testing.T) {
	require.NoError(t, Daily().Validate())
	require.NoError(t, Weekdays().Validate())
	assert.Error(t, Schedule{0, 7}.Validate())
	assert.Error(t, Schedule{-1}.Validate())

	assert.True(t, Weekdays().Has(time.Monday))
	assert.False(t, Weekdays().Has(time.Sunday))
	assert.Equal(t, Schedule{1, 3, 5}, Schedule{5, 3, 1, 3}.Normalize())
}

func TestUpsert_OneEntryPerDate(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	history := Upsert(nil, day, true)
	history = Upsert(history, day, false)
	history = Upsert(history, day.AddDate(0, 0, -1), true)

	require.Len(t, history, 2)
	assert.Equal(t, Entry{Date: "2024-03-09", Completed: true}, history[0])
	assert.Equal(t, Entry{Date: "2024-03-10", Completed: false}, history[1])
	assert.False(t, IsCompleted(history, day))
	assert.True(t, IsCompleted(history, day.AddDate(0, 0, -1)))
}

func TestUpsert_DoesNotModifyInput(t *testing.T) {
	original := completed("2024-03-01")
	_ = Upsert(original, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false)

	assert.True(t, original[0].Completed)
}

func TestNormalize(t *testing.T) {
	got := Normalize([]Entry{
		{Date: "2024-03-03", Completed: true},
		{Date: "bogus", Completed: true},
		{Date: "2024-03-01T10:00:00Z", Completed: true},
		{Date: "2024-03-03", Completed: false},
	})

	assert.Equal(t, []Entry{
		{Date: "2024-03-01", Completed: true},
		{Date: "2024-03-03", Completed: false},
	}, got)
}

func TestLastCompleted(t *testing.T) {
	_, ok := LastCompleted(nil)
	assert.False(t, ok)

	last, ok := LastCompleted([]Entry{
		{Date: "2024-03-01", Completed: true},
		{Date: "2024-03-05", Completed: true},
		{Date: "2024-03-07", Completed: false},
	})
	require.True(t, ok)
	assert.Equal(t, "2024-03-05", FormatDate(last))
}
