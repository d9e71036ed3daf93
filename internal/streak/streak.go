// Package streak computes habit streaks over a per-day completion history.
//
// Dates are civil calendar days formatted as YYYY-MM-DD. Weekdays follow
// time.Weekday numbering (Sunday = 0). Every walk over the calendar is bounded
// so that empty or sparse schedules always terminate.
package streak

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the canonical format of history dates.
const DateLayout = "2006-01-02"

// DefaultMaxLookback bounds how many days a streak walk may visit.
const DefaultMaxLookback = 366

// Entry is a single day in a habit's history.
type Entry struct {
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
}

// Schedule is the set of weekdays on which a habit is expected.
type Schedule []int

// Daily returns a schedule covering every day of the week.
func Daily() Schedule {
	return Schedule{0, 1, 2, 3, 4, 5, 6}
}

// Weekdays returns a Monday to Friday schedule.
func Weekdays() Schedule {
	return Schedule{1, 2, 3, 4, 5}
}

// Has reports whether wd is scheduled.
func (s Schedule) Has(wd time.Weekday) bool {
	for _, d := range s {
		if d == int(wd) {
			return true
		}
	}
	return false
}

// Validate rejects weekday indices outside 0-6.
func (s Schedule) Validate() error {
	for _, d := range s {
		if d < 0 || d > 6 {
			return fmt.Errorf("invalid weekday %d: must be between 0 and 6", d)
		}
	}
	return nil
}

// Normalize returns the schedule sorted with duplicates removed.
func (s Schedule) Normalize() Schedule {
	seen := make(map[int]bool, len(s))
	out := make(Schedule, 0, len(s))
	for _, d := range s {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// Calculator computes streaks relative to its clock.
type Calculator struct {
	// MaxLookback is the walk bound in days. Zero means DefaultMaxLookback.
	MaxLookback int
	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

func (c Calculator) lookback() int {
	if c.MaxLookback <= 0 {
		return DefaultMaxLookback
	}
	return c.MaxLookback
}

func (c Calculator) today() time.Time {
	if c.Now == nil {
		return Day(time.Now())
	}
	return Day(c.Now())
}

// Current returns the number of consecutive scheduled days completed,
// counting back from yesterday. Today never counts and never breaks the
// streak, since the day is not over yet.
func (c Calculator) Current(history []Entry, schedule Schedule) int {
	return walkBack(index(history), schedule, c.today(), c.lookback())
}

// Longest returns the longest run of consecutive completed scheduled days
// within the lookback window ending today.
func (c Calculator) Longest(history []Entry, schedule Schedule) int {
	done := index(history)
	if len(done) == 0 || len(schedule) == 0 {
		return 0
	}

	today := c.today()
	day := today.AddDate(0, 0, -c.lookback())
	best, run := 0, 0
	for !day.After(today) {
		if schedule.Has(day.Weekday()) {
			switch {
			case done[day.Format(DateLayout)]:
				run++
				if run > best {
					best = run
				}
			case day.Before(today):
				run = 0
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return best
}

// Calculate returns the current streak as of today using DefaultMaxLookback.
func Calculate(history []Entry, schedule Schedule, today time.Time) int {
	return walkBack(index(history), schedule, Day(today), DefaultMaxLookback)
}

func walkBack(done map[string]bool, schedule Schedule, today time.Time, limit int) int {
	if len(done) == 0 {
		return 0
	}
	streak := 0
	day := today.AddDate(0, 0, -1)
	for i := 0; i < limit; i++ {
		if schedule.Has(day.Weekday()) {
			if !done[day.Format(DateLayout)] {
				break
			}
			streak++
		}
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

// index maps canonical dates to completion. Later entries for the same date
// win. Unparseable dates are ignored.
func index(history []Entry) map[string]bool {
	done := make(map[string]bool, len(history))
	for _, e := range history {
		d, ok := ParseDate(e.Date)
		if !ok {
			continue
		}
		done[d.Format(DateLayout)] = e.Completed
	}
	for k, v := range done {
		if !v {
			delete(done, k)
		}
	}
	return done
}
