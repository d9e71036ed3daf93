package streak

import (
	"sort"
	"time"
)

// Day truncates t to its calendar day, keeping t's own date fields.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders the calendar day of t in DateLayout.
func FormatDate(t time.Time) string {
	return Day(t).Format(DateLayout)
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the
// calendar day it names.
func ParseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Day(t), true
	}
	return time.Time{}, false
}

// Normalize returns history with canonical dates, one entry per date (the
// last one wins) sorted ascending. Entries with unparseable dates are dropped.
func Normalize(history []Entry) []Entry {
	byDate := make(map[string]bool, len(history))
	for _, e := range history {
		d, ok := ParseDate(e.Date)
		if !ok {
			continue
		}
		byDate[d.Format(DateLayout)] = e.Completed
	}

	out := make([]Entry, 0, len(byDate))
	for date, completed := range byDate {
		out = append(out, Entry{Date: date, Completed: completed})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	return out
}

// Upsert sets the completion of day, overwriting any existing entry for the
// same date. The input slice is not modified.
func Upsert(history []Entry, day time.Time, completed bool) []Entry {
	next := make([]Entry, 0, len(history)+1)
	next = append(next, history...)
	next = append(next, Entry{Date: FormatDate(day), Completed: completed})
	return Normalize(next)
}

// IsCompleted reports whether history marks day as completed.
func IsCompleted(history []Entry, day time.Time) bool {
	want := FormatDate(day)
	completed := false
	for _, e := range history {
		if d, ok := ParseDate(e.Date); ok && d.Format(DateLayout) == want {
			completed = e.Completed
		}
	}
	return completed
}

// LastCompleted returns the most recent completed day in history.
func LastCompleted(history []Entry) (time.Time, bool) {
	var last time.Time
	found := false
	for _, e := range Normalize(history) {
		if !e.Completed {
			continue
		}
		d, _ := ParseDate(e.Date)
		if !found || d.After(last) {
			last = d
			found = true
		}
	}
	return last, found
}
