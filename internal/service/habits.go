package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"lifelog/internal/storage"
	"lifelog/internal/streak"
)

// Habit is a recurring activity with a per-day completion history. Streak,
// LongestStreak, CompletedToday and LastCompletedAt are derived from History
// and Schedule and recomputed on every read and write.
type Habit struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Schedule        streak.Schedule `json:"schedule"`
	History         []streak.Entry  `json:"history"`
	Streak          int             `json:"streak"`
	LongestStreak   int             `json:"longestStreak"`
	CompletedToday  bool            `json:"completedToday"`
	LastCompletedAt string          `json:"lastCompletedAt,omitempty"`
	Created         string          `json:"created"`
}

// HabitInput holds the fields of a new habit. An empty schedule means daily.
type HabitInput struct {
	Name     string          `json:"name"`
	Schedule streak.Schedule `json:"schedule"`
}

// HabitService manages habits and keeps their streaks consistent.
type HabitService struct {
	*Collection
	calc streak.Calculator
}

// NewHabitService creates a HabitService over the habits collection. The
// calculator's clock defines "today".
func NewHabitService(store RecordStore, calc streak.Calculator) *HabitService {
	if calc.Now == nil {
		calc.Now = time.Now
	}
	return &HabitService{
		Collection: NewCollection(store, storage.CollectionHabits),
		calc:       calc,
	}
}

func (s *HabitService) today() time.Time {
	return streak.Day(s.calc.Now())
}

// derive recomputes every cached field of h from its history and schedule.
func (s *HabitService) derive(h *Habit) {
	h.Schedule = h.Schedule.Normalize()
	h.History = streak.Normalize(h.History)
	h.Streak = s.calc.Current(h.History, h.Schedule)
	h.LongestStreak = s.calc.Longest(h.History, h.Schedule)
	if h.Streak > h.LongestStreak {
		h.LongestStreak = h.Streak
	}
	h.CompletedToday = streak.IsCompleted(h.History, s.today())
	h.LastCompletedAt = ""
	if last, ok := streak.LastCompleted(h.History); ok {
		h.LastCompletedAt = last.Format(time.RFC3339)
	}
}

func derivedFields(h Habit) storage.Record {
	rec := storage.Record{
		"schedule":        h.Schedule,
		"history":         h.History,
		"streak":          h.Streak,
		"longestStreak":   h.LongestStreak,
		"completedToday":  h.CompletedToday,
		"lastCompletedAt": nil,
	}
	if h.LastCompletedAt != "" {
		rec["lastCompletedAt"] = h.LastCompletedAt
	}
	return rec
}

// Create validates and stores a new habit.
func (s *HabitService) Create(ctx context.Context, in HabitInput) (Habit, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Habit{}, &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	schedule := in.Schedule
	if len(schedule) == 0 {
		schedule = streak.Daily()
	}
	if err := schedule.Validate(); err != nil {
		return Habit{}, &ValidationError{Field: "schedule", Message: err.Error()}
	}

	h := Habit{
		ID:       uuid.NewString(),
		Name:     name,
		Schedule: schedule,
		History:  []streak.Entry{},
		Created:  s.calc.Now().UTC().Format(time.RFC3339),
	}
	s.derive(&h)

	rec, err := storage.Encode(h)
	if err != nil {
		return Habit{}, WrapError(err, "failed to encode habit")
	}
	if _, err := s.create(ctx, rec); err != nil {
		return Habit{}, err
	}

	s.log(ctx).InfoContext(ctx, "habit created", "habit_id", h.ID, "name", h.Name)
	return h, nil
}

// Get returns a habit with freshly derived fields.
func (s *HabitService) Get(ctx context.Context, id string) (Habit, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return Habit{}, err
	}
	return s.decode(ctx, rec)
}

// List returns every habit ordered by name.
func (s *HabitService) List(ctx context.Context) []Habit {
	recs := s.all(ctx)
	habits := make([]Habit, 0, len(recs))
	for _, rec := range recs {
		h, err := s.decode(ctx, rec)
		if err != nil {
			continue
		}
		habits = append(habits, h)
	}
	sort.SliceStable(habits, func(i, j int) bool {
		return strings.ToLower(habits[i].Name) < strings.ToLower(habits[j].Name)
	})
	return habits
}

// HabitPatch holds the editable fields of a habit. Nil fields are left
// untouched.
type HabitPatch struct {
	Name     *string          `json:"name"`
	Schedule *streak.Schedule `json:"schedule"`
}

// Toggle flips the completion of the habit on date (today when empty) and
// stores the recomputed streak.
func (s *HabitService) Toggle(ctx context.Context, id, date string) (Habit, error) {
	day := s.today()
	if date != "" {
		parsed, err := time.Parse(streak.DateLayout, date)
		if err != nil {
			return Habit{}, &ValidationError{Field: "date", Message: "must be a date in YYYY-MM-DD format"}
		}
		if parsed.After(day) {
			return Habit{}, &ValidationError{Field: "date", Message: "cannot be in the future"}
		}
		day = parsed
	}

	var completed bool
	h, err := s.apply(ctx, id, func(h *Habit) {
		completed = !streak.IsCompleted(h.History, day)
		h.History = streak.Upsert(h.History, day, completed)
	})
	if err != nil {
		return Habit{}, err
	}

	s.log(ctx).InfoContext(ctx, "habit toggled",
		"habit_id", id,
		"date", streak.FormatDate(day),
		"completed", completed,
		"streak", h.Streak,
	)
	return h, nil
}

// Patch validates every field of p and then applies them in one write, so
// an invalid field leaves the habit unchanged.
func (s *HabitService) Patch(ctx context.Context, id string, p HabitPatch) (Habit, error) {
	if p.Name == nil && p.Schedule == nil {
		return Habit{}, &ValidationError{Field: "habit", Message: "nothing to update"}
	}
	var name string
	if p.Name != nil {
		name = strings.TrimSpace(*p.Name)
		if name == "" {
			return Habit{}, &ValidationError{Field: "name", Message: "cannot be empty"}
		}
	}
	if p.Schedule != nil {
		if len(*p.Schedule) == 0 {
			return Habit{}, &ValidationError{Field: "schedule", Message: "must contain at least one weekday"}
		}
		if err := p.Schedule.Validate(); err != nil {
			return Habit{}, &ValidationError{Field: "schedule", Message: err.Error()}
		}
	}

	return s.apply(ctx, id, func(h *Habit) {
		if p.Name != nil {
			h.Name = name
		}
		if p.Schedule != nil {
			h.Schedule = *p.Schedule
		}
	})
}

// UpdateSchedule replaces the schedule and recomputes the streak.
func (s *HabitService) UpdateSchedule(ctx context.Context, id string, schedule streak.Schedule) (Habit, error) {
	return s.Patch(ctx, id, HabitPatch{Schedule: &schedule})
}

// Rename changes the habit name.
func (s *HabitService) Rename(ctx context.Context, id, name string) (Habit, error) {
	return s.Patch(ctx, id, HabitPatch{Name: &name})
}

// Delete removes a habit.
func (s *HabitService) Delete(ctx context.Context, id string) error {
	if err := s.remove(ctx, id); err != nil {
		return err
	}
	s.log(ctx).InfoContext(ctx, "habit deleted", "habit_id", id)
	return nil
}

// NormalizeRecord turns a legacy habit record into the current shape:
// canonical history, a valid schedule (daily when missing) and derived
// fields recomputed. It is used as a migration transform.
func (s *HabitService) NormalizeRecord(rec storage.Record) (storage.Record, error) {
	var h Habit
	if err := storage.Decode(rec, &h); err != nil {
		return nil, &ValidationError{Field: "habit", Message: err.Error()}
	}
	h.Name = strings.TrimSpace(h.Name)
	if h.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "cannot be empty"}
	}
	if len(h.Schedule) == 0 {
		h.Schedule = streak.Daily()
	}
	if err := h.Schedule.Validate(); err != nil {
		return nil, &ValidationError{Field: "schedule", Message: err.Error()}
	}
	if h.Created == "" {
		h.Created = s.calc.Now().UTC().Format(time.RFC3339)
	}
	if h.History == nil {
		h.History = []streak.Entry{}
	}
	s.derive(&h)

	out, err := storage.Encode(h)
	if err != nil {
		return nil, err
	}
	// Keep legacy fields this service does not know about.
	for k, v := range rec {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, nil
}

// apply runs mutate on the stored habit and writes the name, schedule,
// history and derived fields back inside one store transaction.
func (s *HabitService) apply(ctx context.Context, id string, mutate func(*Habit)) (Habit, error) {
	var h Habit
	_, err := s.modify(ctx, id, func(rec storage.Record) (storage.Record, error) {
		h = Habit{}
		if err := storage.Decode(rec, &h); err != nil {
			return nil, WrapError(err, "malformed habit "+id)
		}
		mutate(&h)
		s.derive(&h)

		rec["name"] = h.Name
		for k, v := range derivedFields(h) {
			rec[k] = v
		}
		return rec, nil
	})
	if err != nil {
		return Habit{}, err
	}
	return h, nil
}

func (s *HabitService) decode(ctx context.Context, rec storage.Record) (Habit, error) {
	var h Habit
	if err := storage.Decode(rec, &h); err != nil {
		s.log(ctx).ErrorContext(ctx, "malformed habit record", "habit_id", rec.ID(), "error", err)
		return Habit{}, WrapError(ErrNotFound, "habit "+rec.ID())
	}
	s.derive(&h)
	return h, nil
}
