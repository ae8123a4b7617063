package calendar

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"daycal/internal/clock"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// DefaultSlotTitle is the title carried by slots returned from FindFreeSlot.
const DefaultSlotTitle = "Available Slot"

// Store holds the authoritative, ascending-by-start set of events for a
// single calendar. All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	events []model.Event

	loc       *time.Location
	clock     clock.Clock
	newID     func() string
	slotTitle string
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the shared local reference used for calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the source of "now".
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithSlotTitle overrides the title of synthetic free slots.
func WithSlotTitle(title string) Option {
	return func(s *Store) {
		if title != "" {
			s.slotTitle = title
		}
	}
}

// WithIDGenerator overrides id assignment (useful for tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore returns an empty Store. By default dates are interpreted in
// time.Local and ids are random UUIDs.
func NewStore(opts ...Option) *Store {
	s := &Store{
		loc:       time.Local,
		newID:     uuid.NewString,
		slotTitle: DefaultSlotTitle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.NewSystem(s.loc)
	}
	return s
}

// Location returns the shared local reference of the store.
func (s *Store) Location() *time.Location {
	return s.loc
}

// Now returns the store's current time in its location.
func (s *Store) Now() time.Time {
	return s.clock.Now().In(s.loc)
}

// Insert validates ev and admits it. An empty ID is replaced by a fresh
// one. A failed insert never changes the store.
//
// The overlap scan is linear in the number of stored events.
func (s *Store) Insert(ev model.Event) (model.Event, error) {
	if ev.Start.IsZero() || ev.End.IsZero() {
		return model.Event{}, fmt.Errorf("%w: event start and end times must be set", ErrInvalidInterval)
	}
	if !ev.Start.Before(ev.End) {
		return model.Event{}, fmt.Errorf("%w: event start time must be before end time", ErrInvalidInterval)
	}
	if ev.ID == "" {
		ev.ID = s.newID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events {
		if existing.Overlaps(ev) {
			return model.Event{}, fmt.Errorf("%w: %q [%s, %s)", ErrOverlapConflict,
				existing.Title, existing.Start.Format(time.DateTime), existing.End.Format(time.DateTime))
		}
	}

	// Starts are pairwise distinct here (equal starts always overlap),
	// so the first later start is the insertion point.
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Start.After(ev.Start)
	})
	s.events = slices.Insert(s.events, i, ev)

	appLog.Debug("event stored", "id", ev.ID, "title", ev.Title, "start", ev.Start.Format(time.RFC3339), "count", len(s.events))
	return ev, nil
}

// List returns a snapshot of all events in ascending start order.
func (s *Store) List() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// ListForDate returns the events starting on the calendar date of day,
// in ascending start order. Only the year, month and day of day are used.
func (s *Store) ListForDate(day time.Time) []model.Event {
	y, m, d := day.Date()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if sameDate(ev.Start.In(s.loc), y, m, d) {
			out = append(out, ev)
		}
	}
	return out
}

// ListToday returns today's events.
func (s *Store) ListToday() []model.Event {
	return s.ListForDate(s.Now())
}

// ListRemainingToday returns today's events that have not ended yet.
// An event in progress is included.
func (s *Store) ListRemainingToday() []model.Event {
	now := s.Now()
	y, m, d := now.Date()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if sameDate(ev.Start.In(s.loc), y, m, d) && ev.End.After(now) {
			out = append(out, ev)
		}
	}
	return out
}

// MaxSlotMinutes is the longest slot FindFreeSlot can represent.
const MaxSlotMinutes = math.MaxInt64 / int64(time.Minute)

// FindFreeSlot returns the earliest gap on day that can hold minutes
// contiguous free minutes. The day spans 00:00 to 23:59; an empty day
// always yields a slot at 00:00. ok is false when no gap is long enough.
func (s *Store) FindFreeSlot(minutes int, day time.Time) (slot model.Slot, ok bool, err error) {
	if err := validateMinutes(minutes); err != nil {
		return model.Slot{}, false, err
	}

	y, m, d := day.Date()
	startOfDay := time.Date(y, m, d, 0, 0, 0, 0, s.loc)

	slot, ok = s.searchDay(minutes, startOfDay, s.ListForDate(startOfDay))
	return slot, ok, nil
}

// FindFreeSlotFrom is FindFreeSlot restricted to the part of from's day
// starting at from, truncated to the minute. Events that ended by then
// are ignored.
func (s *Store) FindFreeSlotFrom(minutes int, from time.Time) (slot model.Slot, ok bool, err error) {
	if err := validateMinutes(minutes); err != nil {
		return model.Slot{}, false, err
	}

	from = from.In(s.loc)
	y, m, d := from.Date()
	lower := time.Date(y, m, d, from.Hour(), from.Minute(), 0, 0, s.loc)

	events := make([]model.Event, 0)
	for _, ev := range s.ListForDate(lower) {
		if ev.End.After(lower) {
			events = append(events, ev)
		}
	}

	slot, ok = s.searchDay(minutes, lower, events)
	return slot, ok, nil
}

// searchDay scans the gaps of one day from lower to 23:59. events must
// be ascending and start on lower's date.
func (s *Store) searchDay(minutes int, lower time.Time, events []model.Event) (model.Slot, bool) {
	y, m, d := lower.Date()
	endOfDay := time.Date(y, m, d, 23, 59, 0, 0, s.loc)

	if len(events) == 0 {
		return s.slotAt(lower, minutes), true
	}
	if minutesBetween(lower, events[0].Start) >= minutes {
		return s.slotAt(lower, minutes), true
	}
	for i := 1; i < len(events); i++ {
		prev, next := events[i-1], events[i]
		if minutesBetween(prev.End, next.Start) >= minutes {
			return s.slotAt(prev.End, minutes), true
		}
	}
	last := events[len(events)-1]
	if minutesBetween(last.End, endOfDay) >= minutes {
		return s.slotAt(last.End, minutes), true
	}
	return model.Slot{}, false
}

func validateMinutes(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: minutes must be positive, got %d", ErrInvalidDuration, minutes)
	}
	if int64(minutes) > MaxSlotMinutes {
		return fmt.Errorf("%w: minutes must not exceed %d, got %d", ErrInvalidDuration, MaxSlotMinutes, minutes)
	}
	return nil
}

func (s *Store) slotAt(start time.Time, minutes int) model.Slot {
	return model.Slot{
		ID:    s.newID(),
		Title: s.slotTitle,
		Start: start,
		End:   start.Add(time.Duration(minutes) * time.Minute),
	}
}

// minutesBetween returns the whole minutes from a to b, truncated toward zero.
func minutesBetween(a, b time.Time) int {
	return int(b.Sub(a) / time.Minute)
}

func sameDate(t time.Time, y int, m time.Month, d int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d
}
