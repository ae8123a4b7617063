package model

import "time"

// Event is a titled, half-open time interval [Start, End) held by the
// calendar store. Stored events are never mutated.
type Event struct {
	ID    string
	Title string

	// Start / End are in the calendar's shared local reference.
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open intervals of e and o intersect.
// Touching intervals (e.End == o.Start) do not overlap.
func (e Event) Overlaps(o Event) bool {
	return e.Start.Before(o.End) && e.End.After(o.Start)
}

// Slot is a free interval found by the store. It is never stored; the
// caller has to insert an Event explicitly to book it.
type Slot struct {
	ID    string
	Title string

	Start time.Time
	End   time.Time
}

// Event converts the slot into an event candidate for insertion.
func (s Slot) Event() Event {
	return Event{
		ID:    s.ID,
		Title: s.Title,
		Start: s.Start,
		End:   s.End,
	}
}
