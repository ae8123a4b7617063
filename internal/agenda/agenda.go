// Package agenda logs a digest of the rest of the day on a cron schedule.
package agenda

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// Source is the read side of the calendar used by the digest.
type Source interface {
	Now() time.Time
	ListRemainingToday() []model.Event
	FindFreeSlotFrom(minutes int, from time.Time) (model.Slot, bool, error)
}

// Digest is the rest of the day as seen at Date.
type Digest struct {
	Date      time.Time
	Remaining []model.Event

	// NextSlot is the first free slot starting at or after Date, or nil.
	NextSlot *model.Slot
}

// Build computes the digest for the current day.
func Build(src Source, slotMinutes int) (Digest, error) {
	now := src.Now()
	d := Digest{
		Date:      now,
		Remaining: src.ListRemainingToday(),
	}
	slot, ok, err := src.FindFreeSlotFrom(slotMinutes, now)
	if err != nil {
		return d, err
	}
	if ok {
		d.NextSlot = &slot
	}
	return d, nil
}

// Scheduler runs the digest on a cron schedule.
type Scheduler struct {
	cron        *cron.Cron
	src         Source
	slotMinutes int
}

// NewScheduler validates spec (standard 5-field cron) and registers the
// digest job. The schedule is evaluated in loc.
func NewScheduler(spec string, loc *time.Location, src Source, slotMinutes int) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		cron:        cron.New(cron.WithLocation(loc)),
		src:         src,
		slotMinutes: slotMinutes,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("agenda schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		appLog.Info("agenda scheduler started", "next", e.Next.Format(time.RFC3339))
	}
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("agenda scheduler stopped")
}

func (s *Scheduler) run() {
	d, err := Build(s.src, s.slotMinutes)
	if err != nil {
		appLog.Error("agenda digest failed", err)
		return
	}
	free := "none"
	if d.NextSlot != nil {
		free = d.NextSlot.Start.Format("15:04")
	}
	appLog.Info("agenda digest",
		"date", d.Date.Format(time.DateOnly),
		"remaining", len(d.Remaining),
		"next_free", free,
	)
	for _, ev := range d.Remaining {
		appLog.Info("agenda item", "start", ev.Start.Format("15:04"), "end", ev.End.Format("15:04"), "title", ev.Title)
	}
}
