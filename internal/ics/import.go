package ics

import (
	"context"
	"errors"
	"time"

	"daycal/internal/calendar"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// Inserter admits events into a calendar. *calendar.Store satisfies it.
type Inserter interface {
	Insert(ev model.Event) (model.Event, error)
}

// ImportResult summarizes an import run.
type ImportResult struct {
	Imported  int
	Conflicts int
	Invalid   int

	SkippedAllDay    int
	SkippedRecurring int
}

func (r *ImportResult) add(o ImportResult) {
	r.Imported += o.Imported
	r.Conflicts += o.Conflicts
	r.Invalid += o.Invalid
	r.SkippedAllDay += o.SkippedAllDay
	r.SkippedRecurring += o.SkippedRecurring
}

// Import inserts events one by one. Events rejected by the store are
// counted and skipped; any other insert error aborts the import.
func Import(store Inserter, events []model.Event) (ImportResult, error) {
	var res ImportResult
	for _, ev := range events {
		_, err := store.Insert(ev)
		switch {
		case err == nil:
			res.Imported++
		case errors.Is(err, calendar.ErrOverlapConflict):
			appLog.Warn("ics event conflicts, skipped", "uid", ev.ID, "title", ev.Title, "reason", err.Error())
			res.Conflicts++
		case errors.Is(err, calendar.ErrInvalidInterval):
			appLog.Warn("ics event invalid, skipped", "uid", ev.ID, "title", ev.Title, "reason", err.Error())
			res.Invalid++
		default:
			return res, err
		}
	}
	return res, nil
}

// ImportSources fetches, parses and imports every source into store.
// Per-source failures are logged and returned; the remaining sources are
// still imported.
func ImportSources(ctx context.Context, f *Fetcher, store Inserter, sources []Source, loc *time.Location) (ImportResult, []error) {
	var total ImportResult

	results, errs := f.FetchAll(ctx, sources)
	for _, fr := range results {
		parsed, err := ParseICS(fr.Source, fr.Body, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res, err := Import(store, parsed.Events)
		res.Invalid += parsed.SkippedInvalid
		res.SkippedAllDay = parsed.SkippedAllDay
		res.SkippedRecurring = parsed.SkippedRecurring
		total.add(res)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		appLog.Info("ics import completed",
			"id", fr.Source.ID,
			"from_cache", fr.FromCache,
			"imported", res.Imported,
			"conflicts", res.Conflicts,
			"invalid", res.Invalid,
		)
	}
	return total, errs
}
