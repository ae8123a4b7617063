package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"daycal/internal/model"
)

const productID = "-//daycal//daycal calendar//EN"

// Export renders events as a VCALENDAR document. Times are written in UTC.
func Export(events []model.Event, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp.UTC())
		ve.SetStartAt(ev.Start.UTC())
		ve.SetEndAt(ev.End.UTC())
		ve.SetSummary(ev.Title)
	}
	return cal.Serialize()
}
