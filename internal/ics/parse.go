package ics

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "daycal/internal/log"
	"daycal/internal/model"
)

// ParseResult holds the events accepted from a single ICS payload and
// counts of VEVENTs that cannot be represented in the calendar.
type ParseResult struct {
	Events []model.Event

	SkippedAllDay    int
	SkippedRecurring int
	SkippedInvalid   int
}

// ParseICS parses a single ICS payload into timed events in loc.
//
//   - The VEVENT UID becomes the event id.
//   - Values with a TZID are resolved by the library; UTC and floating
//     values are parsed here, floating ones in loc.
//   - Without DTEND, the end is DTSTART plus DURATION.
//   - All-day events, recurring events (RRULE or RECURRENCE-ID) and
//     VEVENTs without a usable start and end are skipped and counted.
func ParseICS(src Source, body []byte, loc *time.Location) (ParseResult, error) {
	var res ParseResult
	if len(body) == 0 {
		return res, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return res, err
	}

	for _, ve := range cal.Events() {
		if isAllDay(ve) {
			res.SkippedAllDay++
			continue
		}
		if isRecurring(ve) {
			res.SkippedRecurring++
			continue
		}
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "reason", perr.Error(), "id", src.ID)
			res.SkippedInvalid++
			continue
		}
		res.Events = append(res.Events, ev)
	}

	appLog.Info("ics parse completed",
		"id", src.ID,
		"url", redactURL(src.URL),
		"event_count", len(res.Events),
		"skipped_all_day", res.SkippedAllDay,
		"skipped_recurring", res.SkippedRecurring,
		"skipped_invalid", res.SkippedInvalid,
	)
	return res, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	var out model.Event

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.ID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}

	start, err := propertyTime(ve, ical.ComponentPropertyDtStart, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	var end time.Time
	if dp := ve.GetProperty(ical.ComponentPropertyDuration); dp != nil && ve.GetProperty(ical.ComponentPropertyDtEnd) == nil {
		d, err := parseICSDuration(dp.Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		end = start.Add(d)
	} else {
		end, err = propertyTime(ve, ical.ComponentPropertyDtEnd, loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
	}
	out.Start = start
	out.End = end
	return out, nil
}

// propertyTime reads a DATE-TIME property and converts it to loc.
func propertyTime(ve *ical.VEvent, name ical.ComponentProperty, loc *time.Location) (time.Time, error) {
	p := ve.GetProperty(name)
	if p == nil {
		return time.Time{}, errors.New("missing")
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		var (
			t   time.Time
			err error
		)
		if name == ical.ComponentPropertyDtEnd {
			t, err = ve.GetEndAt()
		} else {
			t, err = ve.GetStartAt()
		}
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}
	t, err := parseICSTime(p.Value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func isRecurring(ve *ical.VEvent) bool {
	return ve.GetProperty(ical.ComponentPropertyRrule) != nil ||
		ve.GetProperty("RECURRENCE-ID") != nil
}

// parseICSTime parses a UTC ("...Z") or floating DATE-TIME value.
// Floating values are interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	return time.ParseInLocation("20060102T150405", v, loc)
}

// parseICSDuration parses an RFC 5545 dur-value such as "PT1H30M",
// "P1DT2H" or "-P2W".
func parseICSDuration(v string) (time.Duration, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	raw := v

	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(v, "-"):
		sign = -1
		v = v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 3 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	v = v[1:]

	var (
		total   time.Duration
		inTime  bool
		num     int64
		digits  int
		seenAny bool
	)
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			if digits >= 9 {
				return 0, fmt.Errorf("invalid duration %q", raw)
			}
			num = num*10 + int64(r-'0')
			digits++
			continue
		case r == 'T' && !inTime && digits == 0:
			inTime = true
			continue
		}
		if digits == 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		if time.Duration(num) > (math.MaxInt64-total)/unit {
			return 0, fmt.Errorf("duration %q out of range", raw)
		}
		total += time.Duration(num) * unit
		num, digits, seenAny = 0, 0, true
	}
	if digits != 0 || !seenAny {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return sign * total, nil
}
