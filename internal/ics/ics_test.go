package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"daycal/internal/calendar"
	"daycal/internal/clock"
	"daycal/internal/model"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:utc-1\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART:20250320T090000Z\r\n" +
	"DTEND:20250320T100000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:floating-1\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART:20250320T110000\r\n" +
	"DTEND:20250320T120000\r\n" +
	"SUMMARY:Review\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:overlap-1\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART:20250320T093000Z\r\n" +
	"DTEND:20250320T103000Z\r\n" +
	"SUMMARY:Clash\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:allday-1\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250321\r\n" +
	"DTEND;VALUE=DATE:20250322\r\n" +
	"SUMMARY:Holiday\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART:20250320T140000Z\r\n" +
	"DTEND:20250320T150000Z\r\n" +
	"RRULE:FREQ=WEEKLY\r\n" +
	"SUMMARY:Weekly\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:noend-1\r\n" +
	"DTSTAMP:20250301T000000Z\r\n" +
	"DTSTART:20250320T160000Z\r\n" +
	"SUMMARY:Open ended\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	t.Parallel()

	res, err := ParseICS(Source{ID: "test"}, []byte(sampleICS), time.UTC)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.Events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(res.Events), res.Events)
	}
	if res.SkippedAllDay != 1 || res.SkippedRecurring != 1 || res.SkippedInvalid != 1 {
		t.Fatalf("unexpected skip counts: %+v", res)
	}

	first := res.Events[0]
	if first.ID != "utc-1" || first.Title != "Standup" {
		t.Fatalf("unexpected first event: %+v", first)
	}
	if !first.Start.Equal(time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %v", first.Start)
	}
}

func TestParseICS_FloatingTimesUseLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+9", 9*60*60)
	res, err := ParseICS(Source{ID: "test"}, []byte(sampleICS), loc)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var floating model.Event
	for _, ev := range res.Events {
		if ev.ID == "floating-1" {
			floating = ev
		}
	}
	if got := floating.Start.Format("15:04"); got != "11:00" {
		t.Fatalf("expected floating start 11:00 local, got %s", got)
	}
	if floating.Start.Location() != loc {
		t.Fatalf("expected start in %s, got %s", loc, floating.Start.Location())
	}
}

func TestParseICS_Empty(t *testing.T) {
	t.Parallel()

	if _, err := ParseICS(Source{ID: "test"}, nil, time.UTC); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestParseICS_DurationWithoutEnd(t *testing.T) {
	t.Parallel()

	body := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:dur-1\r\n" +
		"DTSTAMP:20250301T000000Z\r\n" +
		"DTSTART:20250320T090000Z\r\n" +
		"DURATION:PT1H30M\r\n" +
		"SUMMARY:Workshop\r\n" +
		"END:VEVENT\r\n" +
		"BEGIN:VEVENT\r\n" +
		"UID:dur-bad\r\n" +
		"DTSTAMP:20250301T000000Z\r\n" +
		"DTSTART:20250320T140000Z\r\n" +
		"DURATION:1H\r\n" +
		"SUMMARY:Broken\r\n" +
		"END:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	res, err := ParseICS(Source{ID: "test"}, []byte(body), time.UTC)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(res.Events) != 1 || res.SkippedInvalid != 1 {
		t.Fatalf("unexpected parse result: %+v", res)
	}
	ev := res.Events[0]
	if ev.ID != "dur-1" || !ev.End.Equal(time.Date(2025, 3, 20, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseICSDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "PT15M", want: 15 * time.Minute},
		{in: "PT1H30M", want: 90 * time.Minute},
		{in: "P1DT2H", want: 26 * time.Hour},
		{in: "P2W", want: 14 * 24 * time.Hour},
		{in: "+PT45S", want: 45 * time.Second},
		{in: "-PT1H", want: -time.Hour},
		{in: "", wantErr: true},
		{in: "P", wantErr: true},
		{in: "PT", wantErr: true},
		{in: "1H", wantErr: true},
		{in: "PT1D", wantErr: true},
		{in: "P1H", wantErr: true},
		{in: "PT5", wantErr: true},
		{in: "PT9999999999M", wantErr: true},
		{in: "P999999999W", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseICSDuration(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestImport(t *testing.T) {
	t.Parallel()

	store := calendar.NewStore(calendar.WithLocation(time.UTC), calendar.WithClock(clock.NewFixed(time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))))
	res, err := ParseICS(Source{ID: "test"}, []byte(sampleICS), time.UTC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ir, err := Import(store, res.Events)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ir.Imported != 2 || ir.Conflicts != 1 {
		t.Fatalf("unexpected import result: %+v", ir)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 stored events, got %d", store.Len())
	}
}

type failingInserter struct{}

func (failingInserter) Insert(model.Event) (model.Event, error) {
	return model.Event{}, errors.New("store unavailable")
}

func TestImport_AbortsOnUnexpectedError(t *testing.T) {
	t.Parallel()

	_, err := Import(failingInserter{}, []model.Event{{Title: "x"}})
	if err == nil || err.Error() != "store unavailable" {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()

	events := []model.Event{
		{ID: "ev-1", Title: "Standup", Start: time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)},
		{ID: "ev-2", Title: "Lunch", Start: time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 20, 13, 0, 0, 0, time.UTC)},
	}
	out := Export(events, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	for _, want := range []string{"BEGIN:VCALENDAR", "UID:ev-1", "UID:ev-2", "SUMMARY:Standup", "DTSTART:20250320T090000Z", "DTEND:20250320T130000Z"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected export to contain %q, got:\n%s", want, out)
		}
	}

	parsed, err := ParseICS(Source{ID: "export"}, []byte(out), time.UTC)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if len(parsed.Events) != 2 || !parsed.Events[1].End.Equal(events[1].End) {
		t.Fatalf("unexpected re-parsed events: %+v", parsed.Events)
	}
}

func TestFetcher_CachesAndRevalidates(t *testing.T) {
	t.Parallel()

	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "feed", URL: srv.URL + "/cal.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache || string(first.Body) != sampleICS {
		t.Fatalf("expected fresh body on first fetch")
	}

	second, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache || string(second.Body) != sampleICS {
		t.Fatalf("expected cached body on 304")
	}
	if hits.Load() != 2 || notModified.Load() != 1 {
		t.Fatalf("unexpected server hits=%d notModified=%d", hits.Load(), notModified.Load())
	}
}

func TestFetcher_FallsBackToCacheOnError(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "feed", URL: srv.URL}

	if _, err := f.FetchOne(context.Background(), src); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	fail.Store(true)

	res, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("expected cached fallback, got %v", err)
	}
	if !res.FromCache {
		t.Fatalf("expected FromCache")
	}

	other := Source{ID: "other", URL: srv.URL + "/other"}
	if _, err := f.FetchOne(context.Background(), other); err == nil {
		t.Fatalf("expected error without cached body")
	}
}

func TestFetcher_RejectsOversizedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	f.maxBytes = int64(len(sampleICS)) - 1

	if _, err := f.FetchOne(context.Background(), Source{ID: "big", URL: srv.URL}); err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size limit error, got %v", err)
	}

	f.maxBytes = int64(len(sampleICS))
	res, err := f.FetchOne(context.Background(), Source{ID: "big", URL: srv.URL})
	if err != nil {
		t.Fatalf("expected body at the limit to be accepted, got %v", err)
	}
	if string(res.Body) != sampleICS {
		t.Fatalf("unexpected body")
	}
}

func TestImportSources(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.ics" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	store := calendar.NewStore(calendar.WithLocation(time.UTC))
	f := NewFetcher(t.TempDir(), srv.Client())

	res, errs := ImportSources(context.Background(), f, store, []Source{
		{ID: "ok", URL: srv.URL + "/cal.ics"},
		{ID: "missing", URL: srv.URL + "/missing.ics"},
	}, time.UTC)

	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if res.Imported != 2 || res.Conflicts != 1 || res.Invalid != 1 || res.SkippedAllDay != 1 || res.SkippedRecurring != 1 {
		t.Fatalf("unexpected import result: %+v", res)
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	if got := redactURL("https://example.com/private/cal.ics?token=abcd"); got != "https://example.com/...(redacted)" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}
