package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hearingcal/internal/appointment"
	"hearingcal/internal/calendar"
	"hearingcal/internal/clock"
	"hearingcal/internal/colors"
)

var ist = time.FixedZone("IST", 5*3600+1800)

const docket = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//court//docket//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:mention-1\r\n" +
	"DTSTAMP:20261101T000000Z\r\n" +
	"DTSTART:20261103T043000Z\r\n" +
	"DTEND:20261103T053000Z\r\n" +
	"SUMMARY:Mention: State v. Kumar\r\n" +
	"LOCATION:Court A\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"DTSTAMP:20261101T000000Z\r\n" +
	"DTSTART:20261102T090000Z\r\n" +
	"DTEND:20261102T093000Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20261104T090000Z\r\n" +
	"SUMMARY:Daily board\r\n" +
	"LOCATION:Court B\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-1\r\n" +
	"DTSTAMP:20261101T000000Z\r\n" +
	"RECURRENCE-ID:20261105T090000Z\r\n" +
	"DTSTART:20261105T100000Z\r\n" +
	"DTEND:20261105T103000Z\r\n" +
	"SUMMARY:Daily board (moved)\r\n" +
	"LOCATION:Court B\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday-1\r\n" +
	"DTSTAMP:20261101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20261103\r\n" +
	"DTEND;VALUE=DATE:20261104\r\n" +
	"SUMMARY:Court holiday\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

var testFeed = Feed{Owner: "adv-rao", ID: "district", Name: "District court", URL: "https://courts.example/docket.ics?token=secret"}

func TestParse(t *testing.T) {
	events, err := Parse(testFeed, []byte(docket))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].UID != "mention-1" || events[0].Location != "Court A" || events[0].AllDay {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].RRule == "" || len(events[1].ExDates) != 1 {
		t.Errorf("recurring event = %+v", events[1])
	}
	if events[2].RecurrenceID == nil {
		t.Errorf("override missing RECURRENCE-ID")
	}
	if !events[3].AllDay {
		t.Errorf("holiday not detected as all-day")
	}

	if _, err := Parse(testFeed, nil); err == nil {
		t.Errorf("empty body accepted")
	}
}

func TestExpand(t *testing.T) {
	events, err := Parse(testFeed, []byte(docket))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	from := time.Date(2026, 11, 2, 0, 0, 0, 0, ist)
	occs, err := Expand(events, ExpandOptions{Location: ist, From: from, To: from.AddDate(0, 0, 7)})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	var board []string
	for _, o := range occs {
		if o.UID == "weekly-1" {
			board = append(board, o.Start.Format("01-02 15:04"))
		}
		if o.Start.Location() != ist {
			t.Errorf("%s not converted to display zone", o.UID)
		}
	}
	// Five daily instances, Nov 4 excluded, Nov 5 moved an hour later.
	want := []string{"11-02 14:30", "11-03 14:30", "11-05 15:30", "11-06 14:30"}
	if !slices.Equal(board, want) {
		t.Errorf("board = %v, want %v", board, want)
	}

	if _, err := Expand(events, ExpandOptions{From: from, To: from.Add(-time.Hour)}); err == nil {
		t.Errorf("reversed window accepted")
	}
}

func TestExpandWindowIsHalfOpen(t *testing.T) {
	events, _ := Parse(testFeed, []byte(docket))
	// mention-1 runs 10:00-11:00 IST on Nov 3.
	from := time.Date(2026, 11, 3, 11, 0, 0, 0, ist)
	occs, _ := Expand(events, ExpandOptions{Location: ist, From: from, To: from.Add(time.Hour)})
	for _, o := range occs {
		if o.UID == "mention-1" {
			t.Errorf("event ending at From included")
		}
	}
}

func TestFetcherUsesETagAndFallsBack(t *testing.T) {
	var (
		calls   atomic.Int32
		failing atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if failing.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(docket))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "district", URL: srv.URL + "/docket.ics"}
	ctx := context.Background()

	first, err := f.Fetch(ctx, feed)
	if err != nil || first.FromCache {
		t.Fatalf("first fetch = %+v, %v", first.FromCache, err)
	}
	second, err := f.Fetch(ctx, feed)
	if err != nil || !second.FromCache || string(second.Body) != docket {
		t.Fatalf("conditional fetch: fromCache=%v err=%v", second.FromCache, err)
	}

	failing.Store(true)
	third, err := f.Fetch(ctx, feed)
	if err != nil || !third.FromCache {
		t.Fatalf("fallback fetch: fromCache=%v err=%v", third.FromCache, err)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}

	fresh := NewFetcher(t.TempDir(), srv.Client())
	if _, err := fresh.Fetch(ctx, feed); err == nil {
		t.Errorf("failure without cache should be an error")
	}
	if n, errs := fresh.Prefetch(ctx, []Feed{feed}); n != 0 || len(errs) != 1 {
		t.Errorf("Prefetch = %d, %v", n, errs)
	}
}

func TestFeedSource(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(docket))
	}))
	defer srv.Close()

	feed := Feed{Owner: "adv-rao", ID: "district", Name: "District court", URL: srv.URL}
	clk := clock.Fake(time.Date(2026, 11, 2, 8, 0, 0, 0, ist))
	src := NewFeedSource(NewFetcher(t.TempDir(), srv.Client()), []Feed{feed}, ist, clk)

	from := time.Date(2026, 11, 3, 0, 0, 0, 0, ist)
	got, err := src.Appointments(context.Background(), "adv-rao", from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Appointments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d appointments, want 2 (holiday skipped): %+v", len(got), got)
	}
	for _, a := range got {
		if a.Kind != appointment.KindExternal || a.OwnerID != "adv-rao" || !strings.HasPrefix(a.ID, "ics:district:") {
			t.Errorf("unexpected appointment %+v", a)
		}
	}

	if _, err := src.Appointments(context.Background(), "adv-rao", from, from.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("parsed feed not reused: %d fetches", calls.Load())
	}
	clk.Advance(time.Minute)
	_, _ = src.Appointments(context.Background(), "adv-rao", from, from.AddDate(0, 0, 1))
	if calls.Load() != 2 {
		t.Errorf("expired feed not refetched: %d fetches", calls.Load())
	}

	none, err := src.Appointments(context.Background(), "someone-else", from, from.AddDate(0, 0, 1))
	if err != nil || len(none) != 0 {
		t.Errorf("other owner = %v, %v", none, err)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	a := appointment.Appointment{
		ID:            "abc",
		OwnerID:       "adv-rao",
		Kind:          appointment.KindHearing,
		Title:         "Bail hearing",
		Location:      "Court A",
		Start:         time.Date(2026, 11, 3, 10, 0, 0, 0, ist),
		End:           time.Date(2026, 11, 3, 11, 0, 0, 0, ist),
		CaseReference: "BA 112/2026",
	}
	events := slices.Values([]calendar.DisplayEvent{{Appointment: a, Color: colors.RGB(0x3f, 0x51, 0xb5)}})
	doc := Encode("Adv. Rao", events, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))

	if !strings.Contains(doc, "COLOR:#3f51b5") {
		t.Errorf("missing COLOR property:\n%s", doc)
	}
	parsed, err := Parse(Feed{ID: "export"}, []byte(doc))
	if err != nil {
		t.Fatalf("Parse exported doc: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("got %d events", len(parsed))
	}
	got := parsed[0]
	if got.UID != "abc@hearingcal" || got.Summary != "Bail hearing" || got.Location != "Court A" {
		t.Errorf("parsed = %+v", got)
	}
	if !got.Start.Equal(a.Start) || !got.End.Equal(a.End) {
		t.Errorf("times = %v..%v", got.Start, got.End)
	}
	if !strings.Contains(got.Description, "BA 112/2026") {
		t.Errorf("description = %q", got.Description)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL(testFeed.URL); got != "https://courts.example/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); strings.Contains(got, "not") {
		t.Errorf("redactURL leaked input: %q", got)
	}
}
