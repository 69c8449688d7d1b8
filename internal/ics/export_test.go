package ics

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"churchcal/internal/calendar"
	"churchcal/internal/model"
)

func testView() *calendar.View {
	start := time.Date(2024, 1, 3, 19, 30, 0, 0, time.UTC)
	series := model.EventRecord{
		Event: model.Event{
			ID:          "ev-1",
			RoomID:      "room-1",
			Title:       "Prayer meeting",
			Start:       start,
			End:         start.Add(time.Hour),
			RRule:       "FREQ=WEEKLY;BYDAY=WE",
			IsRecurring: true,
		},
		Exceptions: []time.Time{time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)},
	}
	allDay := model.EventRecord{
		Event: model.Event{
			ID:     "ev-2",
			RoomID: "room-1",
			Title:  "Retreat",
			Start:  time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC),
			End:    time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC),
			AllDay: true,
		},
	}
	return &calendar.View{
		Room:    model.Room{ID: "room-1", Name: "Central"},
		Records: []model.EventRecord{series, allDay},
		Occurrences: []calendar.OccurrenceView{
			{EventID: "ev-1", OriginalDate: start, Title: "Prayer meeting", Start: start, End: start.Add(time.Hour), Color: "#3b82f6"},
			{EventID: "ev-1", OriginalDate: start.AddDate(0, 0, 14), Title: "Prayer meeting", Start: start.AddDate(0, 0, 14), End: start.AddDate(0, 0, 14).Add(time.Hour), Color: "#3b82f6"},
			{EventID: "ev-2", OriginalDate: allDay.Start, Title: "Retreat", Start: allDay.Start, End: allDay.End, AllDay: true, Color: "#3b82f6"},
		},
	}
}

func parse(t *testing.T, body string) *ical.Calendar {
	t.Helper()
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse exported calendar: %v\n%s", err, body)
	}
	return cal
}

func TestExportExpanded(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, testView(), ModeExpanded, time.UTC); err != nil {
		t.Fatalf("export: %v", err)
	}
	cal := parse(t, buf.String())

	events := cal.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 VEVENTs, got %d", len(events))
	}
	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.Id()] {
			t.Fatalf("duplicate UID %s", ev.Id())
		}
		seen[ev.Id()] = true
		if ev.GetProperty(ical.ComponentPropertyRrule) != nil {
			t.Fatalf("expanded export must not carry RRULE")
		}
	}
	if !strings.Contains(buf.String(), "DTSTART;VALUE=DATE:20240120") {
		t.Fatalf("expected an all-day DTSTART, got:\n%s", buf.String())
	}
}

func TestExportSeries(t *testing.T) {
	var buf bytes.Buffer
	if err := Export(&buf, testView(), ModeSeries, time.UTC); err != nil {
		t.Fatalf("export: %v", err)
	}
	cal := parse(t, buf.String())

	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 VEVENTs, got %d", len(events))
	}
	var series *ical.VEvent
	for _, ev := range events {
		if ev.Id() == "ev-1@churchcal" {
			series = ev
		}
	}
	if series == nil {
		t.Fatalf("series VEVENT missing")
	}
	if p := series.GetProperty(ical.ComponentPropertyRrule); p == nil || p.Value != "FREQ=WEEKLY;BYDAY=WE" {
		t.Fatalf("unexpected RRULE %+v", p)
	}
	if p := series.GetProperty(ical.ComponentPropertyExdate); p == nil || p.Value != "20240110T193000Z" {
		t.Fatalf("unexpected EXDATE %+v", p)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"", ModeExpanded},
		{"expanded", ModeExpanded},
		{"SERIES", ModeSeries},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseMode("weekly"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestExportSeriesUntilIsLocalEndOfDay(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 22:30 in Sao Paulo is 01:30Z the next day, so the last Wednesday
	// is only kept by clients when UNTIL is shifted to 02:59:59Z.
	start := time.Date(2024, 1, 3, 22, 30, 0, 0, loc)
	timed := model.EventRecord{Event: model.Event{
		ID: "late", RoomID: "room-1", Title: "Vigil",
		Start: start, End: start.Add(time.Hour),
		RRule: "FREQ=WEEKLY;BYDAY=WE;UNTIL=20240131T235959Z", IsRecurring: true,
	}}
	allDay := model.EventRecord{Event: model.Event{
		ID: "fast", RoomID: "room-1", Title: "Fast",
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, loc), End: time.Date(2024, 1, 2, 0, 0, 0, 0, loc), AllDay: true,
		RRule: "FREQ=DAILY;UNTIL=20240105T235959Z", IsRecurring: true,
	}}
	v := &calendar.View{Room: model.Room{ID: "room-1", Name: "Central"}, Records: []model.EventRecord{timed, allDay}}

	var buf bytes.Buffer
	if err := Export(&buf, v, ModeSeries, loc); err != nil {
		t.Fatalf("export: %v", err)
	}
	want := map[string]string{
		"late@churchcal": "FREQ=WEEKLY;BYDAY=WE;UNTIL=20240201T025959Z",
		"fast@churchcal": "FREQ=DAILY;UNTIL=20240105",
	}
	for _, ev := range parse(t, buf.String()).Events() {
		p := ev.GetProperty(ical.ComponentPropertyRrule)
		if p == nil || p.Value != want[ev.Id()] {
			t.Fatalf("%s: unexpected RRULE %+v, want %s", ev.Id(), p, want[ev.Id()])
		}
	}
}
