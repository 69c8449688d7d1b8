// Package ics renders calendar views as iCalendar feeds.
package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"churchcal/internal/calendar"
	appLog "churchcal/internal/log"
	"churchcal/internal/model"
	"churchcal/internal/recurrence"
)

const productID = "-//churchcal//calendar feed//EN"

// Mode selects how recurring events are written.
type Mode string

const (
	// ModeExpanded writes one VEVENT per generated occurrence in the window.
	ModeExpanded Mode = "expanded"
	// ModeSeries writes one VEVENT per stored event with RRULE and EXDATE.
	ModeSeries Mode = "series"
)

var ErrInvalidMode = errors.New("ics: invalid mode")

// ParseMode accepts "", expanded and series. The empty string means expanded.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeExpanded, nil
	case ModeExpanded, ModeSeries:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Export writes v as a VCALENDAR. loc is the calendar timezone used for
// all-day dates and exception instants.
func Export(w io.Writer, v *calendar.View, mode Mode, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(v.Room.Name)
	cal.SetXWRTimezone(loc.String())

	switch mode {
	case ModeSeries:
		for _, rec := range v.Records {
			addSeries(cal, rec, loc)
		}
	case ModeExpanded, "":
		for _, occ := range v.Occurrences {
			addOccurrence(cal, occ, loc)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		appLog.Error("ics export write failed", err, "room_id", v.Room.ID)
		return err
	}
	appLog.Debug("ics export completed", "room_id", v.Room.ID, "mode", string(mode),
		"occurrences", len(v.Occurrences), "records", len(v.Records))
	return nil
}

func addOccurrence(cal *ical.Calendar, occ calendar.OccurrenceView, loc *time.Location) {
	ev := cal.AddEvent(occurrenceUID(occ))
	ev.SetDtStampTime(occ.OriginalDate.UTC())
	ev.SetSummary(occ.Title)
	if occ.Description != "" {
		ev.SetDescription(occ.Description)
	}
	setRange(ev, occ.Start, occ.End, occ.AllDay, loc)
	if occ.CategoryName != nil {
		ev.AddProperty(ical.ComponentPropertyCategories, *occ.CategoryName)
	}
	if occ.IsExternal {
		ev.AddProperty(ical.ComponentProperty("X-CHURCHCAL-SOURCE"), occ.SourceRoomName)
	}
	ev.AddProperty(ical.ComponentPropertyColor, occ.Color)
}

func addSeries(cal *ical.Calendar, rec model.EventRecord, loc *time.Location) {
	ev := cal.AddEvent(rec.ID + "@churchcal")
	ev.SetDtStampTime(rec.UpdatedAt.UTC())
	ev.SetCreatedTime(rec.CreatedAt.UTC())
	ev.SetModifiedAt(rec.UpdatedAt.UTC())
	ev.SetSummary(rec.Title)
	if rec.Description != "" {
		ev.SetDescription(rec.Description)
	}
	setRange(ev, rec.Start, rec.End, rec.AllDay, loc)
	if rec.CategoryName != nil {
		ev.AddProperty(ical.ComponentPropertyCategories, *rec.CategoryName)
	}
	if rec.RRule == "" {
		return
	}
	rule, err := recurrence.Parse(rec.RRule)
	if err != nil {
		// Readers of the feed would reject it too; export the anchor only.
		appLog.Error("ics: skipping unparsable RRULE", err, "event_id", rec.ID, "rrule", rec.RRule)
		return
	}
	ev.AddRrule(rule.ExportString(loc, rec.AllDay))

	anchor := rec.Start.In(loc)
	for _, ex := range rec.Exceptions {
		if rec.AllDay {
			ev.AddExdate(ex.In(loc).Format(dateLayout), ical.WithValue(string(ical.ValueDataTypeDate)))
			continue
		}
		d := ex.In(loc)
		inst := time.Date(d.Year(), d.Month(), d.Day(), anchor.Hour(), anchor.Minute(), anchor.Second(), 0, loc)
		ev.AddExdate(inst.UTC().Format(utcLayout))
	}
}

const (
	dateLayout = "20060102"
	utcLayout  = "20060102T150405Z"
)

func setRange(ev *ical.VEvent, start, end time.Time, allDay bool, loc *time.Location) {
	if allDay {
		ev.SetAllDayStartAt(start.In(loc))
		ev.SetAllDayEndAt(end.In(loc))
		return
	}
	ev.SetStartAt(start.UTC())
	ev.SetEndAt(end.UTC())
}

// occurrenceUID is stable across exports: the event ID plus the UTC start of
// the generated occurrence.
func occurrenceUID(occ calendar.OccurrenceView) string {
	return occ.EventID + "-" + occ.OriginalDate.UTC().Format(utcLayout) + "@churchcal"
}
