package recurrence

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "churchcal/internal/log"
	"churchcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	dateKeyLayout                 = "2006-01-02"
)

// Status classifies the outcome of expanding one event.
type Status int

const (
	StatusOK Status = iota
	// StatusDegraded means the rule could not be used and the base
	// occurrence was emitted instead.
	StatusDegraded
	// StatusFailed means the record itself is invalid; nothing was emitted.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Window is an inclusive time range for occurrences.
type Window struct {
	Start time.Time
	End   time.Time
}

// DefaultWindow is one year back to two years ahead of now.
func DefaultWindow(now time.Time) Window {
	return WindowAround(now, 1, 2)
}

func WindowAround(now time.Time, pastYears, futureYears int) Window {
	return Window{Start: now.AddDate(-pastYears, 0, 0), End: now.AddDate(futureYears, 0, 0)}
}

// Overlaps reports whether the range [start, end) meets w. A zero-length
// range counts when its instant lies inside w.
func (w Window) Overlaps(start, end time.Time) bool {
	if start.After(w.End) {
		return false
	}
	if end.After(w.Start) {
		return true
	}
	return end.Equal(start) && !start.Before(w.Start)
}

// Clamp returns w narrowed to limit. A window entirely outside limit
// collapses onto the nearest edge.
func (w Window) Clamp(limit Window) Window {
	if w.Start.Before(limit.Start) {
		w.Start = limit.Start
	}
	if w.End.After(limit.End) {
		w.End = limit.End
	}
	if w.Start.After(limit.End) {
		w.Start = limit.End
	}
	if w.End.Before(w.Start) {
		w.End = w.Start
	}
	return w
}

// Expander controls how recurrence expansion is performed.
type Expander struct {
	// Location is the calendar timezone: weekdays, month days, UNTIL dates
	// and exception dates are all evaluated there. If nil, UTC is used.
	Location *time.Location

	// MaxOccurrencesPerEvent is a safety cap to avoid extremely large
	// expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Result is the outcome of expanding one event.
type Result struct {
	Status      Status
	Occurrences []model.Occurrence
	// Reason explains a degraded or failed expansion.
	Reason string
	// Truncated reports that MaxOccurrencesPerEvent was hit.
	Truncated bool
}

func (x Expander) location() *time.Location {
	if x.Location == nil {
		return time.UTC
	}
	return x.Location
}

func (x Expander) limit() int {
	if x.MaxOccurrencesPerEvent <= 0 {
		return defaultMaxOccurrencesPerEvent
	}
	return x.MaxOccurrencesPerEvent
}

// Expand turns one stored event into its concrete occurrences within w.
//
//   - Non-recurring events yield exactly their own (Start, End).
//   - Recurring events are generated from their rule anchored at Start;
//     each occurrence keeps the event's duration and any start whose
//     calendar date carries an exception is suppressed.
//   - A rule that cannot be parsed degrades to the base occurrence.
//
// Expand never panics on bad input and keeps no state between calls.
func (x Expander) Expand(rec model.EventRecord, w Window) Result {
	if rec.End.Before(rec.Start) {
		appLog.Error("expand: event ends before it starts", errInvalidRange, "event_id", rec.ID)
		return Result{Status: StatusFailed, Reason: errInvalidRange.Error()}
	}
	if w.End.Before(w.Start) {
		return Result{Status: StatusFailed, Reason: errInvalidWindow.Error()}
	}

	if rec.RRule == "" {
		return Result{Status: StatusOK, Occurrences: []model.Occurrence{x.makeOccurrence(rec, rec.Start, rec.End)}}
	}

	rule, err := Parse(rec.RRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "event_id", rec.ID, "rrule", rec.RRule)
		return Result{
			Status:      StatusDegraded,
			Occurrences: []model.Occurrence{x.makeOccurrence(rec, rec.Start, rec.End)},
			Reason:      err.Error(),
		}
	}

	return x.expandRule(rec, rule, w)
}

func (x Expander) expandRule(rec model.EventRecord, rule Rule, w Window) Result {
	loc := x.location()

	r, err := rrule.NewRRule(rule.ROption(rec.Start.In(loc)))
	if err != nil {
		appLog.Error("expand: failed to build RRULE", err, "event_id", rec.ID, "rrule", rec.RRule)
		return Result{
			Status:      StatusDegraded,
			Occurrences: []model.Occurrence{x.makeOccurrence(rec, rec.Start, rec.End)},
			Reason:      err.Error(),
		}
	}

	skip := make(map[string]bool, len(rec.Exceptions))
	for _, ex := range rec.Exceptions {
		skip[ex.In(loc).Format(dateKeyLayout)] = true
	}

	occTimes := r.Between(w.Start.In(loc), w.End.In(loc), true)

	res := Result{Status: StatusOK, Occurrences: make([]model.Occurrence, 0, len(occTimes))}
	dur := rec.Duration()
	spanDays := calendarDays(rec.Start.In(loc), rec.End.In(loc))

	for _, occStart := range occTimes {
		if skip[occStart.Format(dateKeyLayout)] {
			continue
		}
		if len(res.Occurrences) == x.limit() {
			res.Truncated = true
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"event_id", rec.ID,
				"cap", x.limit(),
			)
			break
		}

		var occEnd time.Time
		if rec.AllDay {
			// All-day: whole calendar days, independent of DST shifts.
			occStart = startOfDay(occStart)
			occEnd = occStart.AddDate(0, 0, spanDays)
		} else {
			// Preserve original duration.
			occEnd = occStart.Add(dur)
		}
		res.Occurrences = append(res.Occurrences, x.makeOccurrence(rec, occStart, occEnd))
	}

	return res
}

// ExpandAll expands every record and concatenates the occurrences.
// Degraded and failed records are counted; they never abort the batch.
func (x Expander) ExpandAll(recs []model.EventRecord, w Window) (Batch, error) {
	var b Batch
	if w.End.Before(w.Start) {
		return b, errInvalidWindow
	}
	for _, rec := range recs {
		res := x.Expand(rec, w)
		switch res.Status {
		case StatusDegraded:
			b.Degraded = append(b.Degraded, rec.ID)
		case StatusFailed:
			b.Failed = append(b.Failed, rec.ID)
		}
		if res.Truncated {
			b.Truncated = append(b.Truncated, rec.ID)
		}
		b.Occurrences = append(b.Occurrences, res.Occurrences...)
	}
	return b, nil
}

// Batch aggregates the expansion of many events.
type Batch struct {
	Occurrences []model.Occurrence
	Degraded    []string
	Failed      []string
	Truncated   []string
}

// OccursOn reports whether rec generates an occurrence starting on the
// calendar date of day. Exceptions are not consulted.
func (x Expander) OccursOn(rec model.EventRecord, day time.Time) bool {
	loc := x.location()
	d := day.In(loc)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1).Add(-time.Nanosecond)

	if rec.RRule == "" {
		s := rec.Start.In(loc)
		return !s.Before(from) && !s.After(to)
	}
	rule, err := Parse(rec.RRule)
	if err != nil {
		return false
	}
	r, err := rrule.NewRRule(rule.ROption(rec.Start.In(loc)))
	if err != nil {
		return false
	}
	return len(r.Between(from, to, true)) > 0
}

// Suppressed reports whether rec carries an exception on the calendar date
// of day.
func (x Expander) Suppressed(rec model.EventRecord, day time.Time) bool {
	key := x.DateKey(day)
	for _, ex := range rec.Exceptions {
		if x.DateKey(ex) == key {
			return true
		}
	}
	return false
}

// DateKey is the calendar-date identity used to match exceptions.
func (x Expander) DateKey(t time.Time) string {
	return t.In(x.location()).Format(dateKeyLayout)
}

// StartOfDay returns local midnight of t's calendar date in the calendar
// timezone.
func (x Expander) StartOfDay(t time.Time) time.Time {
	return startOfDay(t.In(x.location()))
}

// makeOccurrence converts an event + specific start/end time into a
// model.Occurrence normalized into the calendar timezone.
func (x Expander) makeOccurrence(rec model.EventRecord, start, end time.Time) model.Occurrence {
	loc := x.location()
	startLocal := start.In(loc)

	return model.Occurrence{
		EventID:      rec.ID,
		InstanceKey:  startLocal.Format(time.RFC3339Nano),
		OriginalDate: startLocal,
		Title:        rec.Title,
		Description:  rec.Description,
		AllDay:       rec.AllDay,
		Start:        startLocal,
		End:          end.In(loc),
	}
}

var (
	errInvalidRange  = errors.New("expand: event end is before start")
	errInvalidWindow = errors.New("expand: window end is before start")
)

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// calendarDays counts the calendar days covered by an all-day range,
// treating an end at local midnight as exclusive. It is at least 1.
func calendarDays(start, end time.Time) int {
	s := civilDate(start, start.Location())
	e := civilDate(end, end.Location())
	if !end.Equal(startOfDay(end)) {
		e = e.AddDate(0, 0, 1)
	}
	n := int(e.Sub(s).Hours() / 24)
	if n < 1 {
		n = 1
	}
	return n
}
