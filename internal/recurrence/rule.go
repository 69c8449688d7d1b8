// Package recurrence implements the recurrence rule grammar used by stored
// events, occurrence expansion and series truncation.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	ErrEmptyRule       = errors.New("recurrence: empty rule")
	ErrMalformedRule   = errors.New("recurrence: malformed rule")
	ErrUnsupportedRule = errors.New("recurrence: unsupported rule")
)

// An UNTIL bound is serialized as its date followed by untilTimeSuffix;
// only the date part is significant.
const (
	untilDateFormat = "20060102"
	untilTimeSuffix = "T235959Z"
)

// Frequency is one of the supported (at most once per day) frequencies.
type Frequency int

const (
	FreqDaily Frequency = iota + 1
	FreqWeekly
	FreqMonthly
	FreqYearly
)

func (f Frequency) String() string {
	switch f {
	case FreqDaily:
		return "DAILY"
	case FreqWeekly:
		return "WEEKLY"
	case FreqMonthly:
		return "MONTHLY"
	case FreqYearly:
		return "YEARLY"
	}
	return "UNKNOWN"
}

// MonthlyKind selects how a MONTHLY rule picks its day.
type MonthlyKind int

const (
	// MonthlyAnchor repeats on the anchor's day of month (no BY* part).
	MonthlyAnchor MonthlyKind = iota
	MonthlyByMonthDay
	MonthlyByNthWeekday
)

type MonthlyMode struct {
	Kind    MonthlyKind
	Day     int // 1..31 for MonthlyByMonthDay
	Nth     int // 1..5 for MonthlyByNthWeekday
	Weekday time.Weekday
}

// EndKind selects the end bound of a series.
type EndKind int

const (
	EndNever EndKind = iota
	EndUntil
	EndCount
)

type EndBound struct {
	Kind EndKind
	// Until is the last included calendar date, at 00:00 UTC.
	Until time.Time
	Count int
}

// Rule is the parsed, validated form of a recurrence rule string.
type Rule struct {
	Freq     Frequency
	Interval int
	// Weekdays is only used by WEEKLY rules; empty means the anchor's weekday.
	Weekdays []time.Weekday
	Monthly  MonthlyMode
	End      EndBound
}

var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var supportedKeys = map[string]bool{
	"FREQ":       true,
	"INTERVAL":   true,
	"BYDAY":      true,
	"BYMONTHDAY": true,
	"UNTIL":      true,
	"COUNT":      true,
}

// Parse validates s against the supported grammar and returns its typed form.
// Value parsing is delegated to rrule-go.
func Parse(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, ErrEmptyRule
	}

	keys := make(map[string]bool)
	for _, part := range strings.Split(s, ";") {
		key, _, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			return Rule{}, fmt.Errorf("%w: bad part %q", ErrMalformedRule, part)
		}
		key = strings.ToUpper(key)
		if keys[key] {
			return Rule{}, fmt.Errorf("%w: duplicate %s", ErrMalformedRule, key)
		}
		if !supportedKeys[key] {
			return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRule, key)
		}
		keys[key] = true
	}
	if !keys["FREQ"] {
		return Rule{}, fmt.Errorf("%w: FREQ is required", ErrMalformedRule)
	}
	if keys["UNTIL"] && keys["COUNT"] {
		return Rule{}, fmt.Errorf("%w: UNTIL and COUNT are exclusive", ErrUnsupportedRule)
	}

	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrMalformedRule, err)
	}

	var r Rule
	switch opt.Freq {
	case rrule.DAILY:
		r.Freq = FreqDaily
	case rrule.WEEKLY:
		r.Freq = FreqWeekly
	case rrule.MONTHLY:
		r.Freq = FreqMonthly
	case rrule.YEARLY:
		r.Freq = FreqYearly
	default:
		return Rule{}, fmt.Errorf("%w: sub-daily frequency", ErrUnsupportedRule)
	}

	r.Interval = opt.Interval
	if !keys["INTERVAL"] {
		r.Interval = 1
	}
	if r.Interval < 1 {
		return Rule{}, fmt.Errorf("%w: INTERVAL must be >= 1", ErrMalformedRule)
	}

	switch r.Freq {
	case FreqWeekly:
		if keys["BYMONTHDAY"] {
			return Rule{}, fmt.Errorf("%w: BYMONTHDAY on WEEKLY", ErrUnsupportedRule)
		}
		for i := range opt.Byweekday {
			wd := opt.Byweekday[i]
			if wd.N() != 0 {
				return Rule{}, fmt.Errorf("%w: ordinal BYDAY on WEEKLY", ErrUnsupportedRule)
			}
			r.Weekdays = append(r.Weekdays, fromRRuleDay(wd.Day()))
		}
	case FreqMonthly:
		switch {
		case keys["BYMONTHDAY"] && keys["BYDAY"]:
			return Rule{}, fmt.Errorf("%w: BYMONTHDAY with BYDAY", ErrUnsupportedRule)
		case keys["BYMONTHDAY"]:
			if len(opt.Bymonthday) != 1 || opt.Bymonthday[0] < 1 || opt.Bymonthday[0] > 31 {
				return Rule{}, fmt.Errorf("%w: BYMONTHDAY must be one day 1..31", ErrUnsupportedRule)
			}
			r.Monthly = MonthlyMode{Kind: MonthlyByMonthDay, Day: opt.Bymonthday[0]}
		case keys["BYDAY"]:
			if len(opt.Byweekday) != 1 {
				return Rule{}, fmt.Errorf("%w: MONTHLY BYDAY must be one ordinal weekday", ErrUnsupportedRule)
			}
			wd := opt.Byweekday[0]
			if wd.N() < 1 || wd.N() > 5 {
				return Rule{}, fmt.Errorf("%w: MONTHLY BYDAY ordinal must be 1..5", ErrUnsupportedRule)
			}
			r.Monthly = MonthlyMode{Kind: MonthlyByNthWeekday, Nth: wd.N(), Weekday: fromRRuleDay(wd.Day())}
		}
	default:
		if keys["BYDAY"] || keys["BYMONTHDAY"] {
			return Rule{}, fmt.Errorf("%w: BY* parts on %s", ErrUnsupportedRule, r.Freq)
		}
	}

	switch {
	case keys["UNTIL"]:
		u := opt.Until.UTC()
		r.End = EndBound{Kind: EndUntil, Until: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
	case keys["COUNT"]:
		if opt.Count < 1 {
			return Rule{}, fmt.Errorf("%w: COUNT must be >= 1", ErrMalformedRule)
		}
		r.End = EndBound{Kind: EndCount, Count: opt.Count}
	}

	return r, nil
}

// String returns the canonical text form of the rule.
func (r Rule) String() string {
	return r.format(r.End.Until.Format(untilDateFormat) + untilTimeSuffix)
}

// ExportString is the rule as an outside calendar client must read it.
// A timed series ends at the UTC instant of 23:59:59 on its UNTIL date in
// loc; an all-day series ends on a plain DATE.
func (r Rule) ExportString(loc *time.Location, allDay bool) string {
	if r.End.Kind != EndUntil {
		return r.String()
	}
	if allDay {
		return r.format(r.End.Until.Format(untilDateFormat))
	}
	if loc == nil {
		loc = time.UTC
	}
	u := r.End.Until
	end := time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, loc)
	return r.format(end.UTC().Format("20060102T150405Z"))
}

func (r Rule) format(until string) string {
	parts := []string{"FREQ=" + r.Freq.String()}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	switch r.Freq {
	case FreqWeekly:
		if len(r.Weekdays) > 0 {
			codes := make([]string, len(r.Weekdays))
			for i, d := range r.Weekdays {
				codes[i] = weekdayCodes[d]
			}
			parts = append(parts, "BYDAY="+strings.Join(codes, ","))
		}
	case FreqMonthly:
		switch r.Monthly.Kind {
		case MonthlyByMonthDay:
			parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.Monthly.Day))
		case MonthlyByNthWeekday:
			parts = append(parts, "BYDAY="+strconv.Itoa(r.Monthly.Nth)+weekdayCodes[r.Monthly.Weekday])
		}
	}
	switch r.End.Kind {
	case EndUntil:
		parts = append(parts, "UNTIL="+until)
	case EndCount:
		parts = append(parts, "COUNT="+strconv.Itoa(r.End.Count))
	}
	return strings.Join(parts, ";")
}

// ROption converts the rule into rrule-go options anchored at dtstart.
// The UNTIL date is applied as the end of that day in dtstart's location.
func (r Rule) ROption(dtstart time.Time) rrule.ROption {
	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: r.Interval,
	}
	switch r.Freq {
	case FreqDaily:
		opt.Freq = rrule.DAILY
	case FreqWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range r.Weekdays {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	case FreqMonthly:
		opt.Freq = rrule.MONTHLY
		switch r.Monthly.Kind {
		case MonthlyByMonthDay:
			opt.Bymonthday = []int{r.Monthly.Day}
		case MonthlyByNthWeekday:
			opt.Byweekday = []rrule.Weekday{rruleWeekdays[r.Monthly.Weekday].Nth(r.Monthly.Nth)}
		}
	case FreqYearly:
		opt.Freq = rrule.YEARLY
	}
	switch r.End.Kind {
	case EndUntil:
		u := r.End.Until
		opt.Until = time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, dtstart.Location())
	case EndCount:
		opt.Count = r.End.Count
	}
	return opt
}

// TruncateBefore returns r bounded so that it stops on the calendar day
// before split (both interpreted in loc). Any previous UNTIL/COUNT is
// replaced. ok is false when no occurrence at or after anchor would remain.
func TruncateBefore(r Rule, anchor, split time.Time, loc *time.Location) (Rule, bool) {
	if r.Freq < FreqDaily || r.Freq > FreqYearly {
		// A one-day UNTIL step cannot partition a sub-daily series.
		panic("recurrence: TruncateBefore on unsupported frequency " + r.Freq.String())
	}
	splitDay := civilDate(split, loc)
	if !splitDay.After(civilDate(anchor, loc)) {
		return r, false
	}
	out := r
	out.Weekdays = append([]time.Weekday(nil), r.Weekdays...)
	out.End = EndBound{Kind: EndUntil, Until: splitDay.AddDate(0, 0, -1)}
	return out, true
}

// civilDate returns the calendar date of t in loc as 00:00 UTC.
func civilDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

func fromRRuleDay(d int) time.Weekday {
	// rrule-go numbers weekdays from Monday = 0.
	return time.Weekday((d + 1) % 7)
}
