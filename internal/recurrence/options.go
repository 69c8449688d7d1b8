package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Form-level frequency values. FreqNone means "does not repeat".
const (
	OptFreqNone    = "NONE"
	OptFreqDaily   = "DAILY"
	OptFreqWeekly  = "WEEKLY"
	OptFreqMonthly = "MONTHLY"
	OptFreqYearly  = "YEARLY"

	MonthlyModeDay = "day"
	MonthlyModePos = "pos"

	EndTypeNever = "never"
	EndTypeDate  = "date"
	EndTypeCount = "count"

	untilDateLayout = "2006-01-02"
	defaultCount    = 13
)

// Options mirrors the recurrence builder of the event form.
type Options struct {
	Freq        string   `json:"freq"`
	Interval    int      `json:"interval"`
	ByDay       []string `json:"by_day"`
	MonthlyMode string   `json:"monthly_mode"`
	EndType     string   `json:"end_type"`
	Until       string   `json:"until"`
	Count       int      `json:"count"`
}

// DefaultOptions is the state of an empty builder.
func DefaultOptions() Options {
	return Options{
		Freq:        OptFreqNone,
		Interval:    1,
		ByDay:       []string{},
		MonthlyMode: MonthlyModeDay,
		EndType:     EndTypeNever,
		Count:       defaultCount,
	}
}

// RuleFromOptions builds the rule the options describe. anchor is the event
// start in the calendar timezone; MONTHLY rules derive their day from it.
// ok is false for OptFreqNone.
func RuleFromOptions(anchor time.Time, o Options) (r Rule, ok bool, err error) {
	switch strings.ToUpper(o.Freq) {
	case "", OptFreqNone:
		return Rule{}, false, nil
	case OptFreqDaily:
		r.Freq = FreqDaily
	case OptFreqWeekly:
		r.Freq = FreqWeekly
	case OptFreqMonthly:
		r.Freq = FreqMonthly
	case OptFreqYearly:
		r.Freq = FreqYearly
	default:
		return Rule{}, false, fmt.Errorf("%w: frequency %q", ErrUnsupportedRule, o.Freq)
	}

	r.Interval = o.Interval
	if r.Interval < 1 {
		r.Interval = 1
	}

	switch r.Freq {
	case FreqWeekly:
		for _, code := range o.ByDay {
			d, found := weekdayFromCode(code)
			if !found {
				return Rule{}, false, fmt.Errorf("%w: weekday %q", ErrMalformedRule, code)
			}
			r.Weekdays = append(r.Weekdays, d)
		}
	case FreqMonthly:
		if o.MonthlyMode == MonthlyModePos {
			r.Monthly = MonthlyMode{
				Kind:    MonthlyByNthWeekday,
				Nth:     (anchor.Day() + 6) / 7,
				Weekday: anchor.Weekday(),
			}
		} else {
			r.Monthly = MonthlyMode{Kind: MonthlyByMonthDay, Day: anchor.Day()}
		}
	}

	switch o.EndType {
	case EndTypeDate:
		if o.Until != "" {
			u, perr := time.Parse(untilDateLayout, o.Until)
			if perr != nil {
				return Rule{}, false, fmt.Errorf("%w: until %q", ErrMalformedRule, o.Until)
			}
			r.End = EndBound{Kind: EndUntil, Until: u}
		}
	case EndTypeCount:
		if o.Count > 0 {
			r.End = EndBound{Kind: EndCount, Count: o.Count}
		}
	}

	return r, true, nil
}

// BuildRuleString returns the canonical rule string for o, or "" when the
// event does not repeat.
func BuildRuleString(anchor time.Time, o Options) (string, error) {
	r, ok, err := RuleFromOptions(anchor, o)
	if err != nil || !ok {
		return "", err
	}
	return r.String(), nil
}

// ParseRuleString is the inverse of BuildRuleString, used to populate the
// edit form. An empty string yields DefaultOptions.
func ParseRuleString(s string) (Options, error) {
	o := DefaultOptions()
	if strings.TrimSpace(s) == "" {
		return o, nil
	}
	r, err := Parse(s)
	if err != nil {
		return o, err
	}
	return r.Options(), nil
}

// Options returns the form representation of the rule.
func (r Rule) Options() Options {
	o := DefaultOptions()
	o.Freq = r.Freq.String()
	o.Interval = r.Interval
	if r.Freq == FreqWeekly {
		for _, d := range r.Weekdays {
			o.ByDay = append(o.ByDay, weekdayCodes[d])
		}
	}
	if r.Freq == FreqMonthly && r.Monthly.Kind == MonthlyByNthWeekday {
		o.MonthlyMode = MonthlyModePos
	}
	switch r.End.Kind {
	case EndUntil:
		o.EndType = EndTypeDate
		o.Until = r.End.Until.Format(untilDateLayout)
	case EndCount:
		o.EndType = EndTypeCount
		o.Count = r.End.Count
	}
	return o
}

func weekdayFromCode(code string) (time.Weekday, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, c := range weekdayCodes {
		if c == code {
			return time.Weekday(i), true
		}
	}
	return 0, false
}
