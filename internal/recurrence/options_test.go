package recurrence

import (
	"slices"
	"testing"
	"time"
)

func sameOptions(a, b Options) bool {
	return a.Freq == b.Freq &&
		a.Interval == b.Interval &&
		slices.Equal(a.ByDay, b.ByDay) &&
		a.MonthlyMode == b.MonthlyMode &&
		a.EndType == b.EndType &&
		a.Until == b.Until &&
		a.Count == b.Count
}

func TestBuildRuleString(t *testing.T) {
	// 2024-03-13 is the second Wednesday of March.
	anchor := time.Date(2024, 3, 13, 19, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"none", DefaultOptions(), ""},
		{"daily", Options{Freq: OptFreqDaily, Interval: 1}, "FREQ=DAILY"},
		{"interval zero", Options{Freq: OptFreqDaily}, "FREQ=DAILY"},
		{"weekly days", Options{Freq: OptFreqWeekly, Interval: 2, ByDay: []string{"MO", "we"}}, "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE"},
		{"monthly day", Options{Freq: OptFreqMonthly, Interval: 1, MonthlyMode: MonthlyModeDay}, "FREQ=MONTHLY;BYMONTHDAY=13"},
		{"monthly pos", Options{Freq: OptFreqMonthly, Interval: 1, MonthlyMode: MonthlyModePos}, "FREQ=MONTHLY;BYDAY=2WE"},
		{"until", Options{Freq: OptFreqYearly, Interval: 1, EndType: EndTypeDate, Until: "2030-03-13"}, "FREQ=YEARLY;UNTIL=20300313T235959Z"},
		{"count", Options{Freq: OptFreqDaily, Interval: 1, EndType: EndTypeCount, Count: 5}, "FREQ=DAILY;COUNT=5"},
		{"date without value", Options{Freq: OptFreqDaily, Interval: 1, EndType: EndTypeDate}, "FREQ=DAILY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildRuleString(anchor, tt.opts)
			if err != nil {
				t.Fatalf("BuildRuleString: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildRuleStringRejects(t *testing.T) {
	anchor := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	for _, o := range []Options{
		{Freq: "HOURLY"},
		{Freq: OptFreqWeekly, ByDay: []string{"XX"}},
		{Freq: OptFreqDaily, EndType: EndTypeDate, Until: "13/03/2024"},
	} {
		if _, err := BuildRuleString(anchor, o); err == nil {
			t.Fatalf("expected error for %+v", o)
		}
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	anchor := time.Date(2024, 3, 13, 19, 30, 0, 0, time.UTC)
	window := Window{Start: anchor.AddDate(0, 0, -1), End: anchor.AddDate(2, 0, 0)}
	x := Expander{}

	withDefaults := func(mutate func(*Options)) Options {
		o := DefaultOptions()
		mutate(&o)
		return o
	}

	cases := []Options{
		withDefaults(func(o *Options) { o.Freq = OptFreqDaily; o.Interval = 3 }),
		withDefaults(func(o *Options) { o.Freq = OptFreqWeekly; o.ByDay = []string{"MO", "WE", "FR"} }),
		withDefaults(func(o *Options) { o.Freq = OptFreqWeekly; o.Interval = 2 }),
		withDefaults(func(o *Options) { o.Freq = OptFreqMonthly }),
		withDefaults(func(o *Options) { o.Freq = OptFreqMonthly; o.MonthlyMode = MonthlyModePos }),
		withDefaults(func(o *Options) {
			o.Freq = OptFreqYearly
			o.EndType = EndTypeDate
			o.Until = "2025-12-31"
		}),
		withDefaults(func(o *Options) {
			o.Freq = OptFreqWeekly
			o.ByDay = []string{"SU"}
			o.EndType = EndTypeCount
			o.Count = 8
		}),
	}

	for _, in := range cases {
		s, err := BuildRuleString(anchor, in)
		if err != nil {
			t.Fatalf("BuildRuleString(%+v): %v", in, err)
		}
		out, err := ParseRuleString(s)
		if err != nil {
			t.Fatalf("ParseRuleString(%q): %v", s, err)
		}
		if !sameOptions(in, out) {
			t.Fatalf("round trip of %q: got %+v, want %+v", s, out, in)
		}

		// Same effective semantics: identical occurrence sets.
		again, err := BuildRuleString(anchor, out)
		if err != nil {
			t.Fatalf("BuildRuleString(%+v): %v", out, err)
		}
		a := x.Expand(recordWithRule(anchor, time.Hour, s), window)
		b := x.Expand(recordWithRule(anchor, time.Hour, again), window)
		if len(a.Occurrences) != len(b.Occurrences) {
			t.Fatalf("occurrence counts differ for %q: %d vs %d", s, len(a.Occurrences), len(b.Occurrences))
		}
		for i := range a.Occurrences {
			if !a.Occurrences[i].Start.Equal(b.Occurrences[i].Start) {
				t.Fatalf("occurrence %d differs for %q", i, s)
			}
		}
	}
}

func TestParseRuleStringEmpty(t *testing.T) {
	o, err := ParseRuleString("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sameOptions(o, DefaultOptions()) {
		t.Fatalf("expected defaults, got %+v", o)
	}
}
