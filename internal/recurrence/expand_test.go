package recurrence

import (
	"testing"
	"time"

	"churchcal/internal/model"
)

func recordWithRule(start time.Time, dur time.Duration, rule string) model.EventRecord {
	return model.EventRecord{Event: model.Event{
		ID:          "ev",
		Title:       "Service",
		Start:       start,
		End:         start.Add(dur),
		RRule:       rule,
		IsRecurring: rule != "",
	}}
}

func startDates(occs []model.Occurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = o.Start.Format("2006-01-02")
	}
	return out
}

func TestExpandWednesdaysUntil(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	rec := recordWithRule(start, 2*time.Hour, "FREQ=WEEKLY;BYDAY=WE;UNTIL=20251231T235959Z")
	w := Window{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}

	res := Expander{}.Expand(rec, w)
	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %s (%s)", res.Status, res.Reason)
	}
	want := []string{"2025-01-01", "2025-01-08", "2025-01-15", "2025-01-22", "2025-01-29", "2025-02-05", "2025-02-12", "2025-02-19", "2025-02-26"}
	got := startDates(res.Occurrences)
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("occurrence %d: got %s, want %s", i, got[i], want[i])
		}
		o := res.Occurrences[i]
		if o.Start.Hour() != 10 || o.End.Hour() != 12 {
			t.Fatalf("occurrence %d: expected 10:00-12:00, got %v-%v", i, o.Start, o.End)
		}
	}
}

func TestExpandDurationInvariance(t *testing.T) {
	start := time.Date(2024, 1, 31, 18, 45, 0, 0, time.UTC)
	dur := 95 * time.Minute
	w := Window{Start: start.AddDate(0, -1, 0), End: start.AddDate(1, 0, 0)}

	for _, rule := range []string{
		"FREQ=DAILY;INTERVAL=2",
		"FREQ=WEEKLY;BYDAY=MO,TH,SA",
		"FREQ=MONTHLY",
		"FREQ=MONTHLY;BYMONTHDAY=31",
		"FREQ=MONTHLY;BYDAY=5WE",
		"FREQ=YEARLY",
		"FREQ=WEEKLY;COUNT=4",
	} {
		res := Expander{}.Expand(recordWithRule(start, dur, rule), w)
		if res.Status != StatusOK || len(res.Occurrences) == 0 {
			t.Fatalf("%s: status %s with %d occurrences", rule, res.Status, len(res.Occurrences))
		}
		for _, o := range res.Occurrences {
			if got := o.End.Sub(o.Start); got != dur {
				t.Fatalf("%s: occurrence %v lasts %v, want %v", rule, o.Start, got, dur)
			}
		}
	}
}

func TestExpandSuppressesExceptions(t *testing.T) {
	// 2024-01-01 is a Monday.
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rec := recordWithRule(start, time.Hour, "FREQ=WEEKLY;BYDAY=MO")
	rec.Exceptions = []time.Time{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}

	w := Window{Start: start, End: time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)}
	got := startDates(Expander{}.Expand(rec, w).Occurrences)
	want := []string{"2024-01-01", "2024-01-08", "2024-01-22", "2024-01-29"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestExpandExceptionsMatchCalendarDateInLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	// 21:00 local is 00:00 UTC on the next day.
	start := time.Date(2025, 1, 1, 21, 0, 0, 0, loc)
	rec := recordWithRule(start, time.Hour, "FREQ=WEEKLY")
	rec.Exceptions = []time.Time{time.Date(2025, 1, 8, 0, 0, 0, 0, loc)}

	x := Expander{Location: loc}
	w := Window{Start: start, End: start.AddDate(0, 0, 20)}
	got := startDates(x.Expand(rec, w).Occurrences)
	if len(got) != 2 || got[0] != "2025-01-01" || got[1] != "2025-01-15" {
		t.Fatalf("expected 01-01 and 01-15 in local dates, got %v", got)
	}
}

func TestExpandSplitPartition(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	split := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	w := Window{Start: anchor.AddDate(0, -1, 0), End: anchor.AddDate(2, 0, 0)}

	rule, err := Parse("FREQ=WEEKLY")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	head, ok := TruncateBefore(rule, anchor, split, time.UTC)
	if !ok {
		t.Fatal("expected a non-empty head series")
	}

	x := Expander{}
	old := x.Expand(recordWithRule(anchor, time.Hour, head.String()), w).Occurrences
	tail := x.Expand(recordWithRule(split, time.Hour, rule.String()), w).Occurrences

	if len(old) == 0 || len(tail) == 0 {
		t.Fatalf("expected both series to generate, got %d and %d", len(old), len(tail))
	}
	if last := old[len(old)-1].Start.Format("2006-01-02"); last != "2024-02-26" {
		t.Fatalf("expected head to end on 2024-02-26, got %s", last)
	}
	for _, o := range old {
		if !o.Start.Before(split) {
			t.Fatalf("head generated %v at or after the split", o.Start)
		}
	}
	if first := tail[0].Start; !first.Equal(split) {
		t.Fatalf("expected tail to start on the split, got %v", first)
	}
	for _, o := range tail {
		if o.Start.Before(split) {
			t.Fatalf("tail generated %v before the split", o.Start)
		}
	}
}

func TestExpandNonRecurring(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	res := Expander{}.Expand(recordWithRule(start, 2*time.Hour, ""), Window{Start: start.AddDate(-1, 0, 0), End: start.AddDate(1, 0, 0)})
	if res.Status != StatusOK || len(res.Occurrences) != 1 {
		t.Fatalf("expected one ok occurrence, got %s/%d", res.Status, len(res.Occurrences))
	}
	o := res.Occurrences[0]
	if !o.Start.Equal(start) || !o.End.Equal(start.Add(2*time.Hour)) || !o.OriginalDate.Equal(start) {
		t.Fatalf("unexpected occurrence %+v", o)
	}
}

func TestExpandDegradesOnBadRule(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	res := Expander{}.Expand(recordWithRule(start, time.Hour, "FREQ=SOMETIMES"), DefaultWindow(start))
	if res.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", res.Status)
	}
	if len(res.Occurrences) != 1 || !res.Occurrences[0].Start.Equal(start) || res.Reason == "" {
		t.Fatalf("expected the base occurrence with a reason, got %+v", res)
	}
}

func TestExpandFailsOnInvalidRecord(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := recordWithRule(start, -time.Hour, "")
	res := Expander{}.Expand(rec, DefaultWindow(start))
	if res.Status != StatusFailed || len(res.Occurrences) != 0 {
		t.Fatalf("expected failed with nothing, got %s/%d", res.Status, len(res.Occurrences))
	}
}

func TestExpandCap(t *testing.T) {
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	x := Expander{MaxOccurrencesPerEvent: 3}
	res := x.Expand(recordWithRule(start, time.Hour, "FREQ=DAILY"), Window{Start: start, End: start.AddDate(0, 1, 0)})
	if len(res.Occurrences) != 3 || !res.Truncated {
		t.Fatalf("expected 3 truncated occurrences, got %d (truncated=%v)", len(res.Occurrences), res.Truncated)
	}
}

func TestExpandAllDaySpansWholeDays(t *testing.T) {
	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	rec := recordWithRule(start, 48*time.Hour, "FREQ=WEEKLY;COUNT=3")
	rec.AllDay = true

	res := Expander{}.Expand(rec, Window{Start: start, End: start.AddDate(0, 2, 0)})
	if len(res.Occurrences) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(res.Occurrences))
	}
	for _, o := range res.Occurrences {
		if o.Start.Hour() != 0 || o.End.Sub(o.Start) != 48*time.Hour || !o.AllDay {
			t.Fatalf("unexpected all-day occurrence %v-%v", o.Start, o.End)
		}
	}
}

func TestExpandAllCountsOutcomes(t *testing.T) {
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	good := recordWithRule(start, time.Hour, "FREQ=DAILY;COUNT=2")
	bad := recordWithRule(start, time.Hour, "FREQ=NOPE")
	bad.ID = "bad"
	broken := recordWithRule(start, -time.Minute, "")
	broken.ID = "broken"

	b, err := Expander{}.ExpandAll([]model.EventRecord{good, bad, broken}, DefaultWindow(start))
	if err != nil {
		t.Fatalf("ExpandAll: %v", err)
	}
	if len(b.Occurrences) != 3 {
		t.Fatalf("expected 2+1 occurrences, got %d", len(b.Occurrences))
	}
	if len(b.Degraded) != 1 || b.Degraded[0] != "bad" || len(b.Failed) != 1 || b.Failed[0] != "broken" {
		t.Fatalf("unexpected outcome lists degraded=%v failed=%v", b.Degraded, b.Failed)
	}

	if _, err := (Expander{}).ExpandAll(nil, Window{Start: start, End: start.Add(-time.Hour)}); err == nil {
		t.Fatal("expected an error for a reversed window")
	}
}

func TestOccursOn(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rec := recordWithRule(start, time.Hour, "FREQ=WEEKLY;BYDAY=MO")
	x := Expander{}

	if !x.OccursOn(rec, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected a Monday occurrence")
	}
	if x.OccursOn(rec, time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)) {
		t.Fatal("did not expect a Tuesday occurrence")
	}
	if x.OccursOn(rec, time.Date(2023, 12, 25, 9, 0, 0, 0, time.UTC)) {
		t.Fatal("did not expect an occurrence before the anchor")
	}

	single := recordWithRule(start, time.Hour, "")
	if !x.OccursOn(single, start) || x.OccursOn(single, start.AddDate(0, 0, 1)) {
		t.Fatal("single event must occur only on its own date")
	}
}

func TestWindowOverlaps(t *testing.T) {
	w := Window{Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)}
	at := func(m time.Month, d, h int) time.Time { return time.Date(2024, m, d, h, 0, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", at(6, 10, 9), at(6, 10, 11), true},
		{"months before", at(1, 10, 10), at(1, 10, 12), false},
		{"after", at(7, 1, 10), at(7, 1, 12), false},
		{"spans start", at(5, 31, 22), at(6, 1, 2), true},
		{"ends on start", at(5, 31, 0), at(6, 1, 0), false},
		{"instant inside", at(6, 5, 8), at(6, 5, 8), true},
		{"instant on start", w.Start, w.Start, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Overlaps(tt.start, tt.end); got != tt.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestWindowClamp(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limit := WindowAround(now, 1, 2)

	got := Window{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC)}.Clamp(limit)
	if !got.Start.Equal(limit.Start) || !got.End.Equal(limit.End) {
		t.Fatalf("expected the limit itself, got %v..%v", got.Start, got.End)
	}

	inner := Window{Start: now, End: now.AddDate(0, 1, 0)}
	if got := inner.Clamp(limit); got != inner {
		t.Fatalf("inner window changed: %v..%v", got.Start, got.End)
	}

	past := Window{Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)}.Clamp(limit)
	if !past.Start.Equal(limit.Start) || !past.End.Equal(limit.Start) {
		t.Fatalf("expected a window collapsed on the lower edge, got %v..%v", past.Start, past.End)
	}

	future := Window{Start: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)}.Clamp(limit)
	if !future.Start.Equal(limit.End) || !future.End.Equal(limit.End) {
		t.Fatalf("expected a window collapsed on the upper edge, got %v..%v", future.Start, future.End)
	}
}

func TestSuppressed(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	x := Expander{Location: loc}
	start := time.Date(2024, 1, 1, 19, 0, 0, 0, loc)
	rec := recordWithRule(start, time.Hour, "FREQ=WEEKLY")
	rec.Exceptions = []time.Time{time.Date(2024, 1, 8, 0, 0, 0, 0, loc).UTC()}

	if !x.Suppressed(rec, time.Date(2024, 1, 8, 19, 0, 0, 0, loc)) {
		t.Fatal("expected 2024-01-08 to be suppressed")
	}
	if x.Suppressed(rec, time.Date(2024, 1, 15, 19, 0, 0, 0, loc)) {
		t.Fatal("2024-01-15 carries no exception")
	}
}
