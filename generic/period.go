package generic

import (
	"iter"
	"time"
)

// =============================================================================
// PERIOD - Half-open interval of nights
// =============================================================================

// Period is the half-open interval [Start, End) measured in whole days.
// A stay from the 1st to the 3rd is two nights: the 1st and the 2nd.
//
// Examples:
//   - Stay:  check-in 2024-01-25, check-out 2024-02-05 -> 11 nights
//   - Month: January 2024 is [2024-01-01, 2024-02-01) -> 31 nights
type Period struct {
	Start Date
	End   Date
}

// Nights returns the length of the period, never negative.
func (p Period) Nights() int {
	return OverlapNights(p.Start, p.End, p.Start, p.End)
}

// Contains reports whether night d falls inside [Start, End).
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.Before(p.End)
}

// IsEmpty is true for zero-length and inverted periods.
func (p Period) IsEmpty() bool { return !p.Start.Before(p.End) }

// Overlap returns the number of nights p shares with other.
func (p Period) Overlap(other Period) int {
	return OverlapNights(p.Start, p.End, other.Start, other.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + ")"
}

// MonthPeriod returns the calendar month as [1st, 1st of next month).
func MonthPeriod(year int, month time.Month) Period {
	start := StartOfMonth(year, month)
	return Period{Start: start, End: start.AddMonths(1)}
}

// =============================================================================
// DATE OVERLAP - Shared by settlement and revenue allocation
// =============================================================================

// OverlapNights counts the nights shared by [aStart, aEnd) and [bStart, bEnd).
// It is total: inverted or disjoint intervals yield 0.
func OverlapNights(aStart, aEnd, bStart, bEnd Date) int {
	lo := MaxDate(aStart, bStart)
	hi := MinDate(aEnd, bEnd)
	if n := DaysBetween(lo, hi); n > 0 {
		return n
	}
	return 0
}

// =============================================================================
// MONTH WALK
// =============================================================================

// MonthSpan is one calendar month produced by Months.
type MonthSpan struct {
	Year   int
	Month  time.Month
	Period Period
}

// Days is the true length of the month.
func (m MonthSpan) Days() int { return DaysInMonth(m.Year, m.Month) }

// Months yields the calendar months starting with the month containing from
// and continuing while the month starts before to. A to that falls exactly on
// the 1st therefore does not produce that month. The sequence is finite and
// can be ranged over any number of times.
func Months(from, to Date) iter.Seq[MonthSpan] {
	return func(yield func(MonthSpan) bool) {
		if from.IsZero() || to.IsZero() {
			return
		}
		for cur := from.StartOfMonth(); cur.Before(to); cur = cur.AddMonths(1) {
			span := MonthSpan{
				Year:   cur.Year(),
				Month:  cur.Month(),
				Period: MonthPeriod(cur.Year(), cur.Month()),
			}
			if !yield(span) {
				return
			}
		}
	}
}
