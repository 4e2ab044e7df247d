/*
Package revenue attributes stays to calendar months for reporting.

PURPOSE:
  A stay can cross month (and year) boundaries. The allocator splits each
  stay into the months it touches and aggregates, per (year, month, unit):
  nights, realized revenue (nights already lived as of a reference date),
  potential revenue (all contracted nights), fixed per-stay cost and
  occupancy. Pure: the caller loads contracts and renders the result.

RULES:
  - Nights are whole days of the half-open stay [start, end).
  - A stay ending on the 1st contributes nothing to that month.
  - Realized nights are the nights before min(reference date, end).
  - The fixed per-stay cost lands only in the month containing start.
  - Occupancy uses the true month length (28..31).
  - A stay without an end date is left out until it has one.

SEE ALSO:
  - generic/period.go: OverlapNights and Months
  - report/: Spreadsheet rendering and caching of the result
*/
package revenue

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
)

// =============================================================================
// STAY
// =============================================================================

// Stay is the slice of a contract the allocator needs.
type Stay struct {
	ContractCode  string
	UnitID        string
	Start         generic.Date
	End           *generic.Date
	PricePerNight int64
	FixedCost     int64
}

// StaysFromContracts ends each stay at the actual checkout when there is one,
// otherwise at the planned checkout.
func StaysFromContracts(contracts []rental.Contract, fixedCostPerStay int64) []Stay {
	stays := make([]Stay, 0, len(contracts))
	for _, c := range contracts {
		var end *generic.Date
		switch {
		case c.ActualEndDate != nil && !c.ActualEndDate.IsZero():
			e := *c.ActualEndDate
			end = &e
		case !c.PlannedEndDate.IsZero():
			e := c.PlannedEndDate
			end = &e
		}
		stays = append(stays, Stay{
			ContractCode:  c.Code,
			UnitID:        c.UnitID,
			Start:         c.StartDate,
			End:           end,
			PricePerNight: c.PricePerNight,
			FixedCost:     fixedCostPerStay,
		})
	}
	return stays
}

// =============================================================================
// AGGREGATES
// =============================================================================

// Key identifies one aggregate row.
type Key struct {
	Year   int
	Month  time.Month
	UnitID string
}

// MonthlyAggregate is one unit's figures for one month.
type MonthlyAggregate struct {
	Year             int             `json:"year"`
	Month            time.Month      `json:"month"`
	UnitID           string          `json:"unit_id"`
	Nights           int             `json:"nights"`
	RealizedRevenue  int64           `json:"realized_revenue"`
	PotentialRevenue int64           `json:"potential_revenue"`
	FixedCost        int64           `json:"fixed_cost"`
	NetRevenue       int64           `json:"net_revenue"`
	CheckIns         int             `json:"check_ins"`
	OccupancyPct     decimal.Decimal `json:"occupancy_pct"`
}

// MonthTotal is the portfolio view of one month.
type MonthTotal struct {
	Year             int             `json:"year"`
	Month            time.Month      `json:"month"`
	Units            int             `json:"units"`
	Nights           int             `json:"nights"`
	RealizedRevenue  int64           `json:"realized_revenue"`
	PotentialRevenue int64           `json:"potential_revenue"`
	FixedCost        int64           `json:"fixed_cost"`
	NetRevenue       int64           `json:"net_revenue"`
	OccupancyPct     decimal.Decimal `json:"occupancy_pct"`
}

// Label formats the month as YYYY-MM.
func (m MonthTotal) Label() string { return monthLabel(m.Year, m.Month) }

// Label formats the month as YYYY-MM.
func (a MonthlyAggregate) Label() string { return monthLabel(a.Year, a.Month) }

func monthLabel(year int, month time.Month) string {
	return generic.StartOfMonth(year, month).String()[:7]
}

// Allocation is the result of one Allocate call.
type Allocation struct {
	ReferenceDate generic.Date
	rows          map[Key]*MonthlyAggregate
}

// =============================================================================
// ALLOCATE
// =============================================================================

// Allocate splits every stay across the months it touches.
func Allocate(stays []Stay, reference generic.Date) *Allocation {
	a := &Allocation{ReferenceDate: reference, rows: make(map[Key]*MonthlyAggregate)}
	for _, s := range stays {
		a.add(s)
	}
	return a
}

func (a *Allocation) add(s Stay) {
	if s.End == nil || s.End.IsZero() || s.Start.IsZero() {
		return
	}
	end := *s.End
	realizedEnd := generic.MinDate(a.ReferenceDate, end)

	for m := range generic.Months(s.Start, end) {
		month := m.Period
		nights := generic.OverlapNights(s.Start, end, month.Start, month.End)
		if nights == 0 {
			continue
		}
		realized := generic.OverlapNights(s.Start, realizedEnd, month.Start, month.End)

		row := a.row(Key{Year: m.Year, Month: m.Month, UnitID: s.UnitID})
		row.Nights += nights
		row.PotentialRevenue += int64(nights) * s.PricePerNight
		row.RealizedRevenue += int64(realized) * s.PricePerNight
		if month.Contains(s.Start) {
			row.FixedCost += s.FixedCost
			row.CheckIns++
		}
	}
}

func (a *Allocation) row(k Key) *MonthlyAggregate {
	if r, ok := a.rows[k]; ok {
		return r
	}
	r := &MonthlyAggregate{Year: k.Year, Month: k.Month, UnitID: k.UnitID}
	a.rows[k] = r
	return r
}

// Get returns the aggregate for one key.
func (a *Allocation) Get(year int, month time.Month, unitID string) (MonthlyAggregate, bool) {
	r, ok := a.rows[Key{Year: year, Month: month, UnitID: unitID}]
	if !ok {
		return MonthlyAggregate{}, false
	}
	return a.finish(*r), true
}

// Rows returns every aggregate, newest month first, units ascending.
func (a *Allocation) Rows() []MonthlyAggregate {
	out := make([]MonthlyAggregate, 0, len(a.rows))
	for _, r := range a.rows {
		out = append(out, a.finish(*r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].UnitID < out[j].UnitID
	})
	return out
}

func (a *Allocation) finish(r MonthlyAggregate) MonthlyAggregate {
	r.NetRevenue = r.PotentialRevenue - r.FixedCost
	r.OccupancyPct = Occupancy(r.Nights, generic.DaysInMonth(r.Year, r.Month))
	return r
}

// Months returns portfolio totals, newest month first.
func (a *Allocation) Months() []MonthTotal {
	type monthKey struct {
		year  int
		month time.Month
	}
	totals := make(map[monthKey]*MonthTotal)
	for k, r := range a.rows {
		mk := monthKey{k.Year, k.Month}
		t, ok := totals[mk]
		if !ok {
			t = &MonthTotal{Year: k.Year, Month: k.Month}
			totals[mk] = t
		}
		t.Units++
		t.Nights += r.Nights
		t.RealizedRevenue += r.RealizedRevenue
		t.PotentialRevenue += r.PotentialRevenue
		t.FixedCost += r.FixedCost
	}

	out := make([]MonthTotal, 0, len(totals))
	for _, t := range totals {
		t.NetRevenue = t.PotentialRevenue - t.FixedCost
		t.OccupancyPct = Occupancy(t.Nights, generic.DaysInMonth(t.Year, t.Month)*t.Units)
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out
}

// Occupancy returns nights/capacity as a percentage with one decimal.
// Zero capacity is 0%.
func Occupancy(nights, capacity int) decimal.Decimal {
	if capacity <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(nights)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(capacity))).
		Round(1)
}
