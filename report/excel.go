package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
	"github.com/warp/stay-engine/revenue"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of every workbook written here.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const defaultSheet = "Sheet1"

// FinanceReport is the allocation as served and cached: per-unit rows and
// portfolio totals, both newest month first.
type FinanceReport struct {
	AsOf             generic.Date               `json:"as_of"`
	FixedCostPerStay int64                      `json:"fixed_cost_per_stay"`
	Rows             []revenue.MonthlyAggregate `json:"rows"`
	Months           []revenue.MonthTotal       `json:"months"`
}

// NewFinanceReport flattens an allocation.
func NewFinanceReport(a *revenue.Allocation, fixedCostPerStay int64) FinanceReport {
	return FinanceReport{
		AsOf:             a.ReferenceDate,
		FixedCostPerStay: fixedCostPerStay,
		Rows:             a.Rows(),
		Months:           a.Months(),
	}
}

// =============================================================================
// FINANCE
// =============================================================================

var financeHeader = []any{"Unit", "Nights", "Realized", "Potential", "Fixed cost", "Net", "Occupancy %", "Check-ins"}

// WriteFinanceWorkbook writes one sheet per month, newest first, each ending
// with a portfolio total row.
func WriteFinanceWorkbook(w io.Writer, r FinanceReport) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	byMonth := make(map[string][]revenue.MonthlyAggregate)
	for _, row := range r.Rows {
		byMonth[row.Label()] = append(byMonth[row.Label()], row)
	}

	if len(r.Months) == 0 {
		if err := f.SetSheetName(defaultSheet, "Finance"); err != nil {
			return err
		}
		if err := writeHeader(f, "Finance", financeHeader, bold); err != nil {
			return err
		}
		return f.Write(w)
	}

	for i, m := range r.Months {
		sheet := m.Label()
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
		if err := writeHeader(f, sheet, financeHeader, bold); err != nil {
			return err
		}

		line := 2
		for _, row := range byMonth[sheet] {
			if err := setRow(f, sheet, line, []any{
				row.UnitID, row.Nights, row.RealizedRevenue, row.PotentialRevenue,
				row.FixedCost, row.NetRevenue, row.OccupancyPct.InexactFloat64(), row.CheckIns,
			}); err != nil {
				return err
			}
			line++
		}

		total := []any{"Total", m.Nights, m.RealizedRevenue, m.PotentialRevenue,
			m.FixedCost, m.NetRevenue, m.OccupancyPct.InexactFloat64()}
		if err := setRow(f, sheet, line, total); err != nil {
			return err
		}
		if err := styleRow(f, sheet, line, len(total), bold); err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, "A", "H", 14); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

// =============================================================================
// STATS
// =============================================================================

var contractsHeader = []any{
	"Code", "Unit", "Client", "Document", "Address", "Email", "Phone",
	"Start", "End", "Nights", "Price / night", "Total", "Deposit", "Checkout time", "Status",
}

// WriteStatsWorkbook writes a Summary sheet and a Contracts sheet listing
// every contract, newest start first.
func WriteStatsWorkbook(w io.Writer, s revenue.Summary, contracts []rental.Contract) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	const summary = "Summary"
	if err := f.SetSheetName(defaultSheet, summary); err != nil {
		return err
	}
	first := ""
	if !s.FirstContract.IsZero() {
		first = s.FirstContract.String()
	}
	lines := [][]any{
		{"Total income", s.TotalIncome},
		{"Total nights", s.TotalNights},
		{"First contract", first},
		{"Contracts", s.Contracts},
		{"Active on " + s.ActiveOn.String(), s.Active},
	}
	for i, l := range lines {
		if err := setRow(f, summary, i+1, l); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summary, "A1", fmt.Sprintf("A%d", len(lines)), bold); err != nil {
		return err
	}
	if err := f.SetColWidth(summary, "A", "B", 30); err != nil {
		return err
	}

	const sheet = "Contracts"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := writeHeader(f, sheet, contractsHeader, bold); err != nil {
		return err
	}

	sorted := append([]rental.Contract(nil), contracts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartDate.After(sorted[j].StartDate) })

	for i, c := range sorted {
		status := "open"
		if c.IsClosed {
			status = "closed"
		}
		if err := setRow(f, sheet, i+2, []any{
			c.Code, c.UnitID, c.ClientName, c.ClientDocument, c.ClientAddress, c.ClientEmail, c.ClientPhone,
			c.StartDate.String(), c.PlannedEndDate.String(), c.TotalNights, c.PricePerNight, c.TotalPrice,
			c.Deposit, c.CheckoutTime, status,
		}); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheet, "A", "O", 18); err != nil {
		return err
	}

	return f.Write(w)
}

// =============================================================================
// EXPENSES
// =============================================================================

// WriteExpensesWorkbook writes overall totals (all, cash, company) followed by
// one block per month, newest first, each with its own totals.
func WriteExpensesWorkbook(w io.Writer, expenses []rental.Expense) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	const sheet = "Expenses"
	if err := f.SetSheetName(defaultSheet, sheet); err != nil {
		return err
	}

	all := splitTotals(expenses)
	line := 1
	put := func(values []any, style bool) error {
		if err := setRow(f, sheet, line, values); err != nil {
			return err
		}
		if style {
			if err := styleRow(f, sheet, line, 1, bold); err != nil {
				return err
			}
		}
		line++
		return nil
	}

	for _, l := range []struct {
		values []any
		bold   bool
	}{
		{[]any{"Summary"}, true},
		{[]any{"Total spent", all.total.InexactFloat64()}, false},
		{[]any{"Cash", all.cash.InexactFloat64()}, false},
		{[]any{"Company", all.company.InexactFloat64()}, false},
	} {
		if err := put(l.values, l.bold); err != nil {
			return err
		}
	}
	line++

	byMonth := make(map[string][]rental.Expense)
	var months []string
	for _, e := range expenses {
		key := fmt.Sprintf("%04d-%02d", e.Date.Year(), int(e.Date.Month()))
		if _, ok := byMonth[key]; !ok {
			months = append(months, key)
		}
		byMonth[key] = append(byMonth[key], e)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))

	for _, month := range months {
		rows := byMonth[month]
		if err := put([]any{month}, true); err != nil {
			return err
		}
		if err := put([]any{"Date", "Description", "Amount", "Payment method"}, false); err != nil {
			return err
		}
		if err := styleRow(f, sheet, line-1, 4, bold); err != nil {
			return err
		}
		for _, e := range rows {
			if err := put([]any{e.Date.String(), e.Description, e.Amount.InexactFloat64(), string(e.PaymentMethod)}, false); err != nil {
				return err
			}
		}
		t := splitTotals(rows)
		for _, l := range [][]any{
			{"Total", "", t.total.InexactFloat64()},
			{"Cash", "", t.cash.InexactFloat64()},
			{"Company", "", t.company.InexactFloat64()},
		} {
			if err := put(l, true); err != nil {
				return err
			}
		}
		line++
	}

	if err := f.SetColWidth(sheet, "A", "D", 24); err != nil {
		return err
	}
	return f.Write(w)
}

type expenseTotals struct {
	total, cash, company decimal.Decimal
}

func splitTotals(expenses []rental.Expense) expenseTotals {
	var t expenseTotals
	for _, e := range expenses {
		t.total = t.total.Add(e.Amount)
		if e.PaymentMethod == rental.PaymentCash {
			t.cash = t.cash.Add(e.Amount)
		} else {
			t.company = t.company.Add(e.Amount)
		}
	}
	return t
}

// =============================================================================
// HELPERS
// =============================================================================

func writeHeader(f *excelize.File, sheet string, header []any, style int) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	return styleRow(f, sheet, 1, len(header), style)
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func styleRow(f *excelize.File, sheet string, row, cols, style int) error {
	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, row)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, first, last, style)
}
