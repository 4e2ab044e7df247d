package revenue

import (
	"github.com/warp/stay-engine/generic"
	"github.com/warp/stay-engine/rental"
)

// Summary is the headline block of the stats report.
type Summary struct {
	Contracts     int          `json:"contracts"`
	TotalIncome   int64        `json:"total_income"`
	TotalNights   int          `json:"total_nights"`
	FirstContract generic.Date `json:"first_contract"`
	ActiveOn      generic.Date `json:"active_on"`
	Active        int          `json:"active"`
}

// Summarize totals contracted income and nights across all contracts and
// counts those active on the given day.
func Summarize(contracts []rental.Contract, on generic.Date) Summary {
	s := Summary{Contracts: len(contracts), ActiveOn: on}
	for _, c := range contracts {
		s.TotalIncome += c.TotalPrice
		s.TotalNights += c.TotalNights
		if !c.StartDate.IsZero() && (s.FirstContract.IsZero() || c.StartDate.Before(s.FirstContract)) {
			s.FirstContract = c.StartDate
		}
		if c.IsActiveOn(on) {
			s.Active++
		}
	}
	return s
}
