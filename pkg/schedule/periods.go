package schedule

import (
	"time"

	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/shopspring/decimal"
)

// Outcome is what the generator did with a calculation period.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed" // a confirmed ledger record covers the period
	OutcomeAccrued   Outcome = "accrued"
	OutcomeExpected  Outcome = "expected"
	OutcomeElapsed   Outcome = "elapsed" // past, mid-year and unconfirmed: no row
	OutcomeClosed    Outcome = "closed"  // ends on the premature closure date
)

// Period is one calendar-aligned calculation period.
type Period struct {
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	Days             int             `json:"days"`
	OpeningPrincipal decimal.Decimal `json:"opening_principal"`
	Interest         decimal.Decimal `json:"interest"`
	Outcome          Outcome         `json:"outcome"`
	FinancialYear    string          `json:"financial_year"`
}

func boundaryFunc(freq models.Frequency) func(time.Time) time.Time {
	switch freq {
	case models.FrequencyMonthly:
		return period.NextMonthEnd
	case models.FrequencyYearly:
		return period.NextFinancialYearEnd
	default:
		return period.NextCalendarQuarterEnd
	}
}

// Periods splits [start, end] at calendar boundaries of the given frequency: month ends,
// calendar quarter ends, or 31 March for yearly. The first period starts on start and is
// usually a stub; the last is clipped to end.
func Periods(freq models.Frequency, start, end time.Time) []Period {
	start, end = period.Truncate(start), period.Truncate(end)
	next := boundaryFunc(freq)

	var periods []Period
	for cur := start; cur.Before(end); {
		boundary := next(cur)
		if boundary.After(end) {
			boundary = end
		}
		periods = append(periods, Period{
			Start:         cur,
			End:           boundary,
			Days:          period.MustDaysBetween(cur, boundary),
			FinancialYear: period.FinancialYearLabel(boundary),
		})
		cur = boundary
	}
	return periods
}
