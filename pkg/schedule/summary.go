package schedule

import (
	"sort"

	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/shopspring/decimal"
)

// FYSummary totals one financial year of a schedule for tax reporting.
type FYSummary struct {
	FinancialYear  string          `json:"financial_year"`
	InterestEarned decimal.Decimal `json:"interest_earned"` // every period ending in the year
	Confirmed      decimal.Decimal `json:"confirmed"`
	Accrued        decimal.Decimal `json:"accrued"`
	Expected       decimal.Decimal `json:"expected"`
	TDS            decimal.Decimal `json:"tds"` // non-positive
}

// SummarizeByFinancialYear groups a schedule by financial year. Calculation periods
// never straddle 31 March, so each period falls wholly inside one year.
func SummarizeByFinancialYear(s Schedule) []FYSummary {
	byFY := make(map[string]*FYSummary)
	get := func(fy string) *FYSummary {
		sum, ok := byFY[fy]
		if !ok {
			sum = &FYSummary{FinancialYear: fy}
			byFY[fy] = sum
		}
		return sum
	}

	for _, p := range s.Periods {
		sum := get(p.FinancialYear)
		sum.InterestEarned = sum.InterestEarned.Add(p.Interest)
	}
	for _, r := range s.Rows {
		sum := get(r.FinancialYear)
		switch r.Kind {
		case RowConfirmed:
			sum.Confirmed = sum.Confirmed.Add(r.Amount)
		case RowAccrued:
			sum.Accrued = sum.Accrued.Add(r.Amount)
		case RowExpected:
			sum.Expected = sum.Expected.Add(r.Amount)
		case RowTDS:
			sum.TDS = sum.TDS.Add(r.Amount)
		}
	}

	out := make([]FYSummary, 0, len(byFY))
	for _, sum := range byFY {
		out = append(out, *sum)
	}
	// FY labels sort chronologically as strings.
	sort.Slice(out, func(i, j int) bool { return out[i].FinancialYear < out[j].FinancialYear })
	return out
}

// ToCashflows turns the generated rows of a schedule into system ledger records.
// Confirmed rows are already in the ledger and are skipped. Accrued rows describe the
// past and are recorded confirmed; expected and maturity rows are planned.
func ToCashflows(inv models.Investment, s Schedule) []models.CashflowRecord {
	var out []models.CashflowRecord
	for _, r := range s.Rows {
		if r.Kind == RowConfirmed {
			continue
		}
		rec := models.CashflowRecord{
			ID:            r.ID,
			InvestmentID:  inv.ID,
			Date:          r.Date,
			Type:          r.CashflowType,
			Amount:        r.Amount,
			FinancialYear: period.FinancialYearLabel(r.Date),
			Source:        models.CashflowSourceSystem,
			Status:        models.CashflowStatusPlanned,
		}
		if !r.Preview {
			rec.Status = models.CashflowStatusConfirmed
		}
		if r.TaxesRowID != nil {
			taxed := *r.TaxesRowID
			rec.RelatedCashflowID = &taxed
		}
		out = append(out, rec)
	}
	return out
}
