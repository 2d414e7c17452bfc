// Package cashflow derives payout figures from an investment's ledger and builds the
// records that adjustments and closures add to it. Functions never modify the ledger
// they are given.
package cashflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/dvparth/wealthbooks/pkg/maturity"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// closureTDSRatePercent is withheld on interest recalculated at a premature closure.
var closureTDSRatePercent = decimal.NewFromInt(10)

// ForInvestment returns the records belonging to one investment.
func ForInvestment(investmentID uuid.UUID, ledger []models.CashflowRecord) []models.CashflowRecord {
	var out []models.CashflowRecord
	for _, rec := range ledger {
		if rec.InvestmentID == investmentID {
			out = append(out, rec)
		}
	}
	return out
}

// TotalTDSForInvestment sums the absolute TDS withheld for an investment.
func TotalTDSForInvestment(investmentID uuid.UUID, ledger []models.CashflowRecord) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range ledger {
		if rec.InvestmentID == investmentID && rec.Type == models.CashflowTypeTDSDeduction {
			total = total.Add(rec.Amount.Abs())
		}
	}
	return total
}

// GrossMaturityAmount is the expected maturity amount plus any adjustments linked to
// the maturity payout.
func GrossMaturityAmount(inv models.Investment, ledger []models.CashflowRecord) decimal.Decimal {
	base := inv.ExpectedMaturityAmount
	if base.IsZero() {
		calculated, err := maturity.ForInvestment(inv)
		if err != nil {
			return decimal.Zero
		}
		base = calculated
	}
	for _, rec := range ledger {
		if rec.InvestmentID == inv.ID && rec.Type == models.CashflowTypeAdjustment && rec.LinkedTo == models.LinkedToMaturity {
			base = base.Add(rec.Amount)
		}
	}
	return base
}

// NetMaturityAmount is the gross maturity amount less all TDS withheld.
func NetMaturityAmount(inv models.Investment, ledger []models.CashflowRecord) decimal.Decimal {
	return GrossMaturityAmount(inv, ledger).Sub(TotalTDSForInvestment(inv.ID, ledger))
}

// EffectiveMaturityAmount picks the most authoritative payout figure available: the
// recorded maturity payout, then a premature closure payout, then a user override, and
// finally the net maturity amount.
func EffectiveMaturityAmount(inv models.Investment, ledger []models.CashflowRecord) decimal.Decimal {
	switch {
	case inv.MaturityClosure != nil && inv.MaturityClosure.ActualPayout != nil:
		return *inv.MaturityClosure.ActualPayout
	case inv.IsPrematurelyClosed() && inv.PrematureClosure.FinalPayout != nil:
		return *inv.PrematureClosure.FinalPayout
	case inv.ActualMaturityAmount != nil:
		return *inv.ActualMaturityAmount
	default:
		return NetMaturityAmount(inv, ledger)
	}
}

// CreateMaturityAdjustment returns the adjustment that reconciles a calculated maturity
// payout with what was actually received, or nil when they agree.
func CreateMaturityAdjustment(maturityCashflow models.CashflowRecord, calculated, actual decimal.Decimal) *models.CashflowRecord {
	if actual.Equal(calculated) {
		return nil
	}
	adjusts := maturityCashflow.ID
	date := maturityCashflow.Date
	return &models.CashflowRecord{
		ID:                uuid.New(),
		InvestmentID:      maturityCashflow.InvestmentID,
		Date:              date,
		Type:              models.CashflowTypeAdjustment,
		Amount:            actual.Sub(calculated),
		FinancialYear:     period.FinancialYearLabel(date),
		Source:            models.CashflowSourceManual,
		Status:            models.CashflowStatusConfirmed,
		LinkedTo:          models.LinkedToMaturity,
		AdjustsCashflowID: &adjusts,
		Description: fmt.Sprintf("maturity adjustment: received %s against calculated %s",
			actual.StringFixed(2), calculated.StringFixed(2)),
	}
}

// PreserveManualCashflows merges regenerated system records with the manual and
// adjustment records of the existing ledger. On an id clash the existing record wins.
func PreserveManualCashflows(existing, regenerated []models.CashflowRecord) []models.CashflowRecord {
	seen := make(map[uuid.UUID]struct{}, len(existing)+len(regenerated))
	var out []models.CashflowRecord
	for _, rec := range existing {
		if !rec.IsManual() && rec.Type != models.CashflowTypeAdjustment {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	for _, rec := range regenerated {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	SortByDate(out)
	return out
}

// RemoveFutureCashflows drops system records dated after cutoff. Manual records are
// always kept.
func RemoveFutureCashflows(ledger []models.CashflowRecord, cutoff time.Time) []models.CashflowRecord {
	cutoff = period.Truncate(cutoff)
	out := make([]models.CashflowRecord, 0, len(ledger))
	for _, rec := range ledger {
		if !rec.IsManual() && period.Truncate(rec.Date).After(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// GeneratePrematureClosureCashflows builds the records of an early closure, in order:
// the payout, the penalty, the TDS on recalculated interest, and a zero-amount audit
// record that links to the others. An empty financialYear is derived from the closure
// date.
func GeneratePrematureClosureCashflows(inv models.Investment, c *models.PrematureClosure, financialYear string) []models.CashflowRecord {
	if c == nil {
		return nil
	}
	date := period.Truncate(c.ClosureDate)
	if financialYear == "" {
		financialYear = period.FinancialYearLabel(date)
	}
	record := func(t models.CashflowType, amount decimal.Decimal, description string) models.CashflowRecord {
		return models.CashflowRecord{
			ID:            uuid.New(),
			InvestmentID:  inv.ID,
			Date:          date,
			Type:          t,
			Amount:        amount,
			FinancialYear: financialYear,
			Source:        models.CashflowSourceSystem,
			Status:        models.CashflowStatusConfirmed,
			Description:   description,
		}
	}

	var out []models.CashflowRecord
	if c.FinalPayout != nil {
		out = append(out, record(models.CashflowTypeMaturityPayout, *c.FinalPayout, "premature closure payout"))
	}
	if c.PenaltyAmount.IsPositive() {
		out = append(out, record(models.CashflowTypePenalty, c.PenaltyAmount.Neg(), "premature closure penalty"))
	}
	if inv.Compounding != models.CompoundingNo && c.RecalculatedInterest.IsPositive() {
		tds := maturity.Round2(c.RecalculatedInterest.Mul(closureTDSRatePercent).Div(decimal.NewFromInt(100)))
		out = append(out, record(models.CashflowTypeTDSDeduction, tds.Neg(), "TDS on recalculated interest"))
	}

	linked := make([]uuid.UUID, 0, len(out))
	for _, rec := range out {
		linked = append(linked, rec.ID)
	}
	final := decimal.Zero
	if c.FinalPayout != nil {
		final = *c.FinalPayout
	}
	audit := record(models.CashflowTypePrematureClosure, decimal.Zero, "premature closure")
	audit.Metadata = &models.ClosureMetadata{
		OriginalMaturityDate: period.Truncate(inv.MaturityDate),
		FinalPayout:          final,
		PenaltyAmount:        c.PenaltyAmount,
		RecalculatedInterest: c.RecalculatedInterest,
		LinkedCashflowIDs:    linked,
	}
	return append(out, audit)
}

// SortByDate orders records by date, keeping the relative order of same-day records.
func SortByDate(records []models.CashflowRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
}
