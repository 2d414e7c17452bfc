// Package closure recalculates interest for investments closed before maturity.
package closure

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/dvparth/wealthbooks/pkg/maturity"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type InterestResult struct {
	InterestEarned decimal.Decimal `json:"interest_earned"`
	EffectiveRate  decimal.Decimal `json:"effective_rate"`
	DaysHeld       int             `json:"days_held"`
	Explanation    string          `json:"explanation"`
}

type Penalties struct {
	RatePercent decimal.Decimal `json:"rate_percent"`
	Amount      decimal.Decimal `json:"amount"`
}

type Payout struct {
	FinalPayout          decimal.Decimal `json:"final_payout"`
	RecalculatedInterest decimal.Decimal `json:"recalculated_interest"`
	Penalties            Penalties       `json:"penalties"`
	EffectiveRate        decimal.Decimal `json:"effective_rate"`
	Explanation          string          `json:"explanation"`
}

// EffectiveRate is the contracted rate less the penalty, floored at zero.
func EffectiveRate(inv models.Investment, penaltyRatePercent decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, inv.InterestRate.Sub(penaltyRatePercent))
}

// CalculatePrematureInterest recomputes the interest earned from the start date up to
// closureDate at the penalised rate, using the investment's own convention: simple
// interest when it does not compound, the fractional calculator otherwise.
func CalculatePrematureInterest(inv models.Investment, closureDate time.Time, penaltyRatePercent decimal.Decimal) InterestResult {
	rate := EffectiveRate(inv, penaltyRatePercent)
	start, closeOn := period.Truncate(inv.StartDate), period.Truncate(closureDate)

	if !closeOn.After(start) {
		return InterestResult{
			InterestEarned: decimal.Zero,
			EffectiveRate:  rate,
			Explanation:    "closure date is on or before the start date: no interest earned",
		}
	}
	daysHeld := period.MustDaysBetween(start, closeOn)

	if rate.IsZero() {
		return InterestResult{
			InterestEarned: decimal.Zero,
			EffectiveRate:  rate,
			DaysHeld:       daysHeld,
			Explanation:    fmt.Sprintf("penalty of %s%% removes the whole %s%% rate: no interest earned", penaltyRatePercent, inv.InterestRate),
		}
	}

	simple := func(reason string) InterestResult {
		return InterestResult{
			InterestEarned: maturity.Round2(maturity.SimpleInterest(inv.Principal, rate, daysHeld)),
			EffectiveRate:  rate,
			DaysHeld:       daysHeld,
			Explanation:    fmt.Sprintf("simple interest at %s%% for %d days%s", rate, daysHeld, reason),
		}
	}

	if inv.Compounding == models.CompoundingNo {
		return simple("")
	}

	res, err := maturity.Fractional(maturity.Input{
		Principal:         inv.Principal,
		AnnualRatePercent: rate,
		StartDate:         start,
		MaturityDate:      closeOn,
	})
	if err != nil {
		return simple(fmt.Sprintf(" (compounding unavailable: %v)", err))
	}
	return InterestResult{
		InterestEarned: res.InterestEarned,
		EffectiveRate:  rate,
		DaysHeld:       daysHeld,
		Explanation:    fmt.Sprintf("quarterly compounding at %s%% for %d days", rate, daysHeld),
	}
}

// CalculatePrematureClosurePayout returns what the investor receives on closing early.
// The payout never goes below zero.
func CalculatePrematureClosurePayout(inv models.Investment, closureDate time.Time, penaltyRatePercent, penaltyAmount decimal.Decimal) Payout {
	interest := CalculatePrematureInterest(inv, closureDate, penaltyRatePercent)
	final := decimal.Max(decimal.Zero, inv.Principal.Add(interest.InterestEarned).Sub(penaltyAmount))

	return Payout{
		FinalPayout:          maturity.Round2(final),
		RecalculatedInterest: interest.InterestEarned,
		Penalties: Penalties{
			RatePercent: penaltyRatePercent,
			Amount:      penaltyAmount,
		},
		EffectiveRate: interest.EffectiveRate,
		Explanation: fmt.Sprintf("%s; principal %s + interest %s - penalty %s = %s",
			interest.Explanation, inv.Principal.StringFixed(2), interest.InterestEarned.StringFixed(2),
			penaltyAmount.StringFixed(2), final.StringFixed(2)),
	}
}

// ValidationErrors lists user-correctable problems with a closure request.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return strings.Join(v, "; ")
}

func (v ValidationErrors) Is(target error) bool {
	return target == apperrors.ErrValidation
}

// ValidatePrematureClosure checks a closure request and returns every problem found.
// An empty result means the request is valid.
func ValidatePrematureClosure(inv models.Investment, closureDate time.Time, penaltyRatePercent, penaltyAmount decimal.Decimal) ValidationErrors {
	var errs ValidationErrors

	datesOK := false
	switch {
	case closureDate.IsZero():
		errs = append(errs, "Closure date is required")
	case !period.Truncate(closureDate).After(period.Truncate(inv.StartDate)):
		errs = append(errs, "Closure date must be after the start date")
	case !period.Truncate(closureDate).Before(period.Truncate(inv.MaturityDate)):
		errs = append(errs, "Closure date must be before the maturity date")
	default:
		datesOK = true
	}

	if penaltyRatePercent.IsNegative() || penaltyRatePercent.GreaterThan(hundred) {
		errs = append(errs, "Penalty rate must be between 0 and 100")
	}
	if penaltyAmount.IsNegative() {
		errs = append(errs, "Penalty amount cannot be negative")
	}

	if datesOK && len(errs) == 0 {
		interest := CalculatePrematureInterest(inv, closureDate, penaltyRatePercent)
		if inv.Principal.Add(interest.InterestEarned).Sub(penaltyAmount).IsNegative() {
			errs = append(errs, "Penalty amount exceeds principal plus interest; final payout would be negative")
		}
	}
	return errs
}

// Diagnostics describes a recorded closure for display.
type Diagnostics struct {
	DaysHeld            int             `json:"days_held"`
	TenureDays          int             `json:"tenure_days"`
	PercentOfTenureHeld decimal.Decimal `json:"percent_of_tenure_held"`
	OriginalRate        decimal.Decimal `json:"original_rate"`
	EffectiveRate       decimal.Decimal `json:"effective_rate"`
	RateReduction       decimal.Decimal `json:"rate_reduction"`
	Summary             string          `json:"summary"`
}

// GetClosureDiagnostics derives display figures for a closure. It returns nil unless the
// closure is marked closed.
func GetClosureDiagnostics(inv models.Investment, c *models.PrematureClosure) *Diagnostics {
	if c == nil || !c.IsClosed {
		return nil
	}
	start := period.Truncate(inv.StartDate)
	daysHeld, err := period.DaysBetweenExclusive(start, c.ClosureDate)
	if err != nil {
		daysHeld = 0
	}
	tenure, err := period.DaysBetweenExclusive(start, inv.MaturityDate)
	if err != nil {
		tenure = 0
	}

	percent := decimal.Zero
	if tenure > 0 {
		percent = decimal.NewFromInt(int64(daysHeld)).Mul(hundred).Div(decimal.NewFromInt(int64(tenure))).Round(2)
	}
	effective := EffectiveRate(inv, c.PenaltyRatePercent)

	return &Diagnostics{
		DaysHeld:            daysHeld,
		TenureDays:          tenure,
		PercentOfTenureHeld: percent,
		OriginalRate:        inv.InterestRate,
		EffectiveRate:       effective,
		RateReduction:       inv.InterestRate.Sub(effective),
		Summary: fmt.Sprintf("held %d of %d days (%s%%), rate %s%% -> %s%%",
			daysHeld, tenure, percent.StringFixed(2), inv.InterestRate, effective),
	}
}

// Apply records a premature closure and returns the closed investment. inv itself is
// left untouched.
func Apply(inv models.Investment, closureDate time.Time, penaltyRatePercent, penaltyAmount decimal.Decimal) (models.Investment, Payout, error) {
	if inv.IsPrematurelyClosed() {
		return models.Investment{}, Payout{}, fmt.Errorf("investment %s: %w", inv.ID, apperrors.ErrClosed)
	}
	if errs := ValidatePrematureClosure(inv, closureDate, penaltyRatePercent, penaltyAmount); len(errs) > 0 {
		return models.Investment{}, Payout{}, errs
	}

	payout := CalculatePrematureClosurePayout(inv, closureDate, penaltyRatePercent, penaltyAmount)
	final := payout.FinalPayout

	closed := inv
	closed.Status = models.InvestmentStatusClosed
	closed.PrematureClosure = &models.PrematureClosure{
		IsClosed:             true,
		ClosureDate:          period.Truncate(closureDate),
		PenaltyRatePercent:   penaltyRatePercent,
		PenaltyAmount:        penaltyAmount,
		RecalculatedInterest: payout.RecalculatedInterest,
		EffectiveRate:        payout.EffectiveRate,
		FinalPayout:          &final,
	}
	return closed, payout, nil
}
