// Package maturity computes the maturity value of a compounding deposit under two
// conventions: fractional (continuous exponent, rounded once) and bank-style (discrete
// quarters, rounded after every quarter).
package maturity

import (
	"fmt"
	"math"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/shopspring/decimal"
)

const (
	daysPerYear          = 365 // ACT/365 fixed, leap years included
	compoundingPerYear   = 4   // quarterly
	approxQuarterDaysRaw = 91.25
)

var (
	hundred           = decimal.NewFromInt(100)
	daysInYear        = decimal.NewFromInt(daysPerYear)
	quartersPerYear   = decimal.NewFromInt(compoundingPerYear)
	approxQuarterDays = decimal.NewFromFloat(approxQuarterDaysRaw)
)

// Input describes one maturity calculation. Either DurationDays or both dates must be set;
// DurationDays wins when both are present.
type Input struct {
	Principal         decimal.Decimal
	AnnualRatePercent decimal.Decimal
	StartDate         time.Time
	MaturityDate      time.Time
	DurationDays      *int
}

type Result struct {
	MaturityAmount decimal.Decimal `json:"maturity_amount"`
	InterestEarned decimal.Decimal `json:"interest_earned"`
	DurationDays   int             `json:"duration_days"`
	Explanation    string          `json:"explanation"`
}

// ValidationError reports a caller error in the calculator inputs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrValidation
}

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Days returns a pointer to n, for Input.DurationDays literals.
func Days(n int) *int {
	return &n
}

func (in Input) validate() (int, error) {
	if !in.Principal.IsPositive() {
		return 0, &ValidationError{Field: "principal", Reason: "must be positive"}
	}
	if in.AnnualRatePercent.IsNegative() {
		return 0, &ValidationError{Field: "rate", Reason: "must not be negative"}
	}
	if in.DurationDays != nil {
		if *in.DurationDays < 0 {
			return 0, &ValidationError{Field: "durationDays", Reason: "must not be negative"}
		}
		return *in.DurationDays, nil
	}
	if in.StartDate.IsZero() || in.MaturityDate.IsZero() {
		return 0, &ValidationError{Field: "dates", Reason: "start and maturity dates are required when duration is not given"}
	}
	days, err := period.DaysBetweenExclusive(in.StartDate, in.MaturityDate)
	if err != nil {
		return 0, &ValidationError{Field: "maturityDate", Reason: "must not be before start date"}
	}
	return days, nil
}

func zeroDuration(principal decimal.Decimal) Result {
	return Result{
		MaturityAmount: principal,
		InterestEarned: decimal.Zero,
		Explanation:    "zero duration: no interest earned",
	}
}

// Fractional compounds quarterly over a fractional number of periods:
// principal * (1 + r/4) ^ (days/365 * 4), evaluated as exp(n * ln(1 + r/4)).
// Only the final amounts are rounded.
func Fractional(in Input) (Result, error) {
	days, err := in.validate()
	if err != nil {
		return Result{}, err
	}
	if days == 0 {
		return zeroDuration(in.Principal), nil
	}

	periodRate := in.AnnualRatePercent.InexactFloat64() / 100 / compoundingPerYear
	fractionalPeriods := float64(days) / daysPerYear * compoundingPerYear
	growthFactor := math.Exp(fractionalPeriods * math.Log1p(periodRate))

	maturityAmount := Round2(in.Principal.Mul(decimal.NewFromFloat(growthFactor)))
	interest := Round2(maturityAmount.Sub(in.Principal))

	return Result{
		MaturityAmount: maturityAmount,
		InterestEarned: interest,
		DurationDays:   days,
		Explanation: fmt.Sprintf("%s @ %s%% p.a. compounded quarterly for %d days (%.4f periods, ACT/365): growth factor %.8f",
			in.Principal.StringFixed(2), in.AnnualRatePercent.String(), days, fractionalPeriods, growthFactor),
	}, nil
}

// Bank compounds whole quarters of 91.25 days, rounding to paise after each quarter the
// way a bank posts statements, then adds simple interest for the leftover days.
func Bank(in Input) (Result, error) {
	days, err := in.validate()
	if err != nil {
		return Result{}, err
	}
	if days == 0 {
		return zeroDuration(in.Principal), nil
	}

	rate := in.AnnualRatePercent.Div(hundred)
	growth := decimal.NewFromInt(1).Add(rate.Div(quartersPerYear))
	dayCount := decimal.NewFromInt(int64(days))

	fullQuarters := dayCount.Div(approxQuarterDays).Floor().IntPart()
	amount := in.Principal
	for q := int64(0); q < fullQuarters; q++ {
		amount = Round2(amount.Mul(growth))
	}

	remainderDays := dayCount.Sub(decimal.NewFromInt(fullQuarters).Mul(approxQuarterDays).Floor())
	remainderInterest := amount.Mul(rate).Mul(remainderDays).Div(daysInYear)

	maturityAmount := Round2(amount.Add(remainderInterest))
	return Result{
		MaturityAmount: maturityAmount,
		InterestEarned: Round2(maturityAmount.Sub(in.Principal)),
		DurationDays:   days,
		Explanation: fmt.Sprintf("%s @ %s%% p.a.: %d full quarters compounded and rounded per quarter, %s remaining days at simple interest",
			in.Principal.StringFixed(2), in.AnnualRatePercent.String(), fullQuarters, remainderDays.String()),
	}, nil
}

// Calculate dispatches on the investment's calculation mode; unknown modes use Fractional.
func Calculate(mode models.CalculationMode, in Input) (Result, error) {
	if mode == models.CalculationModeBank {
		return Bank(in)
	}
	return Fractional(in)
}

// ForInvestment returns the amount expected at maturity from the investment's terms.
// Compounding cumulative deposits use the selected calculator; non-compounding
// cumulative deposits add simple interest; periodic-payout deposits return principal,
// since their interest leaves along the way.
func ForInvestment(inv models.Investment) (decimal.Decimal, error) {
	in := Input{
		Principal:         inv.Principal,
		AnnualRatePercent: inv.InterestRate,
		StartDate:         inv.StartDate,
		MaturityDate:      inv.MaturityDate,
	}
	switch {
	case inv.Compounds():
		res, err := Calculate(inv.CalculationMode, in)
		if err != nil {
			return decimal.Zero, err
		}
		return res.MaturityAmount, nil
	case inv.IsCumulative():
		days, err := in.validate()
		if err != nil {
			return decimal.Zero, err
		}
		return Round2(inv.Principal.Add(SimpleInterest(inv.Principal, inv.InterestRate, days))), nil
	default:
		if _, err := in.validate(); err != nil {
			return decimal.Zero, err
		}
		return inv.Principal, nil
	}
}

// SimpleInterest returns principal * rate * days / (100 * 365), unrounded.
func SimpleInterest(principal, annualRatePercent decimal.Decimal, days int) decimal.Decimal {
	return principal.Mul(annualRatePercent).Mul(decimal.NewFromInt(int64(days))).Div(hundred.Mul(daysInYear))
}
