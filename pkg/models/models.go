package models

import (
	"fmt"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency is how often interest is calculated or paid out.
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
	FrequencyMaturity  Frequency = "maturity" // payout only; interest is cumulative
)

// Compounding says whether periodic interest is added back to the calculation base.
type Compounding string

const (
	CompoundingYes Compounding = "yes"
	CompoundingNo  Compounding = "no"
)

// CalculationMode selects the maturity calculator used for compounding cumulative investments.
type CalculationMode string

const (
	CalculationModeFractional CalculationMode = "fractional"
	CalculationModeBank       CalculationMode = "bank"
)

type InvestmentStatus string

const (
	InvestmentStatusActive  InvestmentStatus = "active"
	InvestmentStatusMatured InvestmentStatus = "matured"
	InvestmentStatusClosed  InvestmentStatus = "closed" // closed prematurely
)

type Investment struct {
	ID                           uuid.UUID         `json:"id"`
	Name                         string            `json:"name"`
	Principal                    decimal.Decimal   `json:"principal"`
	InterestRate                 decimal.Decimal   `json:"interest_rate"` // annual percentage, 7.75 means 7.75%
	StartDate                    time.Time         `json:"start_date"`
	MaturityDate                 time.Time         `json:"maturity_date"`
	InterestCalculationFrequency Frequency         `json:"interest_calculation_frequency"`
	InterestPayoutFrequency      Frequency         `json:"interest_payout_frequency"`
	Compounding                  Compounding       `json:"compounding"`
	CalculationMode              CalculationMode   `json:"calculation_mode"`
	ExpectedMaturityAmount       decimal.Decimal   `json:"expected_maturity_amount"`         // zero means derive from terms
	ActualMaturityAmount         *decimal.Decimal  `json:"actual_maturity_amount,omitempty"` // user override
	Status                       InvestmentStatus  `json:"status"`
	PrematureClosure             *PrematureClosure `json:"premature_closure,omitempty"`
	MaturityClosure              *MaturityClosure  `json:"maturity_closure,omitempty"`
	CreatedAt                    time.Time         `json:"created_at"`
	UpdatedAt                    time.Time         `json:"updated_at"`
}

// PrematureClosure records an early termination of an investment.
type PrematureClosure struct {
	IsClosed             bool             `json:"is_closed"`
	ClosureDate          time.Time        `json:"closure_date"`
	PenaltyRatePercent   decimal.Decimal  `json:"penalty_rate_percent"`
	PenaltyAmount        decimal.Decimal  `json:"penalty_amount"`
	RecalculatedInterest decimal.Decimal  `json:"recalculated_interest"`
	EffectiveRate        decimal.Decimal  `json:"effective_rate"`
	FinalPayout          *decimal.Decimal `json:"final_payout,omitempty"`
}

// MaturityClosure records the payout actually received at maturity.
type MaturityClosure struct {
	ClosedOn     time.Time        `json:"closed_on"`
	ActualPayout *decimal.Decimal `json:"actual_payout,omitempty"`
}

// IsCumulative reports whether interest is only disbursed at maturity.
func (i Investment) IsCumulative() bool {
	return i.InterestPayoutFrequency == FrequencyMaturity
}

// Compounds reports whether the calculation base grows period over period.
// Periodic-payout investments never compound, whatever their Compounding flag says.
func (i Investment) Compounds() bool {
	return i.IsCumulative() && i.Compounding != CompoundingNo
}

// IsPrematurelyClosed reports whether a premature closure has been recorded.
func (i Investment) IsPrematurelyClosed() bool {
	return i.PrematureClosure != nil && i.PrematureClosure.IsClosed
}

// HasTerms reports whether the fields needed for any interest calculation are present.
func (i Investment) HasTerms() bool {
	return i.Principal.IsPositive() && i.InterestRate.IsPositive() &&
		!i.StartDate.IsZero() && !i.MaturityDate.IsZero()
}

// Validate checks the terms of a new investment.
func (i Investment) Validate() error {
	if !i.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive", apperrors.ErrValidation)
	}
	// A zero rate reads as missing terms to the schedule generator, so it is rejected here.
	if !i.InterestRate.IsPositive() {
		return fmt.Errorf("%w: interest rate must be positive", apperrors.ErrValidation)
	}
	if i.ActualMaturityAmount != nil && i.ActualMaturityAmount.IsNegative() {
		return fmt.Errorf("%w: actual maturity amount must not be negative", apperrors.ErrValidation)
	}
	if i.StartDate.IsZero() || i.MaturityDate.IsZero() {
		return fmt.Errorf("%w: start and maturity dates are required", apperrors.ErrValidation)
	}
	if !i.MaturityDate.After(i.StartDate) {
		return fmt.Errorf("%w: maturity date must be after start date", apperrors.ErrValidation)
	}
	switch i.InterestCalculationFrequency {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
	default:
		return fmt.Errorf("%w: unknown interest calculation frequency %q", apperrors.ErrValidation, i.InterestCalculationFrequency)
	}
	switch i.InterestPayoutFrequency {
	case FrequencyMonthly, FrequencyQuarterly, FrequencyYearly, FrequencyMaturity:
	default:
		return fmt.Errorf("%w: unknown interest payout frequency %q", apperrors.ErrValidation, i.InterestPayoutFrequency)
	}
	switch i.Compounding {
	case CompoundingYes, CompoundingNo:
	default:
		return fmt.Errorf("%w: compounding must be yes or no, got %q", apperrors.ErrValidation, i.Compounding)
	}
	switch i.CalculationMode {
	case CalculationModeFractional, CalculationModeBank:
	default:
		return fmt.Errorf("%w: unknown calculation mode %q", apperrors.ErrValidation, i.CalculationMode)
	}
	return nil
}

// WithDefaults fills optional enum fields with the defaults used by the creation wizard.
func (i Investment) WithDefaults() Investment {
	if i.InterestCalculationFrequency == "" {
		i.InterestCalculationFrequency = FrequencyQuarterly
	}
	if i.InterestPayoutFrequency == "" {
		i.InterestPayoutFrequency = FrequencyMaturity
	}
	if i.Compounding == "" {
		i.Compounding = CompoundingYes
	}
	if i.CalculationMode == "" {
		i.CalculationMode = CalculationModeFractional
	}
	if i.Status == "" {
		i.Status = InvestmentStatusActive
	}
	return i
}
