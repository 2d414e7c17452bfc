package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CashflowType string

const (
	CashflowTypePrincipal        CashflowType = "principal"
	CashflowTypeInterestPayout   CashflowType = "interest_payout"
	CashflowTypeInterestAccrual  CashflowType = "interest_accrual"
	CashflowTypeMaturityPayout   CashflowType = "maturity_payout"
	CashflowTypeTDSDeduction     CashflowType = "tds_deduction"
	CashflowTypeReinvestment     CashflowType = "reinvestment"
	CashflowTypeAdjustment       CashflowType = "adjustment"
	CashflowTypePenalty          CashflowType = "penalty"
	CashflowTypePrematureClosure CashflowType = "premature_closure" // audit only, always zero
	CashflowTypeUnallocated      CashflowType = "unallocated"
	CashflowTypeClosure          CashflowType = "closure"
)

// legacyCashflowTypes maps the older string kinds still found in imported ledgers.
var legacyCashflowTypes = map[string]CashflowType{
	"interest":         CashflowTypeInterestPayout,
	"tds":              CashflowTypeTDSDeduction,
	"maturity":         CashflowTypeMaturityPayout,
	"accrued_interest": CashflowTypeInterestAccrual,
}

var canonicalCashflowTypes = map[CashflowType]struct{}{
	CashflowTypePrincipal:        {},
	CashflowTypeInterestPayout:   {},
	CashflowTypeInterestAccrual:  {},
	CashflowTypeMaturityPayout:   {},
	CashflowTypeTDSDeduction:     {},
	CashflowTypeReinvestment:     {},
	CashflowTypeAdjustment:       {},
	CashflowTypePenalty:          {},
	CashflowTypePrematureClosure: {},
	CashflowTypeUnallocated:      {},
	CashflowTypeClosure:          {},
}

// ParseCashflowType normalizes a cashflow kind, mapping legacy aliases onto canonical kinds.
func ParseCashflowType(s string) (CashflowType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if t, ok := legacyCashflowTypes[key]; ok {
		return t, nil
	}
	t := CashflowType(key)
	if _, ok := canonicalCashflowTypes[t]; !ok {
		return "", fmt.Errorf("%w: unknown cashflow type %q", apperrors.ErrValidation, s)
	}
	return t, nil
}

// UnmarshalJSON normalizes legacy aliases at ingestion.
func (t *CashflowType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCashflowType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsInflow reports whether records of this kind must carry a non-negative amount.
func (t CashflowType) IsInflow() bool {
	switch t {
	case CashflowTypePrincipal, CashflowTypeInterestPayout, CashflowTypeInterestAccrual,
		CashflowTypeMaturityPayout, CashflowTypeClosure:
		return true
	}
	return false
}

// IsOutflow reports whether records of this kind must carry a non-positive amount.
func (t CashflowType) IsOutflow() bool {
	switch t {
	case CashflowTypeTDSDeduction, CashflowTypeReinvestment, CashflowTypePenalty:
		return true
	}
	return false
}

// IsInterest reports whether the kind represents an interest-bearing event.
func (t CashflowType) IsInterest() bool {
	return t == CashflowTypeInterestPayout || t == CashflowTypeInterestAccrual
}

type CashflowSource string

const (
	CashflowSourceSystem CashflowSource = "system"
	CashflowSourceManual CashflowSource = "manual"
)

type CashflowStatus string

const (
	CashflowStatusPlanned   CashflowStatus = "planned"
	CashflowStatusConfirmed CashflowStatus = "confirmed"
	CashflowStatusAdjusted  CashflowStatus = "adjusted"
)

// LinkedToMaturity tags adjustment records that correct the maturity payout.
const LinkedToMaturity = "MATURITY"

type CashflowRecord struct {
	ID                     uuid.UUID        `json:"id"`
	InvestmentID           uuid.UUID        `json:"investment_id"`
	Date                   time.Time        `json:"date"`
	Type                   CashflowType     `json:"type"`
	Amount                 decimal.Decimal  `json:"amount"`
	FinancialYear          string           `json:"financial_year"`
	Source                 CashflowSource   `json:"source"`
	Status                 CashflowStatus   `json:"status"`
	Description            string           `json:"description,omitempty"`
	LinkedTo               string           `json:"linked_to,omitempty"`
	AdjustsCashflowID      *uuid.UUID       `json:"adjusts_cashflow_id,omitempty"`      // weak reference, lookup only
	ReinvestedInvestmentID *uuid.UUID       `json:"reinvested_investment_id,omitempty"` // target of a reinvestment outflow
	RelatedCashflowID      *uuid.UUID       `json:"related_cashflow_id,omitempty"`      // for tds rows, the interest record taxed
	Metadata               *ClosureMetadata `json:"metadata,omitempty"`
}

// ClosureMetadata is carried by the premature_closure audit record.
type ClosureMetadata struct {
	OriginalMaturityDate time.Time       `json:"original_maturity_date"`
	FinalPayout          decimal.Decimal `json:"final_payout"`
	PenaltyAmount        decimal.Decimal `json:"penalty_amount"`
	RecalculatedInterest decimal.Decimal `json:"recalculated_interest"`
	LinkedCashflowIDs    []uuid.UUID     `json:"linked_cashflow_ids"`
}

// IsManual reports whether the record was entered by the user.
func (c CashflowRecord) IsManual() bool {
	return c.Source == CashflowSourceManual
}

// IsConfirmed reports whether the record reflects a cash event that actually happened.
func (c CashflowRecord) IsConfirmed() bool {
	return c.Status == CashflowStatusConfirmed || c.Status == CashflowStatusAdjusted
}

// Validate enforces the sign rule of the record's kind.
func (c CashflowRecord) Validate() error {
	if _, ok := canonicalCashflowTypes[c.Type]; !ok {
		return fmt.Errorf("%w: unknown cashflow type %q", apperrors.ErrValidation, c.Type)
	}
	if c.Date.IsZero() {
		return fmt.Errorf("%w: cashflow date is required", apperrors.ErrValidation)
	}
	switch {
	case c.Type.IsInflow() && c.Amount.IsNegative():
		return fmt.Errorf("%w: %s amount must not be negative, got %s", apperrors.ErrValidation, c.Type, c.Amount)
	case c.Type.IsOutflow() && c.Amount.IsPositive():
		return fmt.Errorf("%w: %s amount must not be positive, got %s", apperrors.ErrValidation, c.Type, c.Amount)
	case c.Type == CashflowTypePrematureClosure && !c.Amount.IsZero():
		return fmt.Errorf("%w: premature_closure audit record must have zero amount", apperrors.ErrValidation)
	}
	return nil
}
