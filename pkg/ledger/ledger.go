// Package ledger owns investments and their cashflow ledgers. It feeds stored terms and
// records into the interest engine and persists what the engine derives.
package ledger

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/dvparth/wealthbooks/pkg/cashflow"
	"github.com/dvparth/wealthbooks/pkg/closure"
	"github.com/dvparth/wealthbooks/pkg/maturity"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/dvparth/wealthbooks/pkg/schedule"
	"github.com/dvparth/wealthbooks/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultTDSRatePercent is withheld on generated interest rows unless configured otherwise.
var DefaultTDSRatePercent = decimal.NewFromInt(10)

// Ledger handles the business logic for investments and their cashflows.
type Ledger struct {
	storage store.Storage
	logger  *slog.Logger
	clock   func() time.Time
	tdsRate decimal.Decimal
	strict  bool

	mu sync.Mutex // serialises read-modify-write of a ledger
}

type Option func(*Ledger)

// WithLogger sets the logger for ledger events and schedule anomalies.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock replaces time.Now as the source of "today" and of record timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithTDSRate sets the TDS percentage applied to generated interest rows. Zero disables TDS rows.
func WithTDSRate(ratePercent decimal.Decimal) Option {
	return func(l *Ledger) { l.tdsRate = ratePercent }
}

// WithStrict logs schedule anomalies at error level.
func WithStrict(strict bool) Option {
	return func(l *Ledger) { l.strict = strict }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:   time.Now,
		tdsRate: DefaultTDSRatePercent,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today is the ledger clock's current calendar day.
func (l *Ledger) Today() time.Time {
	return period.Truncate(l.clock())
}

func (l *Ledger) scheduleOptions() []schedule.Option {
	return []schedule.Option{
		schedule.WithTDSRate(l.tdsRate),
		schedule.WithLogger(l.logger),
		schedule.WithStrict(l.strict),
	}
}

// CreateInvestment validates and stores a new investment, records its principal deposit
// and generates its system cashflows as of today.
func (l *Ledger) CreateInvestment(inv models.Investment) (*models.Investment, error) {
	inv = inv.WithDefaults()
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	inv.StartDate = period.Truncate(inv.StartDate)
	inv.MaturityDate = period.Truncate(inv.MaturityDate)
	inv.Status = models.InvestmentStatusActive
	inv.PrematureClosure = nil
	inv.MaturityClosure = nil
	if inv.ExpectedMaturityAmount.IsZero() {
		expected, err := maturity.ForInvestment(inv)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate maturity amount: %w", err)
		}
		inv.ExpectedMaturityAmount = expected
	}
	now := l.clock()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.storage.CreateInvestment(&inv); err != nil {
		return nil, fmt.Errorf("failed to store investment: %w", err)
	}

	deposit := models.CashflowRecord{
		ID:            uuid.NewSHA1(inv.ID, []byte("principal")),
		InvestmentID:  inv.ID,
		Date:          inv.StartDate,
		Type:          models.CashflowTypePrincipal,
		Amount:        inv.Principal,
		FinancialYear: period.FinancialYearLabel(inv.StartDate),
		Source:        models.CashflowSourceSystem,
		Status:        models.CashflowStatusConfirmed,
		Description:   "principal deposit",
	}
	if err := l.storage.CreateCashflow(&deposit); err != nil {
		return nil, fmt.Errorf("failed to store principal deposit: %w", err)
	}

	if _, err := l.regenerate(inv, l.Today()); err != nil {
		return nil, err
	}

	l.logger.Info("investment created",
		"investment_id", inv.ID,
		"principal", inv.Principal.StringFixed(2),
		"rate", inv.InterestRate.String(),
		"maturity", inv.MaturityDate.Format(time.DateOnly),
		"expected_maturity_amount", inv.ExpectedMaturityAmount.StringFixed(2))
	return &inv, nil
}

// GetInvestment retrieves an investment by its ID.
func (l *Ledger) GetInvestment(id uuid.UUID) (*models.Investment, error) {
	return l.storage.GetInvestment(id)
}

// ListInvestments retrieves all investments.
func (l *Ledger) ListInvestments() ([]*models.Investment, error) {
	return l.storage.GetAllInvestments()
}

// DeleteInvestment deletes an investment together with its ledger.
func (l *Ledger) DeleteInvestment(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.storage.DeleteInvestment(id); err != nil {
		return err
	}
	l.logger.Info("investment deleted", "investment_id", id)
	return nil
}

// Cashflows returns an investment's ledger in date order.
func (l *Ledger) Cashflows(id uuid.UUID) ([]models.CashflowRecord, error) {
	if _, err := l.storage.GetInvestment(id); err != nil {
		return nil, err
	}
	return l.cashflows(id)
}

func (l *Ledger) cashflows(id uuid.UUID) ([]models.CashflowRecord, error) {
	stored, err := l.storage.GetCashflowsForInvestment(id)
	if err != nil {
		return nil, err
	}
	out := make([]models.CashflowRecord, 0, len(stored))
	for _, rec := range stored {
		out = append(out, *rec)
	}
	cashflow.SortByDate(out)
	return out, nil
}

// AddCashflow records a manual cashflow entered by the user. Manual records survive every
// regeneration of system records.
func (l *Ledger) AddCashflow(investmentID uuid.UUID, rec models.CashflowRecord) (*models.CashflowRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.InvestmentID = investmentID
	rec.Date = period.Truncate(rec.Date)
	rec.Source = models.CashflowSourceManual
	if rec.Status == "" {
		rec.Status = models.CashflowStatusConfirmed
	}
	if rec.FinancialYear == "" && !rec.Date.IsZero() {
		rec.FinancialYear = period.FinancialYearLabel(rec.Date)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.storage.GetInvestment(investmentID); err != nil {
		return nil, err
	}
	if err := l.storage.CreateCashflow(&rec); err != nil {
		return nil, fmt.Errorf("failed to store cashflow: %w", err)
	}
	l.logger.Info("manual cashflow recorded",
		"investment_id", investmentID,
		"cashflow_id", rec.ID,
		"type", rec.Type,
		"amount", rec.Amount.StringFixed(2),
		"date", rec.Date.Format(time.DateOnly))
	return &rec, nil
}

// Schedule generates an investment's interest schedule against its stored ledger.
func (l *Ledger) Schedule(id uuid.UUID, asOf time.Time) (schedule.Schedule, error) {
	inv, err := l.storage.GetInvestment(id)
	if err != nil {
		return schedule.Schedule{}, err
	}
	records, err := l.cashflows(id)
	if err != nil {
		return schedule.Schedule{}, err
	}
	return schedule.Generate(*inv, records, asOf, l.scheduleOptions()...), nil
}

// RegenerateCashflows rebuilds the system-derived part of an investment's ledger as of
// asOf. Manual records, adjustments and confirmed system records are kept; planned
// projections are replaced.
func (l *Ledger) RegenerateCashflows(id uuid.UUID, asOf time.Time) ([]models.CashflowRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.storage.GetInvestment(id)
	if err != nil {
		return nil, err
	}
	return l.regenerate(*inv, asOf)
}

func (l *Ledger) regenerate(inv models.Investment, asOf time.Time) ([]models.CashflowRecord, error) {
	existing, err := l.cashflows(inv.ID)
	if err != nil {
		return nil, err
	}

	s := schedule.Generate(inv, existing, asOf, l.scheduleOptions()...)
	var keep []models.CashflowRecord
	for _, rec := range existing {
		if !rec.IsManual() && rec.IsConfirmed() {
			keep = append(keep, rec)
		}
	}
	merged := cashflow.PreserveManualCashflows(existing, append(keep, schedule.ToCashflows(inv, s)...))
	if inv.IsPrematurelyClosed() {
		merged = cashflow.RemoveFutureCashflows(merged, inv.PrematureClosure.ClosureDate)
	}

	if err := l.storage.ReplaceCashflows(inv.ID, merged); err != nil {
		return nil, fmt.Errorf("failed to store regenerated cashflows: %w", err)
	}
	l.logger.Debug("cashflows regenerated",
		"investment_id", inv.ID,
		"as_of", asOf.Format(time.DateOnly),
		"records", len(merged),
		"anomalies", len(s.Anomalies))
	return merged, nil
}

// ClosureRequest describes an early closure entered by the user.
type ClosureRequest struct {
	ClosureDate        time.Time
	PenaltyRatePercent decimal.Decimal
	PenaltyAmount      decimal.Decimal
}

// ClosureResult is the closed investment with the payout breakdown and the records the
// closure added to the ledger.
type ClosureResult struct {
	Investment  models.Investment       `json:"investment"`
	Payout      closure.Payout          `json:"payout"`
	Diagnostics *closure.Diagnostics    `json:"diagnostics,omitempty"`
	Cashflows   []models.CashflowRecord `json:"cashflows"`
}

// ClosePrematurely closes an investment before maturity. Projected system records after
// the closure date are discarded and the closure payout, penalty, TDS and audit records
// take their place.
func (l *Ledger) ClosePrematurely(id uuid.UUID, req ClosureRequest) (*ClosureResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.storage.GetInvestment(id)
	if err != nil {
		return nil, err
	}
	if inv.Status == models.InvestmentStatusMatured {
		return nil, fmt.Errorf("investment %s has already matured: %w", id, apperrors.ErrClosed)
	}

	closed, payout, err := closure.Apply(*inv, req.ClosureDate, req.PenaltyRatePercent, req.PenaltyAmount)
	if err != nil {
		return nil, err
	}
	closed.UpdatedAt = l.clock()

	existing, err := l.cashflows(id)
	if err != nil {
		return nil, err
	}
	var kept []models.CashflowRecord
	for _, rec := range cashflow.RemoveFutureCashflows(existing, closed.PrematureClosure.ClosureDate) {
		if !rec.IsManual() && !rec.IsConfirmed() {
			continue
		}
		kept = append(kept, rec)
	}
	added := cashflow.GeneratePrematureClosureCashflows(closed, closed.PrematureClosure, "")
	records := append(kept, added...)
	cashflow.SortByDate(records)

	if err := l.storage.UpdateInvestment(&closed); err != nil {
		return nil, fmt.Errorf("failed to store closure: %w", err)
	}
	if err := l.storage.ReplaceCashflows(id, records); err != nil {
		return nil, fmt.Errorf("failed to store closure cashflows: %w", err)
	}

	l.logger.Info("investment closed prematurely",
		"investment_id", id,
		"closure_date", closed.PrematureClosure.ClosureDate.Format(time.DateOnly),
		"recalculated_interest", payout.RecalculatedInterest.StringFixed(2),
		"final_payout", payout.FinalPayout.StringFixed(2))
	return &ClosureResult{
		Investment:  closed,
		Payout:      payout,
		Diagnostics: closure.GetClosureDiagnostics(closed, closed.PrematureClosure),
		Cashflows:   added,
	}, nil
}

// MaturityResult is the matured investment with the payout record and, when the amount
// received differs from the calculated one, the reconciling adjustment.
type MaturityResult struct {
	Investment models.Investment      `json:"investment"`
	Payout     models.CashflowRecord  `json:"payout"`
	Adjustment *models.CashflowRecord `json:"adjustment,omitempty"`
}

// RecordMaturity records the amount actually received at maturity. The projected maturity
// payout is confirmed, and any difference is booked as a maturity adjustment.
func (l *Ledger) RecordMaturity(id uuid.UUID, actual decimal.Decimal) (*MaturityResult, error) {
	if actual.IsNegative() {
		return nil, fmt.Errorf("%w: maturity payout cannot be negative", apperrors.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.storage.GetInvestment(id)
	if err != nil {
		return nil, err
	}
	if inv.IsPrematurelyClosed() {
		return nil, fmt.Errorf("investment %s was closed prematurely: %w", id, apperrors.ErrClosed)
	}
	if inv.MaturityClosure != nil {
		return nil, fmt.Errorf("maturity of investment %s already recorded: %w", id, apperrors.ErrDuplicate)
	}

	records, err := l.cashflows(id)
	if err != nil {
		return nil, err
	}

	// The adjustment reconciles against the same gross figure the summary reports, so that
	// gross plus the adjustment is what was received.
	calculated := cashflow.GrossMaturityAmount(*inv, records)

	idx := -1
	for i, rec := range records {
		if rec.Type == models.CashflowTypeMaturityPayout && !rec.IsManual() && period.Truncate(rec.Date).Equal(inv.MaturityDate) {
			idx = i
			break
		}
	}
	if idx < 0 {
		records = append(records, models.CashflowRecord{
			ID:            uuid.NewSHA1(inv.ID, []byte("maturity/"+inv.MaturityDate.Format(time.DateOnly))),
			InvestmentID:  inv.ID,
			Date:          inv.MaturityDate,
			Type:          models.CashflowTypeMaturityPayout,
			Amount:        calculated,
			FinancialYear: period.FinancialYearLabel(inv.MaturityDate),
			Source:        models.CashflowSourceSystem,
		})
		idx = len(records) - 1
	}
	records[idx].Status = models.CashflowStatusConfirmed
	payout := records[idx]

	adjustment := cashflow.CreateMaturityAdjustment(payout, calculated, actual)
	if adjustment != nil {
		records[idx].Status = models.CashflowStatusAdjusted
		payout = records[idx]
		records = append(records, *adjustment)
	}

	inv.Status = models.InvestmentStatusMatured
	inv.MaturityClosure = &models.MaturityClosure{ClosedOn: inv.MaturityDate, ActualPayout: &actual}
	inv.UpdatedAt = l.clock()

	if err := l.storage.UpdateInvestment(inv); err != nil {
		return nil, fmt.Errorf("failed to store maturity: %w", err)
	}
	if err := l.storage.ReplaceCashflows(id, records); err != nil {
		return nil, fmt.Errorf("failed to store maturity cashflows: %w", err)
	}

	l.logger.Info("maturity recorded",
		"investment_id", id,
		"calculated", calculated.StringFixed(2),
		"actual", actual.StringFixed(2))
	return &MaturityResult{Investment: *inv, Payout: payout, Adjustment: adjustment}, nil
}

// SetActualMaturityAmount records the user's own figure for what the investment will pay
// at maturity. A nil amount clears it. The override only applies while the investment is
// active; a recorded maturity or premature closure takes precedence over it.
func (l *Ledger) SetActualMaturityAmount(id uuid.UUID, amount *decimal.Decimal) (*models.Investment, error) {
	if amount != nil && amount.IsNegative() {
		return nil, fmt.Errorf("%w: actual maturity amount cannot be negative", apperrors.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.storage.GetInvestment(id)
	if err != nil {
		return nil, err
	}
	if inv.Status != models.InvestmentStatusActive {
		return nil, fmt.Errorf("investment %s is %s: %w", id, inv.Status, apperrors.ErrClosed)
	}

	if amount != nil {
		v := maturity.Round2(*amount)
		amount = &v
	}
	inv.ActualMaturityAmount = amount
	inv.UpdatedAt = l.clock()
	if err := l.storage.UpdateInvestment(inv); err != nil {
		return nil, fmt.Errorf("failed to store actual maturity amount: %w", err)
	}

	l.logger.Info("actual maturity amount set", "investment_id", id, "cleared", amount == nil)
	return inv, nil
}

// Summary is the read model of one investment: its schedule, per-financial-year totals and
// the payout figures derived from its ledger.
type Summary struct {
	Investment              models.Investment    `json:"investment"`
	AsOf                    time.Time            `json:"as_of"`
	FinancialYears          []schedule.FYSummary `json:"financial_years"`
	TotalTDS                decimal.Decimal      `json:"total_tds"`
	GrossMaturityAmount     decimal.Decimal      `json:"gross_maturity_amount"`
	NetMaturityAmount       decimal.Decimal      `json:"net_maturity_amount"`
	EffectiveMaturityAmount decimal.Decimal      `json:"effective_maturity_amount"`
	Closure                 *closure.Diagnostics `json:"closure,omitempty"`
	Anomalies               []schedule.Anomaly   `json:"anomalies,omitempty"`
}

// Summary derives an investment's FY totals and payout figures as of asOf.
func (l *Ledger) Summary(id uuid.UUID, asOf time.Time) (*Summary, error) {
	inv, err := l.storage.GetInvestment(id)
	if err != nil {
		return nil, err
	}
	records, err := l.cashflows(id)
	if err != nil {
		return nil, err
	}

	s := schedule.Generate(*inv, records, asOf, l.scheduleOptions()...)
	return &Summary{
		Investment:              *inv,
		AsOf:                    s.AsOf,
		FinancialYears:          schedule.SummarizeByFinancialYear(s),
		TotalTDS:                cashflow.TotalTDSForInvestment(id, records),
		GrossMaturityAmount:     cashflow.GrossMaturityAmount(*inv, records),
		NetMaturityAmount:       cashflow.NetMaturityAmount(*inv, records),
		EffectiveMaturityAmount: cashflow.EffectiveMaturityAmount(*inv, records),
		Closure:                 closure.GetClosureDiagnostics(*inv, inv.PrematureClosure),
		Anomalies:               s.Anomalies,
	}, nil
}

// Preview is what the creation wizard shows before an investment is saved.
type Preview struct {
	Investment     models.Investment    `json:"investment"`
	Maturity       maturity.Result      `json:"maturity"`
	Schedule       schedule.Schedule    `json:"schedule"`
	FinancialYears []schedule.FYSummary `json:"financial_years"`
}

// Preview calculates the maturity and schedule of unsaved terms. Nothing is stored.
func (l *Ledger) Preview(terms models.Investment, asOf time.Time) (*Preview, error) {
	inv := terms.WithDefaults()
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	in := maturity.Input{
		Principal:         inv.Principal,
		AnnualRatePercent: inv.InterestRate,
		StartDate:         inv.StartDate,
		MaturityDate:      inv.MaturityDate,
	}
	var res maturity.Result
	var err error
	if inv.Compounds() {
		res, err = maturity.Calculate(inv.CalculationMode, in)
	} else {
		res, err = simpleMaturity(inv)
	}
	if err != nil {
		return nil, err
	}
	inv.ExpectedMaturityAmount = res.MaturityAmount

	s := schedule.Generate(inv, nil, asOf, l.scheduleOptions()...)
	return &Preview{
		Investment:     inv,
		Maturity:       res,
		Schedule:       s,
		FinancialYears: schedule.SummarizeByFinancialYear(s),
	}, nil
}

// simpleMaturity describes investments that do not compound: cumulative ones earn simple
// interest, periodic-payout ones return their principal.
func simpleMaturity(inv models.Investment) (maturity.Result, error) {
	amount, err := maturity.ForInvestment(inv)
	if err != nil {
		return maturity.Result{}, err
	}
	days, err := period.DaysBetweenExclusive(inv.StartDate, inv.MaturityDate)
	if err != nil {
		return maturity.Result{}, err
	}
	explanation := fmt.Sprintf("interest paid out %s; principal %s returned at maturity",
		inv.InterestPayoutFrequency, inv.Principal.StringFixed(2))
	if inv.IsCumulative() {
		explanation = fmt.Sprintf("simple interest at %s%% for %d days, paid at maturity", inv.InterestRate, days)
	}
	return maturity.Result{
		MaturityAmount: amount,
		InterestEarned: amount.Sub(inv.Principal),
		DurationDays:   days,
		Explanation:    explanation,
	}, nil
}

// ConfirmDueCashflows posts every planned system record dated on or before asOf, the way a
// bank statement confirms them, and marks investments whose maturity date has passed as
// matured. It returns the number of records confirmed.
func (l *Ledger) ConfirmDueCashflows(asOf time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	asOf = period.Truncate(asOf)
	investments, err := l.storage.GetAllActiveInvestments()
	if err != nil {
		return 0, fmt.Errorf("failed to get active investments: %w", err)
	}

	total := 0
	for _, inv := range investments {
		records, err := l.cashflows(inv.ID)
		if err != nil {
			l.logger.Error("failed to load cashflows", "investment_id", inv.ID, "error", err)
			continue
		}

		confirmed := 0
		for i := range records {
			rec := &records[i]
			if rec.IsManual() || rec.Status != models.CashflowStatusPlanned || period.Truncate(rec.Date).After(asOf) {
				continue
			}
			rec.Status = models.CashflowStatusConfirmed
			confirmed++
		}
		if confirmed > 0 {
			if err := l.storage.ReplaceCashflows(inv.ID, records); err != nil {
				l.logger.Error("failed to confirm cashflows", "investment_id", inv.ID, "error", err)
				continue
			}
			total += confirmed
			l.logger.Info("confirmed due cashflows", "investment_id", inv.ID, "count", confirmed, "as_of", asOf.Format(time.DateOnly))
		}

		if inv.MaturityDate.After(asOf) {
			continue
		}
		inv.Status = models.InvestmentStatusMatured
		inv.UpdatedAt = l.clock()
		if err := l.storage.UpdateInvestment(inv); err != nil {
			l.logger.Error("failed to mark investment matured", "investment_id", inv.ID, "error", err)
			continue
		}
		l.logger.Info("investment matured", "investment_id", inv.ID, "maturity", inv.MaturityDate.Format(time.DateOnly))
	}
	return total, nil
}
