package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/dvparth/wealthbooks/pkg/schedule"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
type MockStore struct {
	investments map[uuid.UUID]models.Investment
	cashflows   map[uuid.UUID][]models.CashflowRecord
}

func NewMockStore() *MockStore {
	return &MockStore{
		investments: make(map[uuid.UUID]models.Investment),
		cashflows:   make(map[uuid.UUID][]models.CashflowRecord),
	}
}

func (m *MockStore) CreateInvestment(inv *models.Investment) error {
	if _, ok := m.investments[inv.ID]; ok {
		return apperrors.ErrDuplicate
	}
	m.investments[inv.ID] = *inv
	return nil
}

func (m *MockStore) GetInvestment(id uuid.UUID) (*models.Investment, error) {
	inv, ok := m.investments[id]
	if !ok {
		return nil, fmt.Errorf("investment %s: %w", id, apperrors.ErrNotFound)
	}
	return &inv, nil
}

func (m *MockStore) UpdateInvestment(inv *models.Investment) error {
	if _, ok := m.investments[inv.ID]; !ok {
		return apperrors.ErrNotFound
	}
	m.investments[inv.ID] = *inv
	return nil
}

func (m *MockStore) DeleteInvestment(id uuid.UUID) error {
	if _, ok := m.investments[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.investments, id)
	delete(m.cashflows, id)
	return nil
}

func (m *MockStore) GetAllInvestments() ([]*models.Investment, error) {
	investments := []*models.Investment{}
	for _, inv := range m.investments {
		inv := inv
		investments = append(investments, &inv)
	}
	return investments, nil
}

func (m *MockStore) GetAllActiveInvestments() ([]*models.Investment, error) {
	investments := []*models.Investment{}
	for _, inv := range m.investments {
		if inv.Status == models.InvestmentStatusActive {
			inv := inv
			investments = append(investments, &inv)
		}
	}
	return investments, nil
}

func (m *MockStore) CreateCashflow(cf *models.CashflowRecord) error {
	if _, ok := m.investments[cf.InvestmentID]; !ok {
		return apperrors.ErrNotFound
	}
	m.cashflows[cf.InvestmentID] = append(m.cashflows[cf.InvestmentID], *cf)
	return nil
}

func (m *MockStore) GetCashflowsForInvestment(investmentID uuid.UUID) ([]*models.CashflowRecord, error) {
	cfs := []*models.CashflowRecord{}
	for _, cf := range m.cashflows[investmentID] {
		cf := cf
		cfs = append(cfs, &cf)
	}
	return cfs, nil
}

func (m *MockStore) ReplaceCashflows(investmentID uuid.UUID, records []models.CashflowRecord) error {
	m.cashflows[investmentID] = append([]models.CashflowRecord(nil), records...)
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

func fixedClock(y int, mo time.Month, d int) func() time.Time {
	return func() time.Time { return time.Date(y, mo, d, 9, 0, 0, 0, time.UTC) }
}

func cumulativeFD() models.Investment {
	return models.Investment{
		Name:                         "Bank FD",
		Principal:                    decimal.RequireFromString("750000"),
		InterestRate:                 decimal.RequireFromString("6.75"),
		StartDate:                    period.Date(2024, 8, 23),
		MaturityDate:                 period.Date(2025, 11, 20),
		InterestCalculationFrequency: models.FrequencyQuarterly,
		InterestPayoutFrequency:      models.FrequencyMaturity,
		Compounding:                  models.CompoundingYes,
	}
}

func countBy(records []models.CashflowRecord, t models.CashflowType, status models.CashflowStatus) int {
	n := 0
	for _, r := range records {
		if r.Type == t && r.Status == status {
			n++
		}
	}
	return n
}

func TestCreateInvestment(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store, WithClock(fixedClock(2025, 5, 1)))

	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	if inv.ID == uuid.Nil {
		t.Fatalf("Expected an id to be assigned")
	}
	if inv.CalculationMode != models.CalculationModeFractional || inv.Status != models.InvestmentStatusActive {
		t.Errorf("Expected defaults to be applied, got mode %s status %s", inv.CalculationMode, inv.Status)
	}
	if !inv.ExpectedMaturityAmount.GreaterThan(inv.Principal) {
		t.Errorf("Expected a maturity amount above principal, got %s", inv.ExpectedMaturityAmount)
	}

	records, err := l.Cashflows(inv.ID)
	if err != nil {
		t.Fatalf("Failed to get cashflows: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("Expected 10 cashflows, got %d", len(records))
	}
	if records[0].Type != models.CashflowTypePrincipal || !records[0].Amount.Equal(inv.Principal) {
		t.Errorf("Expected the principal deposit first, got %s %s", records[0].Type, records[0].Amount)
	}
	if n := countBy(records, models.CashflowTypeInterestAccrual, models.CashflowStatusConfirmed); n != 1 {
		t.Errorf("Expected 1 accrued interest record, got %d", n)
	}
	if n := countBy(records, models.CashflowTypeInterestAccrual, models.CashflowStatusPlanned); n != 3 {
		t.Errorf("Expected 3 projected interest records, got %d", n)
	}
	if n := countBy(records, models.CashflowTypeTDSDeduction, models.CashflowStatusPlanned) +
		countBy(records, models.CashflowTypeTDSDeduction, models.CashflowStatusConfirmed); n != 4 {
		t.Errorf("Expected 4 TDS records, got %d", n)
	}

	var payout *models.CashflowRecord
	for i := range records {
		if records[i].Type == models.CashflowTypeMaturityPayout {
			payout = &records[i]
		}
	}
	if payout == nil {
		t.Fatalf("Expected a projected maturity payout")
	}
	if !payout.Amount.Equal(decimal.RequireFromString("815172.78")) || payout.Status != models.CashflowStatusPlanned {
		t.Errorf("Expected planned maturity payout 815172.78, got %s %s", payout.Status, payout.Amount)
	}
	if !payout.Date.Equal(period.Date(2025, 11, 20)) {
		t.Errorf("Expected maturity payout on 2025-11-20, got %s", payout.Date.Format(time.DateOnly))
	}
}

func TestCreateInvestmentValidation(t *testing.T) {
	l := NewLedger(NewMockStore())

	terms := cumulativeFD()
	terms.MaturityDate = terms.StartDate
	if _, err := l.CreateInvestment(terms); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestRegenerateCashflowsKeepsManualRecords(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store, WithClock(fixedClock(2025, 5, 1)))

	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}
	manual, err := l.AddCashflow(inv.ID, models.CashflowRecord{
		Date:        period.Date(2025, 4, 15),
		Type:        models.CashflowTypeAdjustment,
		Amount:      decimal.RequireFromString("-12.50"),
		Description: "bank charge",
	})
	if err != nil {
		t.Fatalf("Failed to add cashflow: %v", err)
	}
	if manual.Source != models.CashflowSourceManual || manual.FinancialYear != "FY2025-26" {
		t.Errorf("Expected manual record in FY2025-26, got %s %s", manual.Source, manual.FinancialYear)
	}

	before, _ := l.Cashflows(inv.ID)
	after, err := l.RegenerateCashflows(inv.ID, period.Date(2025, 5, 1))
	if err != nil {
		t.Fatalf("Failed to regenerate: %v", err)
	}

	if len(after) != len(before) {
		t.Fatalf("Expected regeneration to be stable, got %d records then %d", len(before), len(after))
	}
	ids := make(map[uuid.UUID]bool, len(before))
	for _, r := range before {
		ids[r.ID] = true
	}
	foundManual := false
	for _, r := range after {
		if !ids[r.ID] {
			t.Errorf("Regeneration produced a new id %s for %s on %s", r.ID, r.Type, r.Date.Format(time.DateOnly))
		}
		if r.ID == manual.ID {
			foundManual = true
		}
	}
	if !foundManual {
		t.Errorf("Expected the manual record to survive regeneration")
	}
}

func TestAddCashflowErrors(t *testing.T) {
	l := NewLedger(NewMockStore(), WithClock(fixedClock(2025, 5, 1)))
	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	_, err = l.AddCashflow(inv.ID, models.CashflowRecord{
		Date:   period.Date(2025, 3, 31),
		Type:   models.CashflowTypeTDSDeduction,
		Amount: decimal.NewFromInt(100),
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for a positive TDS amount, got %v", err)
	}

	_, err = l.AddCashflow(uuid.New(), models.CashflowRecord{
		Date:   period.Date(2025, 3, 31),
		Type:   models.CashflowTypeInterestPayout,
		Amount: decimal.NewFromInt(100),
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a missing investment, got %v", err)
	}
}

func TestConfirmDueCashflows(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store, WithClock(fixedClock(2025, 5, 1)))
	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	n, err := l.ConfirmDueCashflows(period.Date(2025, 7, 1))
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected the June interest and its TDS to be confirmed, got %d", n)
	}

	s, err := l.Schedule(inv.ID, period.Date(2025, 7, 1))
	if err != nil {
		t.Fatalf("Failed to generate schedule: %v", err)
	}
	if got := len(s.RowsOfKind(schedule.RowConfirmed)); got != 2 {
		t.Errorf("Expected 2 confirmed interest rows, got %d", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Expected no anomalies, got %v", err)
	}

	n, err = l.ConfirmDueCashflows(period.Date(2025, 12, 1))
	if err != nil {
		t.Fatalf("Batch failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 records confirmed at maturity, got %d", n)
	}
	matured, _ := l.GetInvestment(inv.ID)
	if matured.Status != models.InvestmentStatusMatured {
		t.Errorf("Expected status matured, got %s", matured.Status)
	}

	n, _ = l.ConfirmDueCashflows(period.Date(2025, 12, 2))
	if n != 0 {
		t.Errorf("Expected matured investments to be skipped, got %d", n)
	}
}

func TestClosePrematurely(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store, WithClock(fixedClock(2025, 1, 10)))
	inv, err := l.CreateInvestment(models.Investment{
		Principal:               decimal.NewFromInt(100000),
		InterestRate:            decimal.NewFromInt(7),
		StartDate:               period.Date(2024, 9, 19),
		MaturityDate:            period.Date(2025, 12, 7),
		InterestPayoutFrequency: models.FrequencyMaturity,
		Compounding:             models.CompoundingNo,
	})
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	res, err := l.ClosePrematurely(inv.ID, ClosureRequest{
		ClosureDate:        period.Date(2025, 3, 19),
		PenaltyRatePercent: decimal.NewFromInt(1),
		PenaltyAmount:      decimal.Zero,
	})
	if err != nil {
		t.Fatalf("Failed to close investment: %v", err)
	}

	if !res.Payout.RecalculatedInterest.Equal(decimal.RequireFromString("2975.34")) {
		t.Errorf("Expected recalculated interest 2975.34, got %s", res.Payout.RecalculatedInterest)
	}
	if !res.Payout.FinalPayout.Equal(decimal.RequireFromString("102975.34")) {
		t.Errorf("Expected final payout 102975.34, got %s", res.Payout.FinalPayout)
	}
	if res.Investment.Status != models.InvestmentStatusClosed || res.Diagnostics == nil {
		t.Errorf("Expected a closed investment with diagnostics, got %s", res.Investment.Status)
	}
	if len(res.Cashflows) != 2 {
		t.Errorf("Expected payout and audit records, got %d", len(res.Cashflows))
	}

	records, _ := l.Cashflows(inv.ID)
	if len(records) != 3 {
		t.Fatalf("Expected principal, payout and audit records, got %d", len(records))
	}
	for _, r := range records {
		if r.Date.After(period.Date(2025, 3, 19)) {
			t.Errorf("Expected no records after the closure date, got %s on %s", r.Type, r.Date.Format(time.DateOnly))
		}
	}

	summary, err := l.Summary(inv.ID, period.Date(2025, 4, 1))
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if !summary.EffectiveMaturityAmount.Equal(decimal.RequireFromString("102975.34")) {
		t.Errorf("Expected effective maturity 102975.34, got %s", summary.EffectiveMaturityAmount)
	}

	_, err = l.ClosePrematurely(inv.ID, ClosureRequest{ClosureDate: period.Date(2025, 4, 1)})
	if !errors.Is(err, apperrors.ErrClosed) {
		t.Errorf("Expected ErrClosed on a second closure, got %v", err)
	}
}

func TestClosePrematurelyValidation(t *testing.T) {
	l := NewLedger(NewMockStore(), WithClock(fixedClock(2025, 1, 10)))
	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	_, err = l.ClosePrematurely(inv.ID, ClosureRequest{
		ClosureDate:        period.Date(2026, 1, 1),
		PenaltyRatePercent: decimal.NewFromInt(150),
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
	unchanged, _ := l.GetInvestment(inv.ID)
	if unchanged.Status != models.InvestmentStatusActive {
		t.Errorf("Expected a rejected closure to leave the investment active, got %s", unchanged.Status)
	}
}

func TestRecordMaturity(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store, WithClock(fixedClock(2025, 5, 1)))
	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	res, err := l.RecordMaturity(inv.ID, decimal.RequireFromString("815200"))
	if err != nil {
		t.Fatalf("Failed to record maturity: %v", err)
	}
	if res.Adjustment == nil {
		t.Fatalf("Expected a maturity adjustment")
	}
	wantAdjustment := decimal.RequireFromString("815200").Sub(inv.ExpectedMaturityAmount)
	if !res.Adjustment.Amount.Equal(wantAdjustment) {
		t.Errorf("Expected adjustment %s, got %s", wantAdjustment, res.Adjustment.Amount)
	}
	if res.Payout.Status != models.CashflowStatusAdjusted {
		t.Errorf("Expected the payout to be marked adjusted, got %s", res.Payout.Status)
	}
	if res.Investment.Status != models.InvestmentStatusMatured {
		t.Errorf("Expected status matured, got %s", res.Investment.Status)
	}

	summary, err := l.Summary(inv.ID, period.Date(2025, 12, 1))
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if !summary.EffectiveMaturityAmount.Equal(decimal.RequireFromString("815200")) {
		t.Errorf("Expected effective maturity 815200, got %s", summary.EffectiveMaturityAmount)
	}
	if !summary.GrossMaturityAmount.Equal(decimal.RequireFromString("815200")) {
		t.Errorf("Expected gross maturity to equal the amount received, got %s", summary.GrossMaturityAmount)
	}
	wantNet := decimal.RequireFromString("815200").Sub(summary.TotalTDS)
	if !summary.NetMaturityAmount.Equal(wantNet) {
		t.Errorf("Expected net maturity %s, got %s", wantNet, summary.NetMaturityAmount)
	}

	if _, err := l.RecordMaturity(inv.ID, decimal.RequireFromString("815200")); !errors.Is(err, apperrors.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate on a second maturity, got %v", err)
	}
}

func TestRecordMaturityExactAmount(t *testing.T) {
	l := NewLedger(NewMockStore(), WithClock(fixedClock(2025, 5, 1)))
	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	res, err := l.RecordMaturity(inv.ID, inv.ExpectedMaturityAmount)
	if err != nil {
		t.Fatalf("Failed to record maturity: %v", err)
	}
	if res.Adjustment != nil {
		t.Errorf("Expected no adjustment, got %s", res.Adjustment.Amount)
	}
	if res.Payout.Status != models.CashflowStatusConfirmed {
		t.Errorf("Expected payout confirmed, got %s", res.Payout.Status)
	}
}

func TestPreview(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	terms := models.Investment{
		Principal:    decimal.RequireFromString("457779"),
		InterestRate: decimal.RequireFromString("7.75"),
		StartDate:    period.Date(2024, 9, 19),
		MaturityDate: period.Date(2025, 12, 7),
	}

	tests := []struct {
		mode models.CalculationMode
		want string
	}{
		{models.CalculationModeFractional, "502582.02"},
		{models.CalculationModeBank, "502592.73"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			terms := terms
			terms.CalculationMode = tt.mode
			p, err := l.Preview(terms, period.Date(2024, 9, 19))
			if err != nil {
				t.Fatalf("Preview failed: %v", err)
			}
			if !p.Maturity.MaturityAmount.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Expected maturity %s, got %s", tt.want, p.Maturity.MaturityAmount)
			}
			if len(p.Schedule.RowsOfKind(schedule.RowExpected)) == 0 {
				t.Errorf("Expected projected interest rows")
			}
		})
	}

	if len(store.investments) != 0 {
		t.Errorf("Expected preview to store nothing, got %d investments", len(store.investments))
	}

	payout := terms
	payout.InterestPayoutFrequency = models.FrequencyQuarterly
	p, err := l.Preview(payout, period.Date(2024, 9, 19))
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if !p.Maturity.MaturityAmount.Equal(terms.Principal) {
		t.Errorf("Expected a payout investment to return its principal, got %s", p.Maturity.MaturityAmount)
	}
}

func TestDeleteInvestment(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store, WithClock(fixedClock(2025, 5, 1)))
	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}

	if err := l.DeleteInvestment(inv.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := l.GetInvestment(inv.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if _, err := l.Schedule(inv.ID, period.Date(2025, 5, 1)); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for the schedule of a deleted investment, got %v", err)
	}
}

func TestSetActualMaturityAmount(t *testing.T) {
	l := NewLedger(NewMockStore(), WithClock(fixedClock(2025, 5, 1)))
	inv, err := l.CreateInvestment(cumulativeFD())
	if err != nil {
		t.Fatalf("Failed to create investment: %v", err)
	}
	asOf := period.Date(2025, 5, 1)

	override := decimal.RequireFromString("815000")
	updated, err := l.SetActualMaturityAmount(inv.ID, &override)
	if err != nil {
		t.Fatalf("Failed to set actual maturity amount: %v", err)
	}
	if updated.ActualMaturityAmount == nil || !updated.ActualMaturityAmount.Equal(override) {
		t.Fatalf("Expected override %s, got %v", override, updated.ActualMaturityAmount)
	}
	summary, err := l.Summary(inv.ID, asOf)
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if !summary.EffectiveMaturityAmount.Equal(override) {
		t.Errorf("Expected effective maturity %s from the override, got %s", override, summary.EffectiveMaturityAmount)
	}

	if _, err := l.SetActualMaturityAmount(inv.ID, nil); err != nil {
		t.Fatalf("Failed to clear actual maturity amount: %v", err)
	}
	summary, err = l.Summary(inv.ID, asOf)
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if !summary.EffectiveMaturityAmount.Equal(summary.NetMaturityAmount) {
		t.Errorf("Expected effective maturity to fall back to net %s, got %s", summary.NetMaturityAmount, summary.EffectiveMaturityAmount)
	}

	negative := decimal.RequireFromString("-1")
	if _, err := l.SetActualMaturityAmount(inv.ID, &negative); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected ErrValidation for a negative amount, got %v", err)
	}
	if _, err := l.SetActualMaturityAmount(uuid.New(), &override); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown investment, got %v", err)
	}

	if _, err := l.RecordMaturity(inv.ID, decimal.RequireFromString("815200")); err != nil {
		t.Fatalf("Failed to record maturity: %v", err)
	}
	if _, err := l.SetActualMaturityAmount(inv.ID, &override); !errors.Is(err, apperrors.ErrClosed) {
		t.Errorf("Expected ErrClosed once maturity is recorded, got %v", err)
	}
}
