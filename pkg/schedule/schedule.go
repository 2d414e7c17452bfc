// Package schedule builds the interest schedule of a fixed-income investment: one row per
// calculation period, reconciled against the confirmed records already in the ledger.
package schedule

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dvparth/wealthbooks/pkg/maturity"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type RowKind string

const (
	RowConfirmed RowKind = "confirmed"
	RowAccrued   RowKind = "accrued"
	RowExpected  RowKind = "expected"
	RowMaturity  RowKind = "maturity"
	RowTDS       RowKind = "tds"
)

var rowPriority = map[RowKind]int{
	RowConfirmed: 1,
	RowAccrued:   2,
	RowExpected:  3,
	RowMaturity:  4,
	RowTDS:       5,
}

type Row struct {
	ID               uuid.UUID           `json:"id"`
	Date             time.Time           `json:"date"`
	Kind             RowKind             `json:"kind"`
	CashflowType     models.CashflowType `json:"cashflow_type"`
	Amount           decimal.Decimal     `json:"amount"`
	RunningPrincipal decimal.Decimal     `json:"running_principal"`
	PeriodStart      time.Time           `json:"period_start"`
	Days             int                 `json:"days"`
	FinancialYear    string              `json:"financial_year"`
	Preview          bool                `json:"preview"`
	CashflowID       *uuid.UUID          `json:"cashflow_id,omitempty"` // ledger record behind a confirmed row
	TaxesRowID       *uuid.UUID          `json:"taxes_row_id,omitempty"`
}

type Schedule struct {
	InvestmentID uuid.UUID `json:"investment_id"`
	AsOf         time.Time `json:"as_of"`
	Rows         []Row     `json:"rows"`
	Periods      []Period  `json:"periods"`
	Anomalies    []Anomaly `json:"anomalies,omitempty"`
}

// Err joins the invariant anomalies found while generating, or returns nil.
func (s Schedule) Err() error {
	if len(s.Anomalies) == 0 {
		return nil
	}
	errs := make([]error, 0, len(s.Anomalies))
	for _, a := range s.Anomalies {
		errs = append(errs, a)
	}
	return errors.Join(errs...)
}

// RowsOfKind returns the rows with the given kind, in schedule order.
func (s Schedule) RowsOfKind(kind RowKind) []Row {
	var out []Row
	for _, r := range s.Rows {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type Options struct {
	TDSRatePercent decimal.Decimal
	Logger         *slog.Logger
	Strict         bool
}

type Option func(*Options)

// WithTDSRate emits a TDS row for every accrued and expected interest row. Zero disables.
func WithTDSRate(ratePercent decimal.Decimal) Option {
	return func(o *Options) { o.TDSRatePercent = ratePercent }
}

// WithLogger sets the logger that receives invariant anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithStrict logs anomalies at error level instead of warn.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

func buildOptions(opts []Option) Options {
	o := Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type generator struct {
	inv      models.Investment
	asOf     time.Time
	maturity time.Time
	opts     Options
	rows     []Row
}

// Generate walks the investment's calculation periods from its start date and reports
// each one exactly once: as the confirmed ledger record dated at the period end, as an
// accrued row (past, on 31 March or at maturity), or as an expected row (future).
// Cumulative investments also get a final maturity row while maturity is still ahead.
//
// asOf is the "today" that separates the past from the future. An investment without
// principal or rate yields an empty schedule.
func Generate(inv models.Investment, ledger []models.CashflowRecord, asOf time.Time, opts ...Option) Schedule {
	o := buildOptions(opts)
	asOf = period.Truncate(asOf)
	s := Schedule{InvestmentID: inv.ID, AsOf: asOf}
	if !inv.HasTerms() {
		return s
	}

	start, end := period.Truncate(inv.StartDate), period.Truncate(inv.MaturityDate)
	if end.Before(start) {
		o.Logger.Warn("investment matures before it starts, no schedule generated",
			"investment_id", inv.ID, "start", start.Format(time.DateOnly), "maturity", end.Format(time.DateOnly))
		return s
	}

	// A premature closure cuts the walk short; the closure cashflows stand in for
	// everything from the closure date on.
	closed := inv.IsPrematurelyClosed()
	if closed {
		if cd := period.Truncate(inv.PrematureClosure.ClosureDate); cd.Before(end) && cd.After(start) {
			end = cd
		}
	}

	g := &generator{inv: inv, asOf: asOf, maturity: period.Truncate(inv.MaturityDate), opts: o}
	confirmed, maturityConfirmed := confirmedRecords(inv, ledger)

	compounds := inv.Compounds()
	base := inv.Principal
	totalInterest := decimal.Zero
	guard := newGuard(g, compounds)

	periods := Periods(inv.InterestCalculationFrequency, start, end)
	for i := range periods {
		p := &periods[i]
		p.OpeningPrincipal = base

		if closed && p.End.Equal(end) {
			p.Outcome = OutcomeClosed
			p.Interest = decimal.Zero
			continue
		}

		var interest decimal.Decimal
		if rec, ok := confirmed[p.End]; ok {
			interest = rec.Amount
			p.Outcome = OutcomeConfirmed
			id := rec.ID
			g.rows = append(g.rows, Row{
				ID:               rec.ID,
				Date:             p.End,
				Kind:             RowConfirmed,
				CashflowType:     rec.Type,
				Amount:           rec.Amount,
				PeriodStart:      p.Start,
				Days:             p.Days,
				FinancialYear:    p.FinancialYear,
				CashflowID:       &id,
				RunningPrincipal: nextBase(base, interest, compounds),
			})
		} else {
			interest = maturity.Round2(maturity.SimpleInterest(base, inv.InterestRate, p.Days))
			switch {
			case p.End.After(asOf):
				p.Outcome = OutcomeExpected
				g.emitInterest(RowExpected, g.interestType(), p, interest, nextBase(base, interest, compounds))
			case period.IsFinancialYearEnd(p.End) || p.End.Equal(g.maturity):
				p.Outcome = OutcomeAccrued
				g.emitInterest(RowAccrued, models.CashflowTypeInterestAccrual, p, interest, nextBase(base, interest, compounds))
			default:
				p.Outcome = OutcomeElapsed
			}
		}

		p.Interest = interest
		totalInterest = totalInterest.Add(interest)
		base = nextBase(base, interest, compounds)
		guard.afterPeriod(*p, base)
	}

	if inv.IsCumulative() && !closed && g.maturity.After(asOf) && !maturityConfirmed {
		amount := inv.Principal.Add(totalInterest)
		g.rows = append(g.rows, Row{
			ID:               g.rowID(RowMaturity, g.maturity),
			Date:             g.maturity,
			Kind:             RowMaturity,
			CashflowType:     models.CashflowTypeMaturityPayout,
			Amount:           amount,
			RunningPrincipal: amount,
			FinancialYear:    period.FinancialYearLabel(g.maturity),
			Preview:          true,
		})
	}

	sortRows(g.rows)
	guard.checkDuplicates(g.rows)

	s.Rows = g.rows
	s.Periods = periods
	s.Anomalies = guard.anomalies
	return s
}

func nextBase(base, interest decimal.Decimal, compounds bool) decimal.Decimal {
	if compounds {
		return base.Add(interest)
	}
	return base
}

func (g *generator) interestType() models.CashflowType {
	if g.inv.IsCumulative() {
		return models.CashflowTypeInterestAccrual
	}
	return models.CashflowTypeInterestPayout
}

// rowID is stable for a given investment, kind and date so regenerated rows keep their ids.
func (g *generator) rowID(kind RowKind, date time.Time) uuid.UUID {
	return uuid.NewSHA1(g.inv.ID, []byte(fmt.Sprintf("%s/%s", kind, date.Format(time.DateOnly))))
}

func (g *generator) emitInterest(kind RowKind, cfType models.CashflowType, p *Period, interest, running decimal.Decimal) {
	row := Row{
		ID:               g.rowID(kind, p.End),
		Date:             p.End,
		Kind:             kind,
		CashflowType:     cfType,
		Amount:           interest,
		RunningPrincipal: running,
		PeriodStart:      p.Start,
		Days:             p.Days,
		FinancialYear:    p.FinancialYear,
		Preview:          kind == RowExpected,
	}
	g.rows = append(g.rows, row)

	if !g.opts.TDSRatePercent.IsPositive() || !interest.IsPositive() {
		return
	}
	taxed := row.ID
	g.rows = append(g.rows, Row{
		ID:            g.rowID(RowTDS, p.End),
		Date:          p.End,
		Kind:          RowTDS,
		CashflowType:  models.CashflowTypeTDSDeduction,
		Amount:        maturity.Round2(interest.Mul(g.opts.TDSRatePercent).Div(hundred)).Neg(),
		PeriodStart:   p.Start,
		Days:          p.Days,
		FinancialYear: p.FinancialYear,
		Preview:       row.Preview,
		TaxesRowID:    &taxed,
	})
}

// confirmedRecords indexes the confirmed interest records of inv by date, and reports
// whether the maturity payout itself has been confirmed.
func confirmedRecords(inv models.Investment, ledger []models.CashflowRecord) (map[time.Time]models.CashflowRecord, bool) {
	byDate := make(map[time.Time]models.CashflowRecord)
	maturityConfirmed := false
	maturityDate := period.Truncate(inv.MaturityDate)
	for _, rec := range ledger {
		if rec.InvestmentID != inv.ID || !rec.IsConfirmed() {
			continue
		}
		date := period.Truncate(rec.Date)
		switch {
		case rec.Type.IsInterest():
			if prev, ok := byDate[date]; ok {
				// two confirmed interest records on one date: they settle the same period
				rec.Amount = rec.Amount.Add(prev.Amount)
				rec.ID = prev.ID
			}
			byDate[date] = rec
		case rec.Type == models.CashflowTypeMaturityPayout && date.Equal(maturityDate):
			maturityConfirmed = true
		}
	}
	return byDate, maturityConfirmed
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			return rows[i].Date.Before(rows[j].Date)
		}
		return rowPriority[rows[i].Kind] < rowPriority[rows[j].Kind]
	})
}
