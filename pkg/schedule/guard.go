package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CheckPrincipalNotIncreasing = "running_principal_not_increasing"
	CheckInterestDecreasing     = "interest_decreasing"
	CheckDuplicateRow           = "duplicate_row"
)

// halfPaisa is the largest error rounding to two places can introduce.
var halfPaisa = decimal.RequireFromString("0.005")

// Anomaly is a broken schedule invariant. It indicates a day-count or data defect; the
// schedule is still returned.
type Anomaly struct {
	Date   time.Time `json:"date"`
	Check  string    `json:"check"`
	Detail string    `json:"detail"`
}

func (a Anomaly) Error() string {
	return fmt.Sprintf("%s on %s: %s", a.Check, a.Date.Format(time.DateOnly), a.Detail)
}

type guard struct {
	g          *generator
	compounds  bool
	havePrev   bool
	prevPerDay decimal.Decimal
	prevDays   int
	anomalies  []Anomaly
}

func newGuard(g *generator, compounds bool) *guard {
	return &guard{g: g, compounds: compounds}
}

// afterPeriod checks that compounding actually compounded: the base must grow every
// period and the interest earned per day must not shrink beyond rounding error.
func (gd *guard) afterPeriod(p Period, base decimal.Decimal) {
	if !gd.compounds || p.Days == 0 {
		return
	}
	if !base.GreaterThan(p.OpeningPrincipal) {
		gd.flag(p.End, CheckPrincipalNotIncreasing,
			fmt.Sprintf("running principal %s did not grow from %s", base.StringFixed(2), p.OpeningPrincipal.StringFixed(2)))
	}

	perDay := p.Interest.Div(decimal.NewFromInt(int64(p.Days)))
	if gd.havePrev {
		tolerance := halfPaisa.Div(decimal.NewFromInt(int64(p.Days))).
			Add(halfPaisa.Div(decimal.NewFromInt(int64(gd.prevDays))))
		if perDay.Add(tolerance).LessThan(gd.prevPerDay) {
			gd.flag(p.End, CheckInterestDecreasing,
				fmt.Sprintf("interest per day fell from %s to %s", gd.prevPerDay.StringFixed(4), perDay.StringFixed(4)))
		}
	}
	gd.havePrev = true
	gd.prevPerDay = perDay
	gd.prevDays = p.Days
}

type rowKey struct {
	date time.Time
	kind RowKind
}

func (gd *guard) checkDuplicates(rows []Row) {
	seen := make(map[rowKey]int, len(rows))
	for _, r := range rows {
		k := rowKey{r.Date, r.Kind}
		seen[k]++
		if seen[k] == 2 {
			gd.flag(r.Date, CheckDuplicateRow, fmt.Sprintf("more than one %s row", r.Kind))
		}
	}
}

func (gd *guard) flag(date time.Time, check, detail string) {
	a := Anomaly{Date: date, Check: check, Detail: detail}
	gd.anomalies = append(gd.anomalies, a)

	level := slog.LevelWarn
	if gd.g.opts.Strict {
		level = slog.LevelError
	}
	gd.g.opts.Logger.Log(context.Background(), level, "interest schedule anomaly",
		"investment_id", gd.g.inv.ID,
		"date", date.Format(time.DateOnly),
		"check", check,
		"detail", detail)
}
