// Package period holds the calendar helpers used by the interest engine. All dates are
// treated as UTC calendar days; time-of-day is ignored.
package period

import (
	"fmt"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
)

const dayHours = 24 * time.Hour

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Truncate drops the time-of-day, keeping the calendar day as seen in t's location.
func Truncate(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// MonthEnd returns the last calendar day of the given month.
func MonthEnd(year int, month time.Month) time.Time {
	// Day 0 of the following month normalises to the last day of this one.
	return Date(year, month+1, 0)
}

// NextMonthEnd returns the first month end strictly after d.
func NextMonthEnd(d time.Time) time.Time {
	d = Truncate(d)
	end := MonthEnd(d.Year(), d.Month())
	if end.After(d) {
		return end
	}
	return MonthEnd(d.Year(), d.Month()+1)
}

// NextCalendarQuarterEnd returns the first of 31 Mar, 30 Jun, 30 Sep or 31 Dec strictly
// after d. Quarters are calendar aligned, never anniversary aligned.
func NextCalendarQuarterEnd(d time.Time) time.Time {
	d = Truncate(d)
	quarterLastMonth := time.Month(((int(d.Month())-1)/3 + 1) * 3)
	end := MonthEnd(d.Year(), quarterLastMonth)
	if end.After(d) {
		return end
	}
	return MonthEnd(d.Year(), quarterLastMonth+3)
}

// FinancialYearEnd returns 31 March of year.
func FinancialYearEnd(year int) time.Time {
	return Date(year, time.March, 31)
}

// NextFinancialYearEnd returns the first 31 March strictly after d.
func NextFinancialYearEnd(d time.Time) time.Time {
	d = Truncate(d)
	end := FinancialYearEnd(d.Year())
	if end.After(d) {
		return end
	}
	return FinancialYearEnd(d.Year() + 1)
}

// IsFinancialYearEnd reports whether d falls on 31 March.
func IsFinancialYearEnd(d time.Time) bool {
	return d.Month() == time.March && d.Day() == 31
}

// FinancialYearLabel returns the Indian financial year label, e.g. FY2024-25 for any day
// between 1 Apr 2024 and 31 Mar 2025.
func FinancialYearLabel(d time.Time) string {
	start := d.Year()
	if d.Month() < time.April {
		start--
	}
	return fmt.Sprintf("FY%d-%02d", start, (start+1)%100)
}

// DaysBetweenExclusive counts whole days from start to end without the +1 inclusive
// adjustment. An end before start is a caller error.
func DaysBetweenExclusive(start, end time.Time) (int, error) {
	s, e := Truncate(start), Truncate(end)
	if e.Before(s) {
		return 0, fmt.Errorf("%w: end %s is before start %s", apperrors.ErrValidation,
			e.Format(time.DateOnly), s.Format(time.DateOnly))
	}
	return int(e.Sub(s) / dayHours), nil
}

// MustDaysBetween is DaysBetweenExclusive for callers that have already ordered the dates.
func MustDaysBetween(start, end time.Time) int {
	days, err := DaysBetweenExclusive(start, end)
	if err != nil {
		panic(err)
	}
	return days
}
