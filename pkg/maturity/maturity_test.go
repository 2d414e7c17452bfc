package maturity

import (
	"errors"
	"testing"
	"time"

	"github.com/dvparth/wealthbooks/pkg/apperrors"
	"github.com/dvparth/wealthbooks/pkg/models"
	"github.com/dvparth/wealthbooks/pkg/period"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"expected %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func TestFractional_ReferenceValue(t *testing.T) {
	res, err := Fractional(Input{
		Principal:         dec("457779"),
		AnnualRatePercent: dec("7.75"),
		StartDate:         period.Date(2024, time.September, 19),
		MaturityDate:      period.Date(2025, time.December, 7),
	})
	require.NoError(t, err)
	assertDecimal(t, "502582.02", res.MaturityAmount)
	assertDecimal(t, "44803.02", res.InterestEarned)
	assert.Equal(t, 444, res.DurationDays)

	byDuration, err := Fractional(Input{
		Principal:         dec("457779"),
		AnnualRatePercent: dec("7.75"),
		DurationDays:      Days(444),
	})
	require.NoError(t, err)
	assert.True(t, res.MaturityAmount.Equal(byDuration.MaturityAmount))
	assert.True(t, res.InterestEarned.Equal(byDuration.InterestEarned))
}

func TestFractional_OneYear(t *testing.T) {
	res, err := Fractional(Input{Principal: dec("100000"), AnnualRatePercent: dec("7"), DurationDays: Days(365)})
	require.NoError(t, err)
	assertDecimal(t, "107185.90", res.MaturityAmount)
	assertDecimal(t, "7185.90", res.InterestEarned)
}

func TestBank_RoundsPerQuarter(t *testing.T) {
	res, err := Bank(Input{
		Principal:         dec("457779"),
		AnnualRatePercent: dec("7.75"),
		StartDate:         period.Date(2024, time.September, 19),
		MaturityDate:      period.Date(2025, time.December, 7),
	})
	require.NoError(t, err)
	assertDecimal(t, "502592.73", res.MaturityAmount)
	assertDecimal(t, "44813.73", res.InterestEarned)

	oneYear, err := Bank(Input{Principal: dec("100000"), AnnualRatePercent: dec("7"), DurationDays: Days(365)})
	require.NoError(t, err)
	assertDecimal(t, "107185.91", oneYear.MaturityAmount)

	// under one quarter only simple interest applies
	stub, err := Bank(Input{Principal: dec("100000"), AnnualRatePercent: dec("7"), DurationDays: Days(91)})
	require.NoError(t, err)
	assertDecimal(t, "101745.21", stub.MaturityAmount)
}

func TestModesDiverge(t *testing.T) {
	in := Input{Principal: dec("100000"), AnnualRatePercent: dec("7"), DurationDays: Days(365)}
	frac, err := Calculate(models.CalculationModeFractional, in)
	require.NoError(t, err)
	bank, err := Calculate(models.CalculationModeBank, in)
	require.NoError(t, err)
	assert.False(t, frac.MaturityAmount.Equal(bank.MaturityAmount))
}

func TestZeroDuration(t *testing.T) {
	for _, p := range []string{"1", "50000", "457779.55"} {
		for _, r := range []string{"0", "6.5", "12"} {
			in := Input{Principal: dec(p), AnnualRatePercent: dec(r), DurationDays: Days(0)}
			for _, calc := range []func(Input) (Result, error){Fractional, Bank} {
				res, err := calc(in)
				require.NoError(t, err)
				assertDecimal(t, p, res.MaturityAmount)
				assert.True(t, res.InterestEarned.IsZero())
			}
		}
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"zero principal", Input{Principal: decimal.Zero, AnnualRatePercent: dec("7"), DurationDays: Days(10)}},
		{"negative principal", Input{Principal: dec("-1"), AnnualRatePercent: dec("7"), DurationDays: Days(10)}},
		{"negative rate", Input{Principal: dec("100"), AnnualRatePercent: dec("-0.5"), DurationDays: Days(10)}},
		{"no duration or dates", Input{Principal: dec("100"), AnnualRatePercent: dec("7"), StartDate: period.Date(2024, time.January, 1)}},
		{"maturity before start", Input{Principal: dec("100"), AnnualRatePercent: dec("7"),
			StartDate: period.Date(2024, time.January, 2), MaturityDate: period.Date(2024, time.January, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fractional(tt.in)
			require.Error(t, err)
			var vErr *ValidationError
			assert.True(t, errors.As(err, &vErr))
			assert.True(t, errors.Is(err, apperrors.ErrValidation))

			_, err = Bank(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestForInvestment(t *testing.T) {
	inv := models.Investment{
		Principal:    dec("457779"),
		InterestRate: dec("7.75"),
		StartDate:    period.Date(2024, time.September, 19),
		MaturityDate: period.Date(2025, time.December, 7),
	}.WithDefaults()

	amount, err := ForInvestment(inv)
	require.NoError(t, err)
	assertDecimal(t, "502582.02", amount)

	inv.CalculationMode = models.CalculationModeBank
	amount, err = ForInvestment(inv)
	require.NoError(t, err)
	assertDecimal(t, "502592.73", amount)

	inv.Compounding = models.CompoundingNo
	amount, err = ForInvestment(inv)
	require.NoError(t, err)
	// 457779 * 7.75 * 444 / 36500 = 43156.6449...
	assertDecimal(t, "500935.64", amount)

	inv.InterestPayoutFrequency = models.FrequencyQuarterly
	amount, err = ForInvestment(inv)
	require.NoError(t, err)
	assertDecimal(t, "457779", amount)
}
