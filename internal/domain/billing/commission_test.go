package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCommission(t *testing.T) {
	t.Run("example split", func(t *testing.T) {
		split, err := CalculateCommission(decimal.RequireFromString("100.00"), decimal.NewFromInt(3))
		require.NoError(t, err)
		assert.True(t, split.CommissionAmount.Equal(decimal.RequireFromString("3.00")))
		assert.True(t, split.PayoutAmount.Equal(decimal.RequireFromString("97.00")))
	})

	t.Run("truncates to minor unit", func(t *testing.T) {
		split, err := CalculateCommission(decimal.RequireFromString("33.33"), decimal.RequireFromString("7.5"))
		require.NoError(t, err)
		// 33.33 * 7.5% = 2.49975
		assert.Equal(t, "2.49", split.CommissionAmount.StringFixed(2))
		assert.Equal(t, "30.84", split.PayoutAmount.StringFixed(2))
	})

	t.Run("zero price", func(t *testing.T) {
		split, err := CalculateCommission(decimal.Zero, decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.True(t, split.CommissionAmount.IsZero())
		assert.True(t, split.PayoutAmount.IsZero())
	})

	t.Run("negative price rejected", func(t *testing.T) {
		_, err := CalculateCommission(decimal.NewFromInt(-1), decimal.NewFromInt(3))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "appointmentPrice", verr.Field)
	})

	t.Run("percentage out of range rejected", func(t *testing.T) {
		_, err := CalculateCommission(decimal.NewFromInt(10), decimal.NewFromInt(101))
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestCalculateCommissionSumsToPrice(t *testing.T) {
	prices := []string{"0.01", "0.99", "1.00", "12.34", "50.00", "99.99", "100.00", "149.95", "1234.56", "99999.99"}
	for _, p := range prices {
		price := decimal.RequireFromString(p)
		for pct := 1; pct <= 10; pct++ {
			for _, frac := range []string{"0", "0.25", "0.5", "0.99"} {
				percentage := decimal.NewFromInt(int64(pct)).Add(decimal.RequireFromString(frac))
				split, err := CalculateCommission(price, percentage)
				require.NoError(t, err)
				assert.Truef(t, split.CommissionAmount.Add(split.PayoutAmount).Equal(price),
					"price=%s pct=%s commission=%s payout=%s", price, percentage, split.CommissionAmount, split.PayoutAmount)
				assert.False(t, split.PayoutAmount.IsNegative())
			}
		}
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(5000), ToMinorUnits(decimal.RequireFromString("50.00")))
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.True(t, FromMinorUnits(1999).Equal(decimal.RequireFromString("19.99")))
}

func TestProRata(t *testing.T) {
	commission := decimal.RequireFromString("3.00")
	price := decimal.RequireFromString("100.00")

	assert.Equal(t, "1.50", ProRata(commission, decimal.NewFromInt(50), price).StringFixed(2))
	assert.True(t, ProRata(commission, price, price).Equal(commission))
	assert.True(t, ProRata(commission, decimal.NewFromInt(10), decimal.Zero).IsZero())
}
