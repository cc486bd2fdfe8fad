package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineTotal(t *testing.T) {
	require.Equal(t, int64(2900), LineTotal(3, 1000, 100))
	require.Equal(t, int64(3000), LineTotal(3, 1000, 0))
	require.Equal(t, int64(0), LineTotal(1, 100, 500), "floored at zero")
}

func TestDiscount(t *testing.T) {
	// 10% of 10 units @ 500 cents.
	require.Equal(t, int64(500), Discount(DiscountTypePercent, 10, 500, 1000))
	// 25 cents off per unit, 4 units.
	require.Equal(t, int64(100), Discount(DiscountTypeAmount, 4, 500, 25))
	require.Equal(t, int64(0), Discount(DiscountTypeNone, 4, 500, 25))
	// Half-cent rounds up: 2.5% of 3*33 = 2.475.
	require.Equal(t, int64(2), Discount(DiscountTypePercent, 3, 33, 250))
}

func TestExclusiveVAT(t *testing.T) {
	totals := DocumentTotals([]Line{{TotalCents: 10000, VATRateBps: 1500, Taxable: true}}, VATModeExclusive)
	require.Equal(t, int64(10000), totals.SubTotalCents)
	require.Equal(t, int64(1500), totals.VATTotalCents)
	require.Equal(t, int64(11500), totals.TotalCents)
}

func TestInclusiveVAT(t *testing.T) {
	totals := DocumentTotals([]Line{{TotalCents: 11500, VATRateBps: 1500, Taxable: true}}, VATModeInclusive)
	require.Equal(t, int64(1500), totals.VATTotalCents)
	require.Equal(t, int64(10000), totals.SubTotalCents)
	require.Equal(t, int64(11500), totals.TotalCents)
}

func TestExclusiveInclusiveRoundTrip(t *testing.T) {
	for _, sub := range []int64{1, 33, 999, 10000, 123457, 99999999} {
		excl := DocumentTotals([]Line{{TotalCents: sub, VATRateBps: 1500, Taxable: true}}, VATModeExclusive)
		incl := DocumentTotals([]Line{{TotalCents: excl.TotalCents, VATRateBps: 1500, Taxable: true}}, VATModeInclusive)
		require.Equal(t, excl.VATTotalCents, incl.VATTotalCents, "subtotal %d", sub)
		require.Equal(t, sub, incl.SubTotalCents, "subtotal %d", sub)
	}
}

func TestVATModeNone(t *testing.T) {
	totals := DocumentTotals([]Line{{TotalCents: 4200, VATRateBps: 1500, Taxable: true}}, VATModeNone)
	require.Equal(t, int64(0), totals.VATTotalCents)
	require.Equal(t, int64(4200), totals.TotalCents)
}

func TestExemptLinesSkipVAT(t *testing.T) {
	totals := DocumentTotals([]Line{
		{TotalCents: 10000, VATRateBps: 1500, Taxable: true},
		{TotalCents: 5000, VATRateBps: 1500, Taxable: false},
	}, VATModeExclusive)
	require.Equal(t, int64(15000), totals.SubTotalCents)
	require.Equal(t, int64(1500), totals.VATTotalCents)
	require.Equal(t, int64(16500), totals.TotalCents)
}

func TestMixedRatesRoundPerRate(t *testing.T) {
	totals := DocumentTotals([]Line{
		{TotalCents: 333, VATRateBps: 1500, Taxable: true},
		{TotalCents: 333, VATRateBps: 500, Taxable: true},
	}, VATModeExclusive)
	// 333*15% = 49.95 -> 50; 333*5% = 16.65 -> 17.
	require.Equal(t, int64(67), totals.VATTotalCents)
}

func TestDocumentTotalsIdempotent(t *testing.T) {
	lines := []Line{
		{TotalCents: 12345, VATRateBps: 1500, Taxable: true},
		{TotalCents: 678, VATRateBps: 1500, Taxable: true},
		{TotalCents: 900, Taxable: false},
	}
	first := DocumentTotals(lines, VATModeExclusive)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, DocumentTotals(lines, VATModeExclusive))
	}
}

func TestWeightedAverageCost(t *testing.T) {
	require.Equal(t, int64(100), WeightedAverageCost(0, 0, 10, 100))
	require.Equal(t, int64(150), WeightedAverageCost(10, 100, 10, 200))
	// 3 @ 100 + 1 @ 150 = 450/4 = 112.5 rounds up.
	require.Equal(t, int64(113), WeightedAverageCost(3, 100, 1, 150))
	require.Equal(t, int64(0), WeightedAverageCost(5, 100, -5, 100))
}

func TestRoundHalfUpDiv(t *testing.T) {
	require.Equal(t, int64(2), RoundHalfUpDiv(3, 2))
	require.Equal(t, int64(1), RoundHalfUpDiv(5, 4))
	require.Equal(t, int64(-2), RoundHalfUpDiv(-3, 2))
	require.Equal(t, int64(0), RoundHalfUpDiv(1, 0))
}
