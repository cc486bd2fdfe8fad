// Package money computes line and document totals for ledger documents.
// All amounts are int64 minor currency units (cents) and all rates are
// basis points (10000 bps = 100%). Every function is pure; recomputing
// totals from the same line set always yields the same result.
package money

// BpsDenominator is the basis-point scale, 10000 bps = 100%.
const BpsDenominator = 10000

// VATMode selects how document VAT is derived from line totals.
type VATMode string

const (
	// VATModeExclusive adds VAT on top of line totals.
	VATModeExclusive VATMode = "EXCLUSIVE"
	// VATModeInclusive treats line totals as already containing VAT.
	VATModeInclusive VATMode = "INCLUSIVE"
	// VATModeNone disables VAT entirely.
	VATModeNone VATMode = "NONE"
)

// DiscountType enumerates GRV line discount regimes.
type DiscountType string

const (
	DiscountTypeNone DiscountType = "NONE"
	// DiscountTypePercent discounts a share of qty*unitCost, value in bps.
	DiscountTypePercent DiscountType = "PERCENT"
	// DiscountTypeAmount discounts a fixed per-unit cents value.
	DiscountTypeAmount DiscountType = "AMOUNT"
)

// Totals holds computed document totals.
type Totals struct {
	SubTotalCents int64
	VATTotalCents int64
	TotalCents    int64
}

// Line is the calculator's view of a document line: the line total before
// document-level VAT treatment, the snapshot VAT rate and the taxable flag.
type Line struct {
	TotalCents int64
	VATRateBps int64
	Taxable    bool
}

// RoundHalfUpDiv divides numerator by denominator rounding half away from
// zero. Denominator must be positive.
func RoundHalfUpDiv(numerator, denominator int64) int64 {
	if denominator <= 0 {
		return 0
	}
	if numerator >= 0 {
		return (numerator + denominator/2) / denominator
	}
	return -((-numerator + denominator/2) / denominator)
}

// LineTotal computes qty*unitPriceCents - discountCents, floored at 0.
func LineTotal(qty, unitPriceCents, discountCents int64) int64 {
	total := qty*unitPriceCents - discountCents
	if total < 0 {
		return 0
	}
	return total
}

// Discount resolves a GRV line discount to a cents amount. Percent discounts
// apply against qty*unitCostCents before VAT and round half-up once here;
// amount discounts are a per-unit cents value multiplied by quantity.
func Discount(discType DiscountType, qty, unitCostCents, value int64) int64 {
	if qty <= 0 || value <= 0 {
		return 0
	}
	switch discType {
	case DiscountTypePercent:
		return RoundHalfUpDiv(qty*unitCostCents*value, BpsDenominator)
	case DiscountTypeAmount:
		return value * qty
	default:
		return 0
	}
}

// VATFromExclusive returns the VAT to add on top of a taxable net amount.
func VATFromExclusive(taxableCents, rateBps int64) int64 {
	if rateBps <= 0 || taxableCents <= 0 {
		return 0
	}
	return RoundHalfUpDiv(taxableCents*rateBps, BpsDenominator)
}

// VATFromInclusive returns the VAT contained in a taxable gross amount.
func VATFromInclusive(grossCents, rateBps int64) int64 {
	if rateBps <= 0 || grossCents <= 0 {
		return 0
	}
	net := RoundHalfUpDiv(grossCents*BpsDenominator, BpsDenominator+rateBps)
	return grossCents - net
}

// DocumentTotals derives document totals from line totals under the given
// VAT mode. Only taxable lines contribute VAT. Lines are grouped by rate so
// each rate's VAT rounds exactly once; the per-rate amounts are never
// re-rounded downstream.
func DocumentTotals(lines []Line, mode VATMode) Totals {
	var lineSum int64
	taxableByRate := map[int64]int64{}
	rateOrder := []int64{}
	for _, line := range lines {
		lineSum += line.TotalCents
		if !line.Taxable || line.VATRateBps <= 0 {
			continue
		}
		if _, seen := taxableByRate[line.VATRateBps]; !seen {
			rateOrder = append(rateOrder, line.VATRateBps)
		}
		taxableByRate[line.VATRateBps] += line.TotalCents
	}

	var vatTotal int64
	switch mode {
	case VATModeExclusive:
		for _, rate := range rateOrder {
			vatTotal += VATFromExclusive(taxableByRate[rate], rate)
		}
		return Totals{SubTotalCents: lineSum, VATTotalCents: vatTotal, TotalCents: lineSum + vatTotal}
	case VATModeInclusive:
		for _, rate := range rateOrder {
			vatTotal += VATFromInclusive(taxableByRate[rate], rate)
		}
		return Totals{SubTotalCents: lineSum - vatTotal, VATTotalCents: vatTotal, TotalCents: lineSum}
	default:
		return Totals{SubTotalCents: lineSum, VATTotalCents: 0, TotalCents: lineSum}
	}
}

// WeightedAverageCost recomputes a moving average after receiving qty units
// at unitCostCents on top of onHand units carried at averageCostCents.
// The result rounds half-up to the nearest cent.
func WeightedAverageCost(onHand, averageCostCents, qty, unitCostCents int64) int64 {
	newQty := onHand + qty
	if newQty <= 0 {
		return 0
	}
	totalValue := onHand*averageCostCents + qty*unitCostCents
	return RoundHalfUpDiv(totalValue, newQty)
}
