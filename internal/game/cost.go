package game

import (
	"math"

	"github.com/shopspring/decimal"
)

// BuildingCost is floor(baseCost * costGrowth^owned). Negative quantities are treated as zero.
func BuildingCost(b Building, owned int64) decimal.Decimal {
	factor, err := b.CostGrowth.PowInt32(costExponent(owned))
	if err != nil {
		// PowInt32 only fails for a zero base with a negative exponent; validated catalogs exclude both.
		panic(err)
	}
	return b.BaseCost.Mul(factor).Floor()
}

// costExponent clamps owned to the exponent range PowInt32 accepts, so counts past MaxInt32
// saturate instead of wrapping to a negative power.
func costExponent(owned int64) int32 {
	switch {
	case owned < 0:
		return 0
	case owned > math.MaxInt32:
		return math.MaxInt32
	default:
		return int32(owned)
	}
}
