package game

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Production is the derived output of the owned buildings and purchased upgrades.
type Production struct {
	Rate       decimal.Decimal
	ClickValue decimal.Decimal
	// Slices holds each owned building's contribution before the global multiplier.
	Slices map[string]decimal.Decimal
}

// Recompute derives the production rate and click value.
// Building and category boosts scale only their own slice; global boosts scale the summed total.
func Recompute(c *Catalog, owned map[string]int64, purchased map[string]struct{}) (Production, error) {
	one := decimal.NewFromInt(1)
	buildingMul := make(map[string]decimal.Decimal)
	categoryMul := make(map[string]decimal.Decimal)
	globalMul := one
	clickMul := one

	for id := range purchased {
		u, ok := c.Upgrade(id)
		if !ok {
			return Production{}, fmt.Errorf("%w: upgrade %q", ErrCatalogMismatch, id)
		}
		switch u.Kind {
		case KindClickPower:
			clickMul = clickMul.Mul(u.Multiplier)
		case KindGlobalBoost:
			globalMul = globalMul.Mul(u.Multiplier)
		case KindBuildingBoost:
			buildingMul[u.Target] = multiplierOr(buildingMul, u.Target).Mul(u.Multiplier)
		case KindCategoryBoost:
			categoryMul[u.Target] = multiplierOr(categoryMul, u.Target).Mul(u.Multiplier)
		}
	}

	out := Production{
		Rate:       decimal.Zero,
		ClickValue: StartingClickValue.Mul(clickMul),
		Slices:     make(map[string]decimal.Decimal, len(owned)),
	}
	sum := decimal.Zero
	for id, qty := range owned {
		b, ok := c.Building(id)
		if !ok {
			return Production{}, fmt.Errorf("%w: building %q", ErrCatalogMismatch, id)
		}
		if qty <= 0 {
			continue
		}
		slice := b.BaseProduction.Mul(decimal.NewFromInt(qty))
		slice = slice.Mul(multiplierOr(buildingMul, b.ID)).Mul(multiplierOr(categoryMul, b.Category))
		out.Slices[id] = slice
		sum = sum.Add(slice)
	}
	out.Rate = sum.Mul(globalMul)
	return out, nil
}

func multiplierOr(m map[string]decimal.Decimal, key string) decimal.Decimal {
	if v, ok := m[key]; ok {
		return v
	}
	return decimal.NewFromInt(1)
}
