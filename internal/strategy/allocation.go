package strategy

import (
	"fmt"

	"essim_battery/internal/domain"
)

// ResolveAllocation evaluates the bid curve at the clearing price.
// Prices below minPrice+Delta get the full-charge energy; otherwise the first
// segment whose right price is >= price is linearly interpolated.
func ResolveAllocation(curve domain.BidCurve, minPrice, price float64) (float64, error) {
	if len(curve) == 0 {
		return 0, fmt.Errorf("%w: empty bid curve", domain.ErrPriceOutOfDomain)
	}
	if price < minPrice+Delta {
		return curve[0].Energy, nil
	}

	for i := 0; i+1 < len(curve); i++ {
		left, right := curve[i], curve[i+1]
		if right.Price < price {
			continue
		}
		// Breakpoints resolve to their own energy exactly.
		if right.Price == price {
			return right.Energy, nil
		}
		return left.Energy + (price-left.Price)*(right.Energy-left.Energy)/(right.Price-left.Price), nil
	}

	return 0, fmt.Errorf("%w: price %g above curve maximum %g",
		domain.ErrPriceOutOfDomain, price, curve[len(curve)-1].Price)
}

// NextSoC applies an allocation to a state of charge, clamped to [0, capacity].
func NextSoC(soc, energy, capacity float64) float64 {
	return domain.ClampSoC(soc+energy, capacity)
}
