package domain

// PricePoint is one (price, energy) breakpoint of a bid curve.
// Positive energy charges the asset, negative energy discharges it.
type PricePoint struct {
	Price  float64 `json:"price"`
	Energy float64 `json:"energy"`
}

// BidCurve is a piecewise-linear, strictly decreasing price to energy function.
type BidCurve []PricePoint

// FirstEnergy returns the energy at the lowest price (full charge).
func (c BidCurve) FirstEnergy() float64 {
	if len(c) == 0 {
		return 0
	}
	return c[0].Energy
}

// LastEnergy returns the energy at the highest price (full discharge).
func (c BidCurve) LastEnergy() float64 {
	if len(c) == 0 {
		return 0
	}
	return c[len(c)-1].Energy
}

// IsStrictlyDecreasing reports whether prices strictly increase while energies strictly decrease.
func (c BidCurve) IsStrictlyDecreasing() bool {
	for i := 1; i < len(c); i++ {
		if c[i].Price <= c[i-1].Price || c[i].Energy >= c[i-1].Energy {
			return false
		}
	}
	return true
}

// BidRecord is a bid curve together with the auction bounds it was built for.
type BidRecord struct {
	Step      int      `json:"step"`
	Timestamp int64    `json:"timestamp"`
	Duration  int64    `json:"duration"`
	MinPrice  float64  `json:"min_price"`
	MaxPrice  float64  `json:"max_price"`
	Curve     BidCurve `json:"curve"`
}

// Allocation is the energy awarded for a step at a clearing price.
type Allocation struct {
	Step   int     `json:"step"`
	Price  float64 `json:"price"`
	Energy float64 `json:"energy"`
}
