package strategy

import (
	"fmt"
	"math"

	"essim_battery/internal/domain"
)

// Delta is the curve perturbation. It keeps energies strictly decreasing
// across the two cost plateaus.
const Delta = 1e-12

// CurveParams are the inputs of one bid curve construction.
type CurveParams struct {
	DurationSeconds int64
	MinPrice        float64
	MaxPrice        float64
	SoC             float64
	AllowCharge     bool
	AllowDischarge  bool
}

// BuildBidCurve builds the stepped storage bid curve:
//
//	(min, +maxCharge) (mcc, +εc) (mdc, -εd) (max, -maxDischarge)
//
// Points whose direction has no headroom are dropped. A curve reduced to two
// points gets its second energy set to -Delta.
func BuildBidCurve(limits domain.AssetLimits, p CurveParams) (domain.BidCurve, error) {
	if limits.MarginalChargeCost > limits.MarginalDischargeCost {
		return nil, fmt.Errorf("%w: charge cost %g > discharge cost %g",
			domain.ErrArbitrage, limits.MarginalChargeCost, limits.MarginalDischargeCost)
	}
	if p.DurationSeconds <= 0 {
		return nil, fmt.Errorf("bid duration must be > 0, got %d", p.DurationSeconds)
	}
	if p.MaxPrice < p.MinPrice {
		return nil, fmt.Errorf("%w: min price %g > max price %g", domain.ErrPriceOutOfDomain, p.MinPrice, p.MaxPrice)
	}

	dur := float64(p.DurationSeconds)
	maxCharge := math.Max(0, math.Min(limits.MaxChargeRate*dur, limits.Capacity-p.SoC))
	maxDischarge := math.Max(0, math.Min(limits.MaxDischargeRate*dur, p.SoC))
	if !p.AllowCharge {
		maxCharge = 0
	}
	if !p.AllowDischarge {
		maxDischarge = 0
	}

	epsCharge := math.Min(Delta/2, maxCharge/2)
	epsDischarge := math.Min(Delta/2, maxDischarge/2)

	curve := domain.BidCurve{
		{Price: p.MinPrice, Energy: maxCharge},
		{Price: limits.MarginalChargeCost, Energy: epsCharge},
		{Price: limits.MarginalDischargeCost, Energy: -epsDischarge},
		{Price: p.MaxPrice, Energy: -maxDischarge},
	}

	// Discharge point goes first so the charge index stays valid.
	if maxDischarge == 0 {
		curve = append(curve[:2], curve[3:]...)
	}
	if maxCharge == 0 {
		curve = append(curve[:1], curve[2:]...)
	}
	if len(curve) == 2 {
		curve[1].Energy = -Delta
	}
	return curve, nil
}
