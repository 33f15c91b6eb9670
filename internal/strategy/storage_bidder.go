package strategy

import (
	"time"

	"essim_battery/internal/domain"
)

// StorageBidder bids a battery's flexibility using its marginal costs and
// the configured charge/discharge time windows.
type StorageBidder struct {
	limits    domain.AssetLimits
	charge    *domain.TimeWindows
	discharge *domain.TimeWindows
	loc       *time.Location
}

// NewStorageBidder creates a bidder for the asset of a configured run.
// Hours of day are evaluated in loc; nil means the process local zone.
func NewStorageBidder(setup *domain.RunSetup, loc *time.Location) *StorageBidder {
	if loc == nil {
		loc = time.Local
	}
	return &StorageBidder{
		limits:    setup.Asset.Limits,
		charge:    setup.ChargeWindows,
		discharge: setup.DischargeWindows,
		loc:       loc,
	}
}

// CreateBid implements Bidder.
func (b *StorageBidder) CreateBid(req BidRequest) (domain.BidCurve, error) {
	fill := 0.0
	if b.limits.Capacity > 0 {
		fill = req.SoC / b.limits.Capacity
	}
	allowCharge, allowDischarge := AllowedDirections(fill, LocalHour(req.Timestamp, b.loc), b.charge, b.discharge)

	return BuildBidCurve(b.limits, CurveParams{
		DurationSeconds: req.DurationSeconds,
		MinPrice:        req.MinPrice,
		MaxPrice:        req.MaxPrice,
		SoC:             req.SoC,
		AllowCharge:     allowCharge,
		AllowDischarge:  allowDischarge,
	})
}

// Allocate implements Bidder.
func (b *StorageBidder) Allocate(rec domain.BidRecord, price, soc float64) (float64, float64, error) {
	energy, err := ResolveAllocation(rec.Curve, rec.MinPrice, price)
	if err != nil {
		return 0, soc, err
	}
	return energy, NextSoC(soc, energy, b.limits.Capacity), nil
}
