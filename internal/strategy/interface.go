package strategy

import (
	"essim_battery/internal/domain"
)

// BidRequest is what a bidder needs to know about one auction round.
type BidRequest struct {
	Step            int
	Timestamp       int64
	DurationSeconds int64
	MinPrice        float64
	MaxPrice        float64
	SoC             float64
}

// Bidder is the interface that all bidding strategies must implement.
// It is called synchronously by the Controller.
type Bidder interface {
	// CreateBid returns the bid curve for one auction round.
	CreateBid(req BidRequest) (domain.BidCurve, error)

	// Allocate resolves a clearing price on an earlier bid and returns the
	// allocated energy and the state of charge after the step.
	Allocate(rec domain.BidRecord, price, soc float64) (energy, next float64, err error)
}
