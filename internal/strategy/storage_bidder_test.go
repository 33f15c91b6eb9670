package strategy_test

import (
	"testing"
	"time"

	"essim_battery/internal/domain"
	"essim_battery/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBidder(charge *domain.TimeWindows) *strategy.StorageBidder {
	setup := &domain.RunSetup{
		Asset:         domain.Asset{ID: "BATT1", Limits: battery()},
		ChargeWindows: charge,
	}
	return strategy.NewStorageBidder(setup, time.UTC)
}

func TestStorageBidder_BidAndAllocate(t *testing.T) {
	b := newBidder(nil)
	req := strategy.BidRequest{
		Timestamp:       time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		DurationSeconds: 3600,
		MinPrice:        0,
		MaxPrice:        1,
		SoC:             1.8e7,
	}

	curve, err := b.CreateBid(req)
	require.NoError(t, err)
	require.Len(t, curve, 4)

	rec := domain.BidRecord{MinPrice: 0, MaxPrice: 1, Curve: curve}
	energy, next, err := b.Allocate(rec, 0.15, req.SoC)
	require.NoError(t, err)
	assert.InDelta(t, 0, energy, 1e-6)
	assert.InDelta(t, 1.8e7, next, 1e-6)

	energy, next, err = b.Allocate(rec, 0, req.SoC)
	require.NoError(t, err)
	assert.Equal(t, 1.8e7, energy)
	assert.Equal(t, 3.6e7, next)
}

func TestStorageBidder_ChargeWindowBlocks(t *testing.T) {
	b := newBidder(&domain.TimeWindows{Threshold: 0.8, Windows: []domain.HourWindow{{StartHour: 1, EndHour: 5}}})

	req := strategy.BidRequest{
		Timestamp:       time.Date(2019, 1, 1, 12, 0, 0, 0, time.UTC).Unix(),
		DurationSeconds: 3600,
		MaxPrice:        1,
		SoC:             3.4e7,
	}
	curve, err := b.CreateBid(req)
	require.NoError(t, err)
	assert.Equal(t, 0.0, curve.FirstEnergy(), "charging must be blocked outside the window")

	req.Timestamp = time.Date(2019, 1, 1, 2, 0, 0, 0, time.UTC).Unix()
	curve, err = b.CreateBid(req)
	require.NoError(t, err)
	assert.InDelta(t, 2e6, curve.FirstEnergy(), 1e-6)
}

func TestStorageBidder_AllocateOutOfDomain(t *testing.T) {
	b := newBidder(nil)
	rec := domain.BidRecord{Curve: domain.BidCurve{{Price: 0, Energy: 1}, {Price: 1, Energy: -1}}}

	_, next, err := b.Allocate(rec, 2, 5)
	assert.ErrorIs(t, err, domain.ErrPriceOutOfDomain)
	assert.Equal(t, 5.0, next)
}
