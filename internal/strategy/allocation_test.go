package strategy_test

import (
	"testing"

	"essim_battery/internal/domain"
	"essim_battery/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAllocation(t *testing.T) {
	curve := domain.BidCurve{
		{Price: 0, Energy: 1.8e7},
		{Price: 0.1, Energy: 9e6},
		{Price: 0.2, Energy: -9e6},
		{Price: 1, Energy: -1.8e7},
	}

	tests := []struct {
		name  string
		price float64
		want  float64
	}{
		{"below min price", -5, 1.8e7},
		{"at min price", 0, 1.8e7},
		{"inside first segment", 0.05, 1.35e7},
		{"middle segment midpoint", 0.15, 0},
		{"at max price", 1, -1.8e7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := strategy.ResolveAllocation(curve, 0, tt.price)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestResolveAllocation_BreakpointsExact(t *testing.T) {
	curve, err := strategy.BuildBidCurve(battery(), params(1.3e7))
	require.NoError(t, err)

	for _, p := range curve {
		got, err := strategy.ResolveAllocation(curve, curve[0].Price, p.Price)
		require.NoError(t, err)
		if got != p.Energy {
			t.Errorf("ResolveAllocation(%v) = %v, want %v", p.Price, got, p.Energy)
		}
	}
}

func TestResolveAllocation_OutOfDomain(t *testing.T) {
	curve := domain.BidCurve{{Price: 0, Energy: 1}, {Price: 1, Energy: -1}}

	_, err := strategy.ResolveAllocation(curve, 0, 1.5)
	assert.ErrorIs(t, err, domain.ErrPriceOutOfDomain)

	_, err = strategy.ResolveAllocation(nil, 0, 0.5)
	assert.ErrorIs(t, err, domain.ErrPriceOutOfDomain)
}

func TestNextSoC(t *testing.T) {
	assert.Equal(t, 10.0, strategy.NextSoC(9, 5, 10))
	assert.Equal(t, 0.0, strategy.NextSoC(1, -1-1e-9, 10))
	assert.Equal(t, 7.0, strategy.NextSoC(5, 2, 10))
}
