package domain

import (
	"errors"
	"testing"
	"time"
)

func TestAssetLimits_Validate(t *testing.T) {
	valid := AssetLimits{
		Capacity:              3.6e7,
		FillLevel:             0.5,
		MaxChargeRate:         5000,
		MaxDischargeRate:      5000,
		MarginalChargeCost:    0.1,
		MarginalDischargeCost: 0.2,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid limits rejected: %v", err)
	}

	tests := []struct {
		name  string
		mod   func(*AssetLimits)
		field string
	}{
		{"zero capacity", func(l *AssetLimits) { l.Capacity = 0 }, "capacity"},
		{"fill above one", func(l *AssetLimits) { l.FillLevel = 1.2 }, "fillLevel"},
		{"negative charge rate", func(l *AssetLimits) { l.MaxChargeRate = -1 }, "maxChargeRate"},
		{"negative discharge rate", func(l *AssetLimits) { l.MaxDischargeRate = -1 }, "maxDischargeRate"},
		{"arbitrage loop", func(l *AssetLimits) { l.MarginalChargeCost = 0.3 }, "marginalChargeCosts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := valid
			tt.mod(&l)
			err := l.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}

	t.Run("equal costs allowed", func(t *testing.T) {
		l := valid
		l.MarginalChargeCost = l.MarginalDischargeCost
		if err := l.Validate(); err != nil {
			t.Errorf("equal marginal costs should be allowed: %v", err)
		}
	})
}

func TestProfile_At(t *testing.T) {
	single := Profile{Type: ProfileSingleValue, Value: 0.25}
	if v, ok := single.At(100); !ok || v != 0.25 {
		t.Errorf("SingleValue.At(100) = %v, %v", v, ok)
	}

	series := Profile{Type: ProfileInfluxDB, Values: []float64{1, 2, 3}}
	if v, ok := series.At(2); !ok || v != 3 {
		t.Errorf("series.At(2) = %v, %v", v, ok)
	}
	if _, ok := series.At(3); ok {
		t.Error("series.At past the end should report false")
	}
}

func TestCarrierInfo_FieldPrefix(t *testing.T) {
	c := CarrierInfo{Type: "ElectricityCommodity"}
	if c.FieldPrefix() != "Electricity" {
		t.Errorf("FieldPrefix() = %q", c.FieldPrefix())
	}
	if _, ok := c.CostAt(0); ok {
		t.Error("carrier without cost should report no cost")
	}
}

func TestTimeWindows_AnyContains(t *testing.T) {
	tw := &TimeWindows{Threshold: 0.8, Windows: []HourWindow{{StartHour: 1, EndHour: 5}, {StartHour: 22, EndHour: 24}}}

	for hour, want := range map[int]bool{0: false, 1: true, 4: true, 5: false, 21: false, 22: true, 23: true} {
		if got := tw.AnyContains(hour); got != want {
			t.Errorf("AnyContains(%d) = %v, want %v", hour, got, want)
		}
	}
}

func TestRunSetup_NumberOfSteps(t *testing.T) {
	s := RunSetup{
		Start: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if s.NumberOfSteps() != 25 {
		t.Errorf("NumberOfSteps() = %d, want 25", s.NumberOfSteps())
	}
}

func TestBidCurve_IsStrictlyDecreasing(t *testing.T) {
	good := BidCurve{{0, 10}, {0.1, 1e-12}, {0.2, -1e-12}, {1, -10}}
	if !good.IsStrictlyDecreasing() {
		t.Error("expected curve to be strictly decreasing")
	}
	flat := BidCurve{{0, 0}, {1, 0}}
	if flat.IsStrictlyDecreasing() {
		t.Error("flat curve must not be strictly decreasing")
	}
}
