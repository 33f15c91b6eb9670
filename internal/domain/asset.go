package domain

import (
	"fmt"
	"strings"
)

// ProfileType is the representation of a cost or profile value in the energy system model.
type ProfileType string

const (
	ProfileSingleValue ProfileType = "SingleValue"
	ProfileInfluxDB    ProfileType = "InfluxDBProfile"
	ProfileTimeSeries  ProfileType = "TimeSeriesProfile"
)

// Profile is a cost or profile value attached to an asset, strategy or carrier.
// Only SingleValue is accepted for marginal costs.
type Profile struct {
	Type   ProfileType `json:"type"`
	Value  float64     `json:"value,omitempty"`
	Values []float64   `json:"values,omitempty"`

	// Set for InfluxDBProfile before the values are fetched.
	Source *InfluxSource `json:"source,omitempty"`
}

// At returns the profile value for a step. Fixed values apply to every step.
func (p Profile) At(step int) (float64, bool) {
	switch p.Type {
	case ProfileSingleValue:
		return p.Value, true
	default:
		if step < 0 || step >= len(p.Values) {
			return 0, false
		}
		return p.Values[step], true
	}
}

// InfluxSource locates a historical profile in an InfluxDB v1 database.
type InfluxSource struct {
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	Database    string  `json:"database"`
	Measurement string  `json:"measurement"`
	Field       string  `json:"field"`
	Filters     string  `json:"filters,omitempty"`
	Multiplier  float64 `json:"multiplier"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
}

// AssetLimits are the physical and economic limits of the storage asset.
// Units: capacity J, rates W, costs per unit energy.
type AssetLimits struct {
	Capacity              float64 `json:"capacity"`
	FillLevel             float64 `json:"fill_level"`
	MaxChargeRate         float64 `json:"max_charge_rate"`
	MaxDischargeRate      float64 `json:"max_discharge_rate"`
	MarginalChargeCost    float64 `json:"marginal_charge_cost"`
	MarginalDischargeCost float64 `json:"marginal_discharge_cost"`
}

// InitialSoC is the state of charge in joules at the start of a run.
func (l AssetLimits) InitialSoC() float64 {
	return l.Capacity * l.FillLevel
}

// Validate checks the limits and returns a ConfigError for the first violation.
func (l AssetLimits) Validate() error {
	if l.Capacity <= 0 {
		return &ConfigError{Field: "capacity", Err: fmt.Errorf("must be > 0, got %g", l.Capacity)}
	}
	if l.FillLevel < 0 || l.FillLevel > 1 {
		return &ConfigError{Field: "fillLevel", Err: fmt.Errorf("must be in [0, 1], got %g", l.FillLevel)}
	}
	if l.MaxChargeRate < 0 {
		return &ConfigError{Field: "maxChargeRate", Err: fmt.Errorf("must be >= 0, got %g", l.MaxChargeRate)}
	}
	if l.MaxDischargeRate < 0 {
		return &ConfigError{Field: "maxDischargeRate", Err: fmt.Errorf("must be >= 0, got %g", l.MaxDischargeRate)}
	}
	if l.MarginalChargeCost > l.MarginalDischargeCost {
		return &ConfigError{
			Field: "marginalChargeCosts",
			Err:   fmt.Errorf("%w (%g > %g)", ErrArbitrage, l.MarginalChargeCost, l.MarginalDischargeCost),
		}
	}
	return nil
}

// Asset describes the battery this node controls.
type Asset struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Limits AssetLimits `json:"limits"`

	// Informational, not used by the bid engine.
	SelfDischargeRate   float64 `json:"self_discharge_rate"`
	ChargeEfficiency    float64 `json:"charge_efficiency"`
	DischargeEfficiency float64 `json:"discharge_efficiency"`
}

// CarrierInfo is one energy carrier the asset is connected to through a port.
type CarrierInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"` // e.g. "ElectricityCommodity"
	PortID   string   `json:"port_id"`
	PortType string   `json:"port_type"`
	Cost     *Profile `json:"cost,omitempty"`
}

// FieldPrefix is the carrier type without its "Commodity" suffix, used to name result fields.
func (c CarrierInfo) FieldPrefix() string {
	return strings.TrimSuffix(c.Type, "Commodity")
}

// CostAt returns the carrier cost for a step when one is known.
func (c CarrierInfo) CostAt(step int) (float64, bool) {
	if c.Cost == nil {
		return 0, false
	}
	return c.Cost.At(step)
}

// HourWindow is a half-open [StartHour, EndHour) range of local hours.
type HourWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether hour lies in the window.
func (w HourWindow) Contains(hour int) bool {
	return w.StartHour <= hour && hour < w.EndHour
}

// TimeWindows restricts one direction (charge or discharge) once the fill
// fraction crosses Threshold. A nil *TimeWindows means "always allowed".
type TimeWindows struct {
	Threshold float64      `json:"threshold"`
	Windows   []HourWindow `json:"windows"`
}

// AnyContains reports whether at least one window contains hour.
func (t *TimeWindows) AnyContains(hour int) bool {
	for _, w := range t.Windows {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}
