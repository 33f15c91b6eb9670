package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultStepSeconds is the ESSIM step size assumed when sizing a run.
const DefaultStepSeconds = 3600

// EnergySystem is the part of the energy-system model relevant to one asset.
type EnergySystem struct {
	ID       string                 `json:"id"`
	Asset    Asset                  `json:"asset"`
	Carriers map[string]CarrierInfo `json:"carriers"`
}

// RunSetup is everything a configuration message resolves to.
type RunSetup struct {
	SimulationID   string `json:"simulation_id"`
	ScenarioID     string `json:"scenario_id"`
	EnergySystemID string `json:"energy_system_id"`
	InfluxURL      string `json:"influx_url,omitempty"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Asset    Asset                  `json:"asset"`
	Carriers map[string]CarrierInfo `json:"carriers"`

	ChargeWindows    *TimeWindows `json:"charge_windows,omitempty"`
	DischargeWindows *TimeWindows `json:"discharge_windows,omitempty"`
}

// NumberOfSteps is the expected number of hourly steps between start and end, inclusive.
func (s *RunSetup) NumberOfSteps() int {
	if s.End.Before(s.Start) {
		return 0
	}
	return int(s.End.Sub(s.Start)/(DefaultStepSeconds*time.Second)) + 1
}

// CarrierResult is the per-carrier history of one run.
type CarrierResult struct {
	Carrier     CarrierInfo  `json:"carrier"`
	Bids        []BidRecord  `json:"bids"`
	Allocations []Allocation `json:"allocations"`
}

// RunResult is handed to the recorders when a run stops.
type RunResult struct {
	Setup          *RunSetup                 `json:"setup"`
	StartTimestamp int64                     `json:"start_timestamp"`
	StepSeconds    int64                     `json:"step_seconds"`
	StateOfCharge  []float64                 `json:"state_of_charge"`
	Carriers       map[string]*CarrierResult `json:"carriers"`
	Summary        RunSummary                `json:"summary"`
	Failed         bool                      `json:"failed"`
}

// CommittedSteps is the number of steps for which a full allocation exists.
func (r *RunResult) CommittedSteps() int {
	if len(r.StateOfCharge) == 0 {
		return 0
	}
	return len(r.StateOfCharge) - 1
}

// StepTime returns the wall-clock time of step i.
func (r *RunResult) StepTime(i int) time.Time {
	return time.Unix(r.StartTimestamp+int64(i)*r.StepSeconds, 0).UTC()
}

// RunSummary aggregates allocated energy and its market value.
// Costs are kept in decimal so long runs do not drift.
type RunSummary struct {
	ChargedEnergy    float64         `json:"charged_energy"`
	DischargedEnergy float64         `json:"discharged_energy"`
	NetEnergy        float64         `json:"net_energy"`
	NetCost          decimal.Decimal `json:"net_cost"` // Σ price·energy, positive = paid
	FinalSoC         float64         `json:"final_soc"`
}

// Summarize computes a RunSummary from the allocations and SoC history.
func Summarize(carriers map[string]*CarrierResult, soc []float64) RunSummary {
	var sum RunSummary
	cost := decimal.Zero
	for _, cr := range carriers {
		for _, a := range cr.Allocations {
			if a.Energy > 0 {
				sum.ChargedEnergy += a.Energy
			} else {
				sum.DischargedEnergy += math.Abs(a.Energy)
			}
			cost = cost.Add(decimal.NewFromFloat(a.Price).Mul(decimal.NewFromFloat(a.Energy)))
		}
	}
	sum.NetEnergy = sum.ChargedEnergy - sum.DischargedEnergy
	sum.NetCost = cost
	if len(soc) > 0 {
		sum.FinalSoC = soc[len(soc)-1]
	}
	return sum
}
