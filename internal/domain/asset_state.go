package domain

import (
	"fmt"
	"math"
	"sort"
)

// AssetState holds the per-run history of one storage asset.
// The state-of-charge timeline is append-only: element i is the SoC before
// step i is allocated. Bids and allocations are indexed by step per carrier.
type AssetState struct {
	Setup *RunSetup

	soc         []float64
	bids        map[string][]BidRecord
	allocations map[string][]Allocation

	origin      int64
	hasOrigin   bool
	stepSeconds int64
	failed      bool
}

// NewAssetState creates the state for a freshly configured run.
func NewAssetState(setup *RunSetup) *AssetState {
	return &AssetState{
		Setup:       setup,
		soc:         []float64{setup.Asset.Limits.InitialSoC()},
		bids:        make(map[string][]BidRecord),
		allocations: make(map[string][]Allocation),
	}
}

// ClampSoC bounds a state of charge to [0, capacity]. It absorbs floating
// point overshoot and is not an error condition.
func ClampSoC(soc, capacity float64) float64 {
	if soc < 0 {
		return 0
	}
	if capacity > 0 && soc > capacity {
		return capacity
	}
	return soc
}

// CurrentStep is the first step that has not been committed yet.
func (a *AssetState) CurrentStep() int {
	return len(a.soc) - 1
}

// SoC returns the state of charge before the given step.
func (a *AssetState) SoC(step int) (float64, bool) {
	if step < 0 || step >= len(a.soc) {
		return 0, false
	}
	return a.soc[step], true
}

// StateOfCharge returns a copy of the SoC timeline.
func (a *AssetState) StateOfCharge() []float64 {
	out := make([]float64, len(a.soc))
	copy(out, a.soc)
	return out
}

// Origin returns the timestamp of the first bid request of the run.
func (a *AssetState) Origin() (int64, bool) {
	return a.origin, a.hasOrigin
}

// StepSeconds is the step duration of the most recent bid request.
func (a *AssetState) StepSeconds() int64 {
	return a.stepSeconds
}

// StepFor derives the step number of a bid request without touching the
// state. Before the first stored bid every request maps to step 0.
func (a *AssetState) StepFor(timestamp, duration int64) (int, error) {
	if duration <= 0 {
		return 0, fmt.Errorf("step duration must be > 0, got %d", duration)
	}
	if !a.hasOrigin {
		return 0, nil
	}
	return a.stepOf(timestamp, duration)
}

// StepAt derives the step number of an allocation using the last known duration.
func (a *AssetState) StepAt(timestamp int64) (int, error) {
	if !a.hasOrigin || a.stepSeconds <= 0 {
		return 0, fmt.Errorf("%w: allocation before any bid request", ErrStepOutOfOrder)
	}
	return a.stepOf(timestamp, a.stepSeconds)
}

func (a *AssetState) stepOf(timestamp, duration int64) (int, error) {
	if timestamp < a.origin {
		return 0, fmt.Errorf("%w: timestamp %d before run origin %d", ErrStepOutOfOrder, timestamp, a.origin)
	}
	return int((timestamp - a.origin) / duration), nil
}

// StoreBid records the bid curve for (carrier, step). A repeated request for a
// step that has not been allocated yet replaces the earlier curve. The first
// stored bid fixes the run's time origin and every stored bid updates the step
// duration used by StepAt.
func (a *AssetState) StoreBid(carrier string, rec BidRecord) error {
	if _, ok := a.Setup.Carriers[carrier]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCarrier, carrier)
	}
	if rec.Step != a.CurrentStep() {
		return fmt.Errorf("%w: bid for step %d, current step is %d", ErrStepOutOfOrder, rec.Step, a.CurrentStep())
	}

	bids := a.bids[carrier]
	switch {
	case len(bids) == rec.Step:
		a.bids[carrier] = append(bids, rec)
	case len(bids) == rec.Step+1 && len(a.allocations[carrier]) == rec.Step:
		bids[rec.Step] = rec
	default:
		return fmt.Errorf("%w: carrier %s has %d bids for step %d", ErrStepOutOfOrder, carrier, len(bids), rec.Step)
	}

	if !a.hasOrigin {
		a.origin = rec.Timestamp
		a.hasOrigin = true
	}
	if rec.Duration > 0 {
		a.stepSeconds = rec.Duration
	}
	return nil
}

// Bid returns the stored bid for (carrier, step).
func (a *AssetState) Bid(carrier string, step int) (BidRecord, bool) {
	bids := a.bids[carrier]
	if step < 0 || step >= len(bids) {
		return BidRecord{}, false
	}
	return bids[step], true
}

// Pending lists the carriers whose bid for the current step awaits an allocation.
func (a *AssetState) Pending() []string {
	step := a.CurrentStep()
	var out []string
	for carrier, bids := range a.bids {
		if len(bids) > step && len(a.allocations[carrier]) <= step {
			out = append(out, carrier)
		}
	}
	sort.Strings(out)
	return out
}

// HasPending reports whether any carrier awaits an allocation.
func (a *AssetState) HasPending() bool {
	return len(a.Pending()) > 0
}

// Unallocated lists the connected carriers without an allocation for the
// current step, whether or not they have bid yet.
func (a *AssetState) Unallocated() []string {
	step := a.CurrentStep()
	var out []string
	for carrier := range a.Setup.Carriers {
		if len(a.allocations[carrier]) <= step {
			out = append(out, carrier)
		}
	}
	sort.Strings(out)
	return out
}

// StoreAllocation records an allocation. Once every connected carrier is
// allocated for the step it is committed and the SoC timeline grows by one.
func (a *AssetState) StoreAllocation(carrier string, alloc Allocation) (bool, error) {
	if _, ok := a.Setup.Carriers[carrier]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownCarrier, carrier)
	}
	if alloc.Step != a.CurrentStep() {
		return false, fmt.Errorf("%w: allocation for step %d, current step is %d", ErrStepOutOfOrder, alloc.Step, a.CurrentStep())
	}
	if len(a.bids[carrier]) != alloc.Step+1 || len(a.allocations[carrier]) != alloc.Step {
		return false, fmt.Errorf("%w: no open bid for carrier %s at step %d", ErrStepOutOfOrder, carrier, alloc.Step)
	}
	a.allocations[carrier] = append(a.allocations[carrier], alloc)

	if len(a.Unallocated()) > 0 {
		return false, nil
	}
	a.commit(alloc.Step)
	return true, nil
}

func (a *AssetState) commit(step int) {
	total := 0.0
	for carrier, allocs := range a.allocations {
		if len(allocs) > step && len(a.bids[carrier]) > step {
			total += allocs[step].Energy
		}
	}
	a.soc = append(a.soc, ClampSoC(a.soc[step]+total, a.Setup.Asset.Limits.Capacity))
}

// MarkFailed flags the run as halted by a fatal error.
func (a *AssetState) MarkFailed() {
	a.failed = true
}

// Result builds the hand-off value for the recorders.
func (a *AssetState) Result() *RunResult {
	carriers := make(map[string]*CarrierResult, len(a.Setup.Carriers))
	for id, info := range a.Setup.Carriers {
		cr := &CarrierResult{Carrier: info}
		cr.Bids = append(cr.Bids, a.bids[id]...)
		cr.Allocations = append(cr.Allocations, a.allocations[id]...)
		carriers[id] = cr
	}
	soc := a.StateOfCharge()
	step := a.stepSeconds
	if step == 0 {
		step = DefaultStepSeconds
	}
	return &RunResult{
		Setup:          a.Setup,
		StartTimestamp: a.origin,
		StepSeconds:    step,
		StateOfCharge:  soc,
		Carriers:       carriers,
		Summary:        Summarize(carriers, soc),
		Failed:         a.failed,
	}
}

// FillFraction returns soc as a fraction of capacity.
func (a *AssetState) FillFraction(soc float64) float64 {
	capacity := a.Setup.Asset.Limits.Capacity
	if capacity <= 0 || math.IsNaN(soc) {
		return 0
	}
	return soc / capacity
}
