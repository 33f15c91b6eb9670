package engine

import (
	"time"

	"essim_battery/internal/domain"
)

// BidInfo is the most recent bid sent by the node.
type BidInfo struct {
	Carrier   string          `json:"carrier"`
	Step      int             `json:"step"`
	Timestamp int64           `json:"timestamp"`
	Curve     domain.BidCurve `json:"curve"`
}

// AllocationInfo is the most recent allocation received by the node.
type AllocationInfo struct {
	Carrier string  `json:"carrier"`
	Step    int     `json:"step"`
	Price   float64 `json:"price"`
	Energy  float64 `json:"energy"`
}

// Snapshot is a copy of the controller state safe to hand to other goroutines.
type Snapshot struct {
	Seq            uint64               `json:"seq"`
	State          domain.ProtocolState `json:"state"`
	SimulationID   string               `json:"simulation_id,omitempty"`
	AssetID        string               `json:"asset_id,omitempty"`
	Step           int                  `json:"step"`
	SoC            float64              `json:"soc"`
	FillFraction   float64              `json:"fill_fraction"`
	Pending        []string             `json:"pending,omitempty"`
	LastBid        *BidInfo             `json:"last_bid,omitempty"`
	LastAllocation *AllocationInfo      `json:"last_allocation,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func (c *Controller) buildSnapshot() Snapshot {
	s := Snapshot{
		Seq:            c.lastSeq,
		State:          c.state,
		LastBid:        c.lastBid,
		LastAllocation: c.lastAllocation,
		UpdatedAt:      time.Now(),
	}
	if c.asset != nil {
		s.SimulationID = c.asset.Setup.SimulationID
		s.AssetID = c.asset.Setup.Asset.ID
		s.Step = c.asset.CurrentStep()
		s.SoC, _ = c.asset.SoC(s.Step)
		s.FillFraction = c.asset.FillFraction(s.SoC)
		s.Pending = c.asset.Pending()
	}
	return s
}

func (c *Controller) publishSnapshot() {
	s := c.buildSnapshot()

	c.mu.Lock()
	c.snapshot = s
	c.mu.Unlock()

	if c.opts.OnStateUpdate != nil {
		c.opts.OnStateUpdate(s)
	}
}

// Snapshot returns the state after the last handled message (external read).
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}
