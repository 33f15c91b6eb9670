package domain

import (
	"time"
)

// RunRecord is the archived summary of one simulation run
type RunRecord struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SimulationID     string    `gorm:"index" json:"simulation_id"`
	ScenarioID       string    `json:"scenario_id"`
	AssetID          string    `gorm:"index" json:"asset_id"`
	AssetName        string    `json:"asset_name"`
	StartTimestamp   int64     `json:"start_timestamp"`
	StepSeconds      int64     `json:"step_seconds"`
	Steps            int       `json:"steps"`
	ChargedEnergy    float64   `json:"charged_energy"`
	DischargedEnergy float64   `json:"discharged_energy"`
	FinalSoC         float64   `json:"final_soc"`
	NetCost          string    `json:"net_cost"` // decimal string
	Failed           bool      `json:"failed"`
	CreatedAt        time.Time `json:"created_at"`
}

// StepRecord is one (step, carrier) row of an archived run
type StepRecord struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	RunID      uint    `gorm:"index" json:"run_id"`
	Step       int     `gorm:"index" json:"step"`
	CarrierID  string  `json:"carrier_id"`
	Price      float64 `json:"price"`
	Allocation float64 `json:"allocation"`
	BidStart   float64 `json:"bid_start"` // energy at min price
	BidEnd     float64 `json:"bid_end"`   // energy at max price
	SoCBefore  float64 `json:"soc_before"`
	SoCAfter   float64 `json:"soc_after"`
}
