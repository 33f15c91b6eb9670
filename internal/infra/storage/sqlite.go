package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"essim_battery/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const stepBatchSize = 500

// Storage is the local SQLite archive of finished runs.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (and migrates) the archive at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.RunRecord{}, &domain.StepRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Run Operations
// ======================================================================================

// Record archives a finished run. It implements domain.Recorder.
func (s *Storage) Record(ctx context.Context, result *domain.RunResult) error {
	run := &domain.RunRecord{
		SimulationID:     result.Setup.SimulationID,
		ScenarioID:       result.Setup.ScenarioID,
		AssetID:          result.Setup.Asset.ID,
		AssetName:        result.Setup.Asset.Name,
		StartTimestamp:   result.StartTimestamp,
		StepSeconds:      result.StepSeconds,
		Steps:            result.CommittedSteps(),
		ChargedEnergy:    result.Summary.ChargedEnergy,
		DischargedEnergy: result.Summary.DischargedEnergy,
		FinalSoC:         result.Summary.FinalSoC,
		NetCost:          result.Summary.NetCost.String(),
		Failed:           result.Failed,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		steps := stepRecords(run.ID, result)
		if len(steps) == 0 {
			return nil
		}
		return tx.CreateInBatches(steps, stepBatchSize).Error
	})
}

func stepRecords(runID uint, result *domain.RunResult) []domain.StepRecord {
	carriers := make([]string, 0, len(result.Carriers))
	for id := range result.Carriers {
		carriers = append(carriers, id)
	}
	sort.Strings(carriers)

	var out []domain.StepRecord
	for i := 0; i < result.CommittedSteps(); i++ {
		for _, id := range carriers {
			cr := result.Carriers[id]
			if i >= len(cr.Allocations) || i >= len(cr.Bids) {
				continue
			}
			alloc := cr.Allocations[i]
			out = append(out, domain.StepRecord{
				RunID:      runID,
				Step:       i,
				CarrierID:  id,
				Price:      alloc.Price,
				Allocation: alloc.Energy,
				BidStart:   cr.Bids[i].Curve.FirstEnergy(),
				BidEnd:     cr.Bids[i].Curve.LastEnergy(),
				SoCBefore:  result.StateOfCharge[i],
				SoCAfter:   result.StateOfCharge[i+1],
			})
		}
	}
	return out
}

// GetRun retrieves an archived run by id
func (s *Storage) GetRun(id uint) (*domain.RunRecord, error) {
	var run domain.RunRecord
	err := s.db.First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &run, err
}

// ListRuns retrieves the runs of a simulation, newest first
func (s *Storage) ListRuns(simulationID string) ([]domain.RunRecord, error) {
	var runs []domain.RunRecord
	err := s.db.Where("simulation_id = ?", simulationID).Order("id desc").Find(&runs).Error
	return runs, err
}

// GetSteps retrieves the step rows of a run ordered by step and carrier
func (s *Storage) GetSteps(runID uint) ([]domain.StepRecord, error) {
	var steps []domain.StepRecord
	err := s.db.Where("run_id = ?", runID).Order("step asc, carrier_id asc").Find(&steps).Error
	return steps, err
}

// DeleteRun deletes a run and its steps
func (s *Storage) DeleteRun(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&domain.StepRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.RunRecord{}, id).Error
	})
}
