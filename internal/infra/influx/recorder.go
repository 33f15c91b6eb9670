package influx

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"essim_battery/internal/domain"
	"essim_battery/internal/infra"
)

const defaultPort = "8086"

// RecorderConfig holds the connection settings for result writes.
type RecorderConfig struct {
	DefaultURL string // used when the run did not name an influxUrl
	Username   string
	Password   string
	Retries    int
}

// Recorder writes one point per committed step into the scenario database.
type Recorder struct {
	cfg     RecorderConfig
	timeout time.Duration
}

// NewRecorder creates a result recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Recorder{cfg: cfg, timeout: defaultTimeout}
}

// ResultAddr normalizes an influxUrl to scheme://host:port.
func ResultAddr(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return "", err
		}
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	scheme := u.Scheme
	if scheme != "https" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, u.Hostname(), port), nil
}

// Record writes the run. Runs without a results URL are skipped.
func (r *Recorder) Record(ctx context.Context, result *domain.RunResult) error {
	raw := result.Setup.InfluxURL
	if raw == "" {
		raw = r.cfg.DefaultURL
	}
	addr, err := ResultAddr(raw)
	if err != nil {
		return &domain.ConfigError{Field: "influxUrl", Err: err}
	}
	if addr == "" {
		slog.Debug("No influx URL, skipping result write", slog.String("simulation", result.Setup.SimulationID))
		return nil
	}

	bp, err := BuildPoints(result)
	if err != nil {
		return err
	}
	if len(bp.Points()) == 0 {
		return nil
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     addr,
		Username: r.cfg.Username,
		Password: r.cfg.Password,
		Timeout:  r.timeout,
	})
	if err != nil {
		return &domain.ConfigError{Field: "influxUrl", Err: err}
	}
	defer c.Close()

	err = infra.Retry(ctx, "influx write", r.cfg.Retries, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Write(bp); err != nil {
			return domain.NewTransportError("write", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Results written to InfluxDB",
		slog.String("database", bp.Database()),
		slog.Int("points", len(bp.Points())))
	return nil
}

// BuildPoints converts a run into a batch for the scenario database.
func BuildPoints(result *domain.RunResult) (client.BatchPoints, error) {
	setup := result.Setup
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  setup.ScenarioID,
		Precision: "s",
	})
	if err != nil {
		return nil, err
	}

	measurement := "battery-" + setup.Asset.Name
	tags := map[string]string{"simulationRun": setup.SimulationID}
	capacity := setup.Asset.Limits.Capacity
	ids, prefixes := fieldPrefixes(result.Carriers)

	for i := 0; i < result.CommittedSteps(); i++ {
		soc := result.StateOfCharge[i]
		fields := map[string]interface{}{
			"State_of_charge_in_joules": soc,
		}
		if capacity > 0 {
			fields["State_of_charge_in_fraction"] = soc / capacity
		}

		for _, id := range ids {
			cr := result.Carriers[id]
			prefix := prefixes[id]
			if i < len(cr.Allocations) {
				fields[prefix+"_allocation_energy"] = cr.Allocations[i].Energy
			}
			if i < len(cr.Bids) && len(cr.Bids[i].Curve) > 0 {
				fields[prefix+"_bid_curve_energy_start"] = cr.Bids[i].Curve.FirstEnergy()
				fields[prefix+"_bid_curve_energy_end"] = cr.Bids[i].Curve.LastEnergy()
			}
			if cost, ok := cr.Carrier.CostAt(i); ok {
				fields[prefix+"_cost"] = cost
			}
		}

		pt, err := client.NewPoint(measurement, tags, fields, result.StepTime(i))
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		bp.AddPoint(pt)
	}
	return bp, nil
}

// fieldPrefixes names the result fields of each carrier. Carriers sharing a
// commodity type are told apart by their ID.
func fieldPrefixes(carriers map[string]*domain.CarrierResult) ([]string, map[string]string) {
	ids := make([]string, 0, len(carriers))
	byType := make(map[string]int, len(carriers))
	for id, cr := range carriers {
		ids = append(ids, id)
		byType[cr.Carrier.FieldPrefix()]++
	}
	sort.Strings(ids)

	prefixes := make(map[string]string, len(carriers))
	for _, id := range ids {
		prefix := carriers[id].Carrier.FieldPrefix()
		if byType[prefix] > 1 {
			prefix += "_" + id
		}
		prefixes[id] = prefix
	}
	return ids, prefixes
}
