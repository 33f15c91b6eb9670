package esdl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"essim_battery/internal/domain"
)

// dateLayouts are the timestamp forms found in ESDL profile attributes.
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// Loader resolves a configuration document into the node's energy system.
type Loader struct {
	nodeID   string
	profiles domain.ProfileSource
}

// NewLoader creates a loader for the asset nodeID. profiles may be nil when no
// InfluxDB cost profiles are expected.
func NewLoader(nodeID string, profiles domain.ProfileSource) *Loader {
	return &Loader{nodeID: nodeID, profiles: profiles}
}

// Load parses doc, reads the asset and its carriers and fetches carrier cost
// profiles. Profiles without their own dates cover the run's [start, end].
func (l *Loader) Load(ctx context.Context, doc []byte, start, end time.Time) (*domain.EnergySystem, error) {
	d, err := Parse(doc)
	if err != nil {
		return nil, err
	}

	asset, err := d.Asset(l.nodeID)
	if err != nil {
		return nil, err
	}
	carriers, err := d.Carriers(l.nodeID)
	if err != nil {
		return nil, err
	}

	for id, c := range carriers {
		if c.Cost == nil || c.Cost.Type != domain.ProfileInfluxDB {
			continue
		}
		if err := l.fetch(ctx, c.Cost, start, end); err != nil {
			return nil, fmt.Errorf("carrier %s cost profile: %w", id, err)
		}
		slog.Info("Loaded carrier cost profile",
			slog.String("carrier", id),
			slog.String("measurement", c.Cost.Source.Measurement),
			slog.Int("values", len(c.Cost.Values)))
	}

	slog.Info("Energy system loaded",
		slog.String("energy_system", d.ID()),
		slog.String("asset", asset.Name),
		slog.Int("carriers", len(carriers)))

	return &domain.EnergySystem{ID: d.ID(), Asset: asset, Carriers: carriers}, nil
}

func (l *Loader) fetch(ctx context.Context, p *domain.Profile, start, end time.Time) error {
	if l.profiles == nil {
		return &domain.ConfigError{Field: "cost", Err: fmt.Errorf("no profile source for InfluxDB profile %s", p.Source.Measurement)}
	}

	src := *p.Source
	var err error
	if src.StartDate, err = normalizeDate(src.StartDate, start); err != nil {
		return &domain.ConfigError{Field: "startDate", Err: err}
	}
	if src.EndDate, err = normalizeDate(src.EndDate, end); err != nil {
		return &domain.ConfigError{Field: "endDate", Err: err}
	}

	values, err := l.profiles.FetchProfile(ctx, &src)
	if err != nil {
		return err
	}
	p.Source = &src
	p.Values = values
	return nil
}

// normalizeDate converts an ESDL date to RFC 3339 UTC; empty uses fallback.
func normalizeDate(s string, fallback time.Time) (string, error) {
	if s == "" {
		return fallback.UTC().Format(time.RFC3339), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}
