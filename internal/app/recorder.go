package app

import (
	"context"
	"errors"
	"fmt"

	"essim_battery/internal/domain"
)

// namedRecorder labels a recorder in aggregated errors.
type namedRecorder struct {
	name string
	rec  domain.Recorder
}

// MultiRecorder hands a run to every configured result store. One failing
// store does not prevent the others from being written.
type MultiRecorder struct {
	recorders []namedRecorder
}

// Add registers a recorder under a name used in error messages.
func (m *MultiRecorder) Add(name string, rec domain.Recorder) {
	m.recorders = append(m.recorders, namedRecorder{name: name, rec: rec})
}

// Len is the number of registered recorders.
func (m *MultiRecorder) Len() int {
	return len(m.recorders)
}

// Record writes result to all recorders and joins their errors.
func (m *MultiRecorder) Record(ctx context.Context, result *domain.RunResult) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.rec.Record(ctx, result); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}
