package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"essim_battery/internal/domain"
)

type countingRecorder struct {
	calls int
	err   error
}

func (c *countingRecorder) Record(context.Context, *domain.RunResult) error {
	c.calls++
	return c.err
}

func TestMultiRecorder(t *testing.T) {
	boom := errors.New("disk full")
	failing := &countingRecorder{err: boom}
	ok := &countingRecorder{}

	var m MultiRecorder
	m.Add("sqlite", failing)
	m.Add("influx", ok)
	assert.Equal(t, 2, m.Len())

	err := m.Record(context.Background(), &domain.RunResult{})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sqlite: disk full")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls, "a failing recorder must not hide the others")

	var empty MultiRecorder
	assert.NoError(t, empty.Record(context.Background(), &domain.RunResult{}))
}
