package domain

import (
	"context"
)

// Recorder persists the results of a finished run
type Recorder interface {
	Record(ctx context.Context, result *RunResult) error
}

// Publisher sends an outbound payload on the message channel
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// ProfileSource fetches historical profile values (e.g. carrier cost series)
type ProfileSource interface {
	FetchProfile(ctx context.Context, src *InfluxSource) ([]float64, error)
}
