package client

import (
	"context"
	"time"
)

// Position is one device-reported location sample.
type Position struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	SpeedKMH       float64
	HeadingDegrees float64
	Timestamp      time.Time // device-reported sample time
}

// WatchOptions tune the position subscription. Timeout is the per-request
// timeout for the underlying provider; it is fixed at construction, not per
// call.
type WatchOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
}

// PositionSource is the device geolocation capability. Watch returns a
// channel of continuous samples that closes when ctx is cancelled.
type PositionSource interface {
	Watch(ctx context.Context, opts WatchOptions) (<-chan Position, error)
}
