// Package speed implements the speed aggregator: recording periodic
// cumulative byte counters for active items and computing average speed
// over a trailing window from the endpoint delta.
package speed

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"seedwatch/internal/model"
)

// DefaultRetention is how long speed samples are kept before pruning.
const DefaultRetention = 24 * time.Hour

// PruneEveryN amortizes prune cost: a prune sweep runs once every Nth
// recorded sample rather than on every call.
const PruneEveryN = 10

// Store is the subset of the per-user storage handle the aggregator needs.
type Store interface {
	InsertSpeedSample(ctx context.Context, sample model.SpeedSample) error
	LoadSpeedSamples(ctx context.Context, itemID string, since time.Time) ([]model.SpeedSample, error)
	PruneSpeedSamples(ctx context.Context, olderThan time.Time) error
}

// Aggregator records and queries per-item speed samples.
type Aggregator struct {
	store     Store
	retention time.Duration
	counter   atomic.Int64
}

// New returns an Aggregator with the given retention. Pass DefaultRetention
// unless a deployment has a specific reason to tune it.
func New(store Store, retention time.Duration) *Aggregator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Aggregator{store: store, retention: retention}
}

// RecordSample appends one sample. Callers only invoke this for items in
// the diff's Updated list whose Active flag is truthy; the aggregator
// itself does not filter on activity.
func (a *Aggregator) RecordSample(ctx context.Context, itemID string, totalDownloaded, totalUploaded int64, ts time.Time) error {
	sample := model.SpeedSample{
		ItemID:          itemID,
		Timestamp:       ts,
		TotalDownloaded: totalDownloaded,
		TotalUploaded:   totalUploaded,
	}
	if err := a.store.InsertSpeedSample(ctx, sample); err != nil {
		return fmt.Errorf("insert speed sample %s: %w", itemID, err)
	}

	if a.counter.Add(1)%PruneEveryN == 0 {
		if err := a.store.PruneSpeedSamples(ctx, ts.Add(-a.retention)); err != nil {
			return fmt.Errorf("prune speed samples: %w", err)
		}
	}
	return nil
}

// AverageSpeed computes (last - first) / (lastTs - firstTs) in bytes/s over
// samples in [now-hours, now], ordered by timestamp. Returns 0 when fewer
// than two samples exist in the window or the time delta is zero.
func (a *Aggregator) AverageSpeed(ctx context.Context, itemID string, hours float64, direction model.SpeedDirection, now time.Time) (float64, error) {
	since := now.Add(-time.Duration(hours * float64(time.Hour)))
	samples, err := a.store.LoadSpeedSamples(ctx, itemID, since)
	if err != nil {
		return 0, fmt.Errorf("load speed samples %s: %w", itemID, err)
	}
	return ComputeAverage(samples, direction), nil
}

// ComputeAverage is the pure (last - first) / (lastTs - firstTs) computation
// over an already-windowed, timestamp-ascending sample slice. It is exported
// so the rule evaluator can reuse it against bulk-preloaded samples instead
// of issuing one query per item.
func ComputeAverage(samples []model.SpeedSample, direction model.SpeedDirection) float64 {
	if len(samples) < 2 {
		return 0
	}

	first := samples[0]
	last := samples[len(samples)-1]

	timeDelta := last.Timestamp.Sub(first.Timestamp).Seconds()
	if timeDelta <= 0 {
		return 0
	}

	var byteDelta int64
	switch direction {
	case model.SpeedUpload:
		byteDelta = last.TotalUploaded - first.TotalUploaded
	default:
		byteDelta = last.TotalDownloaded - first.TotalDownloaded
	}

	return float64(byteDelta) / timeDelta
}
