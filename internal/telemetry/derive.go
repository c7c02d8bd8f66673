// Package telemetry implements the derived-fields engine: deriving stall
// start timestamps and last-activity timestamps from a diff pass, since
// neither can be read directly from the external API.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"seedwatch/internal/classify"
	"seedwatch/internal/model"
)

// DefaultStallWindow is the default W from the design: an item that has not
// advanced its cumulative counter for this long is considered stalled.
const DefaultStallWindow = 5 * time.Minute

// Store is the subset of the per-user storage handle the derived-fields
// engine needs.
type Store interface {
	LoadTelemetry(ctx context.Context) (map[string]model.TelemetryRecord, error)
	UpsertTelemetry(ctx context.Context, row model.TelemetryRecord) error
	DeleteTelemetry(ctx context.Context, itemID string) error
}

// Engine applies shadow diffs to the per-user telemetry table.
type Engine struct {
	store  Store
	window time.Duration
}

// New returns an Engine with the given stall window. Pass
// DefaultStallWindow unless a deployment has a specific reason to tune it.
func New(store Store, window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultStallWindow
	}
	return &Engine{store: store, window: window}
}

// Apply processes one diff pass's new/updated/removed lists, per the
// derived-fields design: new items get a fresh telemetry row, updated items
// have their activity/stall fields advanced, and removed items lose their
// telemetry row entirely.
func (e *Engine) Apply(ctx context.Context, now time.Time, diff model.SnapshotResult) error {
	existing, err := e.store.LoadTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("load telemetry: %w", err)
	}

	for _, item := range diff.New {
		row := model.TelemetryRecord{ItemID: item.ID}
		if item.TotalDownloaded != 0 {
			t := now
			row.LastDownloadActivityAt = &t
		}
		if item.TotalUploaded != 0 {
			t := now
			row.LastUploadActivityAt = &t
		}
		if err := e.store.UpsertTelemetry(ctx, row); err != nil {
			return fmt.Errorf("upsert telemetry %s: %w", item.ID, err)
		}
	}

	for _, upd := range diff.Updated {
		row := existing[upd.Item.ID]
		row.ItemID = upd.Item.ID
		status := classify.Classify(upd.Item)

		if upd.Diff.DownloadDelta > 0 {
			t := now
			row.LastDownloadActivityAt = &t
			row.StalledSince = nil
		} else if row.StalledSince == nil && status.DownloadingFamily() && elapsedAtLeast(row.LastDownloadActivityAt, now, e.window) {
			t := now
			row.StalledSince = &t
		}

		if upd.Diff.UploadDelta > 0 {
			t := now
			row.LastUploadActivityAt = &t
			row.UploadStalledSince = nil
		} else if row.UploadStalledSince == nil && status.UploadingFamily() && elapsedAtLeast(row.LastUploadActivityAt, now, e.window) {
			t := now
			row.UploadStalledSince = &t
		}

		if err := e.store.UpsertTelemetry(ctx, row); err != nil {
			return fmt.Errorf("upsert telemetry %s: %w", upd.Item.ID, err)
		}
	}

	for _, removed := range diff.Removed {
		if err := e.store.DeleteTelemetry(ctx, removed.ItemID); err != nil {
			return fmt.Errorf("delete telemetry %s: %w", removed.ItemID, err)
		}
	}

	return nil
}

// elapsedAtLeast reports whether now - since >= window, treating a nil
// since (never observed activity) as an infinite elapsed duration.
func elapsedAtLeast(since *time.Time, now time.Time, window time.Duration) bool {
	if since == nil {
		return true
	}
	return now.Sub(*since) >= window
}
