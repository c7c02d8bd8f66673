package telemetry

import (
	"context"
	"testing"
	"time"

	"seedwatch/internal/model"
)

type fakeStore struct {
	rows map[string]model.TelemetryRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]model.TelemetryRecord)}
}

func (f *fakeStore) LoadTelemetry(ctx context.Context) (map[string]model.TelemetryRecord, error) {
	out := make(map[string]model.TelemetryRecord, len(f.rows))
	for k, v := range f.rows {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) UpsertTelemetry(ctx context.Context, row model.TelemetryRecord) error {
	f.rows[row.ItemID] = row
	return nil
}

func (f *fakeStore) DeleteTelemetry(ctx context.Context, itemID string) error {
	delete(f.rows, itemID)
	return nil
}

func TestActivityAdvancesOnPositiveDelta(t *testing.T) {
	store := newFakeStore()
	engine := New(store, DefaultStallWindow)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	diff := model.SnapshotResult{
		Updated: []model.UpdatedItem{
			{
				Item: model.Item{ID: "1", Active: true, DownloadState: "downloading", Seeds: 2},
				Diff: model.Diff{DownloadDelta: 1000},
			},
		},
	}

	if err := engine.Apply(context.Background(), now, diff); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	row := store.rows["1"]
	if row.LastDownloadActivityAt == nil || !row.LastDownloadActivityAt.Equal(now) {
		t.Fatalf("expected LastDownloadActivityAt = %v, got %v", now, row.LastDownloadActivityAt)
	}
	if row.StalledSince != nil {
		t.Errorf("expected StalledSince nil, got %v", row.StalledSince)
	}
}

func TestStallDetectedAfterWindow(t *testing.T) {
	store := newFakeStore()
	window := 5 * time.Minute
	past := time.Date(2026, 1, 1, 11, 50, 0, 0, time.UTC)
	store.rows["1"] = model.TelemetryRecord{ItemID: "1", LastDownloadActivityAt: &past}

	engine := New(store, window)
	now := past.Add(6 * time.Minute)

	diff := model.SnapshotResult{
		Updated: []model.UpdatedItem{
			{
				Item: model.Item{ID: "1", Active: true, DownloadState: "downloading", Seeds: 2},
				Diff: model.Diff{DownloadDelta: 0, StateChanged: false},
			},
		},
	}

	if err := engine.Apply(context.Background(), now, diff); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	row := store.rows["1"]
	if row.StalledSince == nil || !row.StalledSince.Equal(now) {
		t.Fatalf("expected StalledSince = %v, got %v", now, row.StalledSince)
	}
}

func TestRemovedItemsDeleteTelemetry(t *testing.T) {
	store := newFakeStore()
	store.rows["1"] = model.TelemetryRecord{ItemID: "1"}
	engine := New(store, DefaultStallWindow)

	diff := model.SnapshotResult{
		Removed: []model.ShadowRecord{{ItemID: "1"}},
	}

	if err := engine.Apply(context.Background(), time.Now(), diff); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, exists := store.rows["1"]; exists {
		t.Errorf("expected telemetry row 1 to be deleted")
	}
}

func TestNewItemWithZeroTotalsGetsNullActivity(t *testing.T) {
	store := newFakeStore()
	engine := New(store, DefaultStallWindow)
	now := time.Now()

	diff := model.SnapshotResult{
		New: []model.Item{{ID: "5", TotalDownloaded: 0, TotalUploaded: 0}},
	}

	if err := engine.Apply(context.Background(), now, diff); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	row := store.rows["5"]
	if row.LastDownloadActivityAt != nil || row.LastUploadActivityAt != nil {
		t.Errorf("expected null activity timestamps for a zero-totals new item, got %+v", row)
	}
}
