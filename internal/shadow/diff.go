package shadow

import (
	"context"
	"fmt"
	"time"

	"seedwatch/internal/classify"
	"seedwatch/internal/model"
)

// Engine runs one diff pass per poll cycle against a Store. It is not safe
// for concurrent use by two cycles for the same user at once; the poller's
// per-user in-progress flag is what enforces single-writer access, not this
// type.
type Engine struct {
	store Store
}

// New returns an Engine backed by store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// ProcessSnapshot implements the algorithm in the shadow/diff design: load
// the current shadow, classify and compare every fetched item against it,
// and report what's new, updated, or removed. Storage errors are returned
// wrapped with %w (still matchable with errors.Is/As) so the caller can abort
// the cycle per the StorageError handling rule; the engine itself never partially applies a snapshot once an error
// is hit, though rows already written before the error remain written
// (there is no cross-row transaction at this layer).
func (e *Engine) ProcessSnapshot(ctx context.Context, items []model.Item, now time.Time) (model.SnapshotResult, error) {
	current, err := e.store.LoadShadow(ctx)
	if err != nil {
		return model.SnapshotResult{}, fmt.Errorf("load shadow: %w", err)
	}

	var result model.SnapshotResult
	seen := make(map[string]bool, len(items))

	for _, item := range items {
		seen[item.ID] = true
		status := classify.Classify(item)

		if status.Terminal() {
			if row, ok := current[item.ID]; ok {
				result.Removed = append(result.Removed, row)
				if err := e.store.DeleteShadow(ctx, item.ID); err != nil {
					return model.SnapshotResult{}, fmt.Errorf("delete shadow %s: %w", item.ID, err)
				}
			}
			continue
		}

		row, existed := current[item.ID]
		if !existed {
			newRow := model.ShadowRecord{
				ItemID:              item.ID,
				LastTotalDownloaded: item.TotalDownloaded,
				LastTotalUploaded:   item.TotalUploaded,
				LastState:           status,
				UpdatedAt:           now,
			}
			if err := e.store.UpsertShadow(ctx, newRow); err != nil {
				return model.SnapshotResult{}, fmt.Errorf("upsert shadow %s: %w", item.ID, err)
			}
			result.New = append(result.New, item)
			continue
		}

		d := computeDiff(row, item, status)
		if !d.HasChanges {
			continue
		}

		result.Updated = append(result.Updated, model.UpdatedItem{Item: item, Diff: d, Shadow: row})

		updatedRow := model.ShadowRecord{
			ItemID:              item.ID,
			LastTotalDownloaded: item.TotalDownloaded,
			LastTotalUploaded:   item.TotalUploaded,
			LastState:           status,
			UpdatedAt:           now,
		}
		if err := e.store.UpsertShadow(ctx, updatedRow); err != nil {
			return model.SnapshotResult{}, fmt.Errorf("upsert shadow %s: %w", item.ID, err)
		}

		if d.StateChanged {
			result.StateTransitions = append(result.StateTransitions, model.StateTransition{
				ItemID: item.ID,
				From:   row.LastState,
				To:     status,
				At:     now,
			})
		}
	}

	// Any shadow row not present in the current snapshot is reported as
	// removed but intentionally left intact: absence from one snapshot is
	// not, by itself, authoritative (pagination or a transient omission
	// from the external API could explain it). See design notes.
	for id, row := range current {
		if !seen[id] {
			result.Removed = append(result.Removed, row)
		}
	}

	return result, nil
}

func computeDiff(prev model.ShadowRecord, item model.Item, status model.Status) model.Diff {
	downloadDelta := item.TotalDownloaded - prev.LastTotalDownloaded
	uploadDelta := item.TotalUploaded - prev.LastTotalUploaded
	stateChanged := prev.LastState != status
	downloadChanged := downloadDelta != 0
	uploadChanged := uploadDelta != 0

	return model.Diff{
		HasChanges:      stateChanged || downloadChanged || uploadChanged,
		StateChanged:    stateChanged,
		DownloadChanged: downloadChanged,
		UploadChanged:   uploadChanged,
		DownloadDelta:   downloadDelta,
		UploadDelta:     uploadDelta,
	}
}
