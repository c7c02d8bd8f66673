package dispatch

import (
	"context"
	"fmt"

	"seedwatch/internal/model"
)

// APIClient is the subset of the external API client the dispatcher needs
// to carry out remote-affecting actions.
type APIClient interface {
	StopSeeding(ctx context.Context, itemID string) error
	ForceStart(ctx context.Context, itemID string) error
	DeleteItem(ctx context.Context, itemID string) error
}

// TagStore is the subset of per-user storage the dispatcher needs for
// add_tag/remove_tag and their pre-filter.
type TagStore interface {
	BatchLoadTagsForItems(ctx context.Context, itemIDs []string) (map[string][]int64, error)
	AddTag(ctx context.Context, itemID string, tagID int64) error
	RemoveTag(ctx context.Context, itemID string, tagID int64) error
}

// ArchiveStore is the subset of per-user storage the dispatcher needs for
// the archive action. IsArchived makes a repeated archive dispatch for the
// same item a no-op rather than a duplicate row and a second delete call.
type ArchiveStore interface {
	IsArchived(ctx context.Context, itemID string) (bool, error)
	InsertArchivedDownload(ctx context.Context, item model.Item) error
}

// ItemError pairs a failed item with the error the action returned against
// it; Dispatch keeps going past a single item's failure.
type ItemError struct {
	ItemID string
	Err    error
}

// Outcome summarizes one Dispatch call, for the caller to append to the
// rule execution log.
type Outcome struct {
	ActionType model.ActionType
	Attempted  int
	Succeeded  int
	Failed     int
	Errors     []ItemError
}

// Dispatcher executes a matched rule's action against the items that
// survive the action's pre-filter.
type Dispatcher struct {
	API     APIClient
	Tags    TagStore
	Archive ArchiveStore
}

// New returns a Dispatcher wired to the given collaborators.
func New(api APIClient, tags TagStore, archive ArchiveStore) *Dispatcher {
	return &Dispatcher{API: api, Tags: tags, Archive: archive}
}

// Dispatch pre-filters items against action, then executes action against
// every survivor, tolerating per-item failures.
func (d *Dispatcher) Dispatch(ctx context.Context, action model.Action, items []model.Item) (Outcome, error) {
	var itemTags map[string][]int64
	if action.Type == model.ActionAddTag || action.Type == model.ActionRemoveTag {
		itemIDs := make([]string, len(items))
		for i, it := range items {
			itemIDs[i] = it.ID
		}
		tags, err := d.Tags.BatchLoadTagsForItems(ctx, itemIDs)
		if err != nil {
			return Outcome{}, fmt.Errorf("load item tags: %w", err)
		}
		itemTags = tags
	}

	filtered := PreFilter(action, items, itemTags)
	outcome := Outcome{ActionType: action.Type, Attempted: len(filtered)}

	for _, item := range filtered {
		if err := d.dispatchOne(ctx, action, item); err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, ItemError{ItemID: item.ID, Err: err})
			continue
		}
		outcome.Succeeded++
	}
	return outcome, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, action model.Action, item model.Item) error {
	switch action.Type {
	case model.ActionStopSeeding:
		return d.API.StopSeeding(ctx, item.ID)

	case model.ActionForceStart:
		return d.API.ForceStart(ctx, item.ID)

	case model.ActionDelete:
		return d.API.DeleteItem(ctx, item.ID)

	case model.ActionArchive:
		archived, err := d.Archive.IsArchived(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("check archived %s: %w", item.ID, err)
		}
		if archived {
			return nil
		}
		if err := d.API.DeleteItem(ctx, item.ID); err != nil {
			return fmt.Errorf("delete for archive %s: %w", item.ID, err)
		}
		return d.Archive.InsertArchivedDownload(ctx, item)

	case model.ActionAddTag:
		for _, tagID := range action.TagIDs {
			if err := d.Tags.AddTag(ctx, item.ID, tagID); err != nil {
				return fmt.Errorf("add tag %d to %s: %w", tagID, item.ID, err)
			}
		}
		return nil

	case model.ActionRemoveTag:
		for _, tagID := range action.TagIDs {
			if err := d.Tags.RemoveTag(ctx, item.ID, tagID); err != nil {
				return fmt.Errorf("remove tag %d from %s: %w", tagID, item.ID, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}
