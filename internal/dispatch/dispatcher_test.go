package dispatch

import (
	"context"
	"errors"
	"testing"

	"seedwatch/internal/model"
)

type fakeAPIClient struct {
	stopped []string
	started []string
	deleted []string
	failID  string
}

func (f *fakeAPIClient) StopSeeding(ctx context.Context, itemID string) error {
	f.stopped = append(f.stopped, itemID)
	return f.maybeFail(itemID)
}

func (f *fakeAPIClient) ForceStart(ctx context.Context, itemID string) error {
	f.started = append(f.started, itemID)
	return f.maybeFail(itemID)
}

func (f *fakeAPIClient) DeleteItem(ctx context.Context, itemID string) error {
	f.deleted = append(f.deleted, itemID)
	return f.maybeFail(itemID)
}

func (f *fakeAPIClient) maybeFail(itemID string) error {
	if f.failID != "" && itemID == f.failID {
		return errors.New("boom")
	}
	return nil
}

type fakeTagStore struct {
	tags  map[string][]int64
	added map[string][]int64
}

func newFakeTagStore() *fakeTagStore {
	return &fakeTagStore{tags: map[string][]int64{}, added: map[string][]int64{}}
}

func (f *fakeTagStore) BatchLoadTagsForItems(ctx context.Context, itemIDs []string) (map[string][]int64, error) {
	return f.tags, nil
}

func (f *fakeTagStore) AddTag(ctx context.Context, itemID string, tagID int64) error {
	f.added[itemID] = append(f.added[itemID], tagID)
	f.tags[itemID] = append(f.tags[itemID], tagID)
	return nil
}

func (f *fakeTagStore) RemoveTag(ctx context.Context, itemID string, tagID int64) error {
	var kept []int64
	for _, id := range f.tags[itemID] {
		if id != tagID {
			kept = append(kept, id)
		}
	}
	f.tags[itemID] = kept
	return nil
}

type fakeArchiveStore struct {
	archived map[string]bool
	inserts  int
}

func newFakeArchiveStore() *fakeArchiveStore {
	return &fakeArchiveStore{archived: map[string]bool{}}
}

func (f *fakeArchiveStore) IsArchived(ctx context.Context, itemID string) (bool, error) {
	return f.archived[itemID], nil
}

func (f *fakeArchiveStore) InsertArchivedDownload(ctx context.Context, item model.Item) error {
	f.archived[item.ID] = true
	f.inserts++
	return nil
}

// TestAddTagPreFilterDropsAlreadyTagged implements the add-tag pre-filter
// scenario: an item that already carries every target tag is never
// re-dispatched.
func TestAddTagPreFilterDropsAlreadyTagged(t *testing.T) {
	api := &fakeAPIClient{}
	tags := newFakeTagStore()
	tags.tags["already"] = []int64{9}
	archive := newFakeArchiveStore()
	d := New(api, tags, archive)

	action := model.Action{Type: model.ActionAddTag, TagIDs: []int64{9}}
	items := []model.Item{{ID: "already"}, {ID: "fresh"}}

	outcome, err := d.Dispatch(context.Background(), action, items)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Attempted != 1 || outcome.Succeeded != 1 {
		t.Fatalf("expected exactly 1 attempted/succeeded, got %+v", outcome)
	}
	if len(tags.added["already"]) != 0 {
		t.Errorf("expected already-tagged item untouched, got %v", tags.added["already"])
	}
	if len(tags.added["fresh"]) != 1 {
		t.Errorf("expected fresh item tagged once, got %v", tags.added["fresh"])
	}
}

func TestStopSeedingPreFilterDropsNonSeeding(t *testing.T) {
	api := &fakeAPIClient{}
	d := New(api, newFakeTagStore(), newFakeArchiveStore())

	action := model.Action{Type: model.ActionStopSeeding}
	items := []model.Item{
		{ID: "seeding", DownloadState: "seeding", Active: true},
		{ID: "downloading", DownloadState: "downloading", Active: true},
		{ID: "uploading", DownloadState: "uploading", Active: true},
	}

	outcome, err := d.Dispatch(context.Background(), action, items)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Attempted != 1 {
		t.Fatalf("expected only the seeding item to be attempted, got %+v", outcome)
	}
	if len(api.stopped) != 1 || api.stopped[0] != "seeding" {
		t.Fatalf("expected StopSeeding called only for 'seeding', got %v", api.stopped)
	}
}

// TestArchiveThenDeleteIsIdempotent covers the idempotence property: two
// archive dispatches for the same item produce exactly one archived row and
// one delete call.
func TestArchiveThenDeleteIsIdempotent(t *testing.T) {
	api := &fakeAPIClient{}
	archive := newFakeArchiveStore()
	d := New(api, newFakeTagStore(), archive)

	action := model.Action{Type: model.ActionArchive}
	items := []model.Item{{ID: "x"}}

	if _, err := d.Dispatch(context.Background(), action, items); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if _, err := d.Dispatch(context.Background(), action, items); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}

	if len(api.deleted) != 1 {
		t.Fatalf("expected exactly one delete attempt across both dispatches, got %v", api.deleted)
	}
	if archive.inserts != 1 {
		t.Fatalf("expected exactly one archived row, got %d", archive.inserts)
	}
}

func TestDispatchContinuesPastItemFailure(t *testing.T) {
	api := &fakeAPIClient{failID: "bad"}
	d := New(api, newFakeTagStore(), newFakeArchiveStore())

	action := model.Action{Type: model.ActionDelete}
	items := []model.Item{{ID: "bad"}, {ID: "good"}}

	outcome, err := d.Dispatch(context.Background(), action, items)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome.Succeeded != 1 || outcome.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", outcome)
	}
	if len(api.deleted) != 2 {
		t.Fatalf("expected both items attempted despite one failing, got %v", api.deleted)
	}
}
