package model

import "time"

// ShadowRecord is the per-item "last seen" snapshot used to detect changes
// between poll cycles. No record exists for an item whose current status is
// terminal; UpdatedAt is monotonically non-decreasing per ItemID.
type ShadowRecord struct {
	ItemID              string
	LastTotalDownloaded int64
	LastTotalUploaded   int64
	LastState           Status
	UpdatedAt           time.Time
}

// Diff describes what changed between a ShadowRecord and a freshly fetched
// Item for the same ItemID.
type Diff struct {
	HasChanges      bool
	StateChanged    bool
	DownloadChanged bool
	UploadChanged   bool
	DownloadDelta   int64
	UploadDelta     int64
}

// StateTransition records one item's status change observed during a
// diff pass.
type StateTransition struct {
	ItemID string
	From   Status
	To     Status
	At     time.Time
}

// UpdatedItem pairs a fetched item with its computed diff against the prior
// shadow row.
type UpdatedItem struct {
	Item   Item
	Diff   Diff
	Shadow ShadowRecord
}

// SnapshotResult is the output of one diff pass over a fetched item list.
type SnapshotResult struct {
	New              []Item
	Updated          []UpdatedItem
	Removed          []ShadowRecord
	StateTransitions []StateTransition
}
