package model

// Tag is a per-user label, compared case-insensitively by name at creation
// time to enforce the UNIQUE-ci constraint on the storage table.
type Tag struct {
	ID   int64
	Name string
}

// DownloadTag is the many-to-many row linking a Tag to an item.
type DownloadTag struct {
	TagID      int64
	DownloadID string
}
