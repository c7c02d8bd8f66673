package model

import "time"

// TelemetryRecord holds derived per-item timestamps that cannot be read
// directly from the external API: when a stall began, and when activity was
// last observed on each side. *ActivityAt fields are never in the future;
// a StalledSince field is set only at the instant a stall is first detected,
// never re-derived from a later diff while the stall continues.
type TelemetryRecord struct {
	ItemID                 string
	StalledSince           *time.Time
	UploadStalledSince     *time.Time
	LastDownloadActivityAt *time.Time
	LastUploadActivityAt   *time.Time
}
