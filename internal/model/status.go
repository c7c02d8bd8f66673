package model

// Status is the fixed vocabulary the classifier maps every item onto. It is
// part of the observable contract: rule conditions of type STATUS compare
// against these exact strings, so the values must never change.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusUploading   Status = "uploading"
	StatusSeeding     Status = "seeding"
	StatusQueued      Status = "queued"
	StatusStalled     Status = "stalled"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInactive    Status = "inactive"
	StatusCached      Status = "cached"
)

// Terminal returns true for statuses that exclude an item from the shadow
// and telemetry stores: once an item reaches one of these it is no longer
// expected to change.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInactive:
		return true
	default:
		return false
	}
}

// DownloadingFamily returns true for statuses where an item is actively
// expected to be accumulating download bytes; used by the derived-fields
// engine to decide whether a download-side stall should be recorded.
func (s Status) DownloadingFamily() bool {
	switch s {
	case StatusDownloading, StatusStalled, StatusQueued:
		return true
	default:
		return false
	}
}

// UploadingFamily returns true for statuses where an item is actively
// expected to be accumulating upload bytes; mirrors DownloadingFamily for
// the upload-side stall detection in the derived-fields engine.
func (s Status) UploadingFamily() bool {
	switch s {
	case StatusSeeding, StatusUploading:
		return true
	default:
		return false
	}
}
