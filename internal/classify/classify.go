// Package classify implements the item status classifier: a pure,
// deterministic, total function from a raw item record to the fixed status
// vocabulary in model.Status. Its output is part of the observable contract
// (rule conditions of type STATUS reference it directly), so the priority
// order below must never be reshuffled without a deliberate, documented
// version bump.
package classify

import "seedwatch/internal/model"

// Classify maps item to its canonical status. The checks are ordered from
// most to least authoritative: an item sourced from the queued-items
// endpoint is always queued regardless of any other field; inactive beats
// everything else the raw API might claim once active is false; failed and
// completed are terminal signals straight from the API; an explicit
// post-download raw state (uploading, seeding, cached) is taken as given;
// otherwise progress==1 still means completed; a downloading state with
// zero seeds is reclassified as stalled rather than downloading, since a
// downloading item with no seeds cannot make progress; the remaining raw
// download_state values map directly.
func Classify(item model.Item) model.Status {
	if item.Queued {
		return model.StatusQueued
	}

	if !item.Active {
		return model.StatusInactive
	}

	switch item.DownloadState {
	case "failed", "error", "virus", "metaDLError":
		return model.StatusFailed
	case "completed", "finished":
		return model.StatusCompleted
	case "uploading":
		return model.StatusUploading
	case "seeding", "stalledUP":
		return model.StatusSeeding
	case "cached":
		return model.StatusCached
	}

	if item.Progress >= 1 {
		return model.StatusCompleted
	}

	switch item.DownloadState {
	case "queued", "metaDL", "checkingResumeData":
		return model.StatusQueued
	case "downloading", "paused", "pausedDL", "stalledDL":
		if item.DownloadState == "downloading" && item.Seeds == 0 {
			return model.StatusStalled
		}
		if item.DownloadState == "stalledDL" || item.DownloadState == "paused" || item.DownloadState == "pausedDL" {
			return model.StatusStalled
		}
		return model.StatusDownloading
	}

	// Unknown raw state with an active item and partial progress: treat as
	// downloading unless it has no seeds to pull from.
	if item.Seeds == 0 {
		return model.StatusStalled
	}
	return model.StatusDownloading
}
