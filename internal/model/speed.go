package model

import "time"

// SpeedSample is one append-only cumulative-byte-counter observation,
// recorded for active items on every cycle that produced an update.
type SpeedSample struct {
	ItemID          string
	Timestamp       time.Time
	TotalDownloaded int64
	TotalUploaded   int64
}

// SpeedDirection selects which cumulative counter AverageSpeed reads.
type SpeedDirection string

const (
	SpeedDownload SpeedDirection = "download"
	SpeedUpload   SpeedDirection = "upload"
)
