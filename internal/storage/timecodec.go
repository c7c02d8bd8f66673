package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayouts are tried in order when parsing a persisted timestamp,
// tolerating both historical and current encodings per the external
// interfaces design: ISO-8601 UTC with millisecond precision, 'T' or space
// separator, optional trailing 'Z'.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05.000",
	time.RFC3339,
	time.RFC3339Nano,
}

func encodeTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func encodeTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, lastErr)
}

func decodeTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := decodeTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
