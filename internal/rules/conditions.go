package rules

import (
	"strconv"
	"strings"
	"time"

	"seedwatch/internal/classify"
	"seedwatch/internal/model"
	"seedwatch/internal/speed"
)

// evaluate dispatches a single valid condition against one item's context.
// It returns the match result and, when the condition's operator shape was
// unrecognized for its type, a non-empty reason string for the once-per-
// shape debug log.
func evaluate(c model.Condition, ec evalContext) (bool, string) {
	switch c.Type {
	case model.ConditionSeedingTime:
		if ec.item.CachedAt == nil {
			return false, ""
		}
		return compareNumeric(ec.now.Sub(*ec.item.CachedAt).Hours(), c), ""

	case model.ConditionAge:
		return compareNumeric(ec.now.Sub(ec.item.CreatedAt).Hours(), c), ""

	case model.ConditionLastDownloadActivityAt:
		return evaluateActivityAge(ec.telemetry.LastDownloadActivityAt, c, ec.now), ""

	case model.ConditionLastUploadActivityAt:
		return evaluateActivityAge(ec.telemetry.LastUploadActivityAt, c, ec.now), ""

	case model.ConditionProgress:
		return compareNumeric(ec.item.Progress, c), ""

	case model.ConditionDownloadSpeed:
		return compareNumeric(float64(ec.item.DownloadSpeed)/mbBytes, c), ""

	case model.ConditionUploadSpeed:
		return compareNumeric(float64(ec.item.UploadSpeed)/mbBytes, c), ""

	case model.ConditionAvgDownloadSpeed:
		avg := speed.ComputeAverage(windowSamples(ec.samples, c.Hours, ec.now), model.SpeedDownload)
		return compareNumeric(avg/mbBytes, c), ""

	case model.ConditionAvgUploadSpeed:
		avg := speed.ComputeAverage(windowSamples(ec.samples, c.Hours, ec.now), model.SpeedUpload)
		return compareNumeric(avg/mbBytes, c), ""

	case model.ConditionETA:
		return compareNumeric(float64(ec.item.ETA)/60.0, c), ""

	case model.ConditionDownloadStalledTime:
		return evaluateStalledTime(ec.telemetry.StalledSince, c, ec.now), ""

	case model.ConditionUploadStalledTime:
		return evaluateStalledTime(ec.telemetry.UploadStalledSince, c, ec.now), ""

	case model.ConditionSeeds:
		return compareNumeric(float64(ec.item.Seeds), c), ""

	case model.ConditionPeers:
		return compareNumeric(float64(ec.item.Peers), c), ""

	case model.ConditionRatio:
		return compareNumeric(ec.item.EffectiveRatio(), c), ""

	case model.ConditionTotalUploaded:
		return compareNumeric(float64(ec.item.TotalUploaded)/mbBytes, c), ""

	case model.ConditionTotalDownloaded:
		return compareNumeric(float64(ec.item.TotalDownloaded)/mbBytes, c), ""

	case model.ConditionFileSize:
		return compareNumeric(float64(ec.item.Size)/mbBytes, c), ""

	case model.ConditionFileCount:
		return compareNumeric(float64(ec.item.FileCount()), c), ""

	case model.ConditionAvailability:
		var v float64
		if ec.item.Availability != nil {
			v = *ec.item.Availability
		}
		return compareNumeric(v, c), ""

	case model.ConditionExpiresAt:
		if ec.item.ExpiresAt == nil {
			return false, ""
		}
		return compareNumeric(ec.item.ExpiresAt.Sub(ec.now).Hours(), c), ""

	case model.ConditionName:
		return evaluateString(strings.ToLower(ec.item.Name), c)

	case model.ConditionTracker:
		return evaluateString(strings.ToLower(ec.item.Tracker), c)

	case model.ConditionPrivate:
		return evaluateBoolean(ec.item.Private, c)

	case model.ConditionCached:
		return evaluateBoolean(ec.item.Cached, c)

	case model.ConditionAllowZip:
		return evaluateBoolean(ec.item.AllowZipped, c)

	case model.ConditionIsActive:
		return evaluateBoolean(ec.item.Active, c)

	case model.ConditionSeedingEnabled:
		return evaluateBoolean(ec.item.SeedTorrent, c)

	case model.ConditionLongTermSeeding:
		return evaluateBoolean(ec.item.LongTermSeeding, c)

	case model.ConditionStatus:
		return evaluateList(string(classify.Classify(ec.item)), c)

	case model.ConditionTags:
		return evaluateTags(ec.tags, c)

	default:
		return false, "unhandled condition type"
	}
}

// compareNumeric applies c.Operator to value vs c.Numeric. c.Operator is
// guaranteed to be one of the numericOperators by DecodeCondition.
func compareNumeric(value float64, c model.Condition) bool {
	switch c.Operator {
	case "gt":
		return value > c.Numeric
	case "gte":
		return value >= c.Numeric
	case "lt":
		return value < c.Numeric
	case "lte":
		return value <= c.Numeric
	case "eq":
		return value == c.Numeric
	default:
		return false
	}
}

// evaluateActivityAge implements the LAST_*_ACTIVITY_AT rule: a nil
// timestamp (never observed active) is treated as an infinite elapsed age,
// which only ever satisfies gt/gte; any other operator reports no-match.
func evaluateActivityAge(since *time.Time, c model.Condition, now time.Time) bool {
	if since == nil {
		return c.Operator == "gt" || c.Operator == "gte"
	}
	return compareNumeric(now.Sub(*since).Minutes(), c)
}

// evaluateStalledTime implements the *_STALLED_TIME rule: a nil stalled-
// since timestamp (item not currently stalled) is a no-match regardless of
// operator.
func evaluateStalledTime(since *time.Time, c model.Condition, now time.Time) bool {
	if since == nil {
		return false
	}
	return compareNumeric(now.Sub(*since).Minutes(), c)
}

func evaluateString(value string, c model.Condition) (bool, string) {
	switch c.Operator {
	case "equals":
		return value == c.Text, ""
	case "not_equals":
		return value != c.Text, ""
	case "contains":
		return strings.Contains(value, c.Text), ""
	case "not_contains":
		return !strings.Contains(value, c.Text), ""
	case "starts_with":
		return strings.HasPrefix(value, c.Text), ""
	case "ends_with":
		return strings.HasSuffix(value, c.Text), ""
	default:
		return false, "unrecognized string operator"
	}
}

// evaluateBoolean supports the three documented operator shapes: is_true/
// is_false, direct equality, and a numeric-style comparison against the 0/1
// normalized form.
func evaluateBoolean(value bool, c model.Condition) (bool, string) {
	switch c.Operator {
	case "is_true":
		return value, ""
	case "is_false":
		return !value, ""
	case "equals", "eq":
		return value == c.Boolean, ""
	case "not_equals":
		return value != c.Boolean, ""
	case "gt", "gte", "lt", "lte":
		n := 0.0
		if value {
			n = 1.0
		}
		return compareNumeric(n, c), ""
	default:
		return false, "unrecognized boolean operator"
	}
}

func evaluateList(value string, c model.Condition) (bool, string) {
	value = strings.ToLower(value)
	switch c.Operator {
	case "is_any_of", "has_any":
		return containsStr(c.List, value), ""
	case "is_none_of", "has_none":
		return !containsStr(c.List, value), ""
	default:
		return false, "unrecognized list operator"
	}
}

func evaluateTags(itemTags []int64, c model.Condition) (bool, string) {
	tagSet := make(map[string]bool, len(itemTags))
	for _, id := range itemTags {
		tagSet[strconv.FormatInt(id, 10)] = true
	}
	switch c.Operator {
	case "has_any", "is_any_of":
		for _, want := range c.List {
			if tagSet[want] {
				return true, ""
			}
		}
		return false, ""
	case "has_all", "is_all_of":
		for _, want := range c.List {
			if !tagSet[want] {
				return false, ""
			}
		}
		return true, ""
	case "has_none", "is_none_of":
		for _, want := range c.List {
			if tagSet[want] {
				return false, ""
			}
		}
		return true, ""
	default:
		return false, "unrecognized tags operator"
	}
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// windowSamples trims a bulk-preloaded, timestamp-ascending sample slice
// down to the condition's own [now-hours, now] window.
func windowSamples(samples []model.SpeedSample, hours float64, now time.Time) []model.SpeedSample {
	if len(samples) == 0 {
		return nil
	}
	since := now.Add(-time.Duration(hours * float64(time.Hour)))
	out := make([]model.SpeedSample, 0, len(samples))
	for _, s := range samples {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}
