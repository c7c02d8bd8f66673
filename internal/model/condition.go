package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ConditionType is the fixed vocabulary of rule condition kinds, per the
// table in the rule-evaluator design.
type ConditionType string

const (
	ConditionSeedingTime             ConditionType = "SEEDING_TIME"
	ConditionAge                     ConditionType = "AGE"
	ConditionLastDownloadActivityAt  ConditionType = "LAST_DOWNLOAD_ACTIVITY_AT"
	ConditionLastUploadActivityAt    ConditionType = "LAST_UPLOAD_ACTIVITY_AT"
	ConditionProgress                ConditionType = "PROGRESS"
	ConditionDownloadSpeed           ConditionType = "DOWNLOAD_SPEED"
	ConditionUploadSpeed             ConditionType = "UPLOAD_SPEED"
	ConditionAvgDownloadSpeed        ConditionType = "AVG_DOWNLOAD_SPEED"
	ConditionAvgUploadSpeed          ConditionType = "AVG_UPLOAD_SPEED"
	ConditionETA                     ConditionType = "ETA"
	ConditionDownloadStalledTime     ConditionType = "DOWNLOAD_STALLED_TIME"
	ConditionUploadStalledTime       ConditionType = "UPLOAD_STALLED_TIME"
	ConditionSeeds                   ConditionType = "SEEDS"
	ConditionPeers                   ConditionType = "PEERS"
	ConditionRatio                   ConditionType = "RATIO"
	ConditionTotalUploaded           ConditionType = "TOTAL_UPLOADED"
	ConditionTotalDownloaded         ConditionType = "TOTAL_DOWNLOADED"
	ConditionFileSize                ConditionType = "FILE_SIZE"
	ConditionFileCount               ConditionType = "FILE_COUNT"
	ConditionAvailability            ConditionType = "AVAILABILITY"
	ConditionExpiresAt               ConditionType = "EXPIRES_AT"
	ConditionName                    ConditionType = "NAME"
	ConditionTracker                 ConditionType = "TRACKER"
	ConditionPrivate                 ConditionType = "PRIVATE"
	ConditionCached                  ConditionType = "CACHED"
	ConditionAllowZip                ConditionType = "ALLOW_ZIP"
	ConditionIsActive                ConditionType = "IS_ACTIVE"
	ConditionSeedingEnabled          ConditionType = "SEEDING_ENABLED"
	ConditionLongTermSeeding         ConditionType = "LONG_TERM_SEEDING"
	ConditionStatus                  ConditionType = "STATUS"
	ConditionTags                    ConditionType = "TAGS"
)

// ConditionKind is the decoded payload shape a ConditionType carries.
type ConditionKind int

const (
	KindNumeric ConditionKind = iota
	KindString
	KindBoolean
	KindList
)

var conditionKinds = map[ConditionType]ConditionKind{
	ConditionSeedingTime:            KindNumeric,
	ConditionAge:                    KindNumeric,
	ConditionLastDownloadActivityAt: KindNumeric,
	ConditionLastUploadActivityAt:   KindNumeric,
	ConditionProgress:               KindNumeric,
	ConditionDownloadSpeed:          KindNumeric,
	ConditionUploadSpeed:            KindNumeric,
	ConditionAvgDownloadSpeed:       KindNumeric,
	ConditionAvgUploadSpeed:         KindNumeric,
	ConditionETA:                    KindNumeric,
	ConditionDownloadStalledTime:    KindNumeric,
	ConditionUploadStalledTime:      KindNumeric,
	ConditionSeeds:                  KindNumeric,
	ConditionPeers:                  KindNumeric,
	ConditionRatio:                  KindNumeric,
	ConditionTotalUploaded:          KindNumeric,
	ConditionTotalDownloaded:        KindNumeric,
	ConditionFileSize:               KindNumeric,
	ConditionFileCount:              KindNumeric,
	ConditionAvailability:           KindNumeric,
	ConditionExpiresAt:              KindNumeric,
	ConditionName:                   KindString,
	ConditionTracker:                KindString,
	ConditionPrivate:                KindBoolean,
	ConditionCached:                 KindBoolean,
	ConditionAllowZip:               KindBoolean,
	ConditionIsActive:               KindBoolean,
	ConditionSeedingEnabled:         KindBoolean,
	ConditionLongTermSeeding:        KindBoolean,
	ConditionStatus:                 KindList,
	ConditionTags:                   KindList,
}

// numericOperators is the valid operator set for KindNumeric conditions.
var numericOperators = map[string]bool{"gt": true, "lt": true, "gte": true, "lte": true, "eq": true}

// stringOperators is the valid operator set for KindString conditions.
var stringOperators = map[string]bool{
	"contains": true, "not_contains": true, "equals": true, "not_equals": true,
	"starts_with": true, "ends_with": true,
}

// RawCondition is the wire/storage shape of one condition, as persisted in
// automation_rules.conditions JSON.
type RawCondition struct {
	Type     string          `json:"type"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
	Hours    *float64        `json:"hours,omitempty"`
}

// Condition is the decoded, validated form consumed by the evaluator's hot
// path. Decoding happens once at rule-load time so evaluation only branches
// on Type/Kind, never re-parses JSON.
type Condition struct {
	Type     ConditionType
	Operator string
	Kind     ConditionKind

	Numeric float64
	Text    string
	List    []string
	Boolean bool

	// Hours is the lookback window for AVG_DOWNLOAD_SPEED / AVG_UPLOAD_SPEED.
	Hours float64

	// Valid is false when decoding failed (bad type, missing operator,
	// wrong value shape); the evaluator treats an invalid condition as a
	// guaranteed no-match rather than erroring out the whole rule.
	Valid        bool
	InvalidShape string
}

// DecodeCondition validates and decodes a RawCondition into its typed form.
// It never returns an error: a malformed condition decodes to
// Condition{Valid: false}, and InvalidShape names the defect for a
// once-per-shape debug log.
func DecodeCondition(raw RawCondition) Condition {
	ctype := ConditionType(strings.ToUpper(raw.Type))
	kind, known := conditionKinds[ctype]
	if !known {
		return Condition{Type: ctype, Operator: raw.Operator, Valid: false, InvalidShape: "unknown condition type"}
	}

	c := Condition{Type: ctype, Operator: raw.Operator, Kind: kind}

	switch kind {
	case KindNumeric:
		if !numericOperators[raw.Operator] {
			c.InvalidShape = "unsupported numeric operator"
			return c
		}
		v, ok := decodeNumeric(raw.Value)
		if !ok {
			c.InvalidShape = "non-scalar value for numeric condition"
			return c
		}
		c.Numeric = v
		if raw.Hours != nil {
			c.Hours = *raw.Hours
		}
		c.Valid = true

	case KindString:
		if !stringOperators[raw.Operator] {
			c.InvalidShape = "unsupported string operator"
			return c
		}
		s, ok := decodeString(raw.Value)
		if !ok {
			c.InvalidShape = "non-string value for string condition"
			return c
		}
		c.Text = strings.ToLower(s)
		c.Valid = true

	case KindBoolean:
		// Boolean conditions accept is_true/is_false, a direct equality
		// operator, or a numeric comparison against the 0/1 normalized form;
		// the evaluator re-checks the operator shape against the item value.
		b, ok := decodeBoolean(raw.Value)
		if !ok {
			c.InvalidShape = "unrecognized boolean value shape"
			return c
		}
		c.Boolean = b
		if b {
			c.Numeric = 1
		}
		c.Valid = true

	case KindList:
		list, ok := decodeStringList(raw.Value)
		if !ok {
			c.InvalidShape = "non-list value for list condition"
			return c
		}
		for i := range list {
			list[i] = strings.ToLower(list[i])
		}
		c.List = list
		c.Valid = true
	}

	return c
}

func decodeNumeric(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeStringList(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, true
	}
	// TAGS values are tag IDs and may arrive as a JSON number array rather
	// than strings; normalize element-wise instead of failing the decode.
	var mixed []interface{}
	if err := json.Unmarshal(raw, &mixed); err == nil {
		out := make([]string, 0, len(mixed))
		for _, v := range mixed {
			switch vv := v.(type) {
			case string:
				out = append(out, vv)
			case float64:
				out = append(out, strconv.FormatInt(int64(vv), 10))
			default:
				return nil, false
			}
		}
		return out, true
	}
	// Tolerate a single scalar value where a list was expected.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}, true
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return []string{strconv.FormatInt(int64(n), 10)}, true
	}
	return nil, false
}

// decodeBoolean normalizes true | 1 | "true" (and their negations) to a Go
// bool at the ingress, per the truthiness design note, so the evaluator
// never re-parses wire shapes.
func decodeBoolean(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}
