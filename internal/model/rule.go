package model

import (
	"encoding/json"
	"time"
)

// ActionType is the fixed vocabulary of dispatcher-executable actions.
type ActionType string

const (
	ActionStopSeeding ActionType = "stop_seeding"
	ActionDelete      ActionType = "delete"
	ActionArchive     ActionType = "archive"
	ActionForceStart  ActionType = "force_start"
	ActionAddTag      ActionType = "add_tag"
	ActionRemoveTag   ActionType = "remove_tag"
)

// LogicOperator combines condition or group results.
type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
)

// TriggerType gates how often a rule is re-evaluated.
type TriggerType string

const (
	TriggerNone     TriggerType = ""
	TriggerInterval TriggerType = "interval"
)

// Trigger restricts evaluation frequency. A zero-value Trigger (Type ==
// TriggerNone) means "evaluate every cycle".
type Trigger struct {
	Type  TriggerType
	Value int // minutes, floored at 1 when Type == TriggerInterval
}

// Group is one AND/OR-combined set of conditions within a rule.
type Group struct {
	Conditions    []Condition
	LogicOperator LogicOperator
}

// Action is the decoded action_config payload: a type plus whatever
// parameters that type needs (tag ids for add_tag/remove_tag).
type Action struct {
	Type   ActionType
	TagIDs []int64
}

// Rule is the decoded, evaluation-ready form of one automation_rules row.
// Groups always holds the post-migration grouped representation; the
// RawConditionsJSON field preserves whatever was actually stored (legacy
// flat or already-grouped) so a migrated rule round-trips back to storage
// without losing its original shape history.
type Rule struct {
	ID      int64
	Name    string
	Enabled bool

	Trigger       Trigger
	Groups        []Group
	LogicOperator LogicOperator
	Action        Action

	LastEvaluatedAt *time.Time
	LastExecutedAt  *time.Time
	ExecutionCount  int64

	CreatedAt time.Time
	UpdatedAt time.Time

	RawConditionsJSON json.RawMessage
	RawTriggerJSON    json.RawMessage
	RawActionJSON     json.RawMessage
	RawMetadataJSON   json.RawMessage

	// LegacyConditionsJSON holds the original pre-migration flat conditions
	// JSON verbatim, set only when MigratedFromLegacy is true. RawConditionsJSON
	// reflects whatever is currently stored in the conditions column (the
	// migrated grouped form once migration has run).
	LegacyConditionsJSON json.RawMessage

	// MigratedFromLegacy is true when this Rule's Groups were synthesized
	// from a legacy flat conditions array during this load.
	MigratedFromLegacy bool

	// MatchAllLegacyEmpty is true when this Rule's original storage shape
	// was a legacy flat rule with zero conditions, which matches every item
	// rather than the zero-groups "matches nothing" default.
	MatchAllLegacyEmpty bool
}

// RuleExecutionRecord is one row appended to rule_execution_log per rule
// evaluation that actually ran (i.e. was not gated by its interval trigger).
type RuleExecutionRecord struct {
	ID             int64
	RuleID         int64
	RuleName       string
	ExecutionType  string
	ItemsProcessed int
	Success        bool
	ErrorMessage   string
	ExecutedAt     time.Time
}
