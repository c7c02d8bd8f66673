package rules

import (
	"log/slog"

	"seedwatch/internal/model"
)

// SlogInvalidLogger is the production InvalidLogger: one slog.Warn per
// unique (ruleID, conditionType, reason) shape, deduplicated by the
// Evaluator itself before this is ever called.
type SlogInvalidLogger struct{}

func (SlogInvalidLogger) LogInvalidCondition(ruleID int64, ruleName string, condType model.ConditionType, reason string) {
	slog.Warn("invalid rule condition",
		"rule_id", ruleID,
		"rule_name", ruleName,
		"condition_type", condType,
		"reason", reason)
}
