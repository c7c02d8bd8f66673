// Package rules implements the rule evaluator: gating a rule's trigger
// interval, preloading the side tables a condition set needs, and matching
// items against the rule's group/condition tree.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"seedwatch/internal/model"
)

// mbBytes is the decimal megabyte used throughout the condition table for
// speed and size fields (DOWNLOAD_SPEED, TOTAL_UPLOADED, FILE_SIZE, ...).
const mbBytes = 1_000_000.0

// speedSafetyFactor widens the bulk speed-sample preload window beyond the
// largest requested AVG_*_SPEED hours, so a slightly late poll cycle doesn't
// starve the window of its earliest sample.
const speedSafetyFactor = 1.5

// TagLoader batch-loads the tag ids attached to a set of items. Only called
// when a rule actually has a TAGS condition.
type TagLoader interface {
	BatchLoadTagsForItems(ctx context.Context, itemIDs []string) (map[string][]int64, error)
}

// TelemetryLoader batch-loads derived telemetry for every tracked item.
// Always called: most condition types that touch telemetry (stalled time,
// last-activity) need it, and the cost of loading the whole per-user table
// is small.
type TelemetryLoader interface {
	LoadTelemetry(ctx context.Context) (map[string]model.TelemetryRecord, error)
}

// SpeedLoader batch-loads speed samples recorded since a cutoff, across all
// items. Only called when a rule has an AVG_DOWNLOAD_SPEED or
// AVG_UPLOAD_SPEED condition.
type SpeedLoader interface {
	BatchLoadSpeedSamples(ctx context.Context, since time.Time) (map[string][]model.SpeedSample, error)
}

// InvalidLogger receives a once-per-unique-shape notice about a malformed
// condition or an unrecognized operator encountered at evaluation time.
type InvalidLogger interface {
	LogInvalidCondition(ruleID int64, ruleName string, condType model.ConditionType, reason string)
}

// Evaluator matches a rule's condition tree against a snapshot of items.
type Evaluator struct {
	Tags       TagLoader
	Telemetry  TelemetryLoader
	Speed      SpeedLoader
	Logger     InvalidLogger
	Multiplier float64 // trigger-interval scale factor; 1.0 in production

	loggedOnce sync.Map // dedup key -> struct{}
}

// New returns an Evaluator with Multiplier defaulted to 1.0.
func New(tags TagLoader, telemetry TelemetryLoader, speedLoader SpeedLoader, logger InvalidLogger) *Evaluator {
	return &Evaluator{Tags: tags, Telemetry: telemetry, Speed: speedLoader, Logger: logger, Multiplier: 1.0}
}

// Evaluate returns the subset of items that match rule, or nil if the rule's
// trigger interval gate is not yet due. The returned slice holds copies of
// the matching Item values; it is the caller's to pass on to the
// dispatcher's pre-filter.
func (e *Evaluator) Evaluate(ctx context.Context, rule model.Rule, items []model.Item, now time.Time) ([]model.Item, error) {
	if !e.triggerDue(rule, now) {
		return nil, nil
	}

	if rule.MatchAllLegacyEmpty {
		out := make([]model.Item, len(items))
		copy(out, items)
		return out, nil
	}
	if len(rule.Groups) == 0 {
		return nil, nil
	}

	itemIDs := make([]string, len(items))
	for i, it := range items {
		itemIDs[i] = it.ID
	}

	needsTags, needsSpeed, maxHours := scanConditions(rule.Groups)

	telemetry, err := e.Telemetry.LoadTelemetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("load telemetry: %w", err)
	}

	var tags map[string][]int64
	if needsTags {
		tags, err = e.Tags.BatchLoadTagsForItems(ctx, itemIDs)
		if err != nil {
			return nil, fmt.Errorf("load tags: %w", err)
		}
	}

	var speedSamples map[string][]model.SpeedSample
	if needsSpeed {
		since := now.Add(-time.Duration(maxHours * speedSafetyFactor * float64(time.Hour)))
		speedSamples, err = e.Speed.BatchLoadSpeedSamples(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("load speed samples: %w", err)
		}
	}

	var matched []model.Item
	for _, item := range items {
		ec := evalContext{
			item:      item,
			telemetry: telemetry[item.ID],
			tags:      tags[item.ID],
			samples:   speedSamples[item.ID],
			now:       now,
		}
		if e.evaluateGroups(rule, ec) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// triggerDue reports whether rule's interval trigger allows evaluation now.
func (e *Evaluator) triggerDue(rule model.Rule, now time.Time) bool {
	return TriggerDue(rule, now, e.Multiplier)
}

// TriggerDue reports whether rule's interval trigger allows evaluation at
// now, given the same multiplier the Evaluator would use. A rule with no
// trigger (TriggerNone) is always due. Exported so callers outside this
// package (the poller, deciding whether a rule counts as "executed this
// cycle" for next-poll mode selection) can ask the same question Evaluate
// answers internally, without re-running the gate twice on Evaluate's
// return value alone.
func TriggerDue(rule model.Rule, now time.Time, multiplier float64) bool {
	if rule.Trigger.Type != model.TriggerInterval || rule.LastEvaluatedAt == nil {
		return true
	}
	minutes := rule.Trigger.Value
	if minutes < 1 {
		minutes = 1
	}
	mult := multiplier
	if mult <= 0 {
		mult = 1.0
	}
	gate := time.Duration(float64(minutes)*mult) * time.Minute
	return now.Sub(*rule.LastEvaluatedAt) >= gate
}

// evalContext bundles the per-item side data a condition needs.
type evalContext struct {
	item      model.Item
	telemetry model.TelemetryRecord
	tags      []int64
	samples   []model.SpeedSample
	now       time.Time
}

// evaluateGroups combines every group's result with rule.LogicOperator. An
// empty Conditions slice in a group is a guaranteed false for that group,
// per the "empty group matches no item" rule.
func (e *Evaluator) evaluateGroups(rule model.Rule, ec evalContext) bool {
	results := make([]bool, len(rule.Groups))
	for i, g := range rule.Groups {
		results[i] = e.evaluateGroup(rule, g, ec)
	}
	return combine(results, rule.LogicOperator)
}

func (e *Evaluator) evaluateGroup(rule model.Rule, g model.Group, ec evalContext) bool {
	if len(g.Conditions) == 0 {
		return false
	}
	results := make([]bool, len(g.Conditions))
	for i, c := range g.Conditions {
		results[i] = e.evaluateCondition(rule, c, ec)
	}
	return combine(results, g.LogicOperator)
}

func combine(results []bool, op model.LogicOperator) bool {
	if len(results) == 0 {
		return false
	}
	if op == model.LogicOr {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func (e *Evaluator) evaluateCondition(rule model.Rule, c model.Condition, ec evalContext) bool {
	if !c.Valid {
		e.logOnce(rule, c.Type, c.InvalidShape)
		return false
	}
	match, reason := evaluate(c, ec)
	if reason != "" {
		e.logOnce(rule, c.Type, reason)
	}
	return match
}

func (e *Evaluator) logOnce(rule model.Rule, condType model.ConditionType, reason string) {
	if e.Logger == nil || reason == "" {
		return
	}
	key := fmt.Sprintf("%d|%s|%s", rule.ID, condType, reason)
	if _, loaded := e.loggedOnce.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	e.Logger.LogInvalidCondition(rule.ID, rule.Name, condType, reason)
}

// scanConditions walks every group's conditions once to decide which
// optional preloads the evaluation pass needs and the widest AVG_*_SPEED
// lookback requested.
func scanConditions(groups []model.Group) (needsTags, needsSpeed bool, maxHours float64) {
	for _, g := range groups {
		for _, c := range g.Conditions {
			switch c.Type {
			case model.ConditionTags:
				needsTags = true
			case model.ConditionAvgDownloadSpeed, model.ConditionAvgUploadSpeed:
				needsSpeed = true
				if c.Hours > maxHours {
					maxHours = c.Hours
				}
			}
		}
	}
	return needsTags, needsSpeed, maxHours
}
