// Package storage implements the per-user SQLite storage handle: one
// physical database file per tenant, holding rules, shadow/telemetry/speed
// rows, tags, and the archive and execution log.
package storage

import (
	"context"
	"time"

	"seedwatch/internal/model"
)

// Handle is the full per-user storage surface the core depends on. It
// satisfies the narrower Store interfaces each domain package declares for
// itself (shadow.Store, telemetry.Store, speed.Store, rules' loaders,
// dispatch's TagStore/ArchiveStore) plus rule CRUD and the execution log.
type Handle interface {
	// Shadow & Diff Engine
	LoadShadow(ctx context.Context) (map[string]model.ShadowRecord, error)
	UpsertShadow(ctx context.Context, row model.ShadowRecord) error
	DeleteShadow(ctx context.Context, itemID string) error

	// Derived-Fields Engine
	LoadTelemetry(ctx context.Context) (map[string]model.TelemetryRecord, error)
	UpsertTelemetry(ctx context.Context, row model.TelemetryRecord) error
	DeleteTelemetry(ctx context.Context, itemID string) error

	// Speed Aggregator
	InsertSpeedSample(ctx context.Context, sample model.SpeedSample) error
	LoadSpeedSamples(ctx context.Context, itemID string, since time.Time) ([]model.SpeedSample, error)
	PruneSpeedSamples(ctx context.Context, olderThan time.Time) error
	BatchLoadSpeedSamples(ctx context.Context, since time.Time) (map[string][]model.SpeedSample, error)

	// Tags, for the Rule Evaluator's TAGS condition and the dispatcher's
	// add_tag/remove_tag action.
	BatchLoadTagsForItems(ctx context.Context, itemIDs []string) (map[string][]int64, error)
	EnsureTag(ctx context.Context, name string) (int64, error)
	AddTag(ctx context.Context, itemID string, tagID int64) error
	RemoveTag(ctx context.Context, itemID string, tagID int64) error
	TagExists(ctx context.Context, tagID int64) (bool, error)

	// Archive action.
	IsArchived(ctx context.Context, itemID string) (bool, error)
	InsertArchivedDownload(ctx context.Context, item model.Item) error

	// Rules.
	LoadRules(ctx context.Context) ([]model.Rule, error)
	SaveRule(ctx context.Context, rule model.Rule) error
	UpdateRuleEvaluation(ctx context.Context, ruleID int64, lastEvaluatedAt time.Time, incrementExecutionCount bool) error
	RecordRuleExecution(ctx context.Context, rec model.RuleExecutionRecord) error
	HasRecentExecution(ctx context.Context, since time.Time) (bool, error)

	Close() error
}
