package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"seedwatch/internal/model"
	"seedwatch/internal/repository"
	"seedwatch/internal/rules"
)

// SQLiteHandle is the per-user storage handle backed by a single SQLite
// file. SQLite serializes writers internally; the pool is capped at one
// open connection so database/sql never hands out a second writer that
// would contend on the file lock.
type SQLiteHandle struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*SQLiteHandle, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema %s: %w", path, err)
	}
	return &SQLiteHandle{db: db}, nil
}

func (h *SQLiteHandle) Close() error {
	return h.db.Close()
}

// --- Shadow & Diff Engine -------------------------------------------------

func (h *SQLiteHandle) LoadShadow(ctx context.Context) (map[string]model.ShadowRecord, error) {
	return repository.Instrument(ctx, "torrent_shadow", "load", func() (map[string]model.ShadowRecord, error) {
		rows, err := h.db.QueryContext(ctx, `SELECT torrent_id, last_total_downloaded, last_total_uploaded, last_state, updated_at FROM torrent_shadow`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := make(map[string]model.ShadowRecord)
		for rows.Next() {
			var rec model.ShadowRecord
			var updatedAt string
			if err := rows.Scan(&rec.ItemID, &rec.LastTotalDownloaded, &rec.LastTotalUploaded, &rec.LastState, &updatedAt); err != nil {
				return nil, err
			}
			t, err := decodeTime(updatedAt)
			if err != nil {
				return nil, err
			}
			rec.UpdatedAt = t
			out[rec.ItemID] = rec
		}
		return out, rows.Err()
	})
}

func (h *SQLiteHandle) UpsertShadow(ctx context.Context, row model.ShadowRecord) error {
	return repository.InstrumentVoid(ctx, "torrent_shadow", "upsert", func() error {
		_, err := h.db.ExecContext(ctx, `
			INSERT INTO torrent_shadow (torrent_id, last_total_downloaded, last_total_uploaded, last_state, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(torrent_id) DO UPDATE SET
				last_total_downloaded = excluded.last_total_downloaded,
				last_total_uploaded = excluded.last_total_uploaded,
				last_state = excluded.last_state,
				updated_at = excluded.updated_at`,
			row.ItemID, row.LastTotalDownloaded, row.LastTotalUploaded, row.LastState, encodeTime(row.UpdatedAt))
		return err
	})
}

func (h *SQLiteHandle) DeleteShadow(ctx context.Context, itemID string) error {
	return repository.InstrumentVoid(ctx, "torrent_shadow", "delete", func() error {
		_, err := h.db.ExecContext(ctx, `DELETE FROM torrent_shadow WHERE torrent_id = ?`, itemID)
		return err
	})
}

// --- Derived-Fields Engine -------------------------------------------------

func (h *SQLiteHandle) LoadTelemetry(ctx context.Context) (map[string]model.TelemetryRecord, error) {
	return repository.Instrument(ctx, "torrent_telemetry", "load", func() (map[string]model.TelemetryRecord, error) {
		rows, err := h.db.QueryContext(ctx, `SELECT torrent_id, stalled_since, upload_stalled_since, last_download_activity_at, last_upload_activity_at FROM torrent_telemetry`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := make(map[string]model.TelemetryRecord)
		for rows.Next() {
			var rec model.TelemetryRecord
			var stalledSince, uploadStalledSince, lastDL, lastUL sql.NullString
			if err := rows.Scan(&rec.ItemID, &stalledSince, &uploadStalledSince, &lastDL, &lastUL); err != nil {
				return nil, err
			}
			if rec.StalledSince, err = decodeTimePtr(stalledSince); err != nil {
				return nil, err
			}
			if rec.UploadStalledSince, err = decodeTimePtr(uploadStalledSince); err != nil {
				return nil, err
			}
			if rec.LastDownloadActivityAt, err = decodeTimePtr(lastDL); err != nil {
				return nil, err
			}
			if rec.LastUploadActivityAt, err = decodeTimePtr(lastUL); err != nil {
				return nil, err
			}
			out[rec.ItemID] = rec
		}
		return out, rows.Err()
	})
}

func (h *SQLiteHandle) UpsertTelemetry(ctx context.Context, row model.TelemetryRecord) error {
	return repository.InstrumentVoid(ctx, "torrent_telemetry", "upsert", func() error {
		_, err := h.db.ExecContext(ctx, `
			INSERT INTO torrent_telemetry (torrent_id, stalled_since, upload_stalled_since, last_download_activity_at, last_upload_activity_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(torrent_id) DO UPDATE SET
				stalled_since = excluded.stalled_since,
				upload_stalled_since = excluded.upload_stalled_since,
				last_download_activity_at = excluded.last_download_activity_at,
				last_upload_activity_at = excluded.last_upload_activity_at`,
			row.ItemID, encodeTimePtr(row.StalledSince), encodeTimePtr(row.UploadStalledSince),
			encodeTimePtr(row.LastDownloadActivityAt), encodeTimePtr(row.LastUploadActivityAt))
		return err
	})
}

func (h *SQLiteHandle) DeleteTelemetry(ctx context.Context, itemID string) error {
	return repository.InstrumentVoid(ctx, "torrent_telemetry", "delete", func() error {
		_, err := h.db.ExecContext(ctx, `DELETE FROM torrent_telemetry WHERE torrent_id = ?`, itemID)
		return err
	})
}

// --- Speed Aggregator --------------------------------------------------

func (h *SQLiteHandle) InsertSpeedSample(ctx context.Context, sample model.SpeedSample) error {
	return repository.InstrumentVoid(ctx, "speed_history", "insert", func() error {
		_, err := h.db.ExecContext(ctx,
			`INSERT INTO speed_history (torrent_id, timestamp, total_downloaded, total_uploaded) VALUES (?, ?, ?, ?)`,
			sample.ItemID, encodeTime(sample.Timestamp), sample.TotalDownloaded, sample.TotalUploaded)
		return err
	})
}

func (h *SQLiteHandle) LoadSpeedSamples(ctx context.Context, itemID string, since time.Time) ([]model.SpeedSample, error) {
	return repository.Instrument(ctx, "speed_history", "load", func() ([]model.SpeedSample, error) {
		rows, err := h.db.QueryContext(ctx,
			`SELECT timestamp, total_downloaded, total_uploaded FROM speed_history WHERE torrent_id = ? AND timestamp >= ? ORDER BY timestamp ASC`,
			itemID, encodeTime(since))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.SpeedSample
		for rows.Next() {
			var ts string
			sample := model.SpeedSample{ItemID: itemID}
			if err := rows.Scan(&ts, &sample.TotalDownloaded, &sample.TotalUploaded); err != nil {
				return nil, err
			}
			if sample.Timestamp, err = decodeTime(ts); err != nil {
				return nil, err
			}
			out = append(out, sample)
		}
		return out, rows.Err()
	})
}

func (h *SQLiteHandle) BatchLoadSpeedSamples(ctx context.Context, since time.Time) (map[string][]model.SpeedSample, error) {
	return repository.Instrument(ctx, "speed_history", "batch_load", func() (map[string][]model.SpeedSample, error) {
		rows, err := h.db.QueryContext(ctx,
			`SELECT torrent_id, timestamp, total_downloaded, total_uploaded FROM speed_history WHERE timestamp >= ? ORDER BY torrent_id, timestamp ASC`,
			encodeTime(since))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		out := make(map[string][]model.SpeedSample)
		for rows.Next() {
			var ts string
			var sample model.SpeedSample
			if err := rows.Scan(&sample.ItemID, &ts, &sample.TotalDownloaded, &sample.TotalUploaded); err != nil {
				return nil, err
			}
			if sample.Timestamp, err = decodeTime(ts); err != nil {
				return nil, err
			}
			out[sample.ItemID] = append(out[sample.ItemID], sample)
		}
		return out, rows.Err()
	})
}

func (h *SQLiteHandle) PruneSpeedSamples(ctx context.Context, olderThan time.Time) error {
	return repository.InstrumentVoid(ctx, "speed_history", "prune", func() error {
		_, err := h.db.ExecContext(ctx, `DELETE FROM speed_history WHERE timestamp < ?`, encodeTime(olderThan))
		return err
	})
}

// --- Tags ----------------------------------------------------------------

func (h *SQLiteHandle) BatchLoadTagsForItems(ctx context.Context, itemIDs []string) (map[string][]int64, error) {
	return repository.Instrument(ctx, "download_tags", "batch_load", func() (map[string][]int64, error) {
		out := make(map[string][]int64)
		if len(itemIDs) == 0 {
			return out, nil
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(itemIDs)), ",")
		args := make([]interface{}, len(itemIDs))
		for i, id := range itemIDs {
			args[i] = id
		}

		rows, err := h.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT download_id, tag_id FROM download_tags WHERE download_id IN (%s)`, placeholders), args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		for rows.Next() {
			var downloadID string
			var tagID int64
			if err := rows.Scan(&downloadID, &tagID); err != nil {
				return nil, err
			}
			out[downloadID] = append(out[downloadID], tagID)
		}
		return out, rows.Err()
	})
}

func (h *SQLiteHandle) EnsureTag(ctx context.Context, name string) (int64, error) {
	return repository.Instrument(ctx, "tags", "ensure", func() (int64, error) {
		var id int64
		err := h.db.QueryRowContext(ctx, `SELECT id FROM tags WHERE name = ? COLLATE NOCASE`, name).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return 0, err
		}
		res, err := h.db.ExecContext(ctx, `INSERT INTO tags (name) VALUES (?)`, name)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})
}

func (h *SQLiteHandle) AddTag(ctx context.Context, itemID string, tagID int64) error {
	return repository.InstrumentVoid(ctx, "download_tags", "add", func() error {
		_, err := h.db.ExecContext(ctx, `INSERT OR IGNORE INTO download_tags (tag_id, download_id) VALUES (?, ?)`, tagID, itemID)
		return err
	})
}

func (h *SQLiteHandle) RemoveTag(ctx context.Context, itemID string, tagID int64) error {
	return repository.InstrumentVoid(ctx, "download_tags", "remove", func() error {
		_, err := h.db.ExecContext(ctx, `DELETE FROM download_tags WHERE tag_id = ? AND download_id = ?`, tagID, itemID)
		return err
	})
}

func (h *SQLiteHandle) TagExists(ctx context.Context, tagID int64) (bool, error) {
	return repository.Instrument(ctx, "tags", "exists", func() (bool, error) {
		var dummy int
		err := h.db.QueryRowContext(ctx, `SELECT 1 FROM tags WHERE id = ?`, tagID).Scan(&dummy)
		if err == sql.ErrNoRows {
			return false, nil
		}
		return err == nil, err
	})
}

// --- Archive ---------------------------------------------------------------

func (h *SQLiteHandle) IsArchived(ctx context.Context, itemID string) (bool, error) {
	return repository.Instrument(ctx, "archived_downloads", "exists", func() (bool, error) {
		var dummy int
		err := h.db.QueryRowContext(ctx, `SELECT 1 FROM archived_downloads WHERE torrent_id = ?`, itemID).Scan(&dummy)
		if err == sql.ErrNoRows {
			return false, nil
		}
		return err == nil, err
	})
}

func (h *SQLiteHandle) InsertArchivedDownload(ctx context.Context, item model.Item) error {
	return repository.InstrumentVoid(ctx, "archived_downloads", "insert", func() error {
		_, err := h.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO archived_downloads (torrent_id, hash, tracker, name, archived_at) VALUES (?, ?, ?, ?, ?)`,
			item.ID, "", item.Tracker, item.Name, encodeTime(time.Now().UTC()))
		return err
	})
}

// --- Rules -----------------------------------------------------------------

type rawTriggerConfig struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type rawActionConfig struct {
	Type   string  `json:"type"`
	TagIDs []int64 `json:"tag_ids,omitempty"`
}

func (h *SQLiteHandle) LoadRules(ctx context.Context) ([]model.Rule, error) {
	return repository.Instrument(ctx, "automation_rules", "load", func() ([]model.Rule, error) {
		rows, err := h.db.QueryContext(ctx, `
			SELECT id, name, enabled, trigger_config, conditions, legacy_conditions, action_config, metadata,
			       last_executed_at, last_evaluated_at, execution_count, created_at, updated_at
			FROM automation_rules`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.Rule
		for rows.Next() {
			var r model.Rule
			var enabled int
			var triggerRaw, conditionsRaw, actionRaw, metadataRaw string
			var legacyConditionsRaw sql.NullString
			var lastExecuted, lastEvaluated sql.NullString
			var createdAt, updatedAt string

			if err := rows.Scan(&r.ID, &r.Name, &enabled, &triggerRaw, &conditionsRaw, &legacyConditionsRaw, &actionRaw, &metadataRaw,
				&lastExecuted, &lastEvaluated, &r.ExecutionCount, &createdAt, &updatedAt); err != nil {
				return nil, err
			}
			r.Enabled = enabled != 0
			r.RawTriggerJSON = json.RawMessage(triggerRaw)
			r.RawConditionsJSON = json.RawMessage(conditionsRaw)
			r.RawActionJSON = json.RawMessage(actionRaw)
			r.RawMetadataJSON = json.RawMessage(metadataRaw)
			if legacyConditionsRaw.Valid {
				r.LegacyConditionsJSON = json.RawMessage(legacyConditionsRaw.String)
			}

			var trig rawTriggerConfig
			if err := json.Unmarshal([]byte(triggerRaw), &trig); err == nil && trig.Type == string(model.TriggerInterval) {
				r.Trigger = model.Trigger{Type: model.TriggerInterval, Value: trig.Value}
			}

			var act rawActionConfig
			if err := json.Unmarshal([]byte(actionRaw), &act); err == nil {
				r.Action = model.Action{Type: model.ActionType(act.Type), TagIDs: act.TagIDs}
			}

			groups, topLogic, migrated, matchAll, err := rules.LoadConditions(r.RawConditionsJSON)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", r.ID, err)
			}
			r.Groups = groups
			r.LogicOperator = topLogic
			r.MigratedFromLegacy = migrated
			r.MatchAllLegacyEmpty = matchAll

			if r.LastExecutedAt, err = decodeTimePtr(lastExecuted); err != nil {
				return nil, err
			}
			if r.LastEvaluatedAt, err = decodeTimePtr(lastEvaluated); err != nil {
				return nil, err
			}
			if r.CreatedAt, err = decodeTime(createdAt); err != nil {
				return nil, err
			}
			if r.UpdatedAt, err = decodeTime(updatedAt); err != nil {
				return nil, err
			}

			// Legacy flat rules with actual conditions migrate to the
			// grouped shape on first load; a match-all-legacy-empty rule
			// keeps its original flat JSON since a zero-group rewrite
			// would flip its match semantics. The original flat JSON is
			// preserved in legacy_conditions rather than overwritten.
			if migrated && !matchAll {
				if encoded, err := rules.EncodeGroups(r.Groups, r.LogicOperator); err == nil {
					legacyRaw := r.RawConditionsJSON
					r.RawConditionsJSON = encoded
					r.LegacyConditionsJSON = legacyRaw
					if err := h.saveRuleConditions(ctx, r.ID, encoded, legacyRaw); err != nil {
						return nil, fmt.Errorf("migrate rule %d conditions: %w", r.ID, err)
					}
				}
			}

			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// saveRuleConditions writes the migrated grouped conditions back to the
// conditions column while preserving the pre-migration flat JSON verbatim
// in legacy_conditions, so the original shape survives for round-tripping.
func (h *SQLiteHandle) saveRuleConditions(ctx context.Context, ruleID int64, conditions, legacyConditions json.RawMessage) error {
	_, err := h.db.ExecContext(ctx,
		`UPDATE automation_rules SET conditions = ?, legacy_conditions = ? WHERE id = ?`,
		string(conditions), string(legacyConditions), ruleID)
	return err
}

func (h *SQLiteHandle) SaveRule(ctx context.Context, rule model.Rule) error {
	return repository.InstrumentVoid(ctx, "automation_rules", "save", func() error {
		enabled := 0
		if rule.Enabled {
			enabled = 1
		}
		_, err := h.db.ExecContext(ctx, `
			UPDATE automation_rules SET
				name = ?, enabled = ?, trigger_config = ?, conditions = ?, action_config = ?, metadata = ?,
				last_executed_at = ?, last_evaluated_at = ?, execution_count = ?, updated_at = ?
			WHERE id = ?`,
			rule.Name, enabled, string(rule.RawTriggerJSON), string(rule.RawConditionsJSON), string(rule.RawActionJSON), string(rule.RawMetadataJSON),
			encodeTimePtr(rule.LastExecutedAt), encodeTimePtr(rule.LastEvaluatedAt), rule.ExecutionCount, encodeTime(time.Now().UTC()),
			rule.ID)
		return err
	})
}

func (h *SQLiteHandle) UpdateRuleEvaluation(ctx context.Context, ruleID int64, lastEvaluatedAt time.Time, incrementExecutionCount bool) error {
	return repository.InstrumentVoid(ctx, "automation_rules", "update_evaluation", func() error {
		inc := 0
		if incrementExecutionCount {
			inc = 1
		}
		_, err := h.db.ExecContext(ctx, `
			UPDATE automation_rules SET
				last_evaluated_at = ?,
				execution_count = execution_count + ?,
				last_executed_at = CASE WHEN ? THEN ? ELSE last_executed_at END
			WHERE id = ?`,
			encodeTime(lastEvaluatedAt), inc, inc, encodeTime(lastEvaluatedAt), ruleID)
		return err
	})
}

func (h *SQLiteHandle) RecordRuleExecution(ctx context.Context, rec model.RuleExecutionRecord) error {
	return repository.InstrumentVoid(ctx, "rule_execution_log", "insert", func() error {
		success := 0
		if rec.Success {
			success = 1
		}
		_, err := h.db.ExecContext(ctx, `
			INSERT INTO rule_execution_log (rule_id, rule_name, execution_type, items_processed, success, error_message, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.RuleID, rec.RuleName, rec.ExecutionType, rec.ItemsProcessed, success, rec.ErrorMessage, encodeTime(rec.ExecutedAt))
		return err
	})
}

func (h *SQLiteHandle) HasRecentExecution(ctx context.Context, since time.Time) (bool, error) {
	return repository.Instrument(ctx, "rule_execution_log", "has_recent", func() (bool, error) {
		var dummy int
		err := h.db.QueryRowContext(ctx, `SELECT 1 FROM rule_execution_log WHERE executed_at >= ? LIMIT 1`, encodeTime(since)).Scan(&dummy)
		if err == sql.ErrNoRows {
			return false, nil
		}
		return err == nil, err
	})
}
