package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"seedwatch/internal/model"
	"seedwatch/internal/repository"
)

// sqlStore is the unexported SQL-backed registry implementation described
// in SPEC_FULL.md §4.11. It is usable standalone (no cache wrapper) for
// local/dev deployments.
type sqlStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if absent) the shared registry database at
// path and applies its schema.
func OpenSQLStore(ctx context.Context, path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply registry schema %s: %w", path, err)
	}
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func scanEntry(row interface {
	Scan(dest ...interface{}) error
}) (model.UserRegistryEntry, error) {
	var e model.UserRegistryEntry
	var status string
	var hasActiveRules int
	var nextPollAt sql.NullString
	var createdAt, updatedAt string
	var encryptedKey sql.NullString

	if err := row.Scan(&e.AuthID, &e.DBPath, &status, &hasActiveRules, &e.NonTerminalItemCount,
		&nextPollAt, &createdAt, &updatedAt, &encryptedKey); err != nil {
		return model.UserRegistryEntry{}, err
	}
	e.Status = model.RegistryStatus(status)
	e.HasActiveRules = hasActiveRules != 0
	if encryptedKey.Valid {
		e.EncryptedAPIKey = encryptedKey.String
	}

	var err error
	if e.NextPollAt, err = decodeTimePtr(nextPollAt); err != nil {
		return model.UserRegistryEntry{}, err
	}
	if e.CreatedAt, err = decodeTime(createdAt); err != nil {
		return model.UserRegistryEntry{}, err
	}
	if e.UpdatedAt, err = decodeTime(updatedAt); err != nil {
		return model.UserRegistryEntry{}, err
	}
	return e, nil
}

const selectEntryColumns = `
	r.auth_id, r.db_path, r.status, r.has_active_rules, r.non_terminal_torrent_count,
	r.next_poll_at, r.created_at, r.updated_at, k.encrypted_key`

func (s *sqlStore) DueUsers(ctx context.Context, now time.Time) ([]model.UserRegistryEntry, error) {
	return repository.Instrument(ctx, "user_registry", "due_users", func() ([]model.UserRegistryEntry, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+selectEntryColumns+`
			FROM user_registry r
			JOIN api_keys k ON k.auth_id = r.auth_id AND k.is_active = 1
			WHERE r.status = 'active' AND r.has_active_rules = 1
			  AND (r.next_poll_at IS NULL OR r.next_poll_at <= ?)
			ORDER BY r.next_poll_at ASC`,
			encodeTime(now))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.UserRegistryEntry
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, rows.Err()
	})
}

func (s *sqlStore) Get(ctx context.Context, authID string) (model.UserRegistryEntry, error) {
	return repository.Instrument(ctx, "user_registry", "get", func() (model.UserRegistryEntry, error) {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+selectEntryColumns+`
			FROM user_registry r
			LEFT JOIN api_keys k ON k.auth_id = r.auth_id
			WHERE r.auth_id = ?`, authID)
		return scanEntry(row)
	})
}

func (s *sqlStore) UpdateNextPoll(ctx context.Context, authID string, nextPollAt *time.Time, nonTerminalCount int) error {
	return repository.InstrumentVoid(ctx, "user_registry", "update_next_poll", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE user_registry SET next_poll_at = ?, non_terminal_torrent_count = ?, updated_at = ?
			WHERE auth_id = ?`,
			encodeTimePtr(nextPollAt), nonTerminalCount, encodeTime(time.Now().UTC()), authID)
		return err
	})
}

func (s *sqlStore) SetStatus(ctx context.Context, authID string, status model.RegistryStatus) error {
	return repository.InstrumentVoid(ctx, "user_registry", "set_status", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE user_registry SET status = ?, updated_at = ? WHERE auth_id = ?`,
			string(status), encodeTime(time.Now().UTC()), authID)
		return err
	})
}

func (s *sqlStore) SetHasActiveRules(ctx context.Context, authID string, has bool) error {
	return repository.InstrumentVoid(ctx, "user_registry", "set_has_active_rules", func() error {
		v := 0
		if has {
			v = 1
		}
		_, err := s.db.ExecContext(ctx, `
			UPDATE user_registry SET has_active_rules = ?, updated_at = ? WHERE auth_id = ?`,
			v, encodeTime(time.Now().UTC()), authID)
		return err
	})
}
