// Package registry implements the shared user registry: the row that tells
// the scheduler which users are due for polling and the poller which
// database file and (opaque, already-encrypted) API key to use. A SQL-backed
// store is wrapped by a process-wide cache so a 30s scheduler tick does not
// repeatedly hit the registry database for the same due-user list.
package registry

import (
	"context"
	"time"

	"seedwatch/internal/model"
)

// Registry is the interface the scheduler and poller depend on.
type Registry interface {
	// DueUsers returns the active, key-active, has_active_rules=1 entries
	// whose NextPollAt is null or not after now, ordered by NextPollAt ASC.
	DueUsers(ctx context.Context, now time.Time) ([]model.UserRegistryEntry, error)

	// Get returns the current row for one user.
	Get(ctx context.Context, authID string) (model.UserRegistryEntry, error)

	// UpdateNextPoll is the poller's end-of-cycle write: next_poll_at and
	// non_terminal_torrent_count, keyed by auth_id.
	UpdateNextPoll(ctx context.Context, authID string, nextPollAt *time.Time, nonTerminalCount int) error

	// SetStatus is the auth-failure recovery path: mark a user inactive (or,
	// for an operator re-activation, active again).
	SetStatus(ctx context.Context, authID string, status model.RegistryStatus) error

	// SetHasActiveRules flips the flag the scheduler's due-user query and
	// the poller's step 2 check both read.
	SetHasActiveRules(ctx context.Context, authID string, has bool) error
}

// Store is the unadorned SQL-backed registry, with no caching. It is usable
// standalone for local/dev deployments where a cache backend is not worth
// standing up.
type Store interface {
	Registry
	Close() error
}
