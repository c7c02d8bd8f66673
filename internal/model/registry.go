package model

import "time"

// RegistryStatus is the lifecycle status of a registered user, owned by the
// registry and read by the scheduler to select due users.
type RegistryStatus string

const (
	RegistryStatusActive   RegistryStatus = "active"
	RegistryStatusInactive RegistryStatus = "inactive"
)

// UserRegistryEntry is the shared registry row for one user. The registry
// owns its lifetime; the scheduler only reads it; the poller writes back
// only NextPollAt and NonTerminalItemCount (and, on an auth failure, Status).
type UserRegistryEntry struct {
	AuthID                string
	EncryptedAPIKey       string
	DBPath                string
	Status                RegistryStatus
	HasActiveRules        bool
	NonTerminalItemCount  int
	NextPollAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsActive reports whether the scheduler may select this entry at all.
func (e UserRegistryEntry) IsActive() bool {
	return e.Status == RegistryStatusActive
}

// Due reports whether the entry is eligible for polling at instant now:
// active, has active rules, and NextPollAt is null or in the past.
func (e UserRegistryEntry) Due(now time.Time) bool {
	if !e.IsActive() || !e.HasActiveRules {
		return false
	}
	return e.NextPollAt == nil || !e.NextPollAt.After(now)
}
