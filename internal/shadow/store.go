// Package shadow implements the shadow-state diff engine: comparing a
// freshly fetched item snapshot against the previously observed per-user
// shadow to produce new/updated/removed/stateTransitions.
package shadow

import (
	"context"

	"seedwatch/internal/model"
)

// Store is the subset of the per-user storage handle the diff engine needs.
// It is satisfied by internal/storage.
type Store interface {
	LoadShadow(ctx context.Context) (map[string]model.ShadowRecord, error)
	UpsertShadow(ctx context.Context, row model.ShadowRecord) error
	DeleteShadow(ctx context.Context, itemID string) error
}
