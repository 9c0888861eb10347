// Package store defines the persistence interface for account state.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/papertrade/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when no account exists for the user.
	ErrNotFound = errors.New("store: account not found")

	// ErrAlreadyExists is returned when creating an account for a user who
	// already has one.
	ErrAlreadyExists = errors.New("store: account already exists")

	// ErrVersionConflict is returned by Save when the account was modified
	// since it was loaded. The execution pipeline's per-account lock makes
	// this unreachable in normal operation; it is the backstop that turns a
	// bypassed lock into a retryable conflict instead of a lost update.
	ErrVersionConflict = errors.New("store: account version conflict")
)

// Repository persists accounts. Load hands out an independent copy; Save
// publishes the caller's copy as one atomic write, bumping the version.
// The load/check/mutate/save sequence for one account must run under the
// account's lock.
type Repository interface {
	// Create persists a fresh account seeded with the starting cash.
	Create(ctx context.Context, userID string) (*model.Account, error)

	// Load retrieves the account for a user.
	Load(ctx context.Context, userID string) (*model.Account, error)

	// Save persists the full account state (cash, positions, watchlist,
	// history) atomically, failing with ErrVersionConflict on a stale
	// version.
	Save(ctx context.Context, a *model.Account) error

	// Delete removes the account entirely. Deactivation is a Save with
	// Active=false; Delete exists for administrative cleanup.
	Delete(ctx context.Context, userID string) error
}
