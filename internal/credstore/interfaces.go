package credstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Load when no credentials are stored.
	ErrNotFound = errors.New("no stored credentials")

	// ErrIncompletePair is returned when only one half of a pair is present.
	ErrIncompletePair = errors.New("incomplete credential pair")
)

// Store reads and writes the credential pair to persistent storage.
//
// Writes are synchronous: a successful Save or Clear is visible to the next Load.
type Store interface {
	// Load returns the stored pair. Returns ErrNotFound if nothing is stored.
	Load(ctx context.Context) (Pair, error)

	// Save persists the pair, overwriting any existing one.
	Save(ctx context.Context, pair Pair) error

	// Clear removes the stored pair. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
