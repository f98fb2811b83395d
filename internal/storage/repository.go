package storage

import (
	"context"
	"errors"

	"linkblocksbot/internal/domain"
)

// ErrStoreUnavailable wraps every failure to reach or query the backing store.
// A missing record is not an error.
var ErrStoreUnavailable = errors.New("credential store unavailable")

// Repository defines the credential store operations.
// This allows us to swap storage implementations (BadgerDB, PostgreSQL)
// without changing the bot or the callback endpoint.
type Repository interface {
	// Lookup returns the record for discordID. found is false, with a nil
	// error, when the user never authenticated.
	Lookup(ctx context.Context, discordID string) (rec domain.AuthRecord, found bool, err error)

	// Upsert creates the record for discordID, or replaces only its API key
	// when one already exists. It returns the stored record.
	Upsert(ctx context.Context, discordID, apiKey, userID string) (domain.AuthRecord, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close gracefully shuts down the repository connection.
	Close() error
}
