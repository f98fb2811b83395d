package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"linkblocksbot/internal/domain"
)

// BadgerRepository implements the Repository interface using BadgerDB.
type BadgerRepository struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// NewBadgerRepository creates and initializes a new BadgerDB repository.
// It opens the database at the specified path.
func NewBadgerRepository(dbPath string, logger logrus.FieldLogger) (*BadgerRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = &badgerLogger{logger.WithField("component", "badgerdb")}

	db, err := badger.Open(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to open BadgerDB")
		return nil, fmt.Errorf("failed to open badger db at %s: %w", dbPath, err)
	}
	logger.Info("BadgerDB opened successfully at path: ", dbPath)

	return &BadgerRepository{
		db:  db,
		log: logger.WithField("component", "repository"),
	}, nil
}

// Close closes the BadgerDB database connection.
func (r *BadgerRepository) Close() error {
	r.log.Info("Closing BadgerDB...")
	if err := r.db.Close(); err != nil {
		r.log.WithError(err).Error("Error closing BadgerDB")
		return err
	}
	r.log.Info("BadgerDB closed.")
	return nil
}

// Ping reports whether the database is still open.
func (r *BadgerRepository) Ping(ctx context.Context) error {
	if r.db.IsClosed() {
		return fmt.Errorf("%w: badger db is closed", ErrStoreUnavailable)
	}
	return nil
}

// authKey creates the key for a user's record.
// Format: auth:{discordID}
func authKey(discordID string) []byte {
	return []byte("auth:" + discordID)
}

// Lookup retrieves the record stored for discordID.
func (r *BadgerRepository) Lookup(ctx context.Context, discordID string) (domain.AuthRecord, bool, error) {
	log := r.log.WithField("discord_id", discordID)
	log.Debug("Looking up auth record")

	var (
		rec   domain.AuthRecord
		found bool
	)
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = getRecord(txn, discordID)
		return err
	})
	if err != nil {
		log.WithError(err).Error("Failed to read auth record from BadgerDB")
		return domain.AuthRecord{}, false, fmt.Errorf("%w: lookup %s: %v", ErrStoreUnavailable, discordID, err)
	}

	log.WithField("found", found).Debug("Auth record lookup finished")
	return rec, found, nil
}

// Upsert stores a new record or replaces the API key of the existing one.
// The read and the write share one transaction, so concurrent upserts for the
// same id fail with badger.ErrConflict instead of losing an update.
func (r *BadgerRepository) Upsert(ctx context.Context, discordID, apiKey, userID string) (domain.AuthRecord, error) {
	log := r.log.WithField("discord_id", discordID)
	log.Info("Attempting to upsert auth record")

	var stored domain.AuthRecord
	err := r.db.Update(func(txn *badger.Txn) error {
		existing, found, err := getRecord(txn, discordID)
		if err != nil {
			return err
		}

		if found {
			stored = existing
			stored.APIKey = apiKey
		} else {
			stored = domain.AuthRecord{DiscordID: discordID, APIKey: apiKey, UserID: userID}
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal auth record: %w", err)
		}
		return txn.SetEntry(badger.NewEntry(authKey(discordID), data))
	})
	if err != nil {
		log.WithError(err).Error("Failed to upsert auth record in BadgerDB")
		return domain.AuthRecord{}, fmt.Errorf("%w: upsert %s: %v", ErrStoreUnavailable, discordID, err)
	}

	log.Info("Auth record saved successfully")
	return stored, nil
}

func getRecord(txn *badger.Txn, discordID string) (domain.AuthRecord, bool, error) {
	item, err := txn.Get(authKey(discordID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.AuthRecord{}, false, nil
	}
	if err != nil {
		return domain.AuthRecord{}, false, err
	}

	var rec domain.AuthRecord
	err = item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal auth record for key %s: %w", string(item.Key()), err)
		}
		return nil
	})
	if err != nil {
		return domain.AuthRecord{}, false, err
	}
	return rec, true, nil
}

// --- BadgerDB Internal Logger ---

// badgerLogger adapts logrus.FieldLogger to Badger's logger interface.
type badgerLogger struct {
	logger logrus.FieldLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Errorf(f, v...)
}
func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warningf(f, v...)
}
func (l *badgerLogger) Infof(f string, v ...interface{}) {
	l.logger.Infof(f, v...)
}
func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	l.logger.Debugf(f, v...)
}
