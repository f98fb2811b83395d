package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"linkblocksbot/internal/domain"
)

const (
	createAuthTableQuery = `CREATE TABLE IF NOT EXISTS auth (
	discord_id TEXT PRIMARY KEY,
	api_key    TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT ''
)`

	// Tables created by earlier deployments may lack the primary key; the
	// upsert's ON CONFLICT clause needs this index either way.
	createAuthIndexQuery = `CREATE UNIQUE INDEX IF NOT EXISTS auth_discord_id_key ON auth (discord_id)`

	// Older rows may hold NULLs for parameters the callback never received.
	lookupQuery = `SELECT discord_id, COALESCE(api_key, ''), COALESCE(user_id, '') FROM auth WHERE discord_id = $1`

	// The unique index on discord_id makes this a single atomic write: the
	// first call inserts, later calls only replace api_key.
	upsertQuery = `INSERT INTO auth (discord_id, api_key, user_id) VALUES ($1, $2, $3)
ON CONFLICT (discord_id) DO UPDATE SET api_key = EXCLUDED.api_key
RETURNING discord_id, COALESCE(api_key, ''), COALESCE(user_id, '')`

	pgUniqueViolation = "23505"
)

// ErrDuplicateCredentials means the auth table holds more than one row for
// some discord_id, so the unique index cannot be built. The duplicates have
// to be removed by hand before the bot can store credentials.
var ErrDuplicateCredentials = errors.New("auth table has duplicate discord_id rows")

// PostgresRepository implements the Repository interface on the hosted
// Postgres database behind Supabase.
type PostgresRepository struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// OpenPostgres opens a pgx-backed connection pool for dsn. A non-empty
// password replaces the one embedded in dsn.
func OpenPostgres(ctx context.Context, dsn, password string, logger logrus.FieldLogger) (*PostgresRepository, error) {
	dsn, err := withPassword(dsn, password)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	repo := NewPostgresRepository(db, logger)
	if err := repo.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Connected to postgres credential store")
	return repo, nil
}

// NewPostgresRepository wraps an already opened database handle.
func NewPostgresRepository(db *sql.DB, logger logrus.FieldLogger) *PostgresRepository {
	return &PostgresRepository{
		db:  db,
		log: logger.WithField("component", "repository"),
	}
}

// EnsureSchema creates the auth table and its unique discord_id index when
// they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAuthTableQuery); err != nil {
		r.log.WithError(err).Error("Failed to create auth table")
		return fmt.Errorf("%w: create auth table: %v", ErrStoreUnavailable, err)
	}

	if _, err := r.db.ExecContext(ctx, createAuthIndexQuery); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			r.log.WithError(err).Error("Auth table contains duplicate discord_id rows")
			return fmt.Errorf("%w: %s", ErrDuplicateCredentials, pgErr.Detail)
		}
		r.log.WithError(err).Error("Failed to create auth index")
		return fmt.Errorf("%w: create auth index: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.log.Info("Closing postgres connection pool...")
	return r.db.Close()
}

// Lookup retrieves the record stored for discordID.
func (r *PostgresRepository) Lookup(ctx context.Context, discordID string) (domain.AuthRecord, bool, error) {
	log := r.log.WithField("discord_id", discordID)
	log.Debug("Looking up auth record")

	var rec domain.AuthRecord
	err := r.db.QueryRowContext(ctx, lookupQuery, discordID).Scan(&rec.DiscordID, &rec.APIKey, &rec.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug("No auth record found")
		return domain.AuthRecord{}, false, nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to read auth record from postgres")
		return domain.AuthRecord{}, false, fmt.Errorf("%w: lookup %s: %v", ErrStoreUnavailable, discordID, err)
	}
	return rec, true, nil
}

// Upsert stores a new record or replaces the API key of the existing one.
func (r *PostgresRepository) Upsert(ctx context.Context, discordID, apiKey, userID string) (domain.AuthRecord, error) {
	log := r.log.WithField("discord_id", discordID)
	log.Info("Attempting to upsert auth record")

	var rec domain.AuthRecord
	err := r.db.QueryRowContext(ctx, upsertQuery, discordID, apiKey, userID).Scan(&rec.DiscordID, &rec.APIKey, &rec.UserID)
	if err != nil {
		log.WithError(err).Error("Failed to upsert auth record in postgres")
		return domain.AuthRecord{}, fmt.Errorf("%w: upsert %s: %v", ErrStoreUnavailable, discordID, err)
	}

	log.Info("Auth record saved successfully")
	return rec, nil
}

// withPassword injects password into a URL-style DSN.
func withPassword(dsn, password string) (string, error) {
	if password == "" {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "", errors.New("DATABASE_KEY requires a URL-style DATABASE_URL (postgres://user@host/db)")
	}
	username := "postgres"
	if u.User != nil && u.User.Username() != "" {
		username = u.User.Username()
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}
