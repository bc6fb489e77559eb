package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "modernc.org/sqlite" // The pure Go SQLite driver
)

// Service is the central struct for managing all database interactions.
// It holds the connection to the application database and serializes write
// transactions behind a mutex, since SQLite allows only one writer at a time.
type Service struct {
	dbPath  string
	db      *sql.DB
	writeMu sync.Mutex
}

// NewService creates and initializes a new database service.
// It opens the database connection and prepares the service for use.
func NewService(dbPath string) (*Service, error) {
	// `?_foreign_keys=on` is crucial for data integrity.
	db, err := sql.Open("sqlite", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", dbPath, err)
	}

	// Ping the database to ensure the connection is alive.
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", dbPath, err)
	}

	return &Service{
		dbPath: dbPath,
		db:     db,
	}, nil
}

// WriteTx executes a write operation (INSERT, UPDATE, DELETE) within a
// transaction, protected by a mutex to ensure serial access.
func (s *Service) WriteTx(writeFunc func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Execute the provided function. If it returns an error, rollback the transaction.
	if err := writeFunc(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// DB provides a direct connection for read queries.
func (s *Service) DB() *sql.DB {
	return s.db
}

// Close safely closes the database connection when the application shuts down.
func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		log.Printf("WARN: error closing database: %v", err)
		return
	}
	log.Println("Database connection closed.")
}

// Init sets up the schema if the tables don't exist.
// This is idempotent and safe to run on every application start.
func (s *Service) Init() error {
	// Use the write helper to ensure this is serialized on first run.
	return s.WriteTx(func(tx *sql.Tx) error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY,
				email TEXT UNIQUE NOT NULL,
				username TEXT,
				password_hash TEXT,
				is_admin INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);`,

			`CREATE TABLE IF NOT EXISTS teams (
				id INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				join_code TEXT UNIQUE NOT NULL,
				creator_user_id INTEGER NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (creator_user_id) REFERENCES users (id) ON DELETE CASCADE
			);`,

			`CREATE TABLE IF NOT EXISTS team_members (
				team_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (team_id, user_id),
				FOREIGN KEY (team_id) REFERENCES teams (id) ON DELETE CASCADE,
				FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
			);`,

			// Challenge definitions. Distance targets are stored in meters
			// regardless of the unit an administrator entered. Date bounds are
			// stored as the strings the administrator supplied: either full
			// RFC3339 timestamps or date-only values ("2026-01-07"), which are
			// treated as inclusive of the whole day.
			`CREATE TABLE IF NOT EXISTS challenges (
				id INTEGER PRIMARY KEY,
				week INTEGER NOT NULL,
				title TEXT NOT NULL,
				description TEXT,
				start_date TEXT,
				end_date TEXT,
				points INTEGER NOT NULL DEFAULT 0,
				team_ids TEXT,
				hidden INTEGER NOT NULL DEFAULT 0,
				metric_type TEXT,
				target_value REAL,
				target_unit TEXT,
				activity_types TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);`,

			// One Strava credential per user.
			`CREATE TABLE IF NOT EXISTS strava_connections (
				id INTEGER PRIMARY KEY,
				user_id INTEGER UNIQUE NOT NULL,
				athlete_id INTEGER NOT NULL DEFAULT 0,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL,
				token_expires_at TEXT,
				last_synced_at TEXT,
				last_error TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
			);`,

			// Dedup ledger: one row per (user, external activity), written once
			// and never updated. Existence of a row means the activity has been
			// evaluated and must never be evaluated again.
			`CREATE TABLE IF NOT EXISTS ingested_activities (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL,
				activity_id INTEGER NOT NULL,
				raw_payload TEXT,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (user_id, activity_id),
				FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
			);`,

			// One row per contributing activity per (user, challenge). The sum
			// of values for a pair is the authoritative accumulated progress.
			`CREATE TABLE IF NOT EXISTS progress_entries (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL,
				challenge_id INTEGER NOT NULL,
				activity_id INTEGER NOT NULL,
				value REAL NOT NULL,
				target_value REAL NOT NULL,
				completed INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (user_id, challenge_id, activity_id),
				FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
				FOREIGN KEY (challenge_id) REFERENCES challenges (id) ON DELETE CASCADE
			);`,

			// The authoritative per (user, challenge) completion record.
			`CREATE TABLE IF NOT EXISTS submissions (
				id INTEGER PRIMARY KEY,
				user_id INTEGER NOT NULL,
				challenge_id INTEGER NOT NULL,
				completed INTEGER NOT NULL DEFAULT 0,
				completed_at TEXT,
				source TEXT NOT NULL DEFAULT 'sync',
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (user_id, challenge_id),
				FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE,
				FOREIGN KEY (challenge_id) REFERENCES challenges (id) ON DELETE CASCADE
			);`,
		}

		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	})
}
