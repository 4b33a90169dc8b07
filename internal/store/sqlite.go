package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore persists the mapping in an embedded SQLite database. It
// implements the same Store contract as the file store, so either backend
// can sit behind the provisioner unchanged.
type SQLiteStore struct {
	conn   *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed mapping store
func NewSQLiteStore(databasePath string, logger *logrus.Logger) (*SQLiteStore, error) {
	if databasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	// Ensure database directory exists
	if err := os.MkdirAll(filepath.Dir(databasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open SQLite connection with WAL mode
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on", databasePath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		conn:   conn,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the mapping table if it does not exist
func (s *SQLiteStore) migrate() error {
	query := `
		CREATE TABLE IF NOT EXISTS device_mapping (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL UNIQUE,
			access_token TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := s.conn.Exec(query)
	return err
}

// Load reads the full mapping in insertion order. Query failures are logged
// and yield an empty mapping, matching the file store's degraded behavior.
func (s *SQLiteStore) Load() *Mapping {
	mapping := NewMapping()

	rows, err := s.conn.Query("SELECT project_id, access_token FROM device_mapping ORDER BY position")
	if err != nil {
		s.logger.WithError(err).Error("Failed to read device mapping")
		return NewMapping()
	}
	defer rows.Close()

	for rows.Next() {
		var projectID, credential string
		if err := rows.Scan(&projectID, &credential); err != nil {
			s.logger.WithError(err).Error("Failed to scan device mapping row")
			return NewMapping()
		}
		mapping.Put(projectID, credential)
	}

	if err := rows.Err(); err != nil {
		s.logger.WithError(err).Error("Failed to iterate device mapping rows")
		return NewMapping()
	}

	return mapping
}

// Save writes the full mapping in one transaction. Existing rows are kept
// as-is: credentials are immutable once written.
func (s *SQLiteStore) Save(m *Mapping) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO device_mapping (project_id, access_token) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, projectID := range m.ProjectIDs() {
		credential, _ := m.Get(projectID)
		if _, err := stmt.Exec(projectID, credential); err != nil {
			return fmt.Errorf("failed to insert mapping for %q: %w", projectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mapping: %w", err)
	}

	s.logger.WithField("devices", m.Len()).Debug("Device mapping saved")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
