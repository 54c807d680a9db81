package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dougsko/mm3d/pkg/logging"
	"github.com/dougsko/mm3d/pkg/qsolog"
	_ "github.com/mattn/go-sqlite3"
)

// LogStore persists the contest log in SQLite
type LogStore struct {
	db     *sql.DB
	dbPath string
}

// NewLogStore opens or creates the log database at dbPath
func NewLogStore(dbPath string) (*LogStore, error) {
	store := &LogStore{dbPath: dbPath}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize log store: %w", err)
	}

	return store, nil
}

func (ls *LogStore) initialize() error {
	if ls.dbPath == "" {
		ls.dbPath = "./mm3d.db"
	}

	if err := os.MkdirAll(filepath.Dir(ls.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := ls.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	ls.db = db

	if err := ls.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if err := ls.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logging.Infof("storage", "Log store initialized: %s", ls.dbPath)
	return nil
}

func (ls *LogStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS qsos (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		serial INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		callsign TEXT NOT NULL,
		rst_sent TEXT NOT NULL DEFAULT '',
		rst_received TEXT NOT NULL DEFAULT '',
		exchange_sent TEXT NOT NULL DEFAULT '',
		exchange_received TEXT NOT NULL,
		frequency TEXT NOT NULL DEFAULT 'N/A',
		mode TEXT NOT NULL DEFAULT 'CW'
	);

	CREATE TABLE IF NOT EXISTS log_state (
		id INTEGER PRIMARY KEY,
		next_serial INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	INSERT OR IGNORE INTO log_state (id, next_serial) VALUES (1, 1);
	`

	_, err := ls.db.Exec(schema)
	return err
}

func (ls *LogStore) createIndexes() error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_qsos_position ON qsos(position)",
		"CREATE INDEX IF NOT EXISTS idx_qsos_callsign ON qsos(callsign)",
		"CREATE INDEX IF NOT EXISTS idx_qsos_timestamp ON qsos(timestamp)",
	}

	for _, indexSQL := range indexes {
		if _, err := ls.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// SaveSnapshot replaces the stored log with snap in one transaction
func (ls *LogStore) SaveSnapshot(snap qsolog.Snapshot) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM qsos"); err != nil {
		return fmt.Errorf("failed to clear qsos: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO qsos (
			id, position, serial, timestamp, callsign, rst_sent, rst_received,
			exchange_sent, exchange_received, frequency, mode
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range snap.Entries {
		_, err := stmt.Exec(e.ID, i+1, e.Serial, e.Timestamp.UTC(), e.Callsign,
			e.RSTSent, e.RSTReceived, e.ExchangeSent, e.ExchangeReceived,
			e.Frequency, e.Mode)
		if err != nil {
			return fmt.Errorf("failed to insert qso %d: %w", e.Serial, err)
		}
	}

	if _, err := tx.Exec(
		"UPDATE log_state SET next_serial = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1",
		snap.NextSerial,
	); err != nil {
		return fmt.Errorf("failed to update log state: %w", err)
	}

	return tx.Commit()
}

// LoadSnapshot reads the stored log in display order
func (ls *LogStore) LoadSnapshot() (qsolog.Snapshot, error) {
	entries, err := ls.GetQSOs(QSOQuery{})
	if err != nil {
		return qsolog.Snapshot{}, err
	}

	var next int
	if err := ls.db.QueryRow("SELECT next_serial FROM log_state WHERE id = 1").Scan(&next); err != nil {
		return qsolog.Snapshot{}, fmt.Errorf("failed to read log state: %w", err)
	}

	return qsolog.Snapshot{Entries: entries, NextSerial: next}, nil
}

// Close closes the database connection
func (ls *LogStore) Close() error {
	if ls.db != nil {
		return ls.db.Close()
	}
	return nil
}
