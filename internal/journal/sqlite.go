package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens or creates the journal database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite for concurrent access
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=2000&_foreign_keys=on&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{
		db:     db,
		closed: false,
	}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS migrations (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		source_host TEXT NOT NULL,
		destination_host TEXT NOT NULL,
		outcome TEXT NOT NULL,
		stage TEXT NOT NULL,
		success INTEGER NOT NULL,
		detail TEXT,
		transcript TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_migrations_username ON migrations(username);
	CREATE INDEX IF NOT EXISTS idx_migrations_finished_at ON migrations(finished_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// Record saves or updates a migration entry with retry mechanism
func (s *SQLiteStore) Record(entry *Entry) error {
	if s.closed {
		return fmt.Errorf("journal store is closed")
	}

	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("database connection is not available: %w", err)
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.recordWithTransaction(entry)
	})
}

func (s *SQLiteStore) recordWithTransaction(entry *Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	// Use UPSERT instead of DELETE+INSERT or REPLACE which increases lock contention
	query := `
    INSERT INTO migrations
    (id, username, domain, source_host, destination_host, outcome, stage, success, detail, transcript, started_at, finished_at, duration_ms)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        username = excluded.username,
        domain = excluded.domain,
        source_host = excluded.source_host,
        destination_host = excluded.destination_host,
        outcome = excluded.outcome,
        stage = excluded.stage,
        success = excluded.success,
        detail = excluded.detail,
        transcript = excluded.transcript,
        started_at = excluded.started_at,
        finished_at = excluded.finished_at,
        duration_ms = excluded.duration_ms
    `

	_, err = tx.Exec(query,
		entry.ID,
		entry.Username,
		entry.Domain,
		entry.SourceHost,
		entry.DestinationHost,
		entry.Outcome,
		entry.Stage,
		entry.Success,
		entry.Detail,
		entry.Transcript,
		entry.StartedAt,
		entry.FinishedAt,
		entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// Get retrieves an entry by ID with retry mechanism
func (s *SQLiteStore) Get(id string) (*Entry, error) {
	if s.closed {
		return nil, fmt.Errorf("journal store is closed")
	}

	if err := s.db.Ping(); err != nil {
		return nil, fmt.Errorf("database connection is not available: %w", err)
	}

	var result *Entry
	err := s.retryOnBusy(func() error {
		var err error
		result, err = s.getInternal(id)
		return err
	})
	return result, err
}

func (s *SQLiteStore) getInternal(id string) (*Entry, error) {
	query := `
	SELECT id, username, domain, source_host, destination_host, outcome, stage, success, detail, transcript, started_at, finished_at, duration_ms
	FROM migrations WHERE id = ?
	`

	row := s.db.QueryRow(query, id)

	entry, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns the most recent entries, newest first. A non-positive
// limit returns the newest 20.
func (s *SQLiteStore) History(limit int) ([]*Entry, error) {
	if s.closed {
		return nil, fmt.Errorf("journal store is closed")
	}

	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT id, username, domain, source_host, destination_host, outcome, stage, success, detail, transcript, started_at, finished_at, duration_ms
	FROM migrations
	ORDER BY finished_at DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var entry Entry
	var detail, transcript sql.NullString

	err := scan(
		&entry.ID,
		&entry.Username,
		&entry.Domain,
		&entry.SourceHost,
		&entry.DestinationHost,
		&entry.Outcome,
		&entry.Stage,
		&entry.Success,
		&detail,
		&transcript,
		&entry.StartedAt,
		&entry.FinishedAt,
		&entry.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	if detail.Valid {
		entry.Detail = detail.String
	}
	if transcript.Valid {
		entry.Transcript = transcript.String
	}

	return &entry, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) {
			if attempt < maxRetries-1 {
				// Exponential backoff with a little jitter to reduce contention
				delay := baseDelay * time.Duration(1<<uint(attempt))
				jitter := time.Duration(attempt*10) * time.Millisecond
				time.Sleep(delay + jitter)
				continue
			}
		}

		// Return the error if it's not a busy error or we've exhausted retries
		return err
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY") ||
		strings.Contains(errorStr, "database is closed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
