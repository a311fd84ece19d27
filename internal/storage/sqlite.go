package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timestampLayout is the minute-precision format used for the user-visible
// timestamp column. The created_at column keeps full precision.
const timestampLayout = "2006-01-02 15:04"

// Store wraps a SQLite database holding query history and app metadata.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Opening is idempotent: already-applied migrations are skipped.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "graphdeck.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Query history ---

// SaveQuery inserts a new history record with a store-assigned timestamp and
// returns the assigned id. IDs ascend in insertion order and are never reused,
// even after ClearHistory (AUTOINCREMENT).
func (s *Store) SaveQuery(query, method, response string) (int64, error) {
	ts := time.Now().Format(timestampLayout)
	res, err := s.db.Exec(`
		INSERT INTO query_history (timestamp, query, method, response)
		VALUES (?, ?, ?, ?)`,
		ts, query, method, response,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting query record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	return id, nil
}

// AllQueries returns every history record, newest id first. An empty store
// yields an empty slice, not an error.
func (s *Store) AllQueries() ([]QueryRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, query, method, response
		FROM query_history ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueryRecord
	for rows.Next() {
		rec, err := scanQueryRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// QueryByID returns a single history record, or ErrNotFound.
func (s *Store) QueryByID(id int64) (QueryRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, timestamp, query, method, response
		FROM query_history WHERE id = ?`, id,
	)
	rec, err := scanQueryRecord(row.Scan)
	if err == sql.ErrNoRows {
		return QueryRecord{}, ErrNotFound
	}
	if err != nil {
		return QueryRecord{}, err
	}
	return rec, nil
}

// ClearHistory deletes all history records. Clearing an empty store is not an error.
func (s *Store) ClearHistory() error {
	_, err := s.db.Exec("DELETE FROM query_history")
	return err
}

// QueryCount returns the number of stored history records.
func (s *Store) QueryCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM query_history").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanQueryRecord(scan func(...any) error) (QueryRecord, error) {
	var rec QueryRecord
	var ts string
	if err := scan(&rec.ID, &ts, &rec.Query, &rec.Method, &rec.Response); err != nil {
		return QueryRecord{}, err
	}
	t, err := time.ParseInLocation(timestampLayout, ts, time.Local)
	if err != nil {
		return QueryRecord{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	rec.Timestamp = t
	return rec, nil
}

// --- Metadata ---

// SetMetadata upserts a key/value pair, refreshing updated_at. Last write wins.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetMetadata returns the value for key, or def when the key is absent.
func (s *Store) GetMetadata(key, def string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
