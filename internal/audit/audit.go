// ════════════════════════════════════════════════════════════════════════════════════════════════
// Reclaim Audit Ledger
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: epochgc — Deferred Reclamation Library
// Component: Test/Diagnostic Reclaim Ledger
//
// Description:
//   Durable record of every reclaim callback invocation, used only by the
//   stress harness and the multi-producer tests to verify the
//   exactly-once reclamation property across concurrent producers and
//   drainer goroutines.
//
//   A blank-imported SQLite driver behind database/sql. This package opens
//   an in-memory database scoped to process lifetime, since the ledger
//   only needs to outlive a single test run or soak session.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Log is a durable ledger of reclaim events, safe for concurrent writers.
type Log struct {
	db *sql.DB
}

// Open creates a fresh in-memory reclaim ledger.
func Open() (*Log, error) {
	db, err := sql.Open("sqlite3", ":memory:?_journal=MEMORY&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	// SQLite only tolerates one writer at a time; the reclaim path is
	// already single-drainer, so this is not a bottleneck.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE reclaimed (
		fingerprint BLOB NOT NULL,
		epoch       INTEGER NOT NULL,
		goroutine   TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends one reclaim event to the ledger.
func (l *Log) Record(fingerprint []byte, epoch uint32, goroutine string) error {
	_, err := l.db.Exec(
		`INSERT INTO reclaimed (fingerprint, epoch, goroutine) VALUES (?, ?, ?)`,
		fingerprint, epoch, goroutine,
	)
	return err
}

// Count returns the total number of recorded reclaim events.
func (l *Log) Count() (int, error) {
	var n int
	err := l.db.QueryRow(`SELECT COUNT(*) FROM reclaimed`).Scan(&n)
	return n, err
}

// Duplicates returns the fingerprints reclaimed more than once. A clean
// round-trip or multi-producer run must return an empty slice.
func (l *Log) Duplicates() ([][]byte, error) {
	rows, err := l.db.Query(
		`SELECT fingerprint FROM reclaimed GROUP BY fingerprint HAVING COUNT(*) > 1`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dupes [][]byte
	for rows.Next() {
		var fp []byte
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		dupes = append(dupes, fp)
	}
	return dupes, rows.Err()
}
