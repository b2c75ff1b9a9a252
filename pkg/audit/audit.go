// Package audit implements best-effort mirroring of committed EffectRecords
// to an external SQL store, selected at startup by DSN scheme.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/loglinehq/ubl/pkg/ubltypes"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS ubl_effect_records (
	id TEXT PRIMARY KEY,
	resulting_version INTEGER NOT NULL,
	program_hash TEXT NOT NULL,
	proof_hash TEXT NOT NULL,
	record_hash TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	payload TEXT NOT NULL
)`

// Mirror is a database/sql-backed AuditMirror, satisfying the ledger
// package's AuditMirror interface without importing it (avoiding a cycle).
type Mirror struct {
	db *sql.DB
}

// Open selects a driver by dsn's scheme (postgres://... or sqlite://...,
// with a bare file path treated as sqlite) and prepares the mirror table.
func Open(dsn string) (*Mirror, error) {
	driver, source := driverFor(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping %s: %w", driver, err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create table: %w", err)
	}
	return &Mirror{db: db}, nil
}

func driverFor(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://")
	default:
		return "sqlite", dsn
	}
}

// Record inserts record as a row, ignoring duplicate primary keys so a
// retried mirror attempt after a transient failure is harmless.
func (m *Mirror) Record(record ubltypes.EffectRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = m.db.Exec(
		`INSERT INTO ubl_effect_records (id, resulting_version, program_hash, proof_hash, record_hash, recorded_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.ResultingVersion, record.ProgramHash, record.ProofHash, record.RecordHash, record.Timestamp, string(payload),
	)
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	return err
}

func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

// Close releases the underlying database handle.
func (m *Mirror) Close() error { return m.db.Close() }
