package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"registry-mcp/pkg/models"
)

// SQLiteStore is a file-backed AuditStore. The agent runs on end-user
// machines, so the audit log lives in a local SQLite database rather than a
// shared server.
type SQLiteStore struct {
	db *sql.DB
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS invocations (
	id            TEXT PRIMARY KEY,
	conversation  TEXT NOT NULL,
	operation     TEXT NOT NULL,
	arguments     BLOB NOT NULL,
	result_id     TEXT,
	status        TEXT NOT NULL,
	detail        TEXT,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_conversation
	ON invocations (conversation, created_at DESC);
`

// NewSQLiteStore opens (creating if needed) the audit database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// modernc sqlite serializes through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Record appends one invocation record.
func (s *SQLiteStore) Record(ctx context.Context, rec *models.InvocationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, conversation, operation, arguments, result_id, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Conversation, rec.Operation, rec.Arguments, rec.ResultID, rec.Status, rec.Detail, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// Recent returns the newest records for a conversation, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, conversation string, limit int) ([]*models.InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation, operation, arguments, result_id, status, detail, created_at
		 FROM invocations WHERE conversation = ?
		 ORDER BY created_at DESC LIMIT ?`,
		conversation, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var records []*models.InvocationRecord
	for rows.Next() {
		rec := &models.InvocationRecord{}
		if err := rows.Scan(&rec.ID, &rec.Conversation, &rec.Operation, &rec.Arguments,
			&rec.ResultID, &rec.Status, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
