// Package repository persists the audit trail of confirmed registry
// invocations.
package repository

import (
	"context"

	"registry-mcp/pkg/models"
)

// AuditStore records every confirmed invocation, whatever its outcome.
type AuditStore interface {
	// Record appends one invocation record.
	Record(ctx context.Context, rec *models.InvocationRecord) error
	// Recent returns the newest records for a conversation, newest first.
	Recent(ctx context.Context, conversation string, limit int) ([]*models.InvocationRecord, error)
	// Close releases the underlying storage.
	Close() error
}
