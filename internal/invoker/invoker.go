// Package invoker executes confirmed registry operations: it attaches a
// fresh credential, submits the payload, classifies the outcome, and writes
// the audit record. It never decides WHAT to call; that is the workflow
// engine's job.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"registry-mcp/internal/authsession"
	"registry-mcp/internal/logging"
	"registry-mcp/internal/registry"
	"registry-mcp/internal/repository"
	"registry-mcp/internal/schema"
	"registry-mcp/internal/telemetry"
	"registry-mcp/pkg/models"
)

// Invoker performs authenticated registry mutations.
type Invoker struct {
	auth     *authsession.Session
	registry *registry.Client
	audit    repository.AuditStore
	metrics  *telemetry.InvocationMetrics
	log      *logging.Logger
}

// New creates an Invoker. metrics may be nil, which disables counting.
func New(auth *authsession.Session, client *registry.Client, audit repository.AuditStore, metrics *telemetry.InvocationMetrics, log *logging.Logger) *Invoker {
	return &Invoker{auth: auth, registry: client, audit: audit, metrics: metrics, log: log}
}

// Call submits one confirmed operation for the given session key. Every call
// that reaches the registry is recorded in the audit store, successful or
// not. An expired or missing credential short-circuits before any network
// traffic with ErrReauthRequired.
func (inv *Invoker) Call(ctx context.Context, key string, sch *schema.OperationSchema, payload map[string]any) (*models.CreatedResource, error) {
	cred, err := inv.auth.EnsureFresh(ctx, key)
	if err != nil {
		return nil, err
	}

	created, callErr := inv.registry.Create(ctx, cred.BearerHeader(), sch.CreatePath, payload)
	inv.record(ctx, key, sch.Operation, payload, created, callErr)

	if callErr != nil {
		var remote *registry.RemoteError
		if errors.As(callErr, &remote) && remote.Unauthorized() {
			return nil, fmt.Errorf("%w: registry returned %d", authsession.ErrReauthRequired, remote.Status)
		}
		return nil, callErr
	}

	inv.log.Info("operation succeeded", "operation", sch.Operation, "id", created.ID)
	return created, nil
}

// record writes the audit entry. Audit failures are logged, never allowed to
// mask the operation's real outcome.
func (inv *Invoker) record(ctx context.Context, key, operation string, payload map[string]any, created *models.CreatedResource, callErr error) {
	args, err := json.Marshal(payload)
	if err != nil {
		args = []byte(fmt.Sprintf("%v", payload))
	}

	rec := &models.InvocationRecord{
		ID:           uuid.NewString(),
		Conversation: key,
		Operation:    operation,
		Arguments:    args,
		Status:       models.InvocationSucceeded,
		CreatedAt:    time.Now().UTC(),
	}
	switch {
	case callErr == nil:
		rec.ResultID = created.ID
	default:
		var remote *registry.RemoteError
		if errors.As(callErr, &remote) {
			rec.Status = models.InvocationRejected
		} else {
			rec.Status = models.InvocationFailed
		}
		rec.Detail = callErr.Error()
	}

	inv.metrics.RecordInvocation(ctx, operation, rec.Status)

	if err := inv.audit.Record(ctx, rec); err != nil {
		inv.log.Error("audit write failed", "operation", operation, "error", err)
	}
}

// SearchReferences runs an authenticated registry search on behalf of a
// reference-field sub-flow.
func (inv *Invoker) SearchReferences(ctx context.Context, key, query string, subtype models.ItemSubtype) ([]models.SearchCandidate, error) {
	cred, err := inv.auth.EnsureFresh(ctx, key)
	if err != nil {
		return nil, err
	}
	inv.metrics.RecordSearch(ctx, string(subtype))
	return inv.registry.Search(ctx, cred.BearerHeader(), query, subtype, 10)
}

// History returns the newest audit entries for a conversation.
func (inv *Invoker) History(ctx context.Context, key string, limit int) ([]*models.InvocationRecord, error) {
	return inv.audit.Recent(ctx, key, limit)
}
