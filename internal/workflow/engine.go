// Package workflow implements the guided slot-filling state machine that
// stands between the conversational front end and any mutating registry
// call. Fields are collected one at a time through validators, reference
// fields go through an explicit search-and-select sub-flow, and the single
// path to a remote mutation runs through a verbatim summary plus an explicit
// affirmative confirmation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"registry-mcp/internal/logging"
	"registry-mcp/internal/schema"
	"registry-mcp/pkg/models"
)

// Phase is where a workflow currently stands.
type Phase string

const (
	PhaseCollectingRequired   Phase = "COLLECTING_REQUIRED"
	PhaseCollectingOptional   Phase = "COLLECTING_OPTIONAL"
	PhaseSummary              Phase = "SUMMARY"
	PhaseAwaitingConfirmation Phase = "AWAITING_CONFIRMATION"
	PhaseConfirmed            Phase = "CONFIRMED"
	PhaseCancelled            Phase = "CANCELLED"
)

// ReferenceSearcher resolves reference-field queries against the registry.
type ReferenceSearcher interface {
	SearchReferences(ctx context.Context, key, query string, subtype models.ItemSubtype) ([]models.SearchCandidate, error)
}

// OperationInvoker executes a confirmed operation.
type OperationInvoker interface {
	Call(ctx context.Context, key string, sch *schema.OperationSchema, payload map[string]any) (*models.CreatedResource, error)
}

// state is one conversation's in-flight workflow. It is owned by the engine
// and destroyed on completion or cancellation.
type state struct {
	schema    *schema.OperationSchema
	order     []schema.FieldSpec
	cursor    int
	phase     Phase
	collected map[string]any

	// pendingRef holds the candidate list during a search-and-select
	// sub-flow; it never outlives the field it fills.
	pendingRef *referenceSelection

	// revising names a field being corrected from the confirmation gate.
	revising string

	// checkErr carries a failed cross-field check's reason while its field
	// is being recollected.
	checkErr string
}

type referenceSelection struct {
	field      schema.FieldSpec
	query      string
	candidates []models.SearchCandidate
}

// Reply is what the engine hands back to the conversational surface after
// each input: the phase, the next prompt, and whatever data the phase
// carries.
type Reply struct {
	Operation  string                   `json:"operation"`
	Phase      Phase                    `json:"phase"`
	Field      string                   `json:"field,omitempty"`
	Prompt     string                   `json:"prompt,omitempty"`
	Candidates []models.SearchCandidate `json:"candidates,omitempty"`
	Summary    map[string]any           `json:"summary,omitempty"`
	Result     *models.CreatedResource  `json:"result,omitempty"`
	Err        string                   `json:"error,omitempty"`
}

// Engine drives one workflow per conversation key.
type Engine struct {
	schemas  *schema.Registry
	searcher ReferenceSearcher
	invoker  OperationInvoker
	log      *logging.Logger

	mu     sync.Mutex
	states map[string]*state
}

// NewEngine creates a workflow engine.
func NewEngine(schemas *schema.Registry, searcher ReferenceSearcher, invoker OperationInvoker, log *logging.Logger) *Engine {
	return &Engine{
		schemas:  schemas,
		searcher: searcher,
		invoker:  invoker,
		log:      log,
		states:   make(map[string]*state),
	}
}

// Start begins a workflow for the operation. A conversation may only run one
// workflow at a time.
func (e *Engine) Start(key, operation string) (*Reply, error) {
	sch, err := e.schemas.Lookup(operation)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, active := e.states[key]; active {
		return nil, ErrWorkflowAlreadyActive
	}

	st := &state{
		schema:    sch,
		order:     append(sch.RequiredFields(), sch.OptionalFields()...),
		phase:     PhaseCollectingRequired,
		collected: make(map[string]any),
	}
	e.states[key] = st
	e.log.Info("workflow started", "key", key, "operation", operation)

	return e.replyFor(st), nil
}

// Submit feeds one raw value to the current field. A failed validation
// re-prompts without advancing, so resubmitting is always safe. For a
// reference field, input that is not a handle is treated as a search query
// and opens (or refines) the selection sub-flow.
func (e *Engine) Submit(ctx context.Context, key, raw string) (*Reply, error) {
	e.mu.Lock()
	st, ok := e.states[key]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoActiveWorkflow
	}

	field, err := e.currentField(st)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if field.Kind == schema.KindReference && !looksLikeHandle(raw) {
		// Search needs the network; release the engine while it runs.
		e.mu.Unlock()
		return e.searchReference(ctx, key, st, field, raw)
	}

	defer e.mu.Unlock()
	value, err := schema.ValidateField(&field, raw)
	if err != nil {
		reply := e.replyFor(st)
		reply.Err = err.Error()
		return reply, nil
	}

	st.collected[field.Key] = value
	st.pendingRef = nil
	e.advance(st)
	return e.replyFor(st), nil
}

// Skip passes over the current optional field, storing its default when it
// has one. Required fields cannot be skipped.
func (e *Engine) Skip(key string) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[key]
	if !ok {
		return nil, ErrNoActiveWorkflow
	}
	field, err := e.currentField(st)
	if err != nil {
		return nil, err
	}
	if field.Required {
		return nil, fmt.Errorf("%w: %s", ErrRequiredField, field.Key)
	}

	if def, has := field.DerivedDefault(st.collected); has {
		st.collected[field.Key] = def
	}
	st.pendingRef = nil
	e.advance(st)
	return e.replyFor(st), nil
}

// Select picks one candidate from a pending reference search. The choice may
// be the candidate's handle or its 1-based position in the presented list.
func (e *Engine) Select(key, choice string) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[key]
	if !ok {
		return nil, ErrNoActiveWorkflow
	}
	if st.pendingRef == nil {
		return nil, ErrNoSelectionPending
	}

	chosen, ok := pickCandidate(st.pendingRef.candidates, choice)
	if !ok {
		reply := e.replyFor(st)
		reply.Err = fmt.Sprintf("%q does not match any presented candidate; pick by number or handle, or submit a new query", choice)
		return reply, nil
	}

	st.collected[st.pendingRef.field.Key] = chosen.ID
	st.pendingRef = nil
	e.advance(st)
	return e.replyFor(st), nil
}

// Revise reopens one already-collected field from the confirmation gate (or
// mid-collection). The next Submit fills it, then the workflow returns to
// where it was.
func (e *Engine) Revise(key, fieldKey string) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[key]
	if !ok {
		return nil, ErrNoActiveWorkflow
	}
	field, found := st.schema.Field(fieldKey)
	if !found {
		return nil, fmt.Errorf("operation %s has no field %q", st.schema.Operation, fieldKey)
	}
	if _, collected := st.collected[fieldKey]; !collected && st.phase != PhaseAwaitingConfirmation {
		return nil, fmt.Errorf("field %q has not been collected yet", fieldKey)
	}

	st.revising = field.Key
	st.pendingRef = nil
	reply := e.replyFor(st)
	reply.Field = field.Key
	reply.Prompt = field.Prompt
	return reply, nil
}

// Confirm resolves the confirmation gate. An affirmative decision is the
// single path to a remote mutation; a negative one cancels the workflow
// without any call.
func (e *Engine) Confirm(ctx context.Context, key string, affirmative bool) (*Reply, error) {
	e.mu.Lock()
	st, ok := e.states[key]
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoActiveWorkflow
	}
	if st.phase != PhaseAwaitingConfirmation {
		e.mu.Unlock()
		return nil, ErrNotAwaitingConfirmation
	}

	if !affirmative {
		st.phase = PhaseCancelled
		delete(e.states, key)
		e.mu.Unlock()
		e.log.Info("workflow cancelled at confirmation", "key", key, "operation", st.schema.Operation)
		return &Reply{Operation: st.schema.Operation, Phase: PhaseCancelled, Prompt: "Cancelled. Nothing was sent to the registry."}, nil
	}

	st.phase = PhaseConfirmed
	payload := make(map[string]any, len(st.collected))
	for k, v := range st.collected {
		payload[k] = v
	}
	sch := st.schema
	// The remote call blocks on the network; do not hold the engine lock.
	e.mu.Unlock()

	result, err := e.invoker.Call(ctx, key, sch, payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if e.states[key] != st {
			// Cancelled (or restarted) while the call was in flight; there is
			// no gate to return to.
			return &Reply{Operation: sch.Operation, Phase: PhaseCancelled, Err: err.Error()}, nil
		}
		// The workflow survives the failure: back to the confirmation gate
		// so the user can revise fields or retry.
		st.phase = PhaseAwaitingConfirmation
		reply := e.replyFor(st)
		reply.Err = err.Error()
		return reply, nil
	}

	if e.states[key] == st {
		delete(e.states, key)
	}
	e.log.Info("workflow completed", "key", key, "operation", sch.Operation, "id", result.ID)
	return &Reply{
		Operation: sch.Operation,
		Phase:     PhaseConfirmed,
		Result:    result,
		Prompt:    fmt.Sprintf("Created %s: %s", result.ID, result.HandleURL),
	}, nil
}

// Cancel abandons the workflow at any phase. Safe at any point: no external
// call has been made before CONFIRMED.
func (e *Engine) Cancel(key string) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[key]
	if !ok {
		return nil, ErrNoActiveWorkflow
	}
	delete(e.states, key)
	e.log.Info("workflow cancelled", "key", key, "operation", st.schema.Operation)
	return &Reply{Operation: st.schema.Operation, Phase: PhaseCancelled, Prompt: "Cancelled. Nothing was sent to the registry."}, nil
}

// Status reports the workflow's current position without changing it.
func (e *Engine) Status(key string) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[key]
	if !ok {
		return nil, ErrNoActiveWorkflow
	}
	return e.replyFor(st), nil
}

// searchReference runs the sub-flow search and stores the candidate list.
// Zero matches re-prompt; one or more are presented for an explicit pick,
// even when there is only a single candidate.
func (e *Engine) searchReference(ctx context.Context, key string, st *state, field schema.FieldSpec, query string) (*Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.states[key] != st {
			return nil, ErrNoActiveWorkflow
		}
		reply := e.replyFor(st)
		reply.Err = "enter a registry handle or a search query"
		return reply, nil
	}

	candidates, err := e.searcher.SearchReferences(ctx, key, query, field.RefSubtype)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The search ran unlocked; the workflow may have been cancelled or
	// replaced in the meantime. Never write through a stale state.
	if e.states[key] != st {
		return nil, ErrNoActiveWorkflow
	}

	if len(candidates) == 0 {
		st.pendingRef = nil
		reply := e.replyFor(st)
		reply.Err = fmt.Sprintf("no %s matches for %q; refine the query or enter a handle", field.RefSubtype, query)
		return reply, nil
	}

	st.pendingRef = &referenceSelection{field: field, query: query, candidates: candidates}
	reply := e.replyFor(st)
	reply.Candidates = candidates
	reply.Prompt = fmt.Sprintf("Found %d %s candidate(s) for %q. Pick one by number or handle, or submit a new query.",
		len(candidates), field.RefSubtype, query)
	return reply, nil
}

// currentField returns the field the next Submit applies to.
func (e *Engine) currentField(st *state) (schema.FieldSpec, error) {
	if st.revising != "" {
		f, _ := st.schema.Field(st.revising)
		return *f, nil
	}
	switch st.phase {
	case PhaseCollectingRequired, PhaseCollectingOptional:
		return st.order[st.cursor], nil
	default:
		return schema.FieldSpec{}, fmt.Errorf("no field is being collected; confirm, cancel, or revise a field")
	}
}

// advance moves the cursor after a successful submit or skip, updating the
// phase when a group of fields is exhausted.
func (e *Engine) advance(st *state) {
	if st.revising != "" {
		st.revising = ""
		if st.phase == PhaseSummary || st.phase == PhaseAwaitingConfirmation {
			e.enterSummary(st)
		}
		return
	}

	st.cursor++
	required := len(st.schema.RequiredFields())
	switch {
	case st.cursor >= len(st.order):
		e.enterSummary(st)
	case st.cursor >= required:
		st.phase = PhaseCollectingOptional
	}
}

// enterSummary runs the schema's cross-field checks and, if they pass,
// renders the collected arguments verbatim and opens the confirmation gate.
// A failed check reopens the offending field instead.
func (e *Engine) enterSummary(st *state) {
	for _, check := range st.schema.CrossChecks {
		if err := check(st.collected); err != nil {
			var verr *schema.ValidationError
			if errors.As(err, &verr) {
				st.revising = verr.Field
			}
			st.checkErr = err.Error()
			st.phase = PhaseSummary
			return
		}
	}
	st.checkErr = ""
	st.phase = PhaseAwaitingConfirmation
}

// replyFor renders the state into the next prompt.
func (e *Engine) replyFor(st *state) *Reply {
	reply := &Reply{Operation: st.schema.Operation, Phase: st.phase}

	if st.revising != "" {
		f, _ := st.schema.Field(st.revising)
		reply.Field = f.Key
		reply.Prompt = f.Prompt
		// While a field is being recollected the workflow is collecting, not
		// summarising, and the user needs to know why it was reopened.
		if f.Required {
			reply.Phase = PhaseCollectingRequired
		} else {
			reply.Phase = PhaseCollectingOptional
		}
		reply.Err = st.checkErr
		return reply
	}

	switch st.phase {
	case PhaseCollectingRequired, PhaseCollectingOptional:
		field := st.order[st.cursor]
		reply.Field = field.Key
		reply.Prompt = field.Prompt
		if st.pendingRef != nil {
			reply.Candidates = st.pendingRef.candidates
		}
	case PhaseSummary, PhaseAwaitingConfirmation:
		reply.Summary = st.collected
		reply.Prompt = renderSummary(st.schema.Operation, st.collected) +
			"\nReply with confirm=true to submit, confirm=false to cancel, or revise a field."
	}
	return reply
}

// renderSummary lists every collected field verbatim, in a stable order.
func renderSummary(operation string, collected map[string]any) string {
	keys := make([]string, 0, len(collected))
	for k := range collected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "About to run %s with:\n", operation)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, collected[k])
	}
	return b.String()
}

var handleInput = regexp.MustCompile(`^\S+/\S+$`)

// looksLikeHandle distinguishes a directly-entered registry handle from a
// search query.
func looksLikeHandle(raw string) bool {
	return handleInput.MatchString(strings.TrimSpace(raw))
}

// pickCandidate resolves a user's choice by handle or 1-based index.
func pickCandidate(candidates []models.SearchCandidate, choice string) (models.SearchCandidate, bool) {
	choice = strings.TrimSpace(choice)
	for _, c := range candidates {
		if c.ID == choice {
			return c, true
		}
	}
	var idx int
	if _, err := fmt.Sscanf(choice, "%d", &idx); err == nil && idx >= 1 && idx <= len(candidates) {
		return candidates[idx-1], true
	}
	return models.SearchCandidate{}, false
}
