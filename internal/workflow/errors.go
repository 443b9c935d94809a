package workflow

import "errors"

var (
	// ErrWorkflowAlreadyActive means the conversation already has a workflow
	// in flight; it must finish or be cancelled before a new one starts.
	ErrWorkflowAlreadyActive = errors.New("a workflow is already active for this conversation")

	// ErrNoActiveWorkflow means the conversation has nothing in flight.
	ErrNoActiveWorkflow = errors.New("no active workflow for this conversation")

	// ErrNotAwaitingConfirmation means confirm was called outside the
	// confirmation gate.
	ErrNotAwaitingConfirmation = errors.New("workflow is not awaiting confirmation")

	// ErrNoSelectionPending means select was called without a candidate list
	// on offer.
	ErrNoSelectionPending = errors.New("no reference selection is pending")

	// ErrRequiredField means skip was attempted on a required field.
	ErrRequiredField = errors.New("field is required and cannot be skipped")
)
