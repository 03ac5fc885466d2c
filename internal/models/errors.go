package models

import "errors"

// Error taxonomy shared across the pipeline. Stages wrap these with
// fmt.Errorf("...: %w", err) so callers can branch with errors.Is.
var (
	// ErrConfiguration marks invalid or missing required input. Fatal to
	// the stage that raised it.
	ErrConfiguration = errors.New("configuration error")

	// ErrConflict marks an idempotency violation, such as a contradictory
	// second decision for the same task. The task is left untouched.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks a reference to a nonexistent entity. Fatal to the
	// single operation, never to the batch.
	ErrNotFound = errors.New("not found")

	// ErrCollaborator marks a failed or timed-out external call. Components
	// degrade to a recorded outcome instead of propagating it as a crash.
	ErrCollaborator = errors.New("collaborator failure")
)
