package workspace

import (
	"fmt"
	"time"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

const runsKind = "runs"

// RunStatus is the lifecycle state of a narrative run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Valid reports whether the status is one of the known states.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a run may move from s to next. Transitions
// are monotonic: pending -> running -> {completed, failed}, with no
// resurrection out of a terminal state. Same-state writes are allowed so
// payload updates stay idempotent.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Run records one narrative generation triggered by one or more characters.
// Append-mostly: the output payload fills in as the run progresses and the
// status only ever moves forward.
type Run struct {
	ID           id.RunID         `json:"id"`
	CharacterIDs []id.CharacterID `json:"character_ids"`
	Status       RunStatus        `json:"status"`
	Output       map[string]any   `json:"output,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// EntityKey returns the run id.
func (r *Run) EntityKey() string { return r.ID.String() }

// Validate checks required fields at write time.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if len(r.CharacterIDs) == 0 {
		return fmt.Errorf("run requires at least one character id")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown run status %q", r.Status)
	}
	return nil
}

func (r *Run) stamp(now time.Time) {
	r.UpdatedAt = now
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}

// RunStore is the run CRUD layer for a manager's workspaces.
type RunStore = Store[*Run]

// NewRunStore creates the run store with monotonic status enforcement.
func NewRunStore(m *Manager) *RunStore {
	return NewStore[*Run](m, runsKind).WithTransition(func(old, updated *Run) error {
		if !old.Status.CanTransition(updated.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, old.Status, updated.Status)
		}
		// CreatedAt is immutable once recorded.
		updated.CreatedAt = old.CreatedAt
		return nil
	})
}
