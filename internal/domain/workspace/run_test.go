package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

func TestRunStatusCanTransition(t *testing.T) {
	tests := []struct {
		from    RunStatus
		to      RunStatus
		allowed bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusPending, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
		{StatusFailed, StatusPending, false},
		// Same-state writes stay idempotent.
		{StatusPending, StatusPending, true},
		{StatusRunning, StatusRunning, true},
		{StatusCompleted, StatusCompleted, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func newTestRun(characters ...id.CharacterID) *Run {
	return &Run{
		ID:           id.NewRunID(),
		CharacterIDs: characters,
		Status:       StatusPending,
	}
}

func TestRunLifecycle(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewRunStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	run := newTestRun("c1", "c2")
	require.NoError(t, store.Put(ctx, wsID, run))
	created := run.CreatedAt
	require.False(t, created.IsZero())

	// pending -> running
	run.Status = StatusRunning
	require.NoError(t, store.Put(ctx, wsID, run))

	// running -> completed, attaching output
	run.Status = StatusCompleted
	run.Output = map[string]any{"narrative": "The duel ends at dawn."}
	require.NoError(t, store.Put(ctx, wsID, run))

	got, err := store.Get(ctx, wsID, run.ID.String())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "The duel ends at dawn.", got.Output["narrative"])
	assert.True(t, got.CreatedAt.Equal(created), "CreatedAt is immutable")
}

func TestRunNoResurrection(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewRunStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	run := newTestRun("c1")
	run.Status = StatusCompleted
	require.NoError(t, store.Put(ctx, wsID, run))

	run.Status = StatusRunning
	err = store.Put(ctx, wsID, run)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	run.Status = StatusFailed
	err = store.Put(ctx, wsID, run)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The stored record is untouched by the rejected writes.
	got, err := store.Get(ctx, wsID, run.ID.String())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestRunSameStateWriteIsIdempotent(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewRunStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	run := newTestRun("c1")
	run.Status = StatusRunning
	require.NoError(t, store.Put(ctx, wsID, run))

	run.Output = map[string]any{"progress": float64(40)}
	require.NoError(t, store.Put(ctx, wsID, run))

	got, err := store.Get(ctx, wsID, run.ID.String())
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, float64(40), got.Output["progress"])
}

func TestRunValidation(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewRunStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	err = store.Put(ctx, wsID, &Run{ID: id.NewRunID(), Status: StatusPending})
	assert.ErrorIs(t, err, ErrInvalidEntity, "runs need at least one character")

	err = store.Put(ctx, wsID, &Run{ID: id.NewRunID(), CharacterIDs: []id.CharacterID{"c1"}, Status: "paused"})
	assert.ErrorIs(t, err, ErrInvalidEntity, "unknown status is rejected")
}
