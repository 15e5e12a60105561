package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

func TestCharacterCRUD(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewCharacterStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	character := &Character{
		ID:          "c1",
		Name:        "Rin",
		Description: "A wandering swordswoman",
		Attributes:  map[string]any{"faction": "north", "custom_flag": true},
	}
	require.NoError(t, store.Put(ctx, wsID, character))
	assert.False(t, character.UpdatedAt.IsZero())

	got, err := store.Get(ctx, wsID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Rin", got.Name)
	assert.Equal(t, "north", got.Attributes["faction"])
	// Unknown attribute keys survive the round trip verbatim.
	assert.Equal(t, true, got.Attributes["custom_flag"])

	// Replacement is whole-record, last write wins.
	require.NoError(t, store.Put(ctx, wsID, &Character{ID: "c1", Name: "Rin", Description: "Retired"}))
	got, err = store.Get(ctx, wsID, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Retired", got.Description)
	assert.Nil(t, got.Attributes)

	require.NoError(t, store.Delete(ctx, wsID, "c1"))
	_, err = store.Get(ctx, wsID, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, wsID, "c1"), ErrNotFound)
}

func TestCharacterValidation(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewCharacterStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	err = store.Put(ctx, wsID, &Character{ID: "c1"})
	assert.ErrorIs(t, err, ErrInvalidEntity)
	err = store.Put(ctx, wsID, &Character{Name: "Nameless"})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestEntityOpsRequireWorkspace(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewCharacterStore(m)
	ctx := context.Background()

	err := store.Put(ctx, "ws_missing", &Character{ID: "c1", Name: "Rin"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "ws_missing", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.List(ctx, "ws_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntityIDAsPathSegment(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewCharacterStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	for _, entityID := range []string{"../evil", "a/b", `a\b`} {
		_, err := store.Get(ctx, wsID, entityID)
		assert.ErrorIs(t, err, ErrPathTraversal, "entity id %q", entityID)
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewCharacterStore(m)
	ctx := context.Background()

	first, err := m.Create(ctx)
	require.NoError(t, err)
	second, err := m.Create(ctx)
	require.NoError(t, err)

	// Same entity id in both workspaces, different payloads.
	require.NoError(t, store.Put(ctx, first.ID.String(), &Character{ID: "Alpha", Name: "First Alpha"}))
	require.NoError(t, store.Put(ctx, second.ID.String(), &Character{ID: "Alpha", Name: "Second Alpha"}))

	got, err := store.Get(ctx, first.ID.String(), "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "First Alpha", got.Name)

	// Mutating one workspace leaves the other untouched.
	require.NoError(t, store.Delete(ctx, first.ID.String(), "Alpha"))
	got, err = store.Get(ctx, second.ID.String(), "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "Second Alpha", got.Name)
}

func TestListOrderAndResilience(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewCharacterStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)
	wsID := manifest.ID.String()

	// Insert out of order; the listing is ordered by entity id.
	for _, cid := range []string{"c3", "c1", "c2"} {
		require.NoError(t, store.Put(ctx, wsID, &Character{ID: id.CharacterID(cid), Name: "N-" + cid}))
	}

	// A corrupt record and a stray dotfile must not break the listing.
	dir := filepath.Join(m.Root(), workspacesDir, wsID, charactersKind)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c9.json"), []byte("{broken"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".c0.json.tmp"), []byte("junk"), 0o644))

	characters, err := store.List(ctx, wsID)
	require.NoError(t, err)
	require.Len(t, characters, 3)
	assert.Equal(t, "c1", characters[0].EntityKey())
	assert.Equal(t, "c2", characters[1].EntityKey())
	assert.Equal(t, "c3", characters[2].EntityKey())
}

func TestListEmptyWorkspace(t *testing.T) {
	m := newTestManager(t, time.Hour)
	store := NewCharacterStore(m)
	ctx := context.Background()

	manifest, err := m.Create(ctx)
	require.NoError(t, err)

	characters, err := store.List(ctx, manifest.ID.String())
	require.NoError(t, err)
	assert.Empty(t, characters)
}
