package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSegment(t *testing.T) {
	valid := []string{
		"manifest.json",
		"chr_01ARZ3NDEKTSV4RRFFQ69G5FAV",
		"characters",
		"a b c",
		"..hidden", // two leading dots, but not a dot component
	}
	for _, segment := range valid {
		assert.NoError(t, CheckSegment(segment), "segment %q should be accepted", segment)
	}

	invalid := []string{
		"",
		".",
		"..",
		"a/b",
		`a\b`,
		"/etc",
		"a/../b",
		"nul\x00byte",
	}
	for _, segment := range invalid {
		err := CheckSegment(segment)
		assert.ErrorIs(t, err, ErrPathTraversal, "segment %q should be rejected", segment)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()

	// The target does not need to exist yet.
	path, err := Resolve(root, "workspaces", "ws_abc", "characters", "c1.json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, filepath.Join("workspaces", "ws_abc", "characters", "c1.json")))

	canonRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, canonRoot+string(os.PathSeparator)))
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	cases := [][]string{
		{".."},
		{"..", "etc", "passwd"},
		{"workspaces", "..", "..", "secret"},
		{"workspaces/ws_abc"},
		{"workspaces", ""},
	}
	for _, segments := range cases {
		_, err := Resolve(root, segments...)
		assert.ErrorIs(t, err, ErrPathTraversal, "segments %v should be rejected", segments)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	wsDir := filepath.Join(root, "ws_abc")
	require.NoError(t, os.Mkdir(wsDir, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(wsDir, "escape")))

	// Each segment looks innocent; only canonicalization catches the link.
	_, err := Resolve(root, "ws_abc", "escape", "loot.json")
	assert.ErrorIs(t, err, ErrPathTraversal)

	// A symlink that stays inside the root is fine.
	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(wsDir, "internal")))
	_, err = Resolve(root, "ws_abc", "internal", "data.json")
	assert.NoError(t, err)
}

func TestResolveDoesNotMutate(t *testing.T) {
	root := t.TempDir()

	_, err := Resolve(root, "a", "b", "c", "d.json")
	require.NoError(t, err)
	_, err = Resolve(root, "..", "evil")
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "Resolve must never create anything")
}

func TestResolveMissingRoot(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "does-not-exist"), "a")
	assert.Error(t, err)
}
