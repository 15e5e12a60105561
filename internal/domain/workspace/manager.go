package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

const (
	workspacesDir = "workspaces"
	sessionsDir   = "sessions"
	stagingPrefix = ".import-"

	// Staging directories older than this are leftovers from failed imports
	// and are removed by the reaper.
	stagingMaxAge = time.Hour
)

// Manager owns the store root and the workspace lifecycle: creation, manifest
// access, deletion, and TTL reaping. Entity stores, the session resolver, and
// the export/import engine all operate through it.
//
// The manager holds no per-workspace in-memory state; every operation goes to
// the filesystem through the path safety layer and the atomic writer.
type Manager struct {
	root    string // canonicalized store root
	ttl     time.Duration
	logger  *zap.Logger
	reaping atomic.Bool // single-flight guard for Reap
}

// NewManager creates the store root layout and returns a manager. The ttl
// governs workspace expiry; it is policy handed in from configuration, not a
// property of the store core.
func NewManager(root string, ttl time.Duration, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureDir(root); err != nil {
		return nil, err
	}
	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("canonicalize store root: %w", err)
	}
	for _, sub := range []string{workspacesDir, sessionsDir} {
		if err := ensureDir(filepath.Join(canonRoot, sub)); err != nil {
			return nil, err
		}
	}
	return &Manager{root: canonRoot, ttl: ttl, logger: logger}, nil
}

// Root returns the canonicalized store root.
func (m *Manager) Root() string {
	return m.root
}

// TTL returns the configured workspace expiry window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// workspacePath resolves a path under a specific workspace. The workspace id
// is validated as an untrusted segment even though it is generated
// server-side: the token that maps to it is client-supplied and is not
// trusted blindly downstream.
func (m *Manager) workspacePath(wsID string, extra ...string) (string, error) {
	segments := append([]string{workspacesDir, wsID}, extra...)
	return Resolve(m.root, segments...)
}

// Create provisions a new workspace: fresh server-generated id, manifest
// written atomically. The workspace exists once the manifest rename lands.
func (m *Manager) Create(ctx context.Context) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	manifest := &Manifest{
		ID:            id.NewWorkspaceID(),
		CreatedAt:     now,
		LastAccessAt:  now,
		SchemaVersion: SchemaVersion,
	}

	dir, err := m.workspacePath(manifest.ID.String())
	if err != nil {
		return nil, err
	}
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	if err := m.saveManifest(manifest); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	m.logger.Info("workspace created", zap.String("workspace_id", manifest.ID.String()))
	return manifest, nil
}

// Delete removes a workspace's entire directory tree. Deleting a workspace
// that does not exist returns ErrNotFound.
func (m *Manager) Delete(wsID string) error {
	if _, err := m.LoadManifest(wsID); err != nil {
		return err
	}
	dir, err := m.workspacePath(wsID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete workspace %s: %w", wsID, err)
	}
	m.logger.Info("workspace deleted", zap.String("workspace_id", wsID))
	return nil
}

// ReapResult summarizes a sweep.
type ReapResult struct {
	Scanned       int  `json:"scanned"`
	Reaped        int  `json:"reaped"`
	Failed        int  `json:"failed"`
	StaleBindings int  `json:"stale_bindings"`
	Skipped       bool `json:"skipped"` // another sweep was already running
}

// Reap deletes every workspace whose last access is older than the TTL, then
// drops session bindings whose workspace is gone. Sweeps are single-flight:
// a call that finds one in progress returns immediately with Skipped set.
// Deletion is best-effort per workspace; one failure never aborts the sweep.
func (m *Manager) Reap(ctx context.Context) (ReapResult, error) {
	if !m.reaping.CompareAndSwap(false, true) {
		return ReapResult{Skipped: true}, nil
	}
	defer m.reaping.Store(false)

	var result ReapResult
	now := time.Now().UTC()

	entries, err := os.ReadDir(filepath.Join(m.root, workspacesDir))
	if err != nil {
		return result, fmt.Errorf("list workspaces: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			m.reapStaging(entry, now)
			continue
		}

		result.Scanned++
		manifest, err := m.LoadManifest(name)
		if err != nil {
			// A directory without a readable manifest is not a workspace;
			// leave it for inspection rather than destroying evidence.
			m.logger.Warn("skipping workspace with unreadable manifest",
				zap.String("workspace_id", name), zap.Error(err))
			result.Failed++
			continue
		}
		if !manifest.Expired(m.ttl, now) {
			continue
		}

		dir, err := m.workspacePath(name)
		if err != nil {
			result.Failed++
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to reap workspace",
				zap.String("workspace_id", name), zap.Error(err))
			result.Failed++
			continue
		}
		result.Reaped++
		m.logger.Info("workspace reaped",
			zap.String("workspace_id", name),
			zap.Time("last_access", manifest.LastAccessAt))
	}

	stale, err := m.reapBindings(ctx)
	if err != nil {
		return result, err
	}
	result.StaleBindings = stale

	return result, nil
}

// reapStaging removes import staging directories abandoned by failed imports.
func (m *Manager) reapStaging(entry os.DirEntry, now time.Time) {
	if !strings.HasPrefix(entry.Name(), stagingPrefix) {
		return
	}
	info, err := entry.Info()
	if err != nil || now.Sub(info.ModTime()) < stagingMaxAge {
		return
	}
	dir := filepath.Join(m.root, workspacesDir, entry.Name())
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("failed to remove stale staging directory",
			zap.String("dir", entry.Name()), zap.Error(err))
		return
	}
	m.logger.Info("removed stale staging directory", zap.String("dir", entry.Name()))
}
