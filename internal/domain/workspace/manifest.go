package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

// SchemaVersion is the on-disk layout version this store reads and writes.
// A manifest carrying any other version fails closed until migrated.
const SchemaVersion = 1

const manifestFile = "manifest.json"

// Manifest establishes a workspace's existence and schema compatibility.
// Absence of a readable, schema-valid manifest means the workspace does not
// exist for every other component.
type Manifest struct {
	ID            id.WorkspaceID `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	LastAccessAt  time.Time      `json:"last_access_at"`
	SchemaVersion int            `json:"schema_version"`
}

// Expired reports whether the manifest's last access is older than ttl.
func (m *Manifest) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(m.LastAccessAt) > ttl
}

// LoadManifest reads and validates a workspace's manifest. Returns
// ErrNotFound when the workspace does not exist and ErrSchemaVersion when the
// on-disk layout is from an unsupported version.
func (m *Manager) LoadManifest(wsID string) (*Manifest, error) {
	path, err := m.workspacePath(wsID, manifestFile)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("workspace %s: %w", wsID, ErrNotFound)
		}
		return nil, fmt.Errorf("read manifest for %s: %w", wsID, err)
	}

	manifest, err := decodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", wsID, err)
	}
	if manifest.ID.String() != wsID {
		return nil, fmt.Errorf("workspace %s: manifest id mismatch: %w", wsID, ErrNotFound)
	}
	return manifest, nil
}

// Touch updates the manifest's last-access time via an atomic write.
func (m *Manager) Touch(wsID string, now time.Time) error {
	manifest, err := m.LoadManifest(wsID)
	if err != nil {
		return err
	}
	manifest.LastAccessAt = now
	return m.saveManifest(manifest)
}

func (m *Manager) saveManifest(manifest *Manifest) error {
	path, err := m.workspacePath(manifest.ID.String(), manifestFile)
	if err != nil {
		return err
	}
	data, err := encodeManifest(manifest)
	if err != nil {
		return err
	}
	return WriteAtomic(path, data)
}

func encodeManifest(manifest *Manifest) ([]byte, error) {
	data, err := sonic.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

// decodeManifest parses manifest bytes and enforces schema compatibility.
// Shared with the import path, which validates archived manifests before any
// workspace is promoted.
func decodeManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.ID == "" {
		return nil, fmt.Errorf("manifest missing id: %w", ErrNotFound)
	}
	if manifest.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: manifest has version %d, store supports %d",
			ErrSchemaVersion, manifest.SchemaVersion, SchemaVersion)
	}
	return &manifest, nil
}
