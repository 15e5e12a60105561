package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

// binding maps a hashed session token to its workspace. One file per token
// under sessions/, named by the token's SHA-256 digest so the filename is
// always a safe segment and raw credentials never reach the filesystem.
type binding struct {
	TokenHash   string         `json:"token_hash"`
	WorkspaceID id.WorkspaceID `json:"workspace_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Resolution is the outcome of resolving a session token.
type Resolution struct {
	WorkspaceID id.WorkspaceID
	// Token is set only when a new workspace was provisioned; the caller
	// must hand it back to the client, it is never persisted in the clear.
	Token   string
	Created bool
}

// ResolveSession maps an inbound session token to a workspace.
//
// Absent or unknown tokens provision a fresh workspace with a fresh token; a
// client-supplied token is never adopted as a credential. A known token whose
// workspace manifest is missing or expired is treated the same way, so a
// reaped workspace is never resurrected under its old token. A live hit
// touches the manifest's last-access time.
func (m *Manager) ResolveSession(ctx context.Context, token string) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	now := time.Now().UTC()
	if token != "" {
		bound, err := m.loadBinding(id.HashToken(token))
		switch {
		case err == nil:
			manifest, err := m.LoadManifest(bound.WorkspaceID.String())
			if err == nil && !manifest.Expired(m.ttl, now) {
				if err := m.Touch(bound.WorkspaceID.String(), now); err != nil {
					return Resolution{}, err
				}
				return Resolution{WorkspaceID: bound.WorkspaceID}, nil
			}
			if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrSchemaVersion) {
				return Resolution{}, err
			}
			// Workspace gone, expired, or unreadable: drop the stale
			// binding and fall through to a fresh workspace.
			m.removeBinding(bound.TokenHash)
		case errors.Is(err, ErrNotFound):
			// Unknown token, fall through.
		default:
			return Resolution{}, err
		}
	}

	return m.createSession(ctx)
}

func (m *Manager) createSession(ctx context.Context) (Resolution, error) {
	manifest, err := m.Create(ctx)
	if err != nil {
		return Resolution{}, err
	}

	token, err := id.NewSessionToken()
	if err != nil {
		return Resolution{}, err
	}

	bound := binding{
		TokenHash:   id.HashToken(token),
		WorkspaceID: manifest.ID,
		CreatedAt:   manifest.CreatedAt,
	}
	if err := m.saveBinding(&bound); err != nil {
		// Roll the workspace back; a workspace nobody can reach is garbage
		// the reaper would otherwise carry until TTL.
		if dir, perr := m.workspacePath(manifest.ID.String()); perr == nil {
			os.RemoveAll(dir)
		}
		return Resolution{}, err
	}

	return Resolution{WorkspaceID: manifest.ID, Token: token, Created: true}, nil
}

// BindSession issues a fresh token bound to an existing workspace. The
// import flow uses it to hand the caller's session over to the freshly
// imported workspace.
func (m *Manager) BindSession(ctx context.Context, wsID id.WorkspaceID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := m.LoadManifest(wsID.String()); err != nil {
		return "", err
	}

	token, err := id.NewSessionToken()
	if err != nil {
		return "", err
	}
	bound := binding{
		TokenHash:   id.HashToken(token),
		WorkspaceID: wsID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.saveBinding(&bound); err != nil {
		return "", err
	}
	return token, nil
}

func (m *Manager) bindingPath(tokenHash string) (string, error) {
	return Resolve(m.root, sessionsDir, tokenHash+".json")
}

func (m *Manager) loadBinding(tokenHash string) (*binding, error) {
	path, err := m.bindingPath(tokenHash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session binding: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("read session binding: %w", err)
	}
	// A binding that fails to decode is as good as absent: the token cannot
	// be trusted to map anywhere, so resolution starts a fresh workspace.
	var bound binding
	if err := sonic.Unmarshal(data, &bound); err != nil {
		m.logger.Warn("corrupt session binding", zap.String("token_hash", tokenHash), zap.Error(err))
		return nil, fmt.Errorf("corrupt session binding: %w", ErrNotFound)
	}
	if bound.WorkspaceID == "" {
		return nil, fmt.Errorf("session binding missing workspace: %w", ErrNotFound)
	}
	return &bound, nil
}

func (m *Manager) saveBinding(bound *binding) error {
	path, err := m.bindingPath(bound.TokenHash)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(bound)
	if err != nil {
		return fmt.Errorf("marshal session binding: %w", err)
	}
	return WriteAtomic(path, data)
}

func (m *Manager) removeBinding(tokenHash string) {
	path, err := m.bindingPath(tokenHash)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("failed to remove session binding", zap.Error(err))
	}
}

// reapBindings removes bindings whose workspace no longer exists. Runs inside
// the reap sweep, after expired workspaces are gone.
func (m *Manager) reapBindings(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, sessionsDir))
	if err != nil {
		return 0, fmt.Errorf("list session bindings: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		tokenHash := strings.TrimSuffix(name, ".json")
		bound, err := m.loadBinding(tokenHash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				m.removeBinding(tokenHash)
				removed++
			}
			continue
		}
		if _, err := m.LoadManifest(bound.WorkspaceID.String()); errors.Is(err, ErrNotFound) {
			m.removeBinding(tokenHash)
			removed++
		}
	}
	return removed, nil
}
