package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Entity is the contract a record must satisfy to live in an entity store.
// Implementations are pointer types within this package.
type Entity interface {
	// EntityKey returns the entity id, used as the file name stem. It is
	// treated as an untrusted path segment.
	EntityKey() string
	// Validate checks required fields at write time. Unknown extra content
	// inside free-form maps is preserved, not validated.
	Validate() error
	// stamp records the write time on the entity.
	stamp(now time.Time)
}

// Store is the generic CRUD layer for one entity kind, keyed by
// workspace + entity id. Every path it touches goes through the path safety
// layer and every write through the atomic writer. It confirms the owning
// workspace's manifest (existence and schema version) before any operation.
type Store[T Entity] struct {
	manager *Manager
	kind    string // subdirectory name: "characters", "runs"
	// transition, when set, validates a replacement against the existing
	// record. Used by runs to keep status changes monotonic.
	transition func(old, updated T) error
}

// NewStore creates an entity store for one kind under the manager's root.
func NewStore[T Entity](m *Manager, kind string) *Store[T] {
	return &Store[T]{manager: m, kind: kind}
}

// WithTransition installs a validation hook run when a put replaces an
// existing record.
func (s *Store[T]) WithTransition(fn func(old, updated T) error) *Store[T] {
	s.transition = fn
	return s
}

func (s *Store[T]) entityPath(wsID, entityID string) (string, error) {
	return s.manager.workspacePath(wsID, s.kind, entityID+".json")
}

// Get returns one entity, or ErrNotFound.
func (s *Store[T]) Get(ctx context.Context, wsID, entityID string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if _, err := s.manager.LoadManifest(wsID); err != nil {
		return zero, err
	}

	path, err := s.entityPath(wsID, entityID)
	if err != nil {
		return zero, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, fmt.Errorf("%s %s: %w", s.kind, entityID, ErrNotFound)
		}
		return zero, fmt.Errorf("read %s %s: %w", s.kind, entityID, err)
	}

	entity, err := decodeEntity[T](data)
	if err != nil {
		return zero, fmt.Errorf("decode %s %s: %w", s.kind, entityID, err)
	}
	return entity, nil
}

// decodeEntity parses one entity record. Shared with the import path, which
// validates staged entity files before a workspace is promoted.
func decodeEntity[T Entity](data []byte) (T, error) {
	var entity T
	if err := sonic.Unmarshal(data, &entity); err != nil {
		var zero T
		return zero, err
	}
	return entity, nil
}

// Put validates the entity, stamps its update time, and writes it atomically.
// Last write wins; two entities with the same id cannot coexist because the
// id names the file and rename replaces it whole. The transition hook is
// checked against the record as read, not under a lock: concurrent puts for
// the same key are serialized only at the rename, so the slower writer can
// replace state it never observed.
func (s *Store[T]) Put(ctx context.Context, wsID string, entity T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	if _, err := s.manager.LoadManifest(wsID); err != nil {
		return err
	}

	if s.transition != nil {
		existing, err := s.Get(ctx, wsID, entity.EntityKey())
		switch {
		case err == nil:
			if err := s.transition(existing, entity); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}

	entity.stamp(time.Now().UTC())

	path, err := s.entityPath(wsID, entity.EntityKey())
	if err != nil {
		return err
	}
	dir, err := s.manager.workspacePath(wsID, s.kind)
	if err != nil {
		return err
	}
	if err := ensureDir(dir); err != nil {
		return err
	}

	data, err := sonic.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", s.kind, entity.EntityKey(), err)
	}
	return WriteAtomic(path, data)
}

// Delete removes the entity's file. Deleting an absent id returns ErrNotFound.
func (s *Store[T]) Delete(ctx context.Context, wsID, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.manager.LoadManifest(wsID); err != nil {
		return err
	}

	path, err := s.entityPath(wsID, entityID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s %s: %w", s.kind, entityID, ErrNotFound)
		}
		return fmt.Errorf("delete %s %s: %w", s.kind, entityID, err)
	}
	return nil
}

// List returns every entity of the kind, ordered by entity id. Ids are
// k-sortable ULIDs for server-generated records, so this is creation order.
// Corrupt entries are skipped and logged rather than failing the listing.
func (s *Store[T]) List(ctx context.Context, wsID string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.manager.LoadManifest(wsID); err != nil {
		return nil, err
	}

	dir, err := s.manager.workspacePath(wsID, s.kind)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", s.kind, err)
	}

	result := make([]T, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		entityID := strings.TrimSuffix(name, ".json")
		entity, err := s.Get(ctx, wsID, entityID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // deleted between readdir and read
			}
			s.manager.logger.Warn("skipping corrupt entity",
				zap.String("kind", s.kind),
				zap.String("workspace_id", wsID),
				zap.String("entity_id", entityID),
				zap.Error(err))
			continue
		}
		result = append(result, entity)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityKey() < result[j].EntityKey()
	})
	return result, nil
}
