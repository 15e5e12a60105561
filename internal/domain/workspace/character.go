package workspace

import (
	"fmt"
	"time"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

const charactersKind = "characters"

// Character is an authored character owned by a single workspace. Attributes
// is a free-form mapping (faction, role, voice, and whatever else the author
// records); unknown keys are preserved verbatim across writes.
type Character struct {
	ID          id.CharacterID `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// EntityKey returns the character id.
func (c *Character) EntityKey() string { return c.ID.String() }

// Validate checks required fields at write time.
func (c *Character) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("character id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("character name is required")
	}
	return nil
}

func (c *Character) stamp(now time.Time) { c.UpdatedAt = now }

// CharacterStore is the character CRUD layer for a manager's workspaces.
type CharacterStore = Store[*Character]

// NewCharacterStore creates the character store.
func NewCharacterStore(m *Manager) *CharacterStore {
	return NewStore[*Character](m, charactersKind)
}
