// Package id provides centralized ID and credential generation.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: directory listings come back in creation order
//   - Prefixed types: type-specific prefixes for debugging (ws_*, chr_*, run_*)
//   - Type safety: separate types prevent ID misuse
//
// It also generates the opaque session tokens that bind a browser session to
// a workspace. Tokens are the sole isolation credential, so they come from
// crypto/rand and are only ever persisted as a SHA-256 digest.
package id

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// WorkspaceID identifies a guest workspace
type WorkspaceID string

// CharacterID identifies a character within a workspace
type CharacterID string

// RunID identifies a narrative run within a workspace
type RunID string

// RequestID identifies an API request
type RequestID string

// ID prefixes (for debugging and type identification)
const (
	WorkspacePrefix = "ws"
	CharacterPrefix = "chr"
	RunPrefix       = "run"
	RequestPrefix   = "req"
)

// SessionTokenBytes is the entropy carried by a session token.
const SessionTokenBytes = 32

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewWorkspaceID generates a new workspace ID
func NewWorkspaceID() WorkspaceID {
	return WorkspaceID(Default().GenerateWithPrefix(WorkspacePrefix))
}

// NewCharacterID generates a new character ID
func NewCharacterID() CharacterID {
	return CharacterID(Default().GenerateWithPrefix(CharacterPrefix))
}

// NewRunID generates a new run ID
func NewRunID() RunID {
	return RunID(Default().GenerateWithPrefix(RunPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// String methods for ID types
func (id WorkspaceID) String() string { return string(id) }
func (id CharacterID) String() string { return string(id) }
func (id RunID) String() string       { return string(id) }
func (id RequestID) String() string   { return string(id) }

// NewSessionToken generates an opaque, unguessable session token.
func NewSessionToken() (string, error) {
	buf := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest of a session token. The digest is
// what gets persisted and what names the binding file on disk, so raw
// credentials never touch the filesystem.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
