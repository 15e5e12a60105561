package workspace

import "errors"

// Error taxonomy for store operations. Callers classify with errors.Is:
// validation failures (traversal, schema, malformed archives) are never
// retried; NotFound is a normal recoverable condition.
var (
	// ErrPathTraversal indicates a client-influenced path segment attempted
	// to escape its workspace root. Always rejected, never sanitized.
	ErrPathTraversal = errors.New("path escapes workspace root")

	// ErrNotFound indicates the workspace or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSchemaVersion indicates a manifest schema version this store does
	// not support. All entity operations on the workspace fail closed.
	ErrSchemaVersion = errors.New("unsupported schema version")

	// ErrMalformedArchive indicates an import archive that failed structural
	// validation. The whole import is aborted with no partial state.
	ErrMalformedArchive = errors.New("malformed archive")

	// ErrInvalidEntity indicates an entity that failed field validation at
	// write time.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidTransition indicates a run status change that would move
	// backwards. Transitions are monotonic: pending -> running -> terminal.
	ErrInvalidTransition = errors.New("invalid status transition")
)
