// Package workspace implements the guest workspace store: a filesystem-backed,
// session-scoped persistence layer for characters and narrative runs.
//
// Every workspace is a directory under the store root, established by a
// manifest file and owning its entities exclusively. All mutation goes through
// two primitives layered at the bottom of the package:
//   - Resolve: validates client-influenced path segments and confines the
//     result to the workspace root, including symlink escapes
//   - WriteAtomic: temp-file-then-rename writes, so readers only ever observe
//     fully-old or fully-new content
//
// On top sit the manifest operations, generic entity stores instantiated for
// characters and runs, the session resolver that maps opaque tokens to
// workspaces, TTL-based reaping, and the tar.gz export/import engine.
//
// The store holds no cross-request in-memory state; a single-node filesystem
// is the consistency boundary and atomic rename is the serialization point.
package workspace
