package workspace

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

// Archive limits. Imports are guest-supplied bytes; both the per-entry and
// the whole-archive budget are capped before anything touches the staging
// directory.
const (
	MaxArchiveEntryBytes = 8 << 20
	MaxArchiveEntries    = 4096
)

// Export bundles a workspace (manifest plus all entity files) into a gzipped
// tar archive. Entries are sorted by relative path and carry fixed header
// metadata, so identical workspace state produces byte-stable output.
func (m *Manager) Export(ctx context.Context, wsID string) ([]byte, error) {
	if _, err := m.LoadManifest(wsID); err != nil {
		return nil, err
	}
	root, err := m.workspacePath(wsID)
	if err != nil {
		return nil, err
	}

	var relPaths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		// Temp files from in-flight writes are not workspace state.
		if strings.HasPrefix(filepath.Base(rel), ".") {
			return nil
		}
		relPaths = append(relPaths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace %s: %w", wsID, err)
	}
	sort.Strings(relPaths)

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzWriter)

	for _, rel := range relPaths {
		full, err := Resolve(root, strings.Split(rel, "/")...)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		header := &tar.Header{
			Name:    rel,
			Mode:    int64(fileMode),
			Size:    int64(len(data)),
			ModTime: time.Unix(0, 0).UTC(),
			Format:  tar.FormatUSTAR,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write tar header %s: %w", rel, err)
		}
		if _, err := tarWriter.Write(data); err != nil {
			return nil, fmt.Errorf("write tar entry %s: %w", rel, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalize tar: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return nil, fmt.Errorf("finalize gzip: %w", err)
	}

	m.logger.Info("workspace exported",
		zap.String("workspace_id", wsID),
		zap.Int("entries", len(relPaths)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// Import restores an exported archive into a brand-new workspace and returns
// its manifest. The archive is validated before anything is visible: bytes
// must sniff as gzip, the manifest must be present and schema-compatible,
// every entry path must resolve inside the staging root, and every entity
// file must decode. Extraction happens in a hidden staging directory that is
// promoted by a single rename on success and removed wholesale on any
// failure, so a bad import never leaves partial state.
//
// The workspace id is always freshly generated; an archive can never
// overwrite an existing workspace.
func (m *Manager) Import(ctx context.Context, data []byte) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !mimetype.Detect(data).Is("application/gzip") {
		return nil, fmt.Errorf("%w: not a gzip archive", ErrMalformedArchive)
	}

	staging := filepath.Join(m.root, workspacesDir, stagingPrefix+id.Default().GenerateString())
	if err := ensureDir(staging); err != nil {
		return nil, err
	}
	manifest, err := m.importInto(ctx, staging, data)
	if err != nil {
		os.RemoveAll(staging)
		return nil, err
	}

	final, err := m.workspacePath(manifest.ID.String())
	if err != nil {
		os.RemoveAll(staging)
		return nil, err
	}
	if err := os.Rename(staging, final); err != nil {
		os.RemoveAll(staging)
		return nil, fmt.Errorf("promote imported workspace: %w", err)
	}

	m.logger.Info("workspace imported", zap.String("workspace_id", manifest.ID.String()))
	return manifest, nil
}

// importInto extracts and validates the archive inside the staging directory.
func (m *Manager) importInto(ctx context.Context, staging string, data []byte) (*Manifest, error) {
	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
		default:
			// Symlinks, devices, and friends have no business in a
			// workspace archive.
			return nil, fmt.Errorf("%w: unsupported entry type for %q", ErrMalformedArchive, header.Name)
		}

		entries++
		if entries > MaxArchiveEntries {
			return nil, fmt.Errorf("%w: too many entries", ErrMalformedArchive)
		}
		if header.Size > MaxArchiveEntryBytes {
			return nil, fmt.Errorf("%w: entry %q exceeds size limit", ErrMalformedArchive, header.Name)
		}

		// Every archived entry name is validated through the path safety
		// layer exactly as written; non-canonical names ("a/./b", "a//b",
		// "../" tricks) fail the whole import rather than being normalized.
		target, err := Resolve(staging, strings.Split(header.Name, "/")...)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrMalformedArchive, header.Name, err)
		}

		content, err := io.ReadAll(io.LimitReader(tarReader, MaxArchiveEntryBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: read entry %q: %v", ErrMalformedArchive, header.Name, err)
		}
		if len(content) > MaxArchiveEntryBytes {
			return nil, fmt.Errorf("%w: entry %q exceeds size limit", ErrMalformedArchive, header.Name)
		}

		if err := ensureDir(filepath.Dir(target)); err != nil {
			return nil, err
		}
		if err := WriteAtomic(target, content); err != nil {
			return nil, err
		}
	}

	return m.validateStaged(staging)
}

// validateStaged checks the extracted tree and rewrites the manifest under a
// fresh workspace id.
func (m *Manager) validateStaged(staging string) (*Manifest, error) {
	manifestData, err := os.ReadFile(filepath.Join(staging, manifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: missing manifest", ErrMalformedArchive)
		}
		return nil, fmt.Errorf("read staged manifest: %w", err)
	}
	manifest, err := decodeManifest(manifestData)
	if err != nil {
		if errors.Is(err, ErrSchemaVersion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}

	// Only the manifest and the known entity kinds may appear at the top
	// level; anything else would be promoted into the workspace unexamined.
	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, fmt.Errorf("list staged workspace: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case !entry.IsDir() && name == manifestFile:
		case entry.IsDir() && (name == charactersKind || name == runsKind):
		default:
			return nil, fmt.Errorf("%w: unexpected entry %s", ErrMalformedArchive, name)
		}
	}

	if err := validateStagedEntities[*Character](staging, charactersKind); err != nil {
		return nil, err
	}
	if err := validateStagedEntities[*Run](staging, runsKind); err != nil {
		return nil, err
	}

	manifest.ID = id.NewWorkspaceID()
	manifest.LastAccessAt = time.Now().UTC()

	data, err := encodeManifest(manifest)
	if err != nil {
		return nil, err
	}
	if err := WriteAtomic(filepath.Join(staging, manifestFile), data); err != nil {
		return nil, err
	}
	return manifest, nil
}

// validateStagedEntities decodes and validates every staged entity file of
// one kind. Unlike listing, import is strict: a single corrupt record fails
// the whole archive.
func validateStagedEntities[T Entity](staging, kind string) error {
	entries, err := os.ReadDir(filepath.Join(staging, kind))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list staged %s: %w", kind, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			return fmt.Errorf("%w: unexpected entry %s/%s", ErrMalformedArchive, kind, name)
		}
		data, err := os.ReadFile(filepath.Join(staging, kind, name))
		if err != nil {
			return fmt.Errorf("read staged %s/%s: %w", kind, name, err)
		}
		entity, err := decodeEntity[T](data)
		if err != nil {
			return fmt.Errorf("%w: %s/%s: %v", ErrMalformedArchive, kind, name, err)
		}
		if entity.EntityKey()+".json" != name {
			return fmt.Errorf("%w: %s/%s: id does not match file name", ErrMalformedArchive, kind, name)
		}
		if err := entity.Validate(); err != nil {
			return fmt.Errorf("%w: %s/%s: %v", ErrMalformedArchive, kind, name, err)
		}
	}
	return nil
}
