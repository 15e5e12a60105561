package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckSegment validates a single client-influenced path segment. A segment
// must name exactly one directory entry: no separators, no dot components,
// nothing absolute, no NUL bytes.
func CheckSegment(segment string) error {
	if segment == "" {
		return fmt.Errorf("%w: empty segment", ErrPathTraversal)
	}
	if segment == "." || segment == ".." {
		return fmt.Errorf("%w: dot segment %q", ErrPathTraversal, segment)
	}
	if strings.ContainsAny(segment, `/\`) || strings.ContainsRune(segment, 0) {
		return fmt.Errorf("%w: segment %q contains separator", ErrPathTraversal, segment)
	}
	if filepath.IsAbs(segment) {
		return fmt.Errorf("%w: absolute segment %q", ErrPathTraversal, segment)
	}
	if filepath.Clean(segment) != segment {
		return fmt.Errorf("%w: segment %q is not clean", ErrPathTraversal, segment)
	}
	return nil
}

// Resolve joins client-influenced segments under root and returns the absolute
// target path. Each segment is validated individually, and the final path is
// re-verified to live under the canonicalized root with symlinks resolved, so
// a symlink planted inside a workspace cannot redirect writes elsewhere.
//
// Resolve performs no filesystem mutation. The root must exist.
func Resolve(root string, segments ...string) (string, error) {
	canonRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("canonicalize root %s: %w", root, err)
	}

	target := canonRoot
	for _, segment := range segments {
		if err := CheckSegment(segment); err != nil {
			return "", err
		}
		target = filepath.Join(target, segment)
	}

	// The target itself may not exist yet. Canonicalize the deepest existing
	// ancestor and re-attach the remainder before the containment check.
	real, err := resolveExisting(target)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", target, err)
	}
	if real != canonRoot && !strings.HasPrefix(real, canonRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s resolves outside %s", ErrPathTraversal, target, canonRoot)
	}

	return target, nil
}

// resolveExisting canonicalizes the longest existing prefix of path and joins
// the non-existing remainder back on. Symlinks in the existing portion are
// fully resolved; the remainder cannot contain any because it does not exist.
func resolveExisting(path string) (string, error) {
	remainder := make([]string, 0, 4)
	current := path
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(remainder) - 1; i >= 0; i-- {
				real = filepath.Join(real, remainder[i])
			}
			return real, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}
