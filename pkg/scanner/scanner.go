// Package scanner walks a configuration tree and produces a normalized
// listing keyed by slash-separated relative path. A listing is built fresh
// for every sync run; a failed walk never yields a partial listing.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hass-tools/confsync/internal/checksum"
)

// Kind distinguishes files from directories in a listing.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// Entry is one path in a tree listing.
type Entry struct {
	Path     string // relative to the scanned root, slash-separated
	Kind     Kind
	Size     int64
	Checksum string // base64 SHA-256, empty for directories
}

// Identical reports whether two entries can be treated as the same content.
// Directories are identical by kind alone; files must agree on checksum.
func (e Entry) Identical(other Entry) bool {
	if e.Kind != other.Kind {
		return false
	}
	if e.Kind == KindDir {
		return true
	}
	return e.Checksum == other.Checksum
}

// Listing maps relative paths to entries for one tree root.
type Listing map[string]Entry

// AccessError means an entry could not be read during a scan. The whole scan
// fails: a partial tree must never be mistaken for a complete one.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// TraversalError means a symlink points outside the scanned root.
type TraversalError struct {
	Path   string
	Target string
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("symlink %s escapes the tree root (target %s)", e.Path, e.Target)
}

// Scan walks root recursively and returns a listing of every file and
// directory below it. Symlinks are resolved for type and content but a link
// whose target lies outside root fails the scan with a TraversalError.
func Scan(root string) (Listing, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, &AccessError{Path: root, Err: err}
	}

	listing := make(Listing)

	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &AccessError{Path: path, Err: err}
		}
		if path == absRoot {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("get relative path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		info, err := resolve(absRoot, resolvedRoot, path, d)
		if err != nil {
			return err
		}

		entry := Entry{Path: relPath, Kind: KindFile}
		if info.IsDir() {
			entry.Kind = KindDir
		} else {
			entry.Size = info.Size()
			sum, err := checksum.File(path)
			if err != nil {
				return &AccessError{Path: path, Err: err}
			}
			entry.Checksum = sum
		}

		listing[relPath] = entry
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return listing, nil
}

// resolve returns the file info for an entry, following a symlink to its
// target after checking the target stays inside the root.
func resolve(absRoot, resolvedRoot, path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink == 0 {
		info, err := d.Info()
		if err != nil {
			return nil, &AccessError{Path: path, Err: err}
		}
		return info, nil
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}
	if target != resolvedRoot && !strings.HasPrefix(target, resolvedRoot+string(filepath.Separator)) {
		return nil, &TraversalError{Path: path, Target: target}
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, &AccessError{Path: path, Err: err}
	}
	return info, nil
}
