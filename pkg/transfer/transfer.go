// Package transfer defines the byte-transfer primitive the executor drives:
// "mirror tree A onto tree B honoring exclude and protect patterns". The
// interface is deliberately opaque so a local filesystem copy, an rsync
// invocation, or an object-storage mirror can all satisfy it.
package transfer

import (
	"context"
	"fmt"
	"strings"
)

// Request describes one transfer. Both pattern lists use the rule-set
// pattern syntax: slashed patterns are root-anchored globs, slash-free
// patterns match path components by name.
type Request struct {
	SourceRoot string
	DestRoot   string

	// ExcludePatterns are never transferred and never deleted.
	ExcludePatterns []string

	// ProtectPatterns are never deleted on the destination but may still be
	// created or updated from the source.
	ProtectPatterns []string

	// Mirror enables deletion of destination paths absent from the source.
	Mirror bool

	// Checksum forces content comparison by checksum rather than
	// size and modification time.
	Checksum bool
}

// PathError is a per-path failure inside an otherwise completed transfer.
type PathError struct {
	Path string
	Op   string // "copy" or "delete"
	Err  error
}

func (e PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Outcome reports what a transfer did. A non-empty Failed list means the
// transfer partially succeeded; the caller decides what to do about it.
type Outcome struct {
	Transferred []string
	Deleted     []string
	Failed      []PathError
	Output      string // diagnostic output from the underlying mechanism
}

// Transfer is the external byte-transfer capability.
type Transfer interface {
	Transfer(ctx context.Context, req *Request) (*Outcome, error)
}

// Error is an opaque transfer failure: the mechanism exited non-zero without
// usable per-path detail.
type Error struct {
	ExitCode int
	Output   string
}

func (e *Error) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("transfer failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("transfer failed with exit code %d: %s", e.ExitCode, out)
}
