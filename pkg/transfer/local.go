package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hass-tools/confsync/pkg/planner"
	"github.com/hass-tools/confsync/pkg/rules"
	"github.com/hass-tools/confsync/pkg/scanner"
)

// Local mirrors one locally accessible tree onto another. It is the
// transport for mounted remote trees (Samba/SSHFS) and for tests.
//
// The request's pattern lists are rebuilt into a rule set and fed through
// the same planner the caller used, so the primitive's delete behavior
// cannot drift from what was planned.
type Local struct{}

// NewLocal creates a local filesystem transfer.
func NewLocal() *Local {
	return &Local{}
}

// Transfer implements the Transfer interface.
func (l *Local) Transfer(ctx context.Context, req *Request) (*Outcome, error) {
	set, err := RuleSetFromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("build rule set: %w", err)
	}

	source, err := scanner.Scan(req.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	dest, err := scanner.Scan(req.DestRoot)
	if err != nil {
		return nil, fmt.Errorf("scan destination: %w", err)
	}

	outcome := &Outcome{}
	for _, item := range planner.Plan(source, dest, set) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch item.Action {
		case planner.ActionCopy:
			if err := l.copy(req, item); err != nil {
				outcome.Failed = append(outcome.Failed, PathError{Path: item.Path, Op: "copy", Err: err})
				continue
			}
			outcome.Transferred = append(outcome.Transferred, item.Path)

		case planner.ActionDelete:
			if !req.Mirror {
				continue
			}
			if err := os.RemoveAll(filepath.Join(req.DestRoot, filepath.FromSlash(item.Path))); err != nil {
				outcome.Failed = append(outcome.Failed, PathError{Path: item.Path, Op: "delete", Err: err})
				continue
			}
			outcome.Deleted = append(outcome.Deleted, item.Path)
		}
	}

	return outcome, nil
}

func (l *Local) copy(req *Request, item planner.Item) error {
	src := filepath.Join(req.SourceRoot, filepath.FromSlash(item.Path))
	dst := filepath.Join(req.DestRoot, filepath.FromSlash(item.Path))

	if item.Kind == scanner.KindDir {
		if info, err := os.Lstat(dst); err == nil && !info.IsDir() {
			if err := os.Remove(dst); err != nil {
				return err
			}
		}
		return os.MkdirAll(dst, 0o755)
	}

	if info, err := os.Lstat(dst); err == nil && info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}
	return copyFile(src, dst)
}

// copyFile writes dst via a temp file in the destination directory and an
// atomic rename, preserving the source mode.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".confsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// RuleSetFromRequest rebuilds a request's pattern lists into an ordered rule
// set: excludes first, then protects, mirroring how the executor derived the
// lists in the first place. Transports that plan their own work use it so
// their matching cannot diverge from the planner's.
func RuleSetFromRequest(req *Request) (*rules.Set, error) {
	rs := make([]rules.Rule, 0, len(req.ExcludePatterns)+len(req.ProtectPatterns)+1)
	for _, p := range req.ExcludePatterns {
		rs = append(rs, rules.Rule{Pattern: p, Action: rules.ActionExclude})
	}
	for _, p := range req.ProtectPatterns {
		rs = append(rs, rules.Rule{Pattern: p, Action: rules.ActionProtect})
	}
	if len(rs) == 0 {
		// The rule engine rejects empty sets; a transfer with no patterns
		// is a plain full mirror.
		rs = append(rs, rules.Rule{Pattern: "**", Action: rules.ActionAllow})
	}
	return rules.New(rs)
}
