package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Partial-transfer exit codes: some files made it, some did not.
// See rsync(1) EXIT VALUES.
const (
	rsyncExitPartial       = 23
	rsyncExitPartialVanish = 24
)

// Rsync runs the rsync binary as the transfer primitive. The rule set is
// expressed in rsync's native filter syntax: "- pattern" for excludes and
// "P pattern" for protect-from-delete, written to a per-run filter file.
type Rsync struct {
	// Binary is the rsync executable, "rsync" by default.
	Binary string
}

// NewRsync creates an rsync-backed transfer.
func NewRsync() *Rsync {
	return &Rsync{Binary: "rsync"}
}

// Transfer implements the Transfer interface.
func (r *Rsync) Transfer(ctx context.Context, req *Request) (*Outcome, error) {
	filterFile, err := writeFilterFile(req)
	if err != nil {
		return nil, fmt.Errorf("write filter file: %w", err)
	}
	defer os.Remove(filterFile)

	args := buildRsyncArgs(req, filterFile)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		outcome := parseItemized(string(output))
		outcome.Output = string(output)
		return outcome, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("run %s: %w", r.Binary, err)
	}

	code := exitErr.ExitCode()
	if code == rsyncExitPartial || code == rsyncExitPartialVanish {
		outcome := parseItemized(string(output))
		outcome.Output = string(output)
		outcome.Failed = parseFailures(string(output))
		if len(outcome.Failed) == 0 {
			// Partial exit with no parseable detail is as opaque as any
			// other failure.
			return nil, &Error{ExitCode: code, Output: string(output)}
		}
		return outcome, nil
	}

	return nil, &Error{ExitCode: code, Output: string(output)}
}

// buildRsyncArgs assembles the rsync invocation for a request.
func buildRsyncArgs(req *Request, filterFile string) []string {
	args := []string{"-a", "--itemize-changes"}
	if req.Checksum {
		args = append(args, "--checksum")
	}
	if req.Mirror {
		args = append(args, "--delete")
	}
	if filterFile != "" {
		args = append(args, "--filter=. "+filterFile)
	}
	args = append(args,
		filepath.Clean(req.SourceRoot)+string(filepath.Separator),
		filepath.Clean(req.DestRoot)+string(filepath.Separator),
	)
	return args
}

// writeFilterFile renders the request's pattern lists as an rsync filter
// file and returns its path. Returns "" when there are no patterns.
func writeFilterFile(req *Request) (string, error) {
	if len(req.ExcludePatterns) == 0 && len(req.ProtectPatterns) == 0 {
		return "", nil
	}

	f, err := os.CreateTemp("", "confsync-filter-*")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, p := range req.ExcludePatterns {
		b.WriteString("- " + rsyncPattern(p) + "\n")
	}
	for _, p := range req.ProtectPatterns {
		b.WriteString("P " + rsyncPattern(p) + "\n")
	}

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// rsyncPattern maps a rule pattern to rsync's anchoring convention: slashed
// patterns are root-anchored with a leading slash, slash-free patterns are
// left alone so rsync matches them against any path component.
func rsyncPattern(p string) string {
	if strings.Contains(strings.TrimSuffix(p, "/"), "/") && !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// parseItemized extracts transferred and deleted paths from
// --itemize-changes output.
func parseItemized(output string) *Outcome {
	outcome := &Outcome{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "*deleting") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				outcome.Deleted = append(outcome.Deleted, strings.TrimSuffix(fields[1], "/"))
			}
			continue
		}
		// Itemized change lines start with a change summary like
		// ">f+++++++++" or "cd+++++++++" followed by the path.
		if len(line) > 12 && (line[0] == '>' || line[0] == 'c') && line[11] == ' ' {
			outcome.Transferred = append(outcome.Transferred, strings.TrimSuffix(line[12:], "/"))
		}
	}
	return outcome
}

// parseFailures extracts per-path errors from rsync diagnostics, e.g.
//
//	rsync: [sender] send_files failed to open "/tree/file": Permission denied (13)
func parseFailures(output string) []PathError {
	var failures []PathError
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "rsync:") {
			continue
		}
		path := quotedPath(line)
		if path == "" {
			continue
		}
		failures = append(failures, PathError{
			Path: path,
			Op:   "copy",
			Err:  errors.New(line),
		})
	}
	return failures
}

// quotedPath returns the first double-quoted substring of line, or "".
func quotedPath(line string) string {
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(line[start+1:], '"')
	if end < 0 {
		return ""
	}
	return line[start+1 : start+1+end]
}
