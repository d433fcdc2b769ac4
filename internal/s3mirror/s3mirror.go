// Package s3mirror mirrors a local configuration tree into an object-storage
// bucket. It backs the backup command: same rule semantics as a tree sync,
// with objects standing in for destination files.
package s3mirror

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hass-tools/confsync/pkg/logger"
	"github.com/hass-tools/confsync/pkg/rules"
	"github.com/hass-tools/confsync/pkg/scanner"
	"github.com/hass-tools/confsync/pkg/transfer"
)

const defaultConcurrency = 8

// Mirror implements the transfer interface against a bucket destination.
// Directories have no object representation, so only file entries are
// mirrored.
type Mirror struct {
	client      Client
	bucket      string
	prefix      string
	logger      logger.Logger
	concurrency int
}

// New creates a mirror for an s3://bucket/prefix destination URI.
func New(client Client, destination string, log logger.Logger) (*Mirror, error) {
	bucket, prefix, err := ParseDestination(destination)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Null{}
	}
	return &Mirror{
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		logger:      log,
		concurrency: defaultConcurrency,
	}, nil
}

// ParseDestination splits an s3://bucket/prefix URI. The prefix may be empty.
func ParseDestination(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("backup destination %q: want s3://bucket[/prefix]", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("backup destination %q: missing bucket", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// Transfer implements the transfer.Transfer interface. The request's
// DestRoot is ignored; the destination is the bucket the mirror was built
// with.
func (m *Mirror) Transfer(ctx context.Context, req *transfer.Request) (*transfer.Outcome, error) {
	set, err := transfer.RuleSetFromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("build rule set: %w", err)
	}

	source, err := scanner.Scan(req.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}

	remote, err := m.client.ListObjects(ctx, m.bucket, m.prefix)
	if err != nil {
		return nil, fmt.Errorf("list destination: %w", err)
	}
	remoteSizes := make(map[string]int64, len(remote))
	for _, obj := range remote {
		remoteSizes[obj.Path] = obj.Size
	}

	uploads, outcome, err := m.planUploads(ctx, source, remoteSizes, set, req.Checksum)
	if err != nil {
		return nil, err
	}
	deletes := planDeletes(source, remote, set, req.Mirror)

	m.run(ctx, uploads, deletes, req.SourceRoot, outcome)
	return outcome, nil
}

// planUploads picks the source files that need uploading. Size is compared
// from the listing; equal sizes fall back to a HeadObject checksum compare
// when requested.
func (m *Mirror) planUploads(ctx context.Context, source scanner.Listing, remoteSizes map[string]int64, set *rules.Set, checksum bool) ([]scanner.Entry, *transfer.Outcome, error) {
	outcome := &transfer.Outcome{}
	var uploads []scanner.Entry

	paths := make([]string, 0, len(source))
	for p := range source {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		entry := source[p]
		if entry.Kind == scanner.KindDir {
			continue
		}
		if set.Classify(p, false) == rules.ActionExclude {
			continue
		}

		size, exists := remoteSizes[p]
		if !exists || size != entry.Size {
			uploads = append(uploads, entry)
			continue
		}
		if !checksum {
			continue
		}

		info, err := m.client.HeadObject(ctx, m.bucket, m.key(p))
		if err != nil {
			outcome.Failed = append(outcome.Failed, transfer.PathError{Path: p, Op: "head", Err: err})
			continue
		}
		// An object without a stored checksum cannot be verified, so it is
		// re-uploaded.
		if info.Checksum == "" || info.Checksum != entry.Checksum {
			uploads = append(uploads, entry)
		}
	}

	return uploads, outcome, nil
}

// planDeletes picks the remote-only objects to remove. Excluded and
// protected paths are both kept.
func planDeletes(source scanner.Listing, remote []ObjectMetadata, set *rules.Set, mirror bool) []string {
	if !mirror {
		return nil
	}

	var deletes []string
	for _, obj := range remote {
		if _, exists := source[obj.Path]; exists {
			continue
		}
		if set.Classify(obj.Path, false) != rules.ActionAllow {
			continue
		}
		deletes = append(deletes, obj.Path)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(deletes)))
	return deletes
}

// run executes uploads and deletes with bounded concurrency, recording
// per-path failures in the outcome.
func (m *Mirror) run(ctx context.Context, uploads []scanner.Entry, deletes []string, sourceRoot string, outcome *transfer.Outcome) {
	type result struct {
		path string
		op   string
		err  error
	}

	ops := make([]result, 0, len(uploads)+len(deletes))
	for _, entry := range uploads {
		ops = append(ops, result{path: entry.Path, op: "upload"})
	}
	for _, p := range deletes {
		ops = append(ops, result{path: p, op: "delete"})
	}

	entries := make(map[string]scanner.Entry, len(uploads))
	for _, entry := range uploads {
		entries[entry.Path] = entry
	}

	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup

	for i := range ops {
		wg.Add(1)
		go func(op *result) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				op.err = err
				return
			}

			switch op.op {
			case "upload":
				m.logger.Copy(op.path, fmt.Sprintf("s3://%s/%s", m.bucket, m.key(op.path)))
				op.err = m.upload(ctx, sourceRoot, entries[op.path])
			case "delete":
				m.logger.Delete(fmt.Sprintf("s3://%s/%s", m.bucket, m.key(op.path)))
				op.err = m.client.DeleteObject(ctx, m.bucket, m.key(op.path))
			}
			if op.err != nil {
				m.logger.Error(op.op, op.path, op.err)
			}
		}(&ops[i])
	}
	wg.Wait()

	for _, op := range ops {
		if op.err != nil {
			outcome.Failed = append(outcome.Failed, transfer.PathError{Path: op.path, Op: op.op, Err: op.err})
			continue
		}
		switch op.op {
		case "upload":
			outcome.Transferred = append(outcome.Transferred, op.path)
		case "delete":
			outcome.Deleted = append(outcome.Deleted, op.path)
		}
	}
}

func (m *Mirror) upload(ctx context.Context, sourceRoot string, entry scanner.Entry) error {
	file, err := os.Open(filepath.Join(sourceRoot, filepath.FromSlash(entry.Path)))
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return m.client.PutObject(ctx, &PutObjectRequest{
		Bucket:      m.bucket,
		Key:         m.key(entry.Path),
		Body:        file,
		Size:        entry.Size,
		Checksum:    entry.Checksum,
		ContentType: guessContentType(entry.Path),
	})
}

func (m *Mirror) key(p string) string {
	if m.prefix == "" {
		return p
	}
	return m.prefix + "/" + p
}

func guessContentType(p string) string {
	return mime.TypeByExtension(path.Ext(p))
}
