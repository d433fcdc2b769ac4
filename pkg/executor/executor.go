// Package executor applies a sync plan through the transfer primitive.
package executor

import (
	"context"
	"fmt"

	"github.com/hass-tools/confsync/pkg/logger"
	"github.com/hass-tools/confsync/pkg/planner"
	"github.com/hass-tools/confsync/pkg/rules"
	"github.com/hass-tools/confsync/pkg/transfer"
)

// Executor turns a plan into one transfer call. The exclude and protect
// pattern lists handed to the transfer are derived from the same rule set
// the planner used; this single derivation is what keeps "what we planned"
// and "what the transfer tool actually does" from drifting apart.
type Executor struct {
	transfer transfer.Transfer
	set      *rules.Set
	logger   logger.Logger
}

// New creates an executor bound to a transfer mechanism and the rule set of
// the active direction.
func New(tr transfer.Transfer, set *rules.Set, log logger.Logger) *Executor {
	if log == nil {
		log = logger.Null{}
	}
	return &Executor{transfer: tr, set: set, logger: log}
}

// Result reports what an apply did.
type Result struct {
	Copied  int
	Deleted int
	Skipped int

	// Failed enumerates per-path failures of a partially successful
	// transfer. The executor never retries them.
	Failed []transfer.PathError
}

// OK reports whether every planned mutation succeeded.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// Apply executes a plan by mirroring sourceRoot onto destRoot. A converged
// plan returns immediately without invoking the transfer. An opaque transfer
// failure is returned as an error (*transfer.Error for a non-zero exit with
// diagnostics); partial failures are reported in the Result instead.
func (e *Executor) Apply(ctx context.Context, items []planner.Item, sourceRoot, destRoot string) (*Result, error) {
	stats := planner.Summarize(items)

	for _, item := range items {
		switch item.Action {
		case planner.ActionCopy:
			e.logger.Copy(item.Path, destRoot)
		case planner.ActionDelete:
			e.logger.Delete(item.Path)
		}
	}

	if planner.Converged(items) {
		return &Result{Skipped: stats.Skips}, nil
	}

	outcome, err := e.transfer.Transfer(ctx, &transfer.Request{
		SourceRoot:      sourceRoot,
		DestRoot:        destRoot,
		ExcludePatterns: e.set.ExcludePatterns(),
		ProtectPatterns: e.set.ProtectPatterns(),
		Mirror:          true,
		Checksum:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("apply plan: %w", err)
	}

	for _, f := range outcome.Failed {
		e.logger.Error(f.Op, f.Path, f.Err)
	}

	return &Result{
		Copied:  len(outcome.Transferred),
		Deleted: len(outcome.Deleted),
		Skipped: stats.Skips,
		Failed:  outcome.Failed,
	}, nil
}
