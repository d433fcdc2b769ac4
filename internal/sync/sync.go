// Package sync orchestrates one synchronization run: scan both trees, plan,
// apply through the transfer primitive, and notify the instance after a
// successful push.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/hass-tools/confsync/internal/config"
	"github.com/hass-tools/confsync/internal/reload"
	"github.com/hass-tools/confsync/pkg/executor"
	"github.com/hass-tools/confsync/pkg/logger"
	"github.com/hass-tools/confsync/pkg/planner"
	"github.com/hass-tools/confsync/pkg/rules"
	"github.com/hass-tools/confsync/pkg/scanner"
	"github.com/hass-tools/confsync/pkg/transfer"
)

// Direction names which tree is the source of truth for a run.
type Direction string

const (
	// DirectionPush mirrors the local tree onto the remote instance.
	DirectionPush Direction = "push"

	// DirectionPull mirrors the remote instance onto the local tree.
	DirectionPull Direction = "pull"

	// DirectionBackup mirrors the local tree into an out-of-band destination.
	DirectionBackup Direction = "backup"
)

// Reloader notifies the instance after a push. Satisfied by *reload.Client.
type Reloader interface {
	ReloadAll(ctx context.Context) []reload.Result
}

// Options adjust how the engine runs.
type Options struct {
	// DryRun computes and reports the plan without applying it.
	DryRun bool

	// NoReload suppresses the post-push reload notification.
	NoReload bool
}

// Engine runs directional syncs over a configured pair of tree roots.
type Engine struct {
	cfg      *config.Config
	transfer transfer.Transfer
	reloader Reloader
	logger   logger.Logger
	opts     Options
}

// New creates an engine. The reloader may be nil to disable notification;
// a nil logger discards output.
func New(cfg *config.Config, tr transfer.Transfer, rel Reloader, log logger.Logger, opts Options) *Engine {
	if log == nil {
		log = logger.Null{}
	}
	return &Engine{cfg: cfg, transfer: tr, reloader: rel, logger: log, opts: opts}
}

// Report is the outcome of one run.
type Report struct {
	Direction Direction
	Plan      []planner.Item
	Stats     planner.Stats
	DryRun    bool

	// Result is nil for a dry run.
	Result *executor.Result

	// Reload holds the per-service notification results after a push, nil
	// when notification was disabled, suppressed, or skipped because the
	// apply had failures.
	Reload []reload.Result
}

// OK reports whether the run applied cleanly and every requested reload
// succeeded. A dry run is always OK.
func (r *Report) OK() bool {
	if r.Result != nil && !r.Result.OK() {
		return false
	}
	return reload.AllOK(r.Reload)
}

// Push mirrors the local tree onto the remote tree under the push rules and,
// on a fully clean apply, asks the instance to reload its configuration.
func (e *Engine) Push(ctx context.Context) (*Report, error) {
	set, err := e.cfg.PushRuleSet()
	if err != nil {
		return nil, fmt.Errorf("push rules: %w", err)
	}
	return e.run(ctx, DirectionPush, set, e.cfg.Paths.Local, e.cfg.Paths.Remote)
}

// Pull mirrors the remote tree onto the local tree under the pull rules.
// No reload is ever issued: the instance's own files did not change.
func (e *Engine) Pull(ctx context.Context) (*Report, error) {
	set, err := e.cfg.PullRuleSet()
	if err != nil {
		return nil, fmt.Errorf("pull rules: %w", err)
	}
	return e.run(ctx, DirectionPull, set, e.cfg.Paths.Remote, e.cfg.Paths.Local)
}

func (e *Engine) run(ctx context.Context, dir Direction, set *rules.Set, sourceRoot, destRoot string) (*Report, error) {
	if sourceRoot == "" || destRoot == "" {
		return nil, errors.New("both paths.local and paths.remote must be configured")
	}

	source, err := scanner.Scan(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("scan source %s: %w", sourceRoot, err)
	}
	dest, err := scanner.Scan(destRoot)
	if err != nil {
		return nil, fmt.Errorf("scan destination %s: %w", destRoot, err)
	}

	plan := planner.Plan(source, dest, set)
	report := &Report{
		Direction: dir,
		Plan:      plan,
		Stats:     planner.Summarize(plan),
		DryRun:    e.opts.DryRun,
	}

	if e.opts.DryRun {
		for _, item := range plan {
			switch item.Action {
			case planner.ActionCopy:
				e.logger.Copy(item.Path, destRoot)
			case planner.ActionDelete:
				e.logger.Delete(item.Path)
			}
		}
		return report, nil
	}

	result, err := executor.New(e.transfer, set, e.logger).Apply(ctx, plan, sourceRoot, destRoot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	report.Result = result

	if dir == DirectionPush {
		report.Reload = e.notify(ctx, result)
	}
	return report, nil
}

// notify issues the reload calls after a push. A partial apply suppresses
// them: reloading an instance whose tree is half-updated helps nobody.
func (e *Engine) notify(ctx context.Context, result *executor.Result) []reload.Result {
	if e.reloader == nil || e.opts.NoReload || !e.cfg.Reload.Enabled {
		return nil
	}
	if !result.OK() {
		e.logger.Info("skipping reload: %d path(s) failed to sync", len(result.Failed))
		return nil
	}

	e.logger.Info("reloading Home Assistant configuration")
	results := e.reloader.ReloadAll(ctx)
	for _, r := range results {
		if r.OK() {
			e.logger.Debug(fmt.Sprintf("reloaded %s", r.Service.Name))
			continue
		}
		e.logger.Error("reload", r.Service.Path, r.Err)
	}
	return results
}

// Backup mirrors the local tree into an out-of-band destination, typically
// object storage. The pull rules apply: whatever must not leave the instance
// must not leave the workstation either. Reload never applies to a backup.
func (e *Engine) Backup(ctx context.Context, dest transfer.Transfer) (*Report, error) {
	set, err := e.cfg.PullRuleSet()
	if err != nil {
		return nil, fmt.Errorf("pull rules: %w", err)
	}
	if e.cfg.Paths.Local == "" {
		return nil, errors.New("paths.local must be configured")
	}

	outcome, err := dest.Transfer(ctx, &transfer.Request{
		SourceRoot:      e.cfg.Paths.Local,
		ExcludePatterns: set.ExcludePatterns(),
		ProtectPatterns: set.ProtectPatterns(),
		Mirror:          true,
		Checksum:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	for _, f := range outcome.Failed {
		e.logger.Error(f.Op, f.Path, f.Err)
	}

	return &Report{
		Direction: DirectionBackup,
		Result: &executor.Result{
			Copied:  len(outcome.Transferred),
			Deleted: len(outcome.Deleted),
			Failed:  outcome.Failed,
		},
	}, nil
}
