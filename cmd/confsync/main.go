package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/hass-tools/confsync/internal/config"
	"github.com/hass-tools/confsync/internal/reload"
	"github.com/hass-tools/confsync/internal/s3mirror"
	"github.com/hass-tools/confsync/internal/sync"
	"github.com/hass-tools/confsync/pkg/logger"
	"github.com/hass-tools/confsync/pkg/planner"
	"github.com/hass-tools/confsync/pkg/transfer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	configFile     string
	dryRun         bool
	quiet          bool
	noReload       bool
	transport      string
	planJSONFile   string
	resultJSONFile string
	profile        string
	region         string
	destination    string
)

// PlanResult represents the planned operations before execution
type PlanResult struct {
	Files   []PlanFile  `json:"files"`
	Summary PlanSummary `json:"summary"`
}

type PlanFile struct {
	Action string `json:"action"` // "copy", "delete", "skip"
	Path   string `json:"path"`
	Kind   string `json:"kind"` // "file" or "dir"
	Reason string `json:"reason"`
}

type PlanSummary struct {
	Copy   int `json:"copy"`
	Delete int `json:"delete"`
	Skip   int `json:"skip"`
}

// SyncResult represents the actual execution results
type SyncResult struct {
	Files   []ResultFile   `json:"files"`
	Errors  []ErrorFile    `json:"errors"`
	Reload  []ReloadResult `json:"reload,omitempty"`
	Summary ResultSummary  `json:"summary"`
}

type ResultFile struct {
	Action string `json:"action"` // "copied" or "deleted"
	Path   string `json:"path"`
}

type ErrorFile struct {
	Action string `json:"action"` // "copy" or "delete"
	Path   string `json:"path"`
	Error  string `json:"error"`
}

type ReloadResult struct {
	Service string `json:"service"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type ResultSummary struct {
	Copied  int `json:"copied"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "confsync",
		Short: "Bidirectional Home Assistant configuration sync",
		Long: `confsync mirrors a version-controlled Home Assistant configuration tree
to and from a running instance, honoring per-direction exclude and protect
rules so runtime state and credentials stay where they belong.`,
		Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to confsync.yaml (built-in defaults if omitted)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dryrun", false, "Shows operations without executing")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	rootCmd.PersistentFlags().StringVar(&resultJSONFile, "result-json-file", "", "Path to output result as JSON file")

	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Mirror the local tree onto the instance and reload it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), sync.DirectionPush)
		},
	}
	pushCmd.Flags().BoolVar(&noReload, "no-reload", false, "Skip the post-push reload notification")
	pushCmd.Flags().StringVar(&transport, "transport", "local", "Transfer mechanism: local or rsync")

	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Mirror the instance onto the local tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), sync.DirectionPull)
		},
	}
	pullCmd.Flags().StringVar(&transport, "transport", "local", "Transfer mechanism: local or rsync")

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Mirror the local tree into an S3 bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd.Context())
		},
	}
	backupCmd.Flags().StringVar(&destination, "destination", "", "s3://bucket/prefix (overrides backup.destination)")
	backupCmd.Flags().StringVar(&profile, "profile", "", "AWS profile to use")
	backupCmd.Flags().StringVar(&region, "region", "", "AWS region (uses default if not specified)")

	rootCmd.AddCommand(pushCmd, pullCmd, backupCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSync(ctx context.Context, direction sync.Direction) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	syncLogger := &logger.SyncLogger{
		IsDryRun: dryRun,
		IsQuiet:  quiet,
	}

	tr, err := buildTransfer()
	if err != nil {
		return err
	}

	// The reload client is only built when a reload can actually happen, so
	// a pull or a suppressed push never demands a token.
	var reloader sync.Reloader
	if direction == sync.DirectionPush && cfg.Reload.Enabled && !noReload && !dryRun {
		creds, err := config.LoadCredentials()
		if err != nil {
			return err
		}
		client, err := reload.NewClient(creds.BaseURL, creds.Token, cfg.ReloadTimeout())
		if err != nil {
			return err
		}
		reloader = client
	}

	engine := sync.New(cfg, tr, reloader, syncLogger, sync.Options{
		DryRun:   dryRun,
		NoReload: noReload,
	})

	var report *sync.Report
	switch direction {
	case sync.DirectionPush:
		report, err = engine.Push(ctx)
	case sync.DirectionPull:
		report, err = engine.Pull(ctx)
	}
	if err != nil {
		return err
	}

	if planJSONFile != "" {
		if err := writePlanResult(planJSONFile, report.Plan); err != nil {
			return fmt.Errorf("failed to write plan JSON: %w", err)
		}
	}
	if resultJSONFile != "" && !dryRun {
		if err := writeSyncResult(resultJSONFile, report); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	return summarize(syncLogger, report)
}

func runBackup(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	dest := destination
	if dest == "" {
		dest = cfg.Backup.Destination
	}
	if dest == "" {
		return fmt.Errorf("no backup destination: set backup.destination or pass --destination")
	}

	syncLogger := &logger.SyncLogger{IsQuiet: quiet}

	var configOpts []func(*awsconfig.LoadOptions) error
	if profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(profile))
	}
	if region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	mirror, err := s3mirror.New(s3mirror.NewAWSClient(awsCfg), dest, syncLogger)
	if err != nil {
		return err
	}

	engine := sync.New(cfg, nil, nil, syncLogger, sync.Options{})
	report, err := engine.Backup(ctx, mirror)
	if err != nil {
		return err
	}

	if resultJSONFile != "" {
		if err := writeSyncResult(resultJSONFile, report); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	return summarize(syncLogger, report)
}

func buildTransfer() (transfer.Transfer, error) {
	switch transport {
	case "local":
		return transfer.NewLocal(), nil
	case "rsync":
		return transfer.NewRsync(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: want local or rsync", transport)
	}
}

// summarize prints the run summary and turns a partial run into a non-zero
// exit.
func summarize(syncLogger logger.Logger, report *sync.Report) error {
	if report.DryRun {
		syncLogger.Info("(dryrun) %s: %d to copy, %d to delete, %d unchanged",
			report.Direction, report.Stats.Copies, report.Stats.Deletes, report.Stats.Skips)
		return nil
	}

	res := report.Result
	syncLogger.Info("%s: %d copied, %d deleted, %d unchanged",
		report.Direction, res.Copied, res.Deleted, res.Skipped)

	if len(res.Failed) > 0 {
		return fmt.Errorf("%d path(s) failed", len(res.Failed))
	}
	if !reload.AllOK(report.Reload) {
		return fmt.Errorf("sync applied but some reload services failed")
	}
	return nil
}

func writePlanResult(path string, items []planner.Item) error {
	plan := PlanResult{Files: []PlanFile{}}

	for _, item := range items {
		plan.Files = append(plan.Files, PlanFile{
			Action: string(item.Action),
			Path:   item.Path,
			Kind:   string(item.Kind),
			Reason: item.Reason,
		})
		switch item.Action {
		case planner.ActionCopy:
			plan.Summary.Copy++
		case planner.ActionDelete:
			plan.Summary.Delete++
		case planner.ActionSkip:
			plan.Summary.Skip++
		}
	}

	return writeJSON(path, plan)
}

func writeSyncResult(path string, report *sync.Report) error {
	result := SyncResult{
		Files:  []ResultFile{},
		Errors: []ErrorFile{},
	}

	res := report.Result
	failed := make(map[string]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Path] = true
	}

	for _, item := range report.Plan {
		if item.Action != planner.ActionCopy || failed[item.Path] {
			continue
		}
		result.Files = append(result.Files, ResultFile{Action: "copied", Path: item.Path})
	}
	for _, item := range report.Plan {
		if item.Action != planner.ActionDelete || failed[item.Path] {
			continue
		}
		result.Files = append(result.Files, ResultFile{Action: "deleted", Path: item.Path})
	}

	for _, f := range res.Failed {
		result.Errors = append(result.Errors, ErrorFile{
			Action: f.Op,
			Path:   f.Path,
			Error:  f.Err.Error(),
		})
	}

	for _, r := range report.Reload {
		rr := ReloadResult{Service: r.Service.Path, OK: r.OK()}
		if r.Err != nil {
			rr.Error = r.Err.Error()
		}
		result.Reload = append(result.Reload, rr)
	}

	result.Summary = ResultSummary{
		Copied:  res.Copied,
		Deleted: res.Deleted,
		Skipped: res.Skipped,
		Failed:  len(res.Failed),
	}

	return writeJSON(path, result)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
