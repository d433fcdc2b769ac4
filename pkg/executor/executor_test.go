package executor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/hass-tools/confsync/pkg/planner"
	"github.com/hass-tools/confsync/pkg/rules"
	"github.com/hass-tools/confsync/pkg/transfer"
)

func pushRules(t *testing.T) *rules.Set {
	t.Helper()
	set, err := rules.New([]rules.Rule{
		{Pattern: ".storage", Action: rules.ActionExclude},
		{Pattern: "*.log", Action: rules.ActionExclude},
		{Pattern: "backups", Action: rules.ActionProtect},
		{Pattern: "www", Action: rules.ActionProtect},
	})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func TestApplyDerivesPatternsFromRuleSet(t *testing.T) {
	set := pushRules(t)
	mock := &mockTransfer{outcome: &transfer.Outcome{Transferred: []string{"configuration.yaml"}}}
	exec := New(mock, set, nil)

	items := []planner.Item{
		{Path: "configuration.yaml", Action: planner.ActionCopy},
	}
	result, err := exec.Apply(context.Background(), items, "/local", "/remote")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(mock.requests) != 1 {
		t.Fatalf("transfer invoked %d times, want exactly 1", len(mock.requests))
	}
	req := mock.requests[0]

	if !reflect.DeepEqual(req.ExcludePatterns, set.ExcludePatterns()) {
		t.Errorf("request excludes = %v, want %v", req.ExcludePatterns, set.ExcludePatterns())
	}
	if !reflect.DeepEqual(req.ProtectPatterns, set.ProtectPatterns()) {
		t.Errorf("request protects = %v, want %v", req.ProtectPatterns, set.ProtectPatterns())
	}
	if !req.Mirror || !req.Checksum {
		t.Errorf("request mirror=%v checksum=%v, want both true", req.Mirror, req.Checksum)
	}
	if req.SourceRoot != "/local" || req.DestRoot != "/remote" {
		t.Errorf("request roots = %q -> %q", req.SourceRoot, req.DestRoot)
	}

	if result.Copied != 1 || !result.OK() {
		t.Errorf("result = %+v, want 1 copy and no failures", result)
	}
}

func TestApplyConvergedPlanSkipsTransfer(t *testing.T) {
	mock := &mockTransfer{}
	exec := New(mock, pushRules(t), nil)

	items := []planner.Item{
		{Path: "configuration.yaml", Action: planner.ActionSkip, Reason: "unchanged"},
		{Path: "backups", Action: planner.ActionSkip, Reason: "protected"},
	}
	result, err := exec.Apply(context.Background(), items, "/local", "/remote")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(mock.requests) != 0 {
		t.Errorf("transfer invoked for a converged plan")
	}
	if result.Skipped != 2 || result.Copied != 0 || result.Deleted != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestApplyPartialFailure(t *testing.T) {
	mock := &mockTransfer{outcome: &transfer.Outcome{
		Transferred: []string{"configuration.yaml"},
		Failed: []transfer.PathError{
			{Path: "automations.yaml", Op: "copy", Err: errors.New("permission denied")},
		},
	}}
	exec := New(mock, pushRules(t), nil)

	items := []planner.Item{
		{Path: "configuration.yaml", Action: planner.ActionCopy},
		{Path: "automations.yaml", Action: planner.ActionCopy},
	}
	result, err := exec.Apply(context.Background(), items, "/local", "/remote")
	if err != nil {
		t.Fatalf("Apply() error = %v (partial failure must not be fatal)", err)
	}

	if result.OK() {
		t.Error("result.OK() = true with failed paths")
	}
	if len(result.Failed) != 1 || result.Failed[0].Path != "automations.yaml" {
		t.Errorf("result.Failed = %v", result.Failed)
	}
}

func TestApplyOpaqueTransferFailure(t *testing.T) {
	mock := &mockTransfer{err: &transfer.Error{ExitCode: 12, Output: "protocol incompatibility"}}
	exec := New(mock, pushRules(t), nil)

	items := []planner.Item{{Path: "configuration.yaml", Action: planner.ActionCopy}}
	_, err := exec.Apply(context.Background(), items, "/local", "/remote")

	var terr *transfer.Error
	if !errors.As(err, &terr) {
		t.Fatalf("Apply() error = %v, want *transfer.Error", err)
	}
	if terr.ExitCode != 12 {
		t.Errorf("exit code = %d, want 12", terr.ExitCode)
	}
}
