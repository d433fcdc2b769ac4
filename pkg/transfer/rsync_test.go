package transfer

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

func TestBuildRsyncArgs(t *testing.T) {
	req := &Request{
		SourceRoot: "/local/config",
		DestRoot:   "/mnt/remote",
		Mirror:     true,
		Checksum:   true,
	}

	got := buildRsyncArgs(req, "/tmp/filter")
	want := []string{
		"-a", "--itemize-changes", "--checksum", "--delete",
		"--filter=. /tmp/filter",
		"/local/config/", "/mnt/remote/",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildRsyncArgs() = %v, want %v", got, want)
	}

	got = buildRsyncArgs(&Request{SourceRoot: "/a", DestRoot: "/b"}, "")
	want = []string{"-a", "--itemize-changes", "/a/", "/b/"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildRsyncArgs() without options = %v, want %v", got, want)
	}
}

func TestWriteFilterFile(t *testing.T) {
	req := &Request{
		ExcludePatterns: []string{".storage/auth", "*.log"},
		ProtectPatterns: []string{"backups", "www"},
	}

	path, err := writeFilterFile(req)
	if err != nil {
		t.Fatalf("writeFilterFile() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	want := "- /.storage/auth\n- *.log\nP backups\nP www\n"
	if string(data) != want {
		t.Errorf("filter file = %q, want %q", string(data), want)
	}
}

func TestWriteFilterFileEmpty(t *testing.T) {
	path, err := writeFilterFile(&Request{})
	if err != nil {
		t.Fatalf("writeFilterFile() error = %v", err)
	}
	if path != "" {
		t.Errorf("writeFilterFile() = %q, want empty path", path)
	}
}

func TestRsyncPattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{".storage/auth", "/.storage/auth"},
		{"/already/anchored", "/already/anchored"},
		{"backups", "backups"},
		{"*.log", "*.log"},
		{"www/", "www/"},
	}
	for _, tt := range tests {
		if got := rsyncPattern(tt.in); got != tt.want {
			t.Errorf("rsyncPattern(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseItemized(t *testing.T) {
	output := strings.Join([]string{
		">f+++++++++ configuration.yaml",
		">f.st...... automations.yaml",
		"cd+++++++++ scripts/",
		"*deleting   stale_file.yaml",
		"sent 1,234 bytes  received 56 bytes",
		"",
	}, "\n")

	outcome := parseItemized(output)

	wantTransferred := []string{"configuration.yaml", "automations.yaml", "scripts"}
	if !reflect.DeepEqual(outcome.Transferred, wantTransferred) {
		t.Errorf("Transferred = %v, want %v", outcome.Transferred, wantTransferred)
	}
	wantDeleted := []string{"stale_file.yaml"}
	if !reflect.DeepEqual(outcome.Deleted, wantDeleted) {
		t.Errorf("Deleted = %v, want %v", outcome.Deleted, wantDeleted)
	}
}

func TestParseFailures(t *testing.T) {
	output := strings.Join([]string{
		`rsync: [sender] send_files failed to open "/tree/sealed.yaml": Permission denied (13)`,
		`building file list ... done`,
		`rsync error: some files/attrs were not transferred (code 23)`,
	}, "\n")

	failures := parseFailures(output)
	if len(failures) != 1 {
		t.Fatalf("parseFailures() returned %d failures, want 1: %v", len(failures), failures)
	}
	if failures[0].Path != "/tree/sealed.yaml" {
		t.Errorf("failure path = %q, want %q", failures[0].Path, "/tree/sealed.yaml")
	}
}
