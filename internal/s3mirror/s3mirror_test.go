package s3mirror

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hass-tools/confsync/internal/checksum"
	"github.com/hass-tools/confsync/pkg/transfer"
)

type mockClient struct {
	mu      sync.Mutex
	objects map[string]mockObject // key -> object
	heads   []string
	puts    []string
	deletes []string
	putErr  error
}

type mockObject struct {
	size     int64
	checksum string
}

func newMockClient() *mockClient {
	return &mockClient{objects: make(map[string]mockObject)}
}

func (c *mockClient) add(key, content string) {
	sum, _ := checksum.Reader(strings.NewReader(content))
	c.objects[key] = mockObject{size: int64(len(content)), checksum: sum}
}

func (c *mockClient) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var items []ObjectMetadata
	for key, obj := range c.objects {
		path := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"/") {
				continue
			}
			path = strings.TrimPrefix(key, prefix+"/")
		}
		items = append(items, ObjectMetadata{Path: path, Size: obj.size})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

func (c *mockClient) HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.heads = append(c.heads, key)
	obj, ok := c.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &ObjectInfo{Size: obj.size, Checksum: obj.checksum}, nil
}

func (c *mockClient) PutObject(ctx context.Context, req *PutObjectRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.putErr != nil {
		return c.putErr
	}
	c.puts = append(c.puts, req.Key)
	c.objects[req.Key] = mockObject{size: req.Size, checksum: req.Checksum}
	return nil
}

func (c *mockClient) DeleteObject(ctx context.Context, bucket, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deletes = append(c.deletes, key)
	delete(c.objects, key)
	return nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{uri: "s3://my-bucket/ha", wantBucket: "my-bucket", wantPrefix: "ha"},
		{uri: "s3://my-bucket/ha/nested/", wantBucket: "my-bucket", wantPrefix: "ha/nested"},
		{uri: "s3://my-bucket", wantBucket: "my-bucket"},
		{uri: "s3://", wantErr: true},
		{uri: "/mnt/ha", wantErr: true},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseDestination(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDestination(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			continue
		}
		if bucket != tt.wantBucket || prefix != tt.wantPrefix {
			t.Errorf("ParseDestination(%q) = %q, %q, want %q, %q", tt.uri, bucket, prefix, tt.wantBucket, tt.wantPrefix)
		}
	}
}

func TestMirrorTransfer(t *testing.T) {
	root := writeTree(t, map[string]string{
		"configuration.yaml":     "automation: !include automations.yaml\n",
		"automations.yaml":       "[]\n",
		".storage/core.registry": "runtime state\n",
	})

	client := newMockClient()
	client.add("ha/configuration.yaml", "old contents of different length\n")
	client.add("ha/stale.yaml", "removed locally\n")

	m, err := New(client, "s3://bucket/ha", nil)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := m.Transfer(context.Background(), &transfer.Request{
		SourceRoot:      root,
		ExcludePatterns: []string{".storage"},
		Mirror:          true,
		Checksum:        true,
	})
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	wantTransferred := []string{"automations.yaml", "configuration.yaml"}
	if got := sorted(outcome.Transferred); len(got) != len(wantTransferred) || got[0] != wantTransferred[0] || got[1] != wantTransferred[1] {
		t.Errorf("Transferred = %v, want %v", got, wantTransferred)
	}
	if len(outcome.Deleted) != 1 || outcome.Deleted[0] != "stale.yaml" {
		t.Errorf("Deleted = %v, want [stale.yaml]", outcome.Deleted)
	}
	if len(outcome.Failed) != 0 {
		t.Errorf("Failed = %v", outcome.Failed)
	}

	if _, exists := client.objects["ha/.storage/core.registry"]; exists {
		t.Error("excluded path was uploaded")
	}
	if _, exists := client.objects["ha/stale.yaml"]; exists {
		t.Error("stale object not deleted")
	}
}

func TestMirrorUnchangedSkipped(t *testing.T) {
	content := "logger:\n  default: info\n"
	root := writeTree(t, map[string]string{"configuration.yaml": content})

	client := newMockClient()
	client.add("configuration.yaml", content)

	m, err := New(client, "s3://bucket", nil)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := m.Transfer(context.Background(), &transfer.Request{
		SourceRoot: root,
		Mirror:     true,
		Checksum:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(outcome.Transferred) != 0 {
		t.Errorf("Transferred = %v, want none", outcome.Transferred)
	}
	// Size matched, so the checksum had to be verified.
	if len(client.heads) != 1 || client.heads[0] != "configuration.yaml" {
		t.Errorf("heads = %v, want [configuration.yaml]", client.heads)
	}
	if len(client.puts) != 0 {
		t.Errorf("puts = %v, want none", client.puts)
	}
}

func TestMirrorSameSizeDifferentContent(t *testing.T) {
	root := writeTree(t, map[string]string{"scenes.yaml": "version: 2\n"})

	client := newMockClient()
	client.add("scenes.yaml", "version: 1\n") // same length, different bytes

	m, err := New(client, "s3://bucket", nil)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := m.Transfer(context.Background(), &transfer.Request{
		SourceRoot: root,
		Mirror:     true,
		Checksum:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(outcome.Transferred) != 1 || outcome.Transferred[0] != "scenes.yaml" {
		t.Errorf("Transferred = %v, want [scenes.yaml]", outcome.Transferred)
	}
}

func TestMirrorProtectedObjectKept(t *testing.T) {
	root := writeTree(t, map[string]string{"configuration.yaml": "x\n"})

	client := newMockClient()
	client.add("backups/2026-08-01.tar", "snapshot\n")

	m, err := New(client, "s3://bucket", nil)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := m.Transfer(context.Background(), &transfer.Request{
		SourceRoot:      root,
		ProtectPatterns: []string{"backups"},
		Mirror:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(outcome.Deleted) != 0 {
		t.Errorf("Deleted = %v, want none", outcome.Deleted)
	}
	if _, exists := client.objects["backups/2026-08-01.tar"]; !exists {
		t.Error("protected object was deleted")
	}
}

func TestMirrorNoMirrorKeepsExtraneous(t *testing.T) {
	root := writeTree(t, map[string]string{"configuration.yaml": "x\n"})

	client := newMockClient()
	client.add("old.yaml", "y\n")

	m, err := New(client, "s3://bucket", nil)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := m.Transfer(context.Background(), &transfer.Request{SourceRoot: root})
	if err != nil {
		t.Fatal(err)
	}

	if len(outcome.Deleted) != 0 || len(client.deletes) != 0 {
		t.Errorf("Deleted = %v, deletes = %v, want none", outcome.Deleted, client.deletes)
	}
}

func TestMirrorUploadFailureIsPartial(t *testing.T) {
	root := writeTree(t, map[string]string{"configuration.yaml": "x\n"})

	client := newMockClient()
	client.putErr = errors.New("access denied")

	m, err := New(client, "s3://bucket", nil)
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := m.Transfer(context.Background(), &transfer.Request{SourceRoot: root, Mirror: true})
	if err != nil {
		t.Fatalf("Transfer() error = %v, want partial outcome", err)
	}

	if len(outcome.Failed) != 1 {
		t.Fatalf("Failed = %v, want one entry", outcome.Failed)
	}
	if outcome.Failed[0].Path != "configuration.yaml" || outcome.Failed[0].Op != "upload" {
		t.Errorf("failure = %+v", outcome.Failed[0])
	}
}
