package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/docutag/curator/models"
)

func sampleSnapshot() *models.FolderNode {
	return &models.FolderNode{
		ID:    "root",
		Title: "Bookmarks",
		Children: []*models.FolderNode{
			{ID: "f1", ParentID: "root", Title: "Dev", Children: []*models.FolderNode{
				{ID: "l1", ParentID: "f1", Title: "Go", URL: "https://go.dev"},
			}},
			{ID: "l2", ParentID: "root", Title: "News", URL: "https://news.example", Index: 1},
		},
	}
}

func TestSnapshotKey(t *testing.T) {
	now := time.Date(2025, 3, 7, 9, 30, 0, 0, time.UTC)
	got := snapshotKey("Bookmarks Bar", now)
	want := "snapshots/2025/03/bookmarks-bar-20250307T093000Z"
	if got != want {
		t.Errorf("snapshotKey = %q, want %q", got, want)
	}
	if got := snapshotKey("★", now); !strings.Contains(got, "/bookmarks-") {
		t.Errorf("expected fallback name, got %q", got)
	}
}

func TestFilesystemSnapshotRoundTrip(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return time.Date(2025, 3, 7, 9, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	key, err := s.SaveSnapshot(ctx, "Bookmarks", sampleSnapshot())
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if key != "snapshots/2025/03/bookmarks-20250307T093000Z.json" {
		t.Errorf("unexpected key %q", key)
	}

	// Same second, same name: the key is made unique
	second, err := s.SaveSnapshot(ctx, "Bookmarks", sampleSnapshot())
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if second == key || !strings.HasSuffix(second, "-1.json") {
		t.Errorf("expected a unique second key, got %q", second)
	}

	got, err := s.ReadSnapshot(ctx, key)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if diff := cmp.Diff(sampleSnapshot(), got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteSnapshot(ctx, key); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if _, err := s.ReadSnapshot(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting twice is not an error
	if err := s.DeleteSnapshot(ctx, key); err != nil {
		t.Errorf("second DeleteSnapshot: %v", err)
	}
}

func TestFilesystemRejectsEscapingKeys(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{"../outside.json", "/etc/passwd", ""} {
		if _, err := s.ReadSnapshot(context.Background(), key); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadSnapshot(%q): expected ErrNotFound, got %v", key, err)
		}
		if err := s.DeleteSnapshot(context.Background(), key); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteSnapshot(%q): expected ErrNotFound, got %v", key, err)
		}
	}
}

// fakeS3 serves path-style object requests for a single bucket
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]bool
	methods []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, r.Method)

	key := strings.TrimPrefix(r.URL.Path, "/test-bucket/")
	switch r.Method {
	case http.MethodPut:
		f.objects[key] = true
		w.Header().Set("ETag", `"etag"`)
	case http.MethodGet:
		if !f.objects[key] {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"root","title":"Bookmarks","children":[{"id":"l1","parent_id":"root","title":"Go","url":"https://go.dev"}]}`))
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestS3Snapshots(t *testing.T) {
	fake := &fakeS3{objects: make(map[string]bool)}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	s, err := NewS3Storage(ctx, S3Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Storage: %v", err)
	}

	key, err := s.SaveSnapshot(ctx, "Bookmarks", sampleSnapshot())
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if !strings.HasPrefix(key, "snapshots/") || !strings.HasSuffix(key, ".json") {
		t.Errorf("unexpected key %q", key)
	}

	got, err := s.ReadSnapshot(ctx, key)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.ID != "root" || len(got.Children) != 1 || got.Children[0].URL != "https://go.dev" {
		t.Errorf("unexpected snapshot %+v", got)
	}

	if err := s.DeleteSnapshot(ctx, key); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if _, err := s.ReadSnapshot(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestNewS3StorageValidation tests error handling for incomplete configs
func TestNewS3StorageValidation(t *testing.T) {
	valid := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	tests := []struct {
		name   string
		mutate func(*S3Config)
	}{
		{"missing bucket", func(c *S3Config) { c.Bucket = "" }},
		{"missing region", func(c *S3Config) { c.Region = "" }},
		{"missing credentials", func(c *S3Config) { c.AccessKeyID = ""; c.SecretAccessKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewS3Storage(context.Background(), cfg); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}

	if _, err := NewS3Storage(context.Background(), valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestS3ConfigValidateJoinsErrors(t *testing.T) {
	err := S3Config{}.Validate()
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"bucket", "region", "access key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestS3RejectsForeignKeys(t *testing.T) {
	s, err := NewS3Storage(context.Background(), S3Config{
		Endpoint:        "http://127.0.0.1:1",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Storage: %v", err)
	}
	for _, key := range []string{"", "config/secrets.json", "snapshots/../config.json"} {
		if _, err := s.ReadSnapshot(context.Background(), key); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReadSnapshot(%q): expected ErrNotFound, got %v", key, err)
		}
		if err := s.DeleteSnapshot(context.Background(), key); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteSnapshot(%q): expected ErrNotFound, got %v", key, err)
		}
	}
}
