package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/curator/classifier"
	"github.com/docutag/curator/db"
	"github.com/docutag/curator/folders"
	"github.com/docutag/curator/models"
)

var indexLine = regexp.MustCompile(`(?m)^(\d+)\. `)

// readingList files every bookmark of a prompt under one category
type readingList struct{}

func (readingList) Classify(ctx context.Context, prompt string) (string, error) {
	var indices []string
	for _, m := range indexLine.FindAllStringSubmatch(prompt, -1) {
		indices = append(indices, m[1])
	}
	return fmt.Sprintf(`{"Reading": [%s]}`, strings.Join(indices, ", ")), nil
}

func setupTestServer(t *testing.T, ai classifier.Classifier) *Server {
	t.Helper()

	config := DefaultConfig()
	config.Addr = ":0"
	config.DBConfig = db.Config{Driver: "sqlite", DSN: t.TempDir() + "/test.db"}
	config.StoragePath = t.TempDir()
	config.CORSEnabled = false
	config.Classifier = ai
	config.HealthConfig.Timeout = time.Second
	config.HealthConfig.RetryBackoff = time.Millisecond
	if ai == nil {
		config.ClassifierConfig.Backend = "unsupported"
	}

	server, err := NewServer(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { server.db.Close() })
	return server
}

func do(t *testing.T, s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case nil:
	case string:
		data = []byte(b)
	default:
		var err error
		data, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]interface{}](t, w)["error"].(string)
}

func seedLinks(t *testing.T, s *Server, parentID string, urls ...string) []*models.FolderNode {
	t.Helper()
	var nodes []*models.FolderNode
	for i, u := range urls {
		n, err := s.db.CreateLink(context.Background(), parentID, fmt.Sprintf("Link %d", i), u)
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	return nodes
}

func TestMethodNotAllowed(t *testing.T) {
	server := setupTestServer(t, readingList{})

	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/health"},
		{http.MethodPost, "/api/tree"},
		{http.MethodGet, "/api/organize"},
		{http.MethodGet, "/api/check"},
		{http.MethodPut, "/api/dead"},
		{http.MethodGet, "/api/restore"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := do(t, server, tt.method, tt.target, nil)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.Equal(t, "method not allowed", errorOf(t, w))
		})
	}
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, readingList{})
	seedLinks(t, server, db.RootID, "https://go.dev")

	w := do(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode[map[string]interface{}](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["links"])
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t, readingList{})
	do(t, server, http.MethodGet, "/health", nil)

	w := do(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "curator_http_requests_total")
}

func TestHandleTree(t *testing.T) {
	server := setupTestServer(t, readingList{})
	seedLinks(t, server, db.RootID, "https://go.dev")

	w := do(t, server, http.MethodGet, "/api/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)

	roots := decode[[]*models.FolderNode](t, w)
	require.Len(t, roots, 1)
	assert.Equal(t, db.RootID, roots[0].ID)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "https://go.dev", roots[0].Children[0].URL)
}

func TestHandleOrganize(t *testing.T) {
	server := setupTestServer(t, readingList{})
	seedLinks(t, server, db.RootID, "https://go.dev", "https://example.com")

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantErr    string
	}{
		{"invalid JSON", "invalid json", http.StatusBadRequest, "invalid request body"},
		{"negative cap", models.OrganizeRequest{MaxCategories: -1}, http.StatusBadRequest, "max_categories cannot be negative"},
		{"reset without confirm", models.OrganizeRequest{Reset: true}, http.StatusBadRequest, folders.ErrConfirmationRequired.Error()},
		{"unknown root", models.OrganizeRequest{RootID: "missing"}, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, http.MethodPost, "/api/organize", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			msg := errorOf(t, w)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, msg)
			}
		})
	}

	t.Run("organizes the tree", func(t *testing.T) {
		w := do(t, server, http.MethodPost, "/api/organize", models.OrganizeRequest{})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		report := decode[models.OrganizeResponse](t, w)
		assert.Equal(t, 2, report.Moved)
		assert.Equal(t, []string{"Reading"}, report.Categories)

		children, err := server.db.GetChildren(context.Background(), db.RootID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, "Reading", children[0].Title)
	})

	t.Run("empty body uses defaults", func(t *testing.T) {
		w := do(t, server, http.MethodPost, "/api/organize", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandleOrganizeWithoutClassifier(t *testing.T) {
	server := setupTestServer(t, nil)

	w := do(t, server, http.MethodPost, "/api/organize", models.OrganizeRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOrganizeStatus(t *testing.T) {
	rateLimited := &classifier.Error{Kind: classifier.KindRateLimited, Backend: "gemini", Status: 429}
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", folders.ErrNotFound), http.StatusNotFound},
		{rateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, organizeStatus(tt.err), tt.err.Error())
	}
}

func linkServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestCheckAndDeadLinks(t *testing.T) {
	server := setupTestServer(t, readingList{})
	ts := linkServer(t)
	links := seedLinks(t, server, db.RootID, ts.URL+"/ok", ts.URL+"/missing")

	w := do(t, server, http.MethodPost, "/api/check", models.CheckRequest{Window: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, server, http.MethodPost, "/api/check", models.CheckRequest{RootID: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, server, http.MethodPost, "/api/check", models.CheckRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	check := decode[models.CheckResponse](t, w)
	assert.Equal(t, 2, check.Checked)
	assert.Equal(t, 1, check.Alive)
	assert.Equal(t, 1, check.Dead)

	w = do(t, server, http.MethodGet, "/api/dead", nil)
	require.Equal(t, http.StatusOK, w.Code)
	dead := decode[DeadLinksResponse](t, w)
	require.Equal(t, 1, dead.Count)
	assert.Equal(t, links[1].ID, dead.Verdicts[0].EntryID)
	assert.Equal(t, http.StatusNotFound, dead.Verdicts[0].Status)

	w = do(t, server, http.MethodDelete, "/api/dead", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "deleting dead links requires confirm=true", errorOf(t, w))

	w = do(t, server, http.MethodDelete, "/api/dead?confirm=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pruned := decode[models.PruneResponse](t, w)
	assert.Equal(t, 1, pruned.Deleted)
	assert.Equal(t, 0, pruned.Failed)

	_, err := server.db.GetNode(context.Background(), links[1].ID)
	assert.ErrorIs(t, err, folders.ErrNotFound)

	w = do(t, server, http.MethodGet, "/api/dead", nil)
	assert.Equal(t, 0, decode[DeadLinksResponse](t, w).Count)
}

func TestHandleRestore(t *testing.T) {
	server := setupTestServer(t, readingList{})
	ctx := context.Background()

	old, err := server.db.CreateFolder(ctx, db.RootID, "Old")
	require.NoError(t, err)
	seedLinks(t, server, old.ID, "https://go.dev", "https://example.com")

	w := do(t, server, http.MethodPost, "/api/restore", models.RestoreRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "snapshot_key is required", errorOf(t, w))

	w = do(t, server, http.MethodPost, "/api/restore", models.RestoreRequest{SnapshotKey: "snapshots/none.json"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, server, http.MethodPost, "/api/organize", models.OrganizeRequest{Reset: true, Confirm: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[models.OrganizeResponse](t, w)
	require.NotEmpty(t, report.SnapshotKey)

	w = do(t, server, http.MethodPost, "/api/restore", models.RestoreRequest{SnapshotKey: report.SnapshotKey})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[folders.RestoreResult](t, w)
	assert.Equal(t, 1, result.Folders)
	assert.Equal(t, 2, result.Moved)
	assert.Equal(t, 0, result.Missing)
}

func TestCORS(t *testing.T) {
	server := setupTestServer(t, readingList{})
	server.corsEnabled = true

	w := do(t, server, http.MethodOptions, "/api/organize", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}
