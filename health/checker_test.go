package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/curator/models"
)

func testChecker() *Checker {
	cfg := DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	return New(cfg, nil)
}

func entry(id, url string) models.Entry {
	return models.Entry{ID: id, Title: id, URL: url}
}

func TestCheckStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusGone) })
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/ok", http.StatusFound) })
	server := httptest.NewServer(mux)
	defer server.Close()

	c := testChecker()
	tests := []struct {
		path   string
		strict bool
		alive  bool
		status int
	}{
		{"/ok", false, true, 200},
		{"/ok", true, true, 200},
		{"/missing", false, false, 404},
		{"/missing", true, false, 404},
		{"/gone", false, false, 410},
		{"/redirect", false, true, 200},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v := c.Check(context.Background(), entry("e", server.URL+tt.path), tt.strict)
			assert.Equal(t, tt.alive, v.Alive)
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, "e", v.EntryID)
			assert.False(t, v.CheckedAt.IsZero())
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	c := testChecker()
	for _, strict := range []bool{false, true} {
		start := time.Now()
		v := c.Check(context.Background(), entry("slow", server.URL), strict)
		assert.False(t, v.Alive)
		assert.Equal(t, "timeout", v.Error)
		assert.Equal(t, ReasonTimeout, v.Reason)
		assert.Less(t, time.Since(start), 2*time.Second, "timed out probes are not retried")
	}
}

func TestCheckFallsBackToRangedGet(t *testing.T) {
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer server.Close()

	v := testChecker().Check(context.Background(), entry("e", server.URL), false)
	assert.True(t, v.Alive)
	assert.Equal(t, http.StatusPartialContent, v.Status)
	assert.Equal(t, "bytes=0-0", gotRange)
}

func TestCheckForbiddenHeadThenNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	v := testChecker().Check(context.Background(), entry("e", server.URL), false)
	assert.False(t, v.Alive)
	assert.Equal(t, 404, v.Status)
}

func TestStrictTitleHeuristics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/self", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte("<html><head><title>http://" + r.Host + r.URL.Path + "</title></head><body></body></html>"))
	})
	mux.HandleFunc("/soft404", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>Page Not Found | Example</title></head><body><h1>Oops</h1></body></html>"))
	})
	mux.HandleFunc("/parked", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>example.org - This domain is for sale!</title></head></html>"))
	})
	mux.HandleFunc("/tricks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Top 404 tricks for Go</title></head></html>"))
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta property="og:title" content="A real article"><title>Blog</title></head></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := testChecker()
	tests := []struct {
		path   string
		reason string
	}{
		{"/self", ReasonTitleIsURL},
		{"/soft404", ReasonErrorTitle},
		{"/parked", ReasonParkedDomain},
		{"/article", ""},
		{"/tricks", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e := entry("e", server.URL+tt.path)

			lenient := c.Check(context.Background(), e, false)
			assert.True(t, lenient.Alive, "non-strict mode trusts the status")

			strict := c.Check(context.Background(), e, true)
			assert.Equal(t, tt.reason == "", strict.Alive)
			assert.Equal(t, tt.reason, strict.Reason)
			assert.Equal(t, 200, strict.Status)
		})
	}
}

type flakyTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.calls.Add(1) == 1 {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(r)
}

func TestCheckRetriesTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	c := testChecker()
	flaky := &flakyTransport{next: http.DefaultTransport}
	c.httpClient.Transport = flaky

	v := c.Check(context.Background(), entry("e", server.URL), false)
	assert.True(t, v.Alive)
	assert.Equal(t, int32(2), flaky.calls.Load())

	c.config.Retries = 0
	flaky.calls.Store(0)
	v = c.Check(context.Background(), entry("e", server.URL), false)
	assert.False(t, v.Alive)
	assert.Equal(t, ReasonTransport, v.Reason)
	assert.NotEmpty(t, v.Error)
}

func TestCheckAllWindows(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		if r.URL.Path == "/dead" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	entries := []models.Entry{
		entry("a", server.URL+"/a"),
		entry("folder-ish", ""),
		entry("b", server.URL+"/dead"),
		entry("js", "javascript:void(0)"),
		entry("c", server.URL+"/c"),
		entry("d", server.URL+"/d"),
		entry("e", server.URL+"/dead"),
	}

	var mu sync.Mutex
	var progress [][2]int
	verdicts := testChecker().CheckAll(context.Background(), entries, Options{
		Window: 2,
		Progress: func(done, total int) {
			mu.Lock()
			progress = append(progress, [2]int{done, total})
			mu.Unlock()
		},
	})

	require.Len(t, verdicts, 5)
	var ids []string
	var alive []bool
	for _, v := range verdicts {
		ids = append(ids, v.EntryID)
		alive = append(alive, v.Alive)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)
	assert.Equal(t, []bool{true, false, true, true, false}, alive)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
	assert.Equal(t, [][2]int{{2, 5}, {4, 5}, {5, 5}}, progress)
}

func TestProbeable(t *testing.T) {
	assert.True(t, Probeable(entry("", "https://example.com")))
	assert.True(t, Probeable(entry("", "http://example.com/x")))
	assert.False(t, Probeable(entry("", "ftp://example.com")))
	assert.False(t, Probeable(entry("", "chrome://settings")))
	assert.False(t, Probeable(entry("", "")))
}

// TestHTTPClientUsesOtelTransport verifies probes propagate trace context
func TestHTTPClientUsesOtelTransport(t *testing.T) {
	c := New(DefaultConfig(), nil)
	if _, ok := c.httpClient.Transport.(*otelhttp.Transport); !ok {
		t.Error("checker HTTP client does not use otelhttp.Transport for trace propagation")
	}
}
