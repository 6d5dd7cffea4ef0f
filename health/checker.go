// Package health probes link reachability in bounded concurrent windows.
package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/docutag/curator/metrics"
	"github.com/docutag/curator/models"
)

// Config contains checker configuration
type Config struct {
	Timeout      time.Duration // Per probe
	Window       int           // Probes in flight per window
	Retries      int           // Extra attempts after a transport error
	RetryBackoff time.Duration
	UserAgent    string
	MaxBodyBytes int64 // Body prefix read for strict title checks
}

// DefaultConfig returns default checker configuration
func DefaultConfig() Config {
	return Config{
		Timeout:      8 * time.Second,
		Window:       10,
		Retries:      1,
		RetryBackoff: 500 * time.Millisecond,
		UserAgent:    "Mozilla/5.0 (compatible; Curator/1.0)",
		MaxBodyBytes: 64 * 1024,
	}
}

// Options controls a single CheckAll run
type Options struct {
	Window   int  // Overrides Config.Window when positive
	Strict   bool // Apply soft-failure title heuristics
	Progress func(done, total int)
}

// Checker probes URLs for reachability
type Checker struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Checker
func New(config Config, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}

	return &Checker{
		config: config,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Probeable reports whether an entry has an http(s) URL
func Probeable(e models.Entry) bool {
	u, err := url.Parse(e.URL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CheckAll probes every http(s) entry in fixed-size windows. All probes of a
// window run concurrently and the next window starts only after each of them
// has finished. Verdicts keep the input order; other entries are skipped.
func (c *Checker) CheckAll(ctx context.Context, entries []models.Entry, opts Options) []models.HealthVerdict {
	var targets []models.Entry
	for _, e := range entries {
		if Probeable(e) {
			targets = append(targets, e)
		} else {
			metrics.LinkChecks.WithLabelValues("skipped").Inc()
		}
	}

	window := opts.Window
	if window <= 0 {
		window = c.config.Window
	}

	verdicts := make([]models.HealthVerdict, len(targets))
	for start := 0; start < len(targets); start += window {
		end := min(start+window, len(targets))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				verdicts[i] = c.Check(ctx, targets[i], opts.Strict)
				return nil
			})
		}
		g.Wait()

		if opts.Progress != nil {
			opts.Progress(end, len(targets))
		}
	}
	return verdicts
}

// Check probes a single entry
func (c *Checker) Check(ctx context.Context, e models.Entry, strict bool) models.HealthVerdict {
	start := time.Now()
	v := c.check(ctx, e, strict)
	v.CheckedAt = c.now().UTC()

	metrics.LinkCheckDuration.Observe(time.Since(start).Seconds())
	if v.Alive {
		metrics.LinkChecks.WithLabelValues("alive").Inc()
	} else {
		metrics.LinkChecks.WithLabelValues("dead").Inc()
		c.logger.Debug("link dead", "entry_id", e.ID, "url", e.URL, "status", v.Status, "error", v.Error, "reason", v.Reason)
	}
	return v
}

func (c *Checker) check(ctx context.Context, e models.Entry, strict bool) models.HealthVerdict {
	v := models.HealthVerdict{EntryID: e.ID, URL: e.URL}

	res, err := c.probe(ctx, http.MethodHead, e.URL, 0)
	if err == nil && (res.status == http.StatusMethodNotAllowed || res.status == http.StatusForbidden || res.status == http.StatusNotImplemented) {
		var limit int64 = 1
		if strict {
			limit = c.config.MaxBodyBytes
		}
		res, err = c.probe(ctx, http.MethodGet, e.URL, limit)
	}

	if err != nil {
		if isTimeout(err) {
			v.Error = "timeout"
			v.Reason = ReasonTimeout
		} else {
			v.Error = err.Error()
			v.Reason = ReasonTransport
		}
		return v
	}

	v.Status = res.status
	if res.status >= 400 {
		v.Reason = ReasonStatus
		return v
	}

	if strict {
		body := res.body
		if res.method == http.MethodHead {
			if full, err := c.probe(ctx, http.MethodGet, e.URL, c.config.MaxBodyBytes); err == nil {
				if full.status >= 400 && full.status != http.StatusRequestedRangeNotSatisfiable {
					v.Status = full.status
					v.Reason = ReasonStatus
					return v
				}
				body = full.body
			}
		}
		if reason := softFailure(e.URL, pageTitle(body)); reason != "" {
			v.Reason = reason
			return v
		}
	}

	v.Alive = true
	return v
}

type probeResult struct {
	method string
	status int
	body   []byte
}

// probe issues one request with its own timeout, retrying transport errors
// other than timeouts. bodyLimit > 0 sends a Range header for that many bytes
// and reads at most that much of the body.
func (c *Checker) probe(ctx context.Context, method, target string, bodyLimit int64) (probeResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, c.config.RetryBackoff*time.Duration(attempt)); err != nil {
				return probeResult{}, err
			}
		}

		res, err := c.do(ctx, method, target, bodyLimit)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if isTimeout(err) || ctx.Err() != nil {
			break
		}
	}
	return probeResult{}, lastErr
}

func (c *Checker) do(ctx context.Context, method, target string, bodyLimit int64) (probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return probeResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	if bodyLimit > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", bodyLimit-1))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return probeResult{}, err
	}
	defer resp.Body.Close()

	res := probeResult{method: method, status: resp.StatusCode}
	if bodyLimit > 1 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
		if err != nil && !isTimeout(err) {
			return probeResult{}, err
		}
		res.body = body
	}
	return res, nil
}

func pageTitle(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return scanTitles(doc).best()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
