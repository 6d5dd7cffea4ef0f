// Package classifier sends prompts to a text generation backend and
// normalizes the different response shapes into plain text.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/curator/metrics"
)

// Classifier turns a prompt into model text
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// Backend names
const (
	BackendGemini = "gemini"
	BackendChat   = "chat"
	BackendOllama = "ollama"
)

// Config contains classifier configuration
type Config struct {
	Backend     string
	Endpoint    string // Base URL; empty uses the backend default
	Model       string
	APIKey      string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	MaxAttempts int           // Attempts per prompt when rate limited
	Backoff     time.Duration // Multiplied by the attempt number
}

// DefaultConfig returns default classifier configuration
func DefaultConfig() Config {
	return Config{
		Backend:     BackendGemini,
		Model:       "gemini-2.0-flash",
		Timeout:     60 * time.Second,
		Temperature: 0.1,
		MaxTokens:   4096,
		MaxAttempts: 3,
		Backoff:     800 * time.Millisecond,
	}
}

// New builds the configured backend wrapped with instrumentation and the
// rate-limit retry policy.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := newHTTPClient(cfg.Timeout)

	var backend Classifier
	switch strings.ToLower(cfg.Backend) {
	case BackendGemini, "":
		g, err := NewGemini(ctx, cfg, httpClient)
		if err != nil {
			return nil, err
		}
		backend = g
	case BackendChat, "openai":
		c, err := NewChat(cfg, httpClient)
		if err != nil {
			return nil, err
		}
		backend = c
	case BackendOllama:
		backend = NewOllama(cfg, httpClient)
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Backend)
	}

	name := strings.ToLower(cfg.Backend)
	if name == "" {
		name = BackendGemini
	}
	instrumented := &instrumented{next: backend, backend: name}
	return NewRetrying(instrumented, cfg.MaxAttempts, cfg.Backoff, name, logger), nil
}

// newHTTPClient returns a client whose transport propagates trace context
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Kind categorizes classification failures
type Kind int

const (
	KindUnavailable Kind = iota // transport failure or server error
	KindRateLimited
	KindAuth
	KindMalformed // response did not carry text
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	default:
		return "unavailable"
	}
}

// Error is a typed classification failure
type Error struct {
	Kind    Kind
	Backend string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s classifier: %s", e.Backend, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or KindUnavailable for untyped errors
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindUnavailable
}

// IsRateLimited reports whether err is a rate-limit failure
func IsRateLimited(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == KindRateLimited
}

var quotaPhrases = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"resource_exhausted",
	"resource has been exhausted",
	"too many requests",
}

// isQuotaMessage reports whether an error body talks about quota or rate limits
func isQuotaMessage(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range quotaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

const maxMessageBytes = 512

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// statusError maps an unsuccessful HTTP status and body to a typed failure
func statusError(backend string, status int, body string) *Error {
	message := truncate(strings.TrimSpace(body), maxMessageBytes)
	e := &Error{Backend: backend, Status: status, Message: message}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusUnauthorized:
		e.Kind = KindAuth
	case status >= 400 && status < 500 && isQuotaMessage(body):
		e.Kind = KindRateLimited
	case status == http.StatusForbidden:
		e.Kind = KindAuth
	default:
		e.Kind = KindUnavailable
	}
	if e.Kind == KindRateLimited {
		e.Message = "rate limit or quota exceeded, wait and retry or check your plan: " + message
	}
	return e
}

// instrumented records request metrics around a backend
type instrumented struct {
	next    Classifier
	backend string
}

func (c *instrumented) Classify(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	text, err := c.next.Classify(ctx, prompt)
	metrics.ClassifyDuration.WithLabelValues(c.backend).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.ClassifyRequests.WithLabelValues(c.backend, outcome).Inc()
	return text, err
}
