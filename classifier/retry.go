package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/docutag/curator/metrics"
)

// State is a step of the retry state machine
type State int

const (
	StateAttempt State = iota
	StateBackoff
	StateSuccess
	StateFail
)

func (s State) String() string {
	switch s {
	case StateAttempt:
		return "attempt"
	case StateBackoff:
		return "backoff"
	case StateSuccess:
		return "success"
	default:
		return "fail"
	}
}

// Retrying retries rate-limited classifications a bounded number of times
// with a linearly increasing backoff. Other failures are returned at once.
type Retrying struct {
	next        Classifier
	maxAttempts int
	backoff     time.Duration
	backend     string
	logger      *slog.Logger

	sleep        func(context.Context, time.Duration) error
	onTransition func(State, int)
}

// NewRetrying wraps next. maxAttempts <= 0 means a single attempt.
func NewRetrying(next Classifier, maxAttempts int, backoff time.Duration, backend string, logger *slog.Logger) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		next:        next,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		backend:     backend,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// Classify runs the attempt/backoff loop until success or a terminal failure
func (r *Retrying) Classify(ctx context.Context, prompt string) (string, error) {
	var (
		state   = StateAttempt
		attempt int
		text    string
		err     error
	)

	for {
		if r.onTransition != nil {
			r.onTransition(state, attempt)
		}

		switch state {
		case StateAttempt:
			attempt++
			text, err = r.next.Classify(ctx, prompt)
			switch {
			case err == nil:
				state = StateSuccess
			case IsRateLimited(err) && attempt < r.maxAttempts:
				state = StateBackoff
			default:
				state = StateFail
			}

		case StateBackoff:
			delay := r.backoff * time.Duration(attempt)
			r.logger.Warn("classifier rate limited, backing off",
				"backend", r.backend,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			metrics.ClassifyRetries.WithLabelValues(r.backend).Inc()
			if serr := r.sleep(ctx, delay); serr != nil {
				err = &Error{Kind: KindUnavailable, Backend: r.backend, Message: "cancelled during backoff", Err: serr}
				state = StateFail
				continue
			}
			state = StateAttempt

		case StateSuccess:
			return text, nil

		case StateFail:
			return "", err
		}
	}
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
