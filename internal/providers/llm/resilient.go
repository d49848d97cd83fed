package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Result is the tagged outcome of a generation call: Content on success, Failure otherwise.
type Result struct {
	Content string
	Failure *Failure
}

// OK reports whether the call produced content.
func (r Result) OK() bool { return r.Failure == nil }

// Failure is the terminal marker returned once retries are exhausted or a fault is not retryable.
type Failure struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation failed after %d attempt(s) [%s]: %v", f.Attempts, f.Kind, f.Err)
}

// RetryPolicy bounds retries per failure kind.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// ConnectionBase is the first connection-fault delay; it doubles per attempt.
	ConnectionBase time.Duration
	// RateLimitBase is multiplied by the attempt number for rate-limit faults.
	RateLimitBase time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, ConnectionBase: time.Second, RateLimitBase: 10 * time.Second}
}

// Delay returns the wait after the given 1-based attempt failed with kind, and whether a
// retry is allowed at all.
func (p RetryPolicy) Delay(kind Kind, attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	switch kind {
	case KindConnection:
		return p.ConnectionBase << (attempt - 1), true
	case KindRateLimit:
		return p.RateLimitBase * time.Duration(attempt), true
	default:
		return 0, false
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Resilient wraps single generation calls with classified retry. It holds no per-call
// state and is safe for concurrent use.
type Resilient struct {
	Policy RetryPolicy
	Sleep  SleepFunc
	Logger *zap.Logger
	// OnRetry, if set, observes each scheduled retry.
	OnRetry func(kind Kind, attempt int, delay time.Duration)
}

func NewResilient(policy RetryPolicy, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resilient{Policy: policy, Sleep: sleepCtx, Logger: logger}
}

// Call invokes fn until it succeeds, hits a non-retryable fault, or exhausts the policy.
// It never panics and never returns an untagged error.
func (r *Resilient) Call(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) Result {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	policy := r.Policy
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		content, err := invoke(ctx, fn)
		if err == nil {
			return Result{Content: content}
		}
		kind := Classify(err)
		delay, retry := policy.Delay(kind, attempt)
		if !retry || isNoRetry(err) {
			logger.Error("generation call failed",
				zap.String("op", op), zap.String("kind", string(kind)),
				zap.Int("attempt", attempt), zap.Error(err))
			return Result{Failure: &Failure{Kind: kind, Attempts: attempt, Err: err}}
		}
		logger.Warn("generation call failed, retrying",
			zap.String("op", op), zap.String("kind", string(kind)),
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if r.OnRetry != nil {
			r.OnRetry(kind, attempt, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return Result{Failure: &Failure{Kind: kind, Attempts: attempt, Err: fmt.Errorf("%w (retry abandoned: %w)", err, serr)}}
		}
	}
}

// invoke runs fn and converts a panic into an unclassified error.
func invoke(ctx context.Context, fn func(ctx context.Context) (string, error)) (content string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in generation call: %v", p)
		}
	}()
	return fn(ctx)
}
