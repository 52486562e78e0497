package nwis

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/geoskimoto/usgs-streamflow-dashboard-sub000/internal/resolver"
)

// RetryPolicy bounds the local retry loop applied to transient failures.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

// Result is a successful fetch plus how many retries it took.
type Result struct {
	Points  []Point
	Retries int
}

// Fetcher wraps a Client with a retry policy. Only transient classifications
// are retried; permanent and validation errors surface immediately. The
// Fetcher never touches storage.
type Fetcher struct {
	client *Client
	policy RetryPolicy
	clock  clock.Clock
	logger *slog.Logger
}

// NewFetcher builds a Fetcher around client.
func NewFetcher(client *Client, policy RetryPolicy, clk clock.Clock, logger *slog.Logger) *Fetcher {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Fetcher{client: client, policy: policy, clock: clk, logger: logger}
}

// DailyValues fetches daily observations with retry.
func (f *Fetcher) DailyValues(ctx context.Context, siteNo string, r resolver.Range) (Result, error) {
	return f.call(ctx, siteNo, func() ([]Point, error) {
		return f.client.DailyValues(ctx, siteNo, r)
	})
}

// InstantaneousValues fetches recent observations with retry.
func (f *Fetcher) InstantaneousValues(ctx context.Context, siteNo string, window time.Duration) (Result, error) {
	return f.call(ctx, siteNo, func() ([]Point, error) {
		return f.client.InstantaneousValues(ctx, siteNo, window)
	})
}

func (f *Fetcher) call(ctx context.Context, siteNo string, fn func() ([]Point, error)) (Result, error) {
	var points []Point
	attempts := 0

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			var err error
			points, err = fn()
			return err
		},
		IsFatalError: func(err error) bool {
			return !IsTransient(err)
		},
		NotifyFunc: func(lastError error, attempt int) {
			f.logger.Warn("fetch attempt failed",
				"site_no", siteNo,
				"attempt", attempt,
				"error", lastError)
		},
		Attempts:    f.policy.Attempts,
		Delay:       f.policy.Delay,
		MaxDelay:    f.policy.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       f.clock,
		Stop:        ctx.Done(),
	})

	result := Result{Points: points, Retries: attempts - 1}
	if err == nil {
		return result, nil
	}
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		err = retry.LastError(err)
	}
	return Result{Retries: attempts - 1}, err
}
