package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Operation names used in errors, logs and metrics.
const (
	OpListChannels = "list_channels"
	OpListHistory  = "list_history"
	OpListReplies  = "list_replies"
	OpJoinChannel  = "join_channel"
)

// RateLimiterConfig controls call spacing and throttle handling.
type RateLimiterConfig struct {
	// Interval is the minimum spacing between two platform calls.
	Interval time.Duration
	// MaxThrottleRetries bounds retries of a throttled call.
	MaxThrottleRetries int
}

// RateLimiter spaces every platform call, shared by all callers of one run.
// A call failing with ErrNotInChannel is recovered by a single join and
// retried exactly once; throttled calls are retried after the advised delay
// up to MaxThrottleRetries times; anything else is surfaced as an APIError.
type RateLimiter struct {
	limiter            *rate.Limiter
	joiner             Joiner
	maxThrottleRetries int
	logger             *zap.Logger
	sleep              func(context.Context, time.Duration) error
}

// NewRateLimiter builds a limiter. A nil joiner disables join recovery.
func NewRateLimiter(cfg RateLimiterConfig, joiner Joiner, logger *zap.Logger) *RateLimiter {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := cfg.MaxThrottleRetries
	if retries < 0 {
		retries = 0
	}
	return &RateLimiter{
		limiter:            rate.NewLimiter(limit, 1),
		joiner:             joiner,
		maxThrottleRetries: retries,
		logger:             logger,
		sleep:              sleepContext,
	}
}

// Wait blocks until the minimum interval since the previous call has elapsed.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		rateLimitWaitSeconds.Observe(d.Seconds())
	}
	return nil
}

// Do runs call behind the limiter with join recovery and throttle retries.
// The same call, and so the same request parameters, is reused on retry.
func (r *RateLimiter) Do(ctx context.Context, op, channelID string, call func(context.Context) error) error {
	joined := false
	throttles := 0
	for {
		if err := r.Wait(ctx); err != nil {
			return err
		}
		err := call(ctx)
		if err == nil {
			apiCallsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}

		var throttled *ThrottledError
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			apiCallsTotal.WithLabelValues(op, "canceled").Inc()
			return err
		case errors.Is(err, ErrNotInChannel) && !joined && channelID != "" && r.joiner != nil:
			apiCallsTotal.WithLabelValues(op, "not_in_channel").Inc()
			joined = true
			if jerr := r.join(ctx, channelID); jerr != nil {
				return jerr
			}
			continue
		case errors.As(err, &throttled) && throttles < r.maxThrottleRetries:
			apiCallsTotal.WithLabelValues(op, "throttled").Inc()
			throttledTotal.Inc()
			throttles++
			r.logger.Warn("platform throttled call",
				zap.String("op", op),
				zap.String("channel_id", channelID),
				zap.Duration("retry_after", throttled.RetryAfter),
				zap.Int("attempt", throttles))
			if serr := r.sleep(ctx, throttled.RetryAfter); serr != nil {
				return serr
			}
			continue
		default:
			apiCallsTotal.WithLabelValues(op, "error").Inc()
			return &APIError{Op: op, ChannelID: channelID, Err: err}
		}
	}
}

func (r *RateLimiter) join(ctx context.Context, channelID string) error {
	if err := r.Wait(ctx); err != nil {
		return err
	}
	if err := r.joiner.JoinChannel(ctx, channelID); err != nil {
		apiCallsTotal.WithLabelValues(OpJoinChannel, "error").Inc()
		return &APIError{Op: OpJoinChannel, ChannelID: channelID, Err: err}
	}
	apiCallsTotal.WithLabelValues(OpJoinChannel, "ok").Inc()
	channelJoinsTotal.Inc()
	r.logger.Info("joined channel", zap.String("channel_id", channelID))
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
