package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

//go:embed sliding_window.lua
var slidingWindowScript string

var slidingWindow = redis.NewScript(slidingWindowScript)

const (
	// expiryBuffer pads the key TTL past the window so a set is never
	// expired out from under a decision in flight.
	expiryBuffer = time.Minute

	// minRetryAfter is the floor for the Retry-After hint on denials.
	minRetryAfter = time.Second

	// cleanupHorizon is how far back the maintenance sweep purges entries.
	cleanupHorizon = time.Hour

	cleanupBatchSize = 100
)

// SlidingWindow implements the sliding window log algorithm. Purge, count and
// conditional insert run as one Lua script, so no two concurrent requests can
// both claim the last remaining slot.
type SlidingWindow struct {
	client  *redis.Client
	opt     *SlidingWindowOption
	metrics MetricsCollector

	// Now is injectable for tests.
	Now func() time.Time

	// Logger receives fail-open warnings; defaults to slog.Default().
	Logger *slog.Logger
}

type SlidingWindowOption struct {
	Limit  int64
	Window time.Duration
}

func (opt *SlidingWindowOption) Valid() error {
	if opt.Limit <= 0 {
		return fmt.Errorf("%w: limit must be greater than 0", Error)
	}
	if opt.Window <= 0 {
		return fmt.Errorf("%w: window must be greater than 0", Error)
	}

	return nil
}

// NewSlidingWindow constructs the limiter. client may be nil; every decision
// is then an admission.
func NewSlidingWindow(client *redis.Client, opt *SlidingWindowOption, collectors ...MetricsCollector) *SlidingWindow {
	if opt == nil {
		panic("ratelimit: option is nil")
	}
	if err := opt.Valid(); err != nil {
		panic(err)
	}

	var collector MetricsCollector
	if len(collectors) > 0 && collectors[0] != nil {
		collector = collectors[0]
	} else {
		collector = &AtomicMetricsCollector{}
	}

	return &SlidingWindow{
		client:  client,
		opt:     opt,
		metrics: collector,
		Now:     time.Now,
		Logger:  slog.Default(),
	}
}

// Allow decides one request for key. It never fails: a nil client or a
// script error admits the request with a full window reported.
func (s *SlidingWindow) Allow(ctx context.Context, key string) *Result {
	s.metrics.IncTotalRequests()

	if s.client == nil {
		s.metrics.IncFailOpen()
		return s.failOpen()
	}

	now := s.Now()
	window := s.opt.Window.Milliseconds()

	keys := []string{s.buildKey(key), s.seqKey(key)}
	argv := []any{
		s.opt.Limit,
		now.UnixMilli(),
		window,
		expiryBuffer.Milliseconds(),
	}
	res, err := slidingWindow.Run(ctx, s.client, keys, argv...).Int64Slice()
	if err != nil || len(res) != 3 {
		s.Logger.Warn("ratelimit: sliding window script failed, admitting",
			"key", key, "err", err)
		s.metrics.IncFailOpen()
		return s.failOpen()
	}

	allowed, count, oldest := res[0] == 1, res[1], res[2]
	resetAt := time.UnixMilli(oldest + window)

	if !allowed {
		retryAt := resetAt
		if floor := now.Add(minRetryAfter); retryAt.Before(floor) {
			retryAt = floor
		}
		s.metrics.IncDenied()
		return &Result{
			Allow:     false,
			Limit:     s.opt.Limit,
			Remaining: 0,
			ResetAt:   resetAt,
			RetryAt:   retryAt,
		}
	}

	s.metrics.IncAllowed()
	return &Result{
		Allow:     true,
		Limit:     s.opt.Limit,
		Remaining: s.opt.Limit - count,
		ResetAt:   resetAt,
		RetryAt:   now,
	}
}

// Status reports the current window for key without admitting a new entry.
// Meant for dashboards; the purge-count pair is pipelined, not atomic, which
// is fine for a read-only view.
func (s *SlidingWindow) Status(ctx context.Context, key string) (*Result, error) {
	if s.client == nil {
		return s.failOpen(), nil
	}

	now := s.Now()
	window := s.opt.Window.Milliseconds()
	windowStart := now.UnixMilli() - window

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, s.buildKey(key), "-inf", formatScore(windowStart))
	card := pipe.ZCard(ctx, s.buildKey(key))
	head := pipe.ZRangeWithScores(ctx, s.buildKey(key), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: status %q: %s", Error, key, err)
	}

	count := card.Val()
	oldest := now.UnixMilli()
	if entries := head.Val(); len(entries) > 0 {
		oldest = int64(entries[0].Score)
	}

	remaining := s.opt.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allow:     count < s.opt.Limit,
		Limit:     s.opt.Limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(oldest + window),
		RetryAt:   now,
	}, nil
}

// Reset removes all state for key. Administrative and test use.
func (s *SlidingWindow) Reset(ctx context.Context, key string) error {
	if s.client == nil {
		return nil
	}

	return s.client.Del(ctx, s.buildKey(key), s.seqKey(key)).Err()
}

// Cleanup sweeps every window set under prefix, purging entries older than
// the horizon and deleting sets left empty. TTLs already bound key lifetime;
// this defends against clock skew and very long windows accumulating keys.
// Returns the number of keys deleted.
func (s *SlidingWindow) Cleanup(ctx context.Context, prefix string) (int, error) {
	if s.client == nil {
		return 0, nil
	}

	horizon := s.Now().Add(-cleanupHorizon).UnixMilli()
	var deleted int

	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		cards := make([]*redis.IntCmd, len(batch))
		for i, key := range batch {
			pipe.ZRemRangeByScore(ctx, key, "-inf", formatScore(horizon))
			cards[i] = pipe.ZCard(ctx, key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}

		var empty []string
		for i, card := range cards {
			if card.Val() == 0 {
				empty = append(empty, batch[i])
			}
		}
		if len(empty) > 0 {
			if err := s.client.Del(ctx, empty...).Err(); err != nil {
				return err
			}
			deleted += len(empty)
		}

		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, prefix+"*", cleanupBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// Sequence counters are plain strings with their own TTL.
		if strings.HasSuffix(key, ":seq") {
			continue
		}
		batch = append(batch, key)
		if len(batch) >= cleanupBatchSize {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("%w: cleanup: %s", Error, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("%w: cleanup scan: %s", Error, err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("%w: cleanup: %s", Error, err)
	}

	return deleted, nil
}

func (s *SlidingWindow) failOpen() *Result {
	now := s.Now()
	return &Result{
		Allow:     true,
		Limit:     s.opt.Limit,
		Remaining: s.opt.Limit,
		ResetAt:   now.Add(s.opt.Window),
		RetryAt:   now,
	}
}

func (s *SlidingWindow) buildKey(key string) string {
	// The key comes first so users can search their keys by prefix; the
	// suffix identifies the algorithm in case implementations are switched.
	return fmt.Sprintf("%s:ratelimit:sliding_window", key)
}

func (s *SlidingWindow) seqKey(key string) string {
	return s.buildKey(key) + ":seq"
}

func formatScore(ms int64) string {
	return fmt.Sprintf("%d", ms)
}
