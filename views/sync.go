package views

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fablehall/viewcore/env"
)

const scanBatchSize = 100

// Buffered returns every positive buffered delta for a kind, keyed by entity
// id. Zero or negative buffers are omitted. Unlike the request-path
// operations this returns Redis errors to the caller: the sync job simply
// retries on its next pass, leaving the buffers intact.
func (e *Engine) Buffered(ctx context.Context, kind Kind) (map[int64]int64, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("views: unknown kind %q", kind)
	}

	counts := make(map[int64]int64)
	if e.client == nil {
		return counts, nil
	}

	prefix := bufferPrefix(kind)
	var keys []string
	iter := e.client.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("views: scan buffers: %w", err)
	}
	if len(keys) == 0 {
		return counts, nil
	}

	values, err := e.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("views: read buffers: %w", err)
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Expired between scan and read.
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(keys[i], prefix), 10, 64)
		if err != nil {
			continue
		}
		counts[id] = n
	}

	return counts, nil
}

// ClearBuffer deletes an entity's buffered counter and records the sync
// timestamp in one pipeline. Call it only after the delta has been persisted;
// a clear that never happens means the delta is applied again next pass,
// which the sink tolerates.
func (e *Engine) ClearBuffer(ctx context.Context, kind Kind, id int64) error {
	if !kind.valid() {
		return fmt.Errorf("views: unknown kind %q", kind)
	}
	if e.client == nil {
		return nil
	}

	pipe := e.client.Pipeline()
	pipe.Del(ctx, bufferKey(kind, id))
	pipe.Set(ctx, lastSyncKey(kind), e.Now().Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("views: clear buffer %s %d: %w", kind, id, err)
	}

	return nil
}

// LastSync returns when a kind's buffers were last cleared, zero when never
// or when Redis is unavailable.
func (e *Engine) LastSync(ctx context.Context, kind Kind) (time.Time, error) {
	if e.client == nil {
		return time.Time{}, nil
	}

	unix, err := e.client.Get(ctx, lastSyncKey(kind)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(unix, 0), nil
}

// Syncer drains buffered view counts into the durable store on an interval.
// It is meant to run as a single goroutine per deployment; two passes racing
// only double-apply deltas, never lose them.
type Syncer struct {
	engine *Engine

	// Interval between sync passes.
	Interval time.Duration

	// Logger defaults to the engine's.
	Logger *slog.Logger
}

const defaultSyncInterval = 12 * time.Hour

func NewSyncer(engine *Engine) *Syncer {
	if engine == nil {
		panic("views: engine is nil")
	}

	return &Syncer{
		engine:   engine,
		Interval: env.LoadDurationOr("VIEW_SYNC_INTERVAL", defaultSyncInterval),
		Logger:   engine.Logger,
	}
}

// SyncOnce drains every kind. Failures are joined and returned after all
// kinds have been attempted; any id whose durable write failed keeps its
// buffer for the next pass.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	var errs []error
	for _, kind := range Kinds {
		if err := s.syncKind(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Syncer) syncKind(ctx context.Context, kind Kind) error {
	buffered, err := s.engine.Buffered(ctx, kind)
	if err != nil {
		return err
	}
	if len(buffered) == 0 {
		return nil
	}

	var errs []error
	var synced int
	for id, delta := range buffered {
		if err := s.engine.store.IncrementReadCount(ctx, kind, id, delta); err != nil {
			errs = append(errs, fmt.Errorf("views: flush %s %d: %w", kind, id, err))
			continue
		}
		// Persisted. A failed clear below means the delta may be applied
		// twice; preferred over losing it.
		if err := s.engine.ClearBuffer(ctx, kind, id); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}

	s.Logger.Info("views: synced buffers", "kind", kind, "synced", synced, "failed", len(errs))
	return errors.Join(errs...)
}

// Run calls SyncOnce on every tick until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.Logger.Error("views: sync pass failed", "err", err)
			}
		}
	}
}
