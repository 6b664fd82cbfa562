package views

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// Count returns the combined total for one entity: stored count plus buffered
// delta, and for a story the same for every one of its chapters. The result
// is cached with the configured TTL; concurrent misses for the same key are
// collapsed into a single computation.
//
// Durable store errors surface (the sink is authoritative); Redis errors
// degrade to the durable-only number.
func (e *Engine) Count(ctx context.Context, kind Kind, id int64) (int64, error) {
	if !kind.valid() {
		return 0, fmt.Errorf("views: unknown kind %q", kind)
	}

	if !e.buffered() {
		total, _, err := e.durableParts(ctx, kind, id)
		return total, err
	}

	key := totalKey(kind, id)
	total, err := e.client.Get(ctx, key).Int64()
	if err == nil {
		e.metrics.IncCacheHits()
		return total, nil
	}
	if !errors.Is(err, redis.Nil) {
		e.Logger.Warn("views: total cache read failed, serving durable count",
			"kind", kind, "id", id, "err", err)
		total, _, err := e.durableParts(ctx, kind, id)
		return total, err
	}
	e.metrics.IncCacheMisses()

	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.computeCount(ctx, kind, id)
	})
	if err != nil {
		return 0, err
	}

	return v.(int64), nil
}

func (e *Engine) computeCount(ctx context.Context, kind Kind, id int64) (int64, error) {
	durable, bufferKeys, err := e.durableParts(ctx, kind, id)
	if err != nil {
		return 0, err
	}

	cmds := make([]*redis.StringCmd, len(bufferKeys))
	pipe := e.client.Pipeline()
	for i, k := range bufferKeys {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		// Buffered deltas unavailable: serve the durable number, uncached so
		// the next call retries the full computation.
		e.Logger.Warn("views: buffer read failed, serving durable count",
			"kind", kind, "id", id, "err", err)
		return durable, nil
	}

	total := durable
	for _, cmd := range cmds {
		if n, err := cmd.Int64(); err == nil {
			total += n
		}
	}

	if err := e.client.Set(ctx, totalKey(kind, id), total, e.opt.CacheTTL).Err(); err != nil {
		e.Logger.Debug("views: total cache fill failed", "kind", kind, "id", id, "err", err)
	}

	return total, nil
}

// durableParts returns the summed stored counts for an entity and the buffer
// keys that complete its total. For a story that includes all of its chapters.
func (e *Engine) durableParts(ctx context.Context, kind Kind, id int64) (int64, []string, error) {
	stored, err := e.store.ReadCount(ctx, kind, id)
	if err != nil {
		return 0, nil, err
	}

	keys := []string{bufferKey(kind, id)}
	if kind == KindStory {
		chapters, err := e.store.ChapterReadCounts(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		for chapterID, n := range chapters {
			stored += n
			keys = append(keys, bufferKey(KindChapter, chapterID))
		}
	}

	return stored, keys, nil
}

// BatchCount returns combined totals for many entities with a fixed number of
// round trips regardless of len(ids): one cache MGET, one durable query (two
// for stories), one buffer pipeline, one cache-fill pipeline.
func (e *Engine) BatchCount(ctx context.Context, kind Kind, ids []int64) (map[int64]int64, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("views: unknown kind %q", kind)
	}

	totals := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return totals, nil
	}

	if !e.buffered() {
		return e.durableBatch(ctx, kind, ids)
	}

	cacheKeys := make([]string, len(ids))
	for i, id := range ids {
		cacheKeys[i] = totalKey(kind, id)
	}
	cached, err := e.client.MGet(ctx, cacheKeys...).Result()
	if err != nil {
		e.Logger.Warn("views: total cache read failed, serving durable counts",
			"kind", kind, "err", err)
		return e.durableBatch(ctx, kind, ids)
	}

	var missing []int64
	for i, v := range cached {
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				totals[ids[i]] = n
				e.metrics.IncCacheHits()
				continue
			}
		}
		missing = append(missing, ids[i])
		e.metrics.IncCacheMisses()
	}
	if len(missing) == 0 {
		return totals, nil
	}

	computed, err := e.computeBatch(ctx, kind, missing)
	if err != nil {
		return nil, err
	}

	pipe := e.client.Pipeline()
	for id, total := range computed {
		totals[id] = total
		pipe.Set(ctx, totalKey(kind, id), total, e.opt.CacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		e.Logger.Debug("views: total cache fill failed", "kind", kind, "err", err)
	}

	return totals, nil
}

func (e *Engine) computeBatch(ctx context.Context, kind Kind, ids []int64) (map[int64]int64, error) {
	totals, chapters, err := e.durableBatchParts(ctx, kind, ids)
	if err != nil {
		return nil, err
	}

	// One pipeline covering every buffer involved: the entities themselves
	// plus, for stories, all of their chapters.
	type slot struct {
		id  int64
		cmd *redis.StringCmd
	}
	pipe := e.client.Pipeline()
	slots := make([]slot, 0, len(ids))
	for _, id := range ids {
		slots = append(slots, slot{id, pipe.Get(ctx, bufferKey(kind, id))})
		for chapterID := range chapters[id] {
			slots = append(slots, slot{id, pipe.Get(ctx, bufferKey(KindChapter, chapterID))})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		e.Logger.Warn("views: batch buffer read failed, serving durable counts",
			"kind", kind, "err", err)
		return totals, nil
	}

	for _, s := range slots {
		if n, err := s.cmd.Int64(); err == nil {
			totals[s.id] += n
		}
	}

	return totals, nil
}

func (e *Engine) durableBatch(ctx context.Context, kind Kind, ids []int64) (map[int64]int64, error) {
	totals, _, err := e.durableBatchParts(ctx, kind, ids)
	return totals, err
}

func (e *Engine) durableBatchParts(ctx context.Context, kind Kind, ids []int64) (map[int64]int64, map[int64]map[int64]int64, error) {
	stored, err := e.store.ReadCounts(ctx, kind, ids)
	if err != nil {
		return nil, nil, err
	}

	chapters := map[int64]map[int64]int64{}
	if kind == KindStory {
		chapters, err = e.store.ChapterReadCountsByStory(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
	}

	totals := make(map[int64]int64, len(ids))
	for _, id := range ids {
		total := stored[id]
		for _, n := range chapters[id] {
			total += n
		}
		totals[id] = total
	}

	return totals, chapters, nil
}

