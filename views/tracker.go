package views

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// Track records one page-view event.
//
// Deduplication rests entirely on the atomicity of SETNX: whichever of two
// concurrent calls creates the marker owns the increment, so the buffered
// counter moves exactly once per viewer per window. The increment and cache
// invalidation that follow run in one pipeline for round-trip economy; they
// do not need to be atomic, because the marker already decided the race.
//
// A chapter with no parent story is a referential-integrity violation and
// returns an error wrapping ErrNotFound. Every operational Redis failure is
// absorbed into a Fallback result instead.
func (e *Engine) Track(ctx context.Context, view View) (TrackResult, error) {
	if !view.Kind.valid() {
		return TrackResult{}, fmt.Errorf("views: unknown kind %q", view.Kind)
	}

	viewer, ok := view.viewer()
	if !ok {
		// No user and no IP means there is nothing to dedup on. A legitimate
		// no-op, not an error.
		return TrackResult{}, nil
	}

	if !e.buffered() {
		return TrackResult{Fallback: true}, nil
	}

	// Story totals fold in chapter views, so a chapter increment must also
	// drop the parent story's cached total. Resolve the parent up front; a
	// missing row is the one failure that does surface.
	invalidate := []string{totalKey(view.Kind, view.ID)}
	if view.Kind == KindChapter {
		storyID, err := e.store.ChapterStory(ctx, view.ID)
		if err != nil {
			return TrackResult{}, err
		}
		invalidate = append(invalidate, totalKey(KindStory, storyID))
	}

	created, err := e.client.SetNX(ctx, dedupKey(view.Kind, view.ID, viewer), e.Now().Unix(), e.opt.DedupTTL).Result()
	if err != nil {
		e.Logger.Warn("views: dedup admission failed, falling back",
			"kind", view.Kind, "id", view.ID, "err", err)
		e.metrics.IncFallbacks()
		return TrackResult{Fallback: true}, nil
	}

	if !created {
		// Seen within the window: report the current buffer without touching it.
		buffered, err := e.client.Get(ctx, bufferKey(view.Kind, view.ID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			e.Logger.Warn("views: buffer read failed, falling back",
				"kind", view.Kind, "id", view.ID, "err", err)
			e.metrics.IncFallbacks()
			return TrackResult{Fallback: true}, nil
		}
		e.metrics.IncDuplicates()
		return TrackResult{Tracked: true, Buffered: buffered}, nil
	}

	pipe := e.client.Pipeline()
	incr := pipe.Incr(ctx, bufferKey(view.Kind, view.ID))
	pipe.Del(ctx, invalidate...)
	if _, err := pipe.Exec(ctx); err != nil {
		// The marker is already in place, so this view is dropped from the
		// buffer rather than risking a double count on retry.
		e.Logger.Warn("views: buffer increment failed, falling back",
			"kind", view.Kind, "id", view.ID, "err", err)
		e.metrics.IncFallbacks()
		return TrackResult{Fallback: true}, nil
	}

	e.metrics.IncTracked()
	return TrackResult{Tracked: true, FirstView: true, Buffered: incr.Val()}, nil
}
