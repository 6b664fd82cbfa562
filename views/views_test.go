package views_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fablehall/viewcore/views"
)

var ctx = context.Background()

// memStore is an in-memory ReadCountStore used to exercise the engine
// without a database.
type memStore struct {
	mu       sync.Mutex
	stories  map[int64]int64 // story id -> read_count
	chapters map[int64]*chapterRec
	incrErr  error // injected IncrementReadCount failure
}

type chapterRec struct {
	storyID   int64
	readCount int64
}

func newMemStore() *memStore {
	return &memStore{
		stories:  make(map[int64]int64),
		chapters: make(map[int64]*chapterRec),
	}
}

func (s *memStore) ReadCount(_ context.Context, kind views.Kind, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case views.KindStory:
		n, ok := s.stories[id]
		if !ok {
			return 0, fmt.Errorf("%w: story %d", views.ErrNotFound, id)
		}
		return n, nil
	case views.KindChapter:
		c, ok := s.chapters[id]
		if !ok {
			return 0, fmt.Errorf("%w: chapter %d", views.ErrNotFound, id)
		}
		return c.readCount, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", kind)
	}
}

func (s *memStore) ReadCounts(_ context.Context, kind views.Kind, ids []int64) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int64]int64, len(ids))
	for _, id := range ids {
		switch kind {
		case views.KindStory:
			if n, ok := s.stories[id]; ok {
				counts[id] = n
			}
		case views.KindChapter:
			if c, ok := s.chapters[id]; ok {
				counts[id] = c.readCount
			}
		}
	}

	return counts, nil
}

func (s *memStore) ChapterReadCounts(_ context.Context, storyID int64) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int64]int64)
	for id, c := range s.chapters {
		if c.storyID == storyID {
			counts[id] = c.readCount
		}
	}

	return counts, nil
}

func (s *memStore) ChapterReadCountsByStory(_ context.Context, storyIDs []int64) (map[int64]map[int64]int64, error) {
	grouped := make(map[int64]map[int64]int64)
	for _, storyID := range storyIDs {
		counts, err := s.ChapterReadCounts(ctx, storyID)
		if err != nil {
			return nil, err
		}
		if len(counts) > 0 {
			grouped[storyID] = counts
		}
	}

	return grouped, nil
}

func (s *memStore) ChapterStory(_ context.Context, chapterID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chapters[chapterID]
	if !ok {
		return 0, fmt.Errorf("%w: chapter %d", views.ErrNotFound, chapterID)
	}

	return c.storyID, nil
}

func (s *memStore) IncrementReadCount(_ context.Context, kind views.Kind, id int64, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.incrErr != nil {
		return s.incrErr
	}

	switch kind {
	case views.KindStory:
		if _, ok := s.stories[id]; !ok {
			return fmt.Errorf("%w: story %d", views.ErrNotFound, id)
		}
		s.stories[id] += delta
	case views.KindChapter:
		c, ok := s.chapters[id]
		if !ok {
			return fmt.Errorf("%w: chapter %d", views.ErrNotFound, id)
		}
		c.readCount += delta
	}

	return nil
}

func (s *memStore) storyCount(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stories[id]
}

func (s *memStore) chapterCount(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chapters[id]; ok {
		return c.readCount
	}
	return 0
}

func newTestEngine(t *testing.T, store views.ReadCountStore, opt *views.Options) (*views.Engine, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return views.NewEngine(client, store, opt), server
}
