package views_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablehall/viewcore/views"
)

func TestTrackDedup(t *testing.T) {
	store := newMemStore()
	store.stories[1] = 0
	engine, _ := newTestEngine(t, store, nil)

	view := views.View{Kind: views.KindStory, ID: 1, UserID: 7}

	is := assert.New(t)

	res, err := engine.Track(ctx, view)
	is.NoError(err)
	is.True(res.Tracked)
	is.True(res.FirstView)
	is.EqualValues(1, res.Buffered)

	// Repeat views within the window report the unchanged buffer.
	for i := 0; i < 3; i++ {
		res, err = engine.Track(ctx, view)
		is.NoError(err)
		is.True(res.Tracked)
		is.False(res.FirstView)
		is.EqualValues(1, res.Buffered)
	}
}

func TestTrackDedupDistinctViewers(t *testing.T) {
	store := newMemStore()
	store.stories[1] = 0
	engine, _ := newTestEngine(t, store, nil)

	is := assert.New(t)

	res, err := engine.Track(ctx, views.View{Kind: views.KindStory, ID: 1, UserID: 7})
	is.NoError(err)
	is.EqualValues(1, res.Buffered)

	res, err = engine.Track(ctx, views.View{Kind: views.KindStory, ID: 1, IP: "10.0.0.1"})
	is.NoError(err)
	is.True(res.FirstView)
	is.EqualValues(2, res.Buffered)
}

func TestTrackDedupExpiry(t *testing.T) {
	store := newMemStore()
	store.stories[1] = 0

	opt := views.NewOptions()
	opt.DedupTTL = time.Second
	engine, server := newTestEngine(t, store, opt)

	view := views.View{Kind: views.KindStory, ID: 1, UserID: 7}

	is := assert.New(t)

	res, err := engine.Track(ctx, view)
	is.NoError(err)
	is.True(res.FirstView)

	server.FastForward(2 * time.Second)

	// Marker expired: the same viewer counts again.
	res, err = engine.Track(ctx, view)
	is.NoError(err)
	is.True(res.FirstView)
	is.EqualValues(2, res.Buffered)
}

func TestTrackNoViewer(t *testing.T) {
	store := newMemStore()
	store.stories[1] = 0
	engine, _ := newTestEngine(t, store, nil)

	res, err := engine.Track(ctx, views.View{Kind: views.KindStory, ID: 1})

	is := assert.New(t)
	is.NoError(err)
	is.False(res.Tracked)
	is.False(res.Fallback)
}

func TestTrackUnknownKind(t *testing.T) {
	store := newMemStore()
	engine, _ := newTestEngine(t, store, nil)

	_, err := engine.Track(ctx, views.View{Kind: "comment", ID: 1, UserID: 7})
	assert.Error(t, err)
}

func TestTrackFallback(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		store := newMemStore()
		store.stories[1] = 0
		engine := views.NewEngine(nil, store, nil)

		res, err := engine.Track(ctx, views.View{Kind: views.KindStory, ID: 1, UserID: 7})

		is := assert.New(t)
		is.NoError(err)
		is.False(res.Tracked)
		is.True(res.Fallback)
	})

	t.Run("disabled", func(t *testing.T) {
		store := newMemStore()
		store.stories[1] = 0

		opt := views.NewOptions()
		opt.Enabled = false
		engine, _ := newTestEngine(t, store, opt)

		res, err := engine.Track(ctx, views.View{Kind: views.KindStory, ID: 1, UserID: 7})

		is := assert.New(t)
		is.NoError(err)
		is.True(res.Fallback)
	})

	t.Run("server down", func(t *testing.T) {
		store := newMemStore()
		store.stories[1] = 0
		engine, server := newTestEngine(t, store, nil)
		server.Close()

		res, err := engine.Track(ctx, views.View{Kind: views.KindStory, ID: 1, UserID: 7})

		is := assert.New(t)
		is.NoError(err)
		is.True(res.Fallback)
	})
}

func TestTrackChapterMissingStory(t *testing.T) {
	store := newMemStore()
	engine, _ := newTestEngine(t, store, nil)

	_, err := engine.Track(ctx, views.View{Kind: views.KindChapter, ID: 99, UserID: 7})
	assert.ErrorIs(t, err, views.ErrNotFound)
}

func TestTrackChapterInvalidatesStoryCache(t *testing.T) {
	store := newMemStore()
	store.stories[1] = 100
	store.chapters[10] = &chapterRec{storyID: 1, readCount: 50}
	engine, _ := newTestEngine(t, store, nil)

	is := assert.New(t)

	total, err := engine.Count(ctx, views.KindStory, 1)
	require.NoError(t, err)
	is.EqualValues(150, total)

	// A chapter view must show up in the story total immediately, even
	// though the cached total is still within its TTL.
	_, err = engine.Track(ctx, views.View{Kind: views.KindChapter, ID: 10, UserID: 7})
	require.NoError(t, err)

	total, err = engine.Count(ctx, views.KindStory, 1)
	require.NoError(t, err)
	is.EqualValues(151, total)
}

func TestTrackConcurrentDedup(t *testing.T) {
	store := newMemStore()
	store.stories[1] = 0
	engine, _ := newTestEngine(t, store, nil)

	view := views.View{Kind: views.KindStory, ID: 1, UserID: 7}

	const n = 16
	results := make([]views.TrackResult, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.Track(ctx, view)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var firstViews int
	for _, res := range results {
		if res.FirstView {
			firstViews++
		}
	}

	// The SETNX marker admits exactly one increment, never two.
	assert.Equal(t, 1, firstViews)
}
