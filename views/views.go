// Package views implements buffered view counting for stories and chapters.
//
// Page views are deduplicated per viewer within a rolling window and buffered
// as plain Redis counters; a periodic sync drains the buffers into the
// durable read_count columns. The total for an entity is therefore its stored
// count plus the buffered delta, and for a story additionally the totals of
// all its chapters. Combined totals are cached with a short TTL and
// invalidated on every increment.
//
// Redis being down is a designed mode, not an error: Track reports that the
// caller must fall back to the durable path, and count queries serve
// durable-only numbers. This package never turns a cache outage into a
// request failure.
package views

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/fablehall/viewcore/env"
)

// ErrNotFound is returned when an entity referenced by a view event or count
// query does not exist in the durable store.
var ErrNotFound = errors.New("views: not found")

// Kind identifies the type of entity a view belongs to.
type Kind string

const (
	KindStory   Kind = "story"
	KindChapter Kind = "chapter"
)

// Kinds lists every tracked entity kind, in sync order.
var Kinds = []Kind{KindStory, KindChapter}

func (k Kind) valid() bool {
	return k == KindStory || k == KindChapter
}

// View is a single page-view event as seen by the HTTP layer.
type View struct {
	Kind Kind
	ID   int64

	// UserID is the authenticated viewer, zero for anonymous traffic.
	UserID int64

	// IP is the client address, used as the dedup identity for anonymous
	// viewers.
	IP string

	// UserAgent is recorded with the event for log correlation only; it takes
	// no part in deduplication.
	UserAgent string
}

// viewer returns the dedup identity: the user id when authenticated,
// otherwise the client IP. ok is false when neither is available, e.g. for
// bots with no identifiable origin.
func (v View) viewer() (identity string, ok bool) {
	if v.UserID > 0 {
		return "u:" + strconv.FormatInt(v.UserID, 10), true
	}
	if v.IP != "" {
		return "ip:" + v.IP, true
	}

	return "", false
}

// TrackResult reports the outcome of a single view event.
type TrackResult struct {
	// Tracked is true when the event was recorded against the buffer, whether
	// or not it was the viewer's first view in the window.
	Tracked bool

	// FirstView is true when this event incremented the buffered counter.
	FirstView bool

	// Buffered is the buffered (not yet flushed) count after this event.
	Buffered int64

	// Fallback is true when the buffer is unavailable and the caller should
	// count the view directly against the durable store.
	Fallback bool
}

// Options configures the engine.
type Options struct {
	// DedupTTL is the rolling window within which repeat views by the same
	// viewer are not counted again.
	DedupTTL time.Duration

	// CacheTTL bounds the staleness of cached combined totals.
	CacheTTL time.Duration

	// Enabled gates the buffered path entirely; when false every Track call
	// reports Fallback and counts are served durable-only.
	Enabled bool
}

const (
	defaultDedupTTL = 24 * time.Hour
	defaultCacheTTL = 5 * time.Minute
)

func NewOptions() *Options {
	return &Options{
		DedupTTL: defaultDedupTTL,
		CacheTTL: defaultCacheTTL,
		Enabled:  true,
	}
}

// OptionsFromEnv reads VIEW_DEDUP_TTL (hours, or a duration string) and
// VIEW_TRACKING_ENABLED. The cache TTL is fixed.
func OptionsFromEnv() *Options {
	return &Options{
		DedupTTL: env.LoadDurationOr("VIEW_DEDUP_TTL", defaultDedupTTL),
		CacheTTL: defaultCacheTTL,
		Enabled:  env.LoadBoolOr("VIEW_TRACKING_ENABLED", true),
	}
}

func (opt *Options) Valid() error {
	if opt.DedupTTL <= 0 {
		return fmt.Errorf("views: dedup ttl must be greater than 0")
	}
	if opt.CacheTTL <= 0 {
		return fmt.Errorf("views: cache ttl must be greater than 0")
	}

	return nil
}

// Engine tracks views against Redis buffers and answers count queries by
// combining the durable store with the buffered deltas.
type Engine struct {
	client  *redis.Client
	store   ReadCountStore
	opt     *Options
	metrics MetricsCollector
	group   singleflight.Group

	// Now is injectable for tests.
	Now func() time.Time

	// Logger receives degradation warnings; defaults to slog.Default().
	Logger *slog.Logger
}

// NewEngine constructs an engine. client may be nil, in which case every
// operation takes the durable-only path.
func NewEngine(client *redis.Client, store ReadCountStore, opt *Options, collectors ...MetricsCollector) *Engine {
	if store == nil {
		panic("views: store is nil")
	}
	if opt == nil {
		opt = NewOptions()
	}
	if err := opt.Valid(); err != nil {
		panic(err)
	}

	var collector MetricsCollector
	if len(collectors) > 0 && collectors[0] != nil {
		collector = collectors[0]
	} else {
		collector = &AtomicMetrics{}
	}

	return &Engine{
		client:  client,
		store:   store,
		opt:     opt,
		metrics: collector,
		Now:     time.Now,
		Logger:  slog.Default(),
	}
}

// buffered reports whether the buffered path should be attempted at all.
func (e *Engine) buffered() bool {
	return e.client != nil && e.opt.Enabled
}
