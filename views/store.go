package views

import "context"

// ReadCountStore is the durable sink: the read_count columns consulted as the
// baseline for totals and written to by the sync pass. Implementations must
// return ErrNotFound (wrapped or bare) for entities that do not exist.
type ReadCountStore interface {
	// ReadCount returns the stored count for one entity.
	ReadCount(ctx context.Context, kind Kind, id int64) (int64, error)

	// ReadCounts returns stored counts for many entities in one query.
	// Missing ids are simply absent from the result.
	ReadCounts(ctx context.Context, kind Kind, ids []int64) (map[int64]int64, error)

	// ChapterReadCounts returns the stored counts of a story's chapters,
	// keyed by chapter id.
	ChapterReadCounts(ctx context.Context, storyID int64) (map[int64]int64, error)

	// ChapterReadCountsByStory groups chapter stored counts by story, for
	// batch story totals in one query.
	ChapterReadCountsByStory(ctx context.Context, storyIDs []int64) (map[int64]map[int64]int64, error)

	// ChapterStory returns the parent story id of a chapter.
	ChapterStory(ctx context.Context, chapterID int64) (int64, error)

	// IncrementReadCount applies a flushed buffer delta:
	// read_count = read_count + delta.
	IncrementReadCount(ctx context.Context, kind Kind, id int64, delta int64) error
}
