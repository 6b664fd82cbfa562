package views

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// Story and Chapter map the two tables whose read_count columns act as the
// durable sink for buffered views. Only the columns this package touches are
// modeled; the rest of the schema belongs to the application.
type Story struct {
	bun.BaseModel `bun:"table:stories"`

	ID        int64 `bun:"id,pk,autoincrement"`
	ReadCount int64 `bun:"read_count,notnull,default:0"`
}

type Chapter struct {
	bun.BaseModel `bun:"table:chapters"`

	ID        int64 `bun:"id,pk,autoincrement"`
	StoryID   int64 `bun:"story_id,notnull"`
	ReadCount int64 `bun:"read_count,notnull,default:0"`
}

// BunStore implements ReadCountStore on a Postgres database via bun.
type BunStore struct {
	db *bun.DB
}

var _ ReadCountStore = (*BunStore)(nil)

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

func (s *BunStore) model(kind Kind) (any, error) {
	switch kind {
	case KindStory:
		return (*Story)(nil), nil
	case KindChapter:
		return (*Chapter)(nil), nil
	default:
		return nil, fmt.Errorf("views: unknown kind %q", kind)
	}
}

func (s *BunStore) ReadCount(ctx context.Context, kind Kind, id int64) (int64, error) {
	model, err := s.model(kind)
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.db.NewSelect().
		Model(model).
		Column("read_count").
		Where("id = ?", id).
		Scan(ctx, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (s *BunStore) ReadCounts(ctx context.Context, kind Kind, ids []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	switch kind {
	case KindStory:
		var stories []Story
		err := s.db.NewSelect().
			Model(&stories).
			Column("id", "read_count").
			Where("id IN (?)", bun.In(ids)).
			Scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range stories {
			counts[row.ID] = row.ReadCount
		}
	case KindChapter:
		var chapters []Chapter
		err := s.db.NewSelect().
			Model(&chapters).
			Column("id", "read_count").
			Where("id IN (?)", bun.In(ids)).
			Scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range chapters {
			counts[row.ID] = row.ReadCount
		}
	default:
		return nil, fmt.Errorf("views: unknown kind %q", kind)
	}

	return counts, nil
}

func (s *BunStore) ChapterReadCounts(ctx context.Context, storyID int64) (map[int64]int64, error) {
	var chapters []Chapter
	err := s.db.NewSelect().
		Model(&chapters).
		Column("id", "read_count").
		Where("story_id = ?", storyID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]int64, len(chapters))
	for _, c := range chapters {
		counts[c.ID] = c.ReadCount
	}

	return counts, nil
}

func (s *BunStore) ChapterReadCountsByStory(ctx context.Context, storyIDs []int64) (map[int64]map[int64]int64, error) {
	grouped := make(map[int64]map[int64]int64, len(storyIDs))
	if len(storyIDs) == 0 {
		return grouped, nil
	}

	var chapters []Chapter
	err := s.db.NewSelect().
		Model(&chapters).
		Column("id", "story_id", "read_count").
		Where("story_id IN (?)", bun.In(storyIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	for _, c := range chapters {
		if grouped[c.StoryID] == nil {
			grouped[c.StoryID] = make(map[int64]int64)
		}
		grouped[c.StoryID][c.ID] = c.ReadCount
	}

	return grouped, nil
}

func (s *BunStore) ChapterStory(ctx context.Context, chapterID int64) (int64, error) {
	var storyID int64
	err := s.db.NewSelect().
		Model((*Chapter)(nil)).
		Column("story_id").
		Where("id = ?", chapterID).
		Scan(ctx, &storyID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: chapter %d", ErrNotFound, chapterID)
	}
	if err != nil {
		return 0, err
	}

	return storyID, nil
}

func (s *BunStore) IncrementReadCount(ctx context.Context, kind Kind, id int64, delta int64) error {
	model, err := s.model(kind)
	if err != nil {
		return err
	}

	res, err := s.db.NewUpdate().
		Model(model).
		Set("read_count = read_count + ?", delta).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}

	return nil
}
