package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/daehan-lim/newsgather/internal/source"
)

const (
	statsCacheKey = "newsgather:stats"
	statsCacheTTL = time.Minute
)

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}

	if err := db.AutoMigrate(&Article{}, &CollectionLog{}, &TrackedKeyword{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("warn: redis ping failed: %v", err)
		}
	}

	return &Store{DB: db, Redis: rdb}, nil
}

// toValidUTF8 normalizes strings to legal UTF-8 before they reach postgres;
// scraped pages occasionally carry broken byte sequences.
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunes caps a string at limit runes so it fits the varchar column
// even when an upstream source returns pathological text.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// FromRecord maps an adapter record onto the stored row shape.
func FromRecord(r source.Record) Article {
	return Article{
		Title:        truncateRunes(toValidUTF8(r.Title), 512),
		OriginalLink: truncateRunes(r.OriginalLink, 1024),
		Link:         truncateRunes(r.Link, 1024),
		Summary:      truncateRunes(toValidUTF8(r.Summary), 2000),
		PubDate:      truncateRunes(r.PubDate, 64),
		Source:       string(r.Source),
		Keyword:      truncateRunes(toValidUTF8(r.Keyword), 128),
		Category:     truncateRunes(toValidUTF8(r.Category), 64),
		Extra:        datatypes.JSONMap(r.Extra),
	}
}

// InsertIfAbsent saves a single article keyed by its canonical link.
// When the link already exists the stored row's duplicate flag is flipped
// and (nil, false, nil) is returned; the existing fields are not touched.
func (s *Store) InsertIfAbsent(ctx context.Context, a Article) (*Article, bool, error) {
	var saved *Article
	wasNew := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Article
		err := tx.Where("original_link = ?", a.OriginalLink).First(&existing).Error
		if err == nil {
			if !existing.IsDuplicate {
				if err := tx.Model(&existing).Update("is_duplicate", true).Error; err != nil {
					return err
				}
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(&a).Error; err != nil {
			return err
		}
		saved = &a
		wasNew = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("storage: insert article: %w", err)
	}
	return saved, wasNew, nil
}

// InsertBatchIfAbsent commits one batch in a single transaction: novel links
// are inserted, repeated links flip the existing row's duplicate flag and
// count as duplicates. Any failure rolls the whole batch back and reports
// zero saved. Inserts go through ON CONFLICT DO NOTHING on the link index so
// a concurrent writer racing the same link cannot abort the transaction; the
// loser sees zero rows affected and counts the record as a duplicate.
func (s *Store) InsertBatchIfAbsent(ctx context.Context, articles []Article) (BatchStats, error) {
	stats := BatchStats{Total: len(articles)}
	if len(articles) == 0 {
		return stats, nil
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range articles {
			a := articles[i]

			var existing Article
			err := tx.Where("original_link = ?", a.OriginalLink).First(&existing).Error
			if err == nil {
				stats.Duplicates++
				if !existing.IsDuplicate {
					if err := tx.Model(&existing).Update("is_duplicate", true).Error; err != nil {
						return err
					}
				}
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "original_link"}},
				DoNothing: true,
			}).Create(&a)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				stats.Duplicates++
				continue
			}
			stats.Saved++
		}
		return nil
	})
	if err != nil {
		return BatchStats{Total: len(articles)}, fmt.Errorf("storage: batch insert: %w", err)
	}
	return stats, nil
}

// LinksSince returns canonical links of articles created after cutoff,
// newest first, capped at limit.
func (s *Store) LinksSince(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var links []string
	err := s.DB.WithContext(ctx).
		Model(&Article{}).
		Where("created_at >= ?", cutoff).
		Order("created_at DESC").
		Limit(limit).
		Pluck("original_link", &links).Error
	if err != nil {
		return nil, fmt.Errorf("storage: links since %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return links, nil
}

// AppendLog records one collection attempt. Append-only.
func (s *Store) AppendLog(ctx context.Context, entry CollectionLog) error {
	entry.ErrorMessage = truncateRunes(toValidUTF8(entry.ErrorMessage), 1024)
	if err := s.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("storage: append log: %w", err)
	}
	return nil
}

// AggregateCounts reports totals plus the five most recent attempt logs.
// Served from redis while fresh; the cache is only an accelerator, redis
// being down falls through to the database.
func (s *Store) AggregateCounts(ctx context.Context) (Counts, error) {
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, statsCacheKey).Bytes(); err == nil {
			var cached Counts
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var counts Counts
	if err := s.DB.WithContext(ctx).Model(&Article{}).Count(&counts.TotalArticles).Error; err != nil {
		return Counts{}, fmt.Errorf("storage: count articles: %w", err)
	}
	if err := s.DB.WithContext(ctx).Model(&Article{}).Where("is_duplicate = ?", true).Count(&counts.Duplicates).Error; err != nil {
		return Counts{}, fmt.Errorf("storage: count duplicates: %w", err)
	}
	counts.UniqueArticles = counts.TotalArticles - counts.Duplicates

	if err := s.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(5).
		Find(&counts.RecentAttempts).Error; err != nil {
		return Counts{}, fmt.Errorf("storage: recent attempts: %w", err)
	}

	if s.Redis != nil {
		if bs, err := json.Marshal(counts); err == nil {
			_ = s.Redis.Set(ctx, statsCacheKey, bs, statsCacheTTL).Err()
		}
	}
	return counts, nil
}

// RecentArticles lists stored articles newest first, optionally filtered by
// keyword and source tag.
func (s *Store) RecentArticles(ctx context.Context, keyword, src string, limit int) ([]Article, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	db := s.DB.WithContext(ctx).Model(&Article{})
	if keyword != "" {
		db = db.Where("keyword = ?", keyword)
	}
	if src != "" {
		db = db.Where("source = ?", src)
	}
	var list []Article
	if err := db.Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("storage: recent articles: %w", err)
	}
	return list, nil
}

// FindArticle fetches one article by numeric id.
func (s *Store) FindArticle(ctx context.Context, id uint) (*Article, error) {
	var a Article
	if err := s.DB.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: find article %d: %w", id, err)
	}
	return &a, nil
}

// MarkProcessed flips the processed flag after full-text enrichment.
func (s *Store) MarkProcessed(ctx context.Context, id uint) error {
	if err := s.DB.WithContext(ctx).Model(&Article{}).Where("id = ?", id).Update("is_processed", true).Error; err != nil {
		return fmt.Errorf("storage: mark processed %d: %w", id, err)
	}
	return nil
}

// ListKeywords returns the watchlist in insertion order.
func (s *Store) ListKeywords(ctx context.Context) ([]TrackedKeyword, error) {
	var list []TrackedKeyword
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("storage: list keywords: %w", err)
	}
	return list, nil
}

// AddKeyword is idempotent on the keyword text.
func (s *Store) AddKeyword(ctx context.Context, keyword, category string) (*TrackedKeyword, error) {
	kw := TrackedKeyword{
		Keyword:  truncateRunes(toValidUTF8(keyword), 128),
		Category: truncateRunes(toValidUTF8(category), 64),
	}
	if kw.Keyword == "" {
		return nil, fmt.Errorf("storage: empty keyword")
	}
	if err := s.DB.WithContext(ctx).Where("keyword = ?", kw.Keyword).FirstOrCreate(&kw).Error; err != nil {
		return nil, fmt.Errorf("storage: add keyword: %w", err)
	}
	return &kw, nil
}

func (s *Store) RemoveKeyword(ctx context.Context, keyword string) error {
	if err := s.DB.WithContext(ctx).Where("keyword = ?", keyword).Delete(&TrackedKeyword{}).Error; err != nil {
		return fmt.Errorf("storage: remove keyword: %w", err)
	}
	return nil
}

// Ping verifies database connectivity. Redis is optional and not part of
// the health decision.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("storage: db handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping: %w", err)
	}
	return nil
}

// Close releases the database pool and the redis client.
func (s *Store) Close() error {
	var firstErr error
	if sqlDB, err := s.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			firstErr = err
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
