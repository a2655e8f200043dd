package dedup

import (
	"context"
	"fmt"
	"log"

	"github.com/daehan-lim/newsgather/internal/source"
	"github.com/daehan-lim/newsgather/internal/storage"
)

// ArticleStore is the slice of the store the gateway writes through.
type ArticleStore interface {
	InsertIfAbsent(ctx context.Context, a storage.Article) (*storage.Article, bool, error)
	InsertBatchIfAbsent(ctx context.Context, articles []storage.Article) (storage.BatchStats, error)
}

// Gateway decides novelty per record and commits batches atomically.
// Within one batch the first occurrence of a link wins; later occurrences
// are counted as duplicates without reaching the store. Links seen in the
// recency window are likewise counted as duplicates up front.
type Gateway struct {
	store   ArticleStore
	recency *RecencyCache // nil disables the pre-check
}

func NewGateway(store ArticleStore, recency *RecencyCache) *Gateway {
	return &Gateway{store: store, recency: recency}
}

// SaveBatch commits the merged candidate list as one transaction. On store
// failure nothing is saved and the error is surfaced; the counts then report
// zero saved for the whole batch. Saved + Duplicates == Total holds on
// every successful return.
func (g *Gateway) SaveBatch(ctx context.Context, records []source.Record) (storage.BatchStats, error) {
	stats := storage.BatchStats{Total: len(records)}
	if len(records) == 0 {
		return stats, nil
	}

	recent := map[string]struct{}{}
	if g.recency != nil {
		recent = g.recency.RecentLinks(ctx)
	}

	seen := make(map[string]struct{}, len(records))
	novel := make([]storage.Article, 0, len(records))
	prefiltered := 0

	for _, r := range records {
		if _, dup := seen[r.OriginalLink]; dup {
			prefiltered++
			continue
		}
		seen[r.OriginalLink] = struct{}{}

		if _, hit := recent[r.OriginalLink]; hit {
			prefiltered++
			continue
		}
		novel = append(novel, storage.FromRecord(r))
	}

	if len(novel) == 0 {
		stats.Duplicates = prefiltered
		log.Printf("gateway: batch of %d fully deduped before store", len(records))
		return stats, nil
	}

	res, err := g.store.InsertBatchIfAbsent(ctx, novel)
	if err != nil {
		return storage.BatchStats{Total: len(records)}, fmt.Errorf("gateway: save batch: %w", err)
	}

	stats.Saved = res.Saved
	stats.Duplicates = prefiltered + res.Duplicates
	return stats, nil
}

// SaveOne is the incremental path outside batch flows. Repeats flip the
// stored row's duplicate flag, same policy as the batch path.
func (g *Gateway) SaveOne(ctx context.Context, r source.Record) (*storage.Article, bool, error) {
	if r.OriginalLink == "" {
		return nil, false, fmt.Errorf("gateway: record without canonical link")
	}
	a, wasNew, err := g.store.InsertIfAbsent(ctx, storage.FromRecord(r))
	if err != nil {
		return nil, false, fmt.Errorf("gateway: save one: %w", err)
	}
	return a, wasNew, nil
}
