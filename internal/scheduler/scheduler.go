package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/daehan-lim/newsgather/internal/collector"
	"github.com/daehan-lim/newsgather/internal/source"
)

const (
	// first sweep is delayed so startup traffic settles before we start
	// hammering the sources
	startupDelay = 15 * time.Second

	watchlistPerKeyword = 30
	latestMaxCount      = 50
)

// KeywordsFunc supplies the watchlist; usually backed by the store's
// tracked-keyword rows so edits through the API take effect on the next
// sweep without a restart.
type KeywordsFunc func(ctx context.Context) ([]source.Query, error)

// Scheduler drives periodic collection: a watchlist sweep over the tracked
// keywords, and a latest-headlines sweep.
type Scheduler struct {
	cron      *cron.Cron
	collector *collector.Collector
	keywords  KeywordsFunc
}

func New(watchlistSpec, latestSpec string, c *collector.Collector, keywords KeywordsFunc) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(),
		collector: c,
		keywords:  keywords,
	}

	if _, err := s.cron.AddFunc(watchlistSpec, s.runWatchlist); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(latestSpec, s.runLatest); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	time.AfterFunc(startupDelay, func() {
		go s.RunAll()
	})
}

// Stop halts the cron loop; running jobs finish on their own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// RunAll triggers both sweeps once, for manual runs and the delayed first
// pass after Start.
func (s *Scheduler) RunAll() {
	s.runWatchlist()
	s.runLatest()
}

func (s *Scheduler) runWatchlist() {
	ctx := context.Background()

	queries, err := s.keywords(ctx)
	if err != nil {
		log.Printf("watchlist sweep: load keywords: %v", err)
		return
	}
	if len(queries) == 0 {
		log.Println("watchlist sweep: no tracked keywords, skipping")
		return
	}

	log.Printf("watchlist sweep: %d keywords...", len(queries))
	outcomes := s.collector.CollectMany(ctx, queries, watchlistPerKeyword, true, true)

	var saved, duplicates, failed int
	for _, out := range outcomes {
		saved += out.Saved
		duplicates += out.Duplicates
		if !out.Success {
			failed++
		}
	}
	log.Printf("watchlist sweep done: saved=%d duplicates=%d failed=%d", saved, duplicates, failed)
}

func (s *Scheduler) runLatest() {
	out := s.collector.CollectLatest(context.Background(), latestMaxCount, true, true)
	if !out.Success {
		log.Printf("latest sweep failed: %s", out.Error)
		return
	}
	log.Printf("latest sweep done: collected=%d saved=%d duplicates=%d", out.Collected, out.Saved, out.Duplicates)
}
