package dedup

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recencyCacheKey = "newsgather:recent_links"
	recencyCacheTTL = 30 * time.Second
)

// LinkLister is the slice of the store the recency cache needs.
type LinkLister interface {
	LinksSince(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// RecencyCache answers "which canonical links were stored recently" so the
// gateway can skip obviously-duplicate work before touching the database.
// It fails open: when the store stays unreachable through all retries the
// cache reports nothing recent, which at worst means redundant duplicate
// checks downstream. It never fabricates entries.
type RecencyCache struct {
	store LinkLister
	redis *redis.Client // optional L1, nil disables it

	window     time.Duration
	maxRecords int
	attempts   int
	retryDelay time.Duration

	now func() time.Time
}

type RecencyOptions struct {
	Window     time.Duration // trailing window, default 1h
	MaxRecords int           // link cap per read, default 1000
	Attempts   int           // store read attempts, default 3
	RetryDelay time.Duration // pause between attempts, default 1s
	Redis      *redis.Client
}

func NewRecencyCache(store LinkLister, opts RecencyOptions) *RecencyCache {
	if opts.Window <= 0 {
		// a zero window would make every cutoff "now" and the cache
		// permanently empty
		opts.Window = time.Hour
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 1000
	}
	return &RecencyCache{
		store:      store,
		redis:      opts.Redis,
		window:     opts.Window,
		maxRecords: opts.MaxRecords,
		attempts:   opts.Attempts,
		retryDelay: opts.RetryDelay,
		now:        time.Now,
	}
}

// RecentLinks returns the set of canonical links stored within the trailing
// window, capped at maxRecords. Store failures are retried with a fixed
// delay; exhausted retries degrade to an empty set with a warning.
func (c *RecencyCache) RecentLinks(ctx context.Context) map[string]struct{} {
	if cached := c.fromRedis(ctx); cached != nil {
		return cached
	}

	cutoff := c.now().Add(-c.window)

	var links []string
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				log.Printf("warn: recency: cancelled before attempt %d, returning empty set", attempt)
				return map[string]struct{}{}
			case <-time.After(c.retryDelay):
			}
		}

		links, lastErr = c.store.LinksSince(ctx, cutoff, c.maxRecords)
		if lastErr == nil {
			break
		}
		log.Printf("warn: recency: attempt %d/%d failed: %v", attempt, c.attempts, lastErr)
	}
	if lastErr != nil {
		log.Printf("warn: recency: all %d attempts failed, returning empty set", c.attempts)
		return map[string]struct{}{}
	}

	set := make(map[string]struct{}, len(links))
	for _, l := range links {
		set[l] = struct{}{}
	}
	c.toRedis(ctx, links)
	return set
}

func (c *RecencyCache) fromRedis(ctx context.Context) map[string]struct{} {
	if c.redis == nil {
		return nil
	}
	bs, err := c.redis.Get(ctx, recencyCacheKey).Bytes()
	if err != nil {
		return nil
	}
	var links []string
	if err := json.Unmarshal(bs, &links); err != nil {
		return nil
	}
	set := make(map[string]struct{}, len(links))
	for _, l := range links {
		set[l] = struct{}{}
	}
	return set
}

func (c *RecencyCache) toRedis(ctx context.Context, links []string) {
	if c.redis == nil {
		return
	}
	if bs, err := json.Marshal(links); err == nil {
		// redis is only an accelerator; a failed write is not worth retrying
		_ = c.redis.Set(ctx, recencyCacheKey, bs, recencyCacheTTL).Err()
	}
}
