package collector

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daehan-lim/newsgather/internal/source"
	"github.com/daehan-lim/newsgather/internal/storage"
)

// Gateway is the dedup-and-persist surface the orchestrator commits through.
type Gateway interface {
	SaveBatch(ctx context.Context, records []source.Record) (storage.BatchStats, error)
}

// AuditStore is the slice of the store the orchestrator reads stats from
// and writes attempt logs to.
type AuditStore interface {
	AppendLog(ctx context.Context, entry storage.CollectionLog) error
	AggregateCounts(ctx context.Context) (storage.Counts, error)
	Ping(ctx context.Context) error
}

// CredentialValidator is implemented by sources that can probe their
// upstream credentials without collecting.
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context) error
}

// Outcome describes one orchestration attempt. It is the only way failures
// reach the caller: Collect never returns an error and never panics.
type Outcome struct {
	RunID      string        `json:"runId"`
	Success    bool          `json:"success"`
	Keyword    string        `json:"keyword"`
	Collected  int           `json:"collected"`
	APICount   int           `json:"apiCount"`
	CrawlCount int           `json:"crawlCount"`
	Saved      int           `json:"saved"`
	Duplicates int           `json:"duplicates"`
	Elapsed    time.Duration `json:"elapsed"`
	Error      string        `json:"error,omitempty"`
}

// Collector fans out to the enabled sources, merges their candidates,
// commits the merged batch through the gateway and audits the attempt.
type Collector struct {
	api   source.Source
	crawl source.Source

	gateway Gateway
	store   AuditStore

	queryDelay time.Duration // between keywords in CollectMany
	validator  CredentialValidator

	closers []interface{ Close() }
}

type Options struct {
	API        source.Source // nil when the API source is disabled globally
	Crawl      source.Source
	Gateway    Gateway
	Store      AuditStore
	QueryDelay time.Duration
	Validator  CredentialValidator // usually the API source itself
}

func New(opts Options) *Collector {
	c := &Collector{
		api:        normalizeSource(opts.API),
		crawl:      normalizeSource(opts.Crawl),
		gateway:    opts.Gateway,
		store:      opts.Store,
		queryDelay: opts.QueryDelay,
		validator:  opts.Validator,
	}
	for _, s := range []source.Source{c.api, c.crawl} {
		if s == nil {
			continue
		}
		if closer, ok := s.(interface{ Close() }); ok {
			c.closers = append(c.closers, closer)
		}
	}
	return c
}

// normalizeSource maps a typed-nil pointer to a plain nil interface so the
// enabled checks and Close never call methods on a nil receiver.
func normalizeSource(s source.Source) source.Source {
	if s == nil {
		return nil
	}
	if v := reflect.ValueOf(s); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return s
}

// Collect runs one orchestration attempt. The requested quantity is split
// evenly across enabled sources (remainder to crawl); both sources fetch
// concurrently and the merge is deterministic, API results first with
// intra-source order preserved, so first-seen-wins dedup is reproducible.
//
// Policy: a run in which every enabled source came back empty returns
// Success=false with zero counts and writes neither articles nor an attempt
// log. Attempt logs exist for runs that had something to commit or that
// failed while committing.
func (c *Collector) Collect(ctx context.Context, q source.Query, maxCount int, useAPI, useCrawl bool) Outcome {
	start := time.Now()
	out := Outcome{RunID: uuid.NewString(), Keyword: q.Keyword}

	useAPI = useAPI && c.api != nil
	useCrawl = useCrawl && c.crawl != nil
	if maxCount <= 0 || (!useAPI && !useCrawl) {
		out.Error = "no sources enabled or non-positive max count"
		out.Elapsed = time.Since(start)
		return out
	}

	apiLimit, crawlLimit := splitQuantity(maxCount, useAPI, useCrawl)

	log.Printf("collect start run=%s keyword=%q max=%d api=%d crawl=%d", out.RunID, q.Keyword, maxCount, apiLimit, crawlLimit)

	var (
		wg           sync.WaitGroup
		apiRecords   []source.Record
		crawlRecords []source.Record
	)
	if useAPI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			apiRecords = c.fetchFrom(ctx, c.api, q, apiLimit)
		}()
	}
	if useCrawl {
		wg.Add(1)
		go func() {
			defer wg.Done()
			crawlRecords = c.fetchFrom(ctx, c.crawl, q, crawlLimit)
		}()
	}
	wg.Wait()

	merged := make([]source.Record, 0, len(apiRecords)+len(crawlRecords))
	merged = append(merged, apiRecords...)
	merged = append(merged, crawlRecords...)

	// ground truth is the record tags, not the adapters' own counts
	for _, r := range merged {
		switch r.Source {
		case source.TagAPI:
			out.APICount++
		case source.TagCrawl:
			out.CrawlCount++
		}
	}
	out.Collected = len(merged)

	if len(merged) == 0 {
		out.Error = "every enabled source returned no records"
		out.Elapsed = time.Since(start)
		log.Printf("collect empty run=%s keyword=%q", out.RunID, q.Keyword)
		return out
	}

	stats, err := c.gateway.SaveBatch(ctx, merged)
	if err != nil {
		out.Error = err.Error()
		out.Elapsed = time.Since(start)
		c.appendLog(ctx, out, useAPI, useCrawl)
		log.Printf("collect failed run=%s keyword=%q: %v", out.RunID, q.Keyword, err)
		return out
	}

	out.Success = true
	out.Saved = stats.Saved
	out.Duplicates = stats.Duplicates
	out.Elapsed = time.Since(start)
	c.appendLog(ctx, out, useAPI, useCrawl)

	log.Printf("collect done run=%s keyword=%q collected=%d saved=%d duplicates=%d elapsed=%s",
		out.RunID, q.Keyword, out.Collected, out.Saved, out.Duplicates, out.Elapsed.Round(time.Millisecond))
	return out
}

// CollectMany runs Collect once per query in input order, pausing the
// configured delay between calls (not before the first). Nothing is
// aggregated here; callers sum the outcomes.
func (c *Collector) CollectMany(ctx context.Context, queries []source.Query, perQueryMax int, useAPI, useCrawl bool) []Outcome {
	outcomes := make([]Outcome, 0, len(queries))
	for i, q := range queries {
		if i > 0 && c.queryDelay > 0 {
			select {
			case <-ctx.Done():
				log.Printf("collect many cancelled after %d/%d queries", i, len(queries))
				return outcomes
			case <-time.After(c.queryDelay):
			}
		}
		log.Printf("collect many %d/%d keyword=%q", i+1, len(queries), q.Keyword)
		outcomes = append(outcomes, c.Collect(ctx, q, perQueryMax, useAPI, useCrawl))
	}
	return outcomes
}

// CollectLatest gathers current headlines, no keyword filtering.
func (c *Collector) CollectLatest(ctx context.Context, maxCount int, useAPI, useCrawl bool) Outcome {
	return c.Collect(ctx, source.Latest(), maxCount, useAPI, useCrawl)
}

// CollectSection collects a named section. Sections are a crawl-only
// feature: the search API has no section concept.
func (c *Collector) CollectSection(ctx context.Context, section string, maxCount int) Outcome {
	kw, ok := source.SectionKeyword(section)
	if !ok {
		return Outcome{
			RunID: uuid.NewString(),
			Error: fmt.Sprintf("unknown section %q", section),
		}
	}
	return c.Collect(ctx, source.Query{Keyword: kw, Category: section}, maxCount, false, true)
}

// Statistics reports aggregate store counts.
func (c *Collector) Statistics(ctx context.Context) (storage.Counts, error) {
	return c.store.AggregateCounts(ctx)
}

// ValidateSetup probes source credentials and store connectivity without
// collecting anything.
func (c *Collector) ValidateSetup(ctx context.Context) error {
	if c.validator != nil {
		if err := c.validator.ValidateCredentials(ctx); err != nil {
			return err
		}
	}
	if err := c.store.Ping(ctx); err != nil {
		return err
	}
	return nil
}

// Close releases the sources' HTTP resources. The store handle is owned
// and closed by main.
func (c *Collector) Close() {
	for _, closer := range c.closers {
		closer.Close()
	}
}

func (c *Collector) fetchFrom(ctx context.Context, s source.Source, q source.Query, limit int) []source.Record {
	records, err := s.Fetch(ctx, q, limit)
	if err != nil {
		// recoverable: the other source may still deliver
		log.Printf("fetch %s error: %v", s.Name(), err)
		return nil
	}
	if len(records) == 0 {
		log.Printf("fetch %s got 0 items", s.Name())
	}
	return records
}

func (c *Collector) appendLog(ctx context.Context, out Outcome, useAPI, useCrawl bool) {
	entry := storage.CollectionLog{
		RunID:        out.RunID,
		Source:       sourceLabel(useAPI, useCrawl),
		Keyword:      out.Keyword,
		Collected:    out.Collected,
		Saved:        out.Saved,
		Duplicates:   out.Duplicates,
		Success:      out.Success,
		ErrorMessage: out.Error,
		ElapsedMS:    out.Elapsed.Milliseconds(),
	}
	if entry.Keyword == "" {
		entry.Keyword = "latest"
	}
	if err := c.store.AppendLog(ctx, entry); err != nil {
		// the attempt itself already succeeded or failed on its own terms;
		// a lost audit row is only worth a warning
		log.Printf("warn: append collection log run=%s: %v", out.RunID, err)
	}
}

// splitQuantity divides the requested count across enabled sources. With
// both enabled the API gets the floor half and crawl the remainder.
func splitQuantity(maxCount int, useAPI, useCrawl bool) (apiLimit, crawlLimit int) {
	switch {
	case useAPI && useCrawl:
		apiLimit = maxCount / 2
		crawlLimit = maxCount - apiLimit
	case useAPI:
		apiLimit = maxCount
	case useCrawl:
		crawlLimit = maxCount
	}
	return apiLimit, crawlLimit
}

func sourceLabel(useAPI, useCrawl bool) string {
	switch {
	case useAPI && useCrawl:
		return "api+crawl"
	case useAPI:
		return "api"
	default:
		return "crawl"
	}
}
