package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/daehan-lim/newsgather/internal/collector"
	"github.com/daehan-lim/newsgather/internal/config"
	"github.com/daehan-lim/newsgather/internal/dedup"
	"github.com/daehan-lim/newsgather/internal/source"
	"github.com/daehan-lim/newsgather/internal/storage"
)

// One-shot collection entrypoint: run, print, exit. Long-running setups use
// cmd/api, which schedules the same collector.
func main() {
	var (
		keyword   = flag.String("keyword", "", "keyword to collect")
		keywords  = flag.String("keywords", "", "comma-separated keywords, collected in order")
		count     = flag.Int("count", 50, "max records per collection")
		category  = flag.String("category", "", "category recorded on collected articles")
		section   = flag.String("section", "", "news section, crawl-only ("+strings.Join(source.Sections(), ", ")+")")
		latest    = flag.Bool("latest", false, "collect current headlines")
		stats     = flag.Bool("stats", false, "print store statistics and exit")
		validate  = flag.Bool("validate", false, "probe credentials and store connectivity, then exit")
		apiOnly   = flag.Bool("api-only", false, "use only the search API source")
		crawlOnly = flag.Bool("crawl-only", false, "use only the crawl source")
	)
	flag.Parse()

	useAPI := !*crawlOnly
	useCrawl := !*apiOnly

	cfg := config.Load()
	if err := cfg.Validate(useAPI && !*stats); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}
	defer store.Close()

	naver := source.NewNaver(source.NaverOptions{
		ClientID:      cfg.NaverClientID,
		ClientSecret:  cfg.NaverClientSecret,
		BaseURL:       cfg.NaverBaseURL,
		PageDelay:     cfg.RequestDelay,
		LatestKeyword: cfg.LatestKeyword,
	})
	gnews := source.NewGoogleNews(source.GoogleNewsOptions{RenderURL: cfg.RenderServiceURL})

	recency := dedup.NewRecencyCache(store, dedup.RecencyOptions{
		Window:     cfg.RecencyWindow,
		MaxRecords: cfg.RecencyMaxRecords,
		Attempts:   cfg.RetryAttempts,
		RetryDelay: cfg.RetryDelay,
		Redis:      store.Redis,
	})

	c := collector.New(collector.Options{
		API:        naver,
		Crawl:      gnews,
		Gateway:    dedup.NewGateway(store, recency),
		Store:      store,
		QueryDelay: cfg.RequestDelay,
		Validator:  naver,
	})
	defer c.Close()

	ctx := context.Background()

	switch {
	case *validate:
		if err := c.ValidateSetup(ctx); err != nil {
			log.Fatalf("setup invalid: %v", err)
		}
		fmt.Println("setup ok: credentials and store reachable")

	case *stats:
		counts, err := c.Statistics(ctx)
		if err != nil {
			log.Fatalf("statistics failed: %v", err)
		}
		fmt.Printf("articles total=%d unique=%d duplicates=%d\n",
			counts.TotalArticles, counts.UniqueArticles, counts.Duplicates)
		for _, attempt := range counts.RecentAttempts {
			status := "ok"
			if !attempt.Success {
				status = "failed: " + attempt.ErrorMessage
			}
			fmt.Printf("  %s %-10s keyword=%q collected=%d saved=%d dup=%d [%s]\n",
				attempt.CreatedAt.Format("2006-01-02 15:04"), attempt.Source,
				attempt.Keyword, attempt.Collected, attempt.Saved, attempt.Duplicates, status)
		}

	case *section != "":
		printOutcome(c.CollectSection(ctx, *section, *count))

	case *latest:
		printOutcome(c.CollectLatest(ctx, *count, useAPI, useCrawl))

	case *keywords != "":
		var queries []source.Query
		for _, kw := range strings.Split(*keywords, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				queries = append(queries, source.Query{Keyword: kw, Category: *category})
			}
		}
		outcomes := c.CollectMany(ctx, queries, *count, useAPI, useCrawl)
		var saved, duplicates int
		for _, out := range outcomes {
			printOutcome(out)
			saved += out.Saved
			duplicates += out.Duplicates
		}
		fmt.Printf("total: %d keywords saved=%d duplicates=%d\n", len(outcomes), saved, duplicates)

	case *keyword != "":
		printOutcome(c.Collect(ctx, source.Query{Keyword: *keyword, Category: *category}, *count, useAPI, useCrawl))

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printOutcome(out collector.Outcome) {
	keyword := out.Keyword
	if keyword == "" {
		keyword = "latest"
	}
	if !out.Success {
		fmt.Printf("collection failed keyword=%q: %s\n", keyword, out.Error)
		return
	}
	fmt.Printf("collected keyword=%q total=%d (api=%d crawl=%d) saved=%d duplicates=%d in %s\n",
		keyword, out.Collected, out.APICount, out.CrawlCount, out.Saved, out.Duplicates, out.Elapsed.Round(time.Millisecond))
}
