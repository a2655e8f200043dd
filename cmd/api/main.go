package main

import (
	"context"
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daehan-lim/newsgather/internal/api"
	"github.com/daehan-lim/newsgather/internal/collector"
	"github.com/daehan-lim/newsgather/internal/config"
	"github.com/daehan-lim/newsgather/internal/dedup"
	"github.com/daehan-lim/newsgather/internal/fulltext"
	"github.com/daehan-lim/newsgather/internal/scheduler"
	"github.com/daehan-lim/newsgather/internal/source"
	"github.com/daehan-lim/newsgather/internal/storage"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(true); err != nil {
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

	// watchlist comes from the store each sweep, so API edits apply
	// without a restart
	keywords := func(ctx context.Context) ([]source.Query, error) {
		tracked, err := store.ListKeywords(ctx)
		if err != nil {
			return nil, err
		}
		queries := make([]source.Query, 0, len(tracked))
		for _, kw := range tracked {
			queries = append(queries, source.Query{Keyword: kw.Keyword, Category: kw.Category})
		}
		return queries, nil
	}

	sched, err := scheduler.New(cfg.WatchlistCronSpec, cfg.LatestCronSpec, c, keywords)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	r := gin.Default()
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	apiServer := api.NewServer(store, c, fulltext.New(cfg.RenderServiceURL))
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.Printf("starting api server at %s ...", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}

// basicAuthMiddleware protects every route behind a shared password when
// APP_BASIC_USER / APP_BASIC_PASS are set. /health stays open so probes
// keep working.
func basicAuthMiddleware(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
