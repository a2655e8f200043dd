package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/daehan-lim/newsgather/internal/collector"
	"github.com/daehan-lim/newsgather/internal/fulltext"
	"github.com/daehan-lim/newsgather/internal/source"
	"github.com/daehan-lim/newsgather/internal/storage"
)

type Server struct {
	store     *storage.Store
	collector *collector.Collector
	extractor *fulltext.Extractor
}

func NewServer(store *storage.Store, c *collector.Collector, e *fulltext.Extractor) *Server {
	return &Server{store: store, collector: c, extractor: e}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/articles", s.listArticles)
		v1.GET("/articles/:id/content", s.articleContent)
		v1.POST("/collect", s.collect)
		v1.GET("/stats", s.stats)
		v1.GET("/keywords", s.listKeywords)
		v1.POST("/keywords", s.addKeyword)
		v1.DELETE("/keywords/:keyword", s.removeKeyword)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listArticles(c *gin.Context) {
	keyword := c.Query("keyword")
	src := c.Query("source")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	items, err := s.store.RecentArticles(c.Request.Context(), keyword, src, limit)
	if err != nil {
		internalError(c)
		return
	}
	ok(c, items)
}

// articleContent extracts the article body on demand and marks the row
// processed on success.
func (s *Server) articleContent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "id must be a positive integer")
		return
	}

	article, err := s.store.FindArticle(c.Request.Context(), uint(id))
	if err != nil {
		internalError(c)
		return
	}
	if article == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "article not found"})
		return
	}

	text, err := s.extractor.Extract(c.Request.Context(), article.OriginalLink)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "extraction_failed", "message": err.Error()})
		return
	}

	if err := s.store.MarkProcessed(c.Request.Context(), article.ID); err != nil {
		internalError(c)
		return
	}
	ok(c, gin.H{"id": article.ID, "link": article.OriginalLink, "content": text})
}

type collectRequest struct {
	Keyword   string `json:"keyword"`
	Category  string `json:"category"`
	Section   string `json:"section"`
	Latest    bool   `json:"latest"`
	Count     int    `json:"count"`
	APIOnly   bool   `json:"apiOnly"`
	CrawlOnly bool   `json:"crawlOnly"`
}

// collect triggers one orchestration run synchronously and returns its
// outcome. Failures ride inside the outcome, so the HTTP status is 200
// either way; callers check the success flag.
func (s *Server) collect(c *gin.Context) {
	var req collectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json body")
		return
	}
	if req.Count <= 0 {
		req.Count = 50
	}

	ctx := c.Request.Context()
	var out collector.Outcome
	switch {
	case req.Section != "":
		out = s.collector.CollectSection(ctx, req.Section, req.Count)
	case req.Latest:
		out = s.collector.CollectLatest(ctx, req.Count, !req.CrawlOnly, !req.APIOnly)
	case req.Keyword != "":
		q := source.Query{Keyword: req.Keyword, Category: req.Category}
		out = s.collector.Collect(ctx, q, req.Count, !req.CrawlOnly, !req.APIOnly)
	default:
		badRequest(c, "one of keyword, section or latest is required")
		return
	}
	ok(c, out)
}

func (s *Server) stats(c *gin.Context) {
	counts, err := s.collector.Statistics(c.Request.Context())
	if err != nil {
		internalError(c)
		return
	}
	ok(c, counts)
}

func (s *Server) listKeywords(c *gin.Context) {
	list, err := s.store.ListKeywords(c.Request.Context())
	if err != nil {
		internalError(c)
		return
	}
	ok(c, list)
}

type keywordRequest struct {
	Keyword  string `json:"keyword" binding:"required"`
	Category string `json:"category"`
}

func (s *Server) addKeyword(c *gin.Context) {
	var req keywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "keyword is required")
		return
	}
	kw, err := s.store.AddKeyword(c.Request.Context(), req.Keyword, req.Category)
	if err != nil {
		internalError(c)
		return
	}
	ok(c, kw)
}

func (s *Server) removeKeyword(c *gin.Context) {
	if err := s.store.RemoveKeyword(c.Request.Context(), c.Param("keyword")); err != nil {
		internalError(c)
		return
	}
	ok(c, gin.H{"removed": c.Param("keyword")})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": msg})
}

func internalError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "internal server error"})
}
