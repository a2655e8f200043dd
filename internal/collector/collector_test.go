package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/daehan-lim/newsgather/internal/source"
	"github.com/daehan-lim/newsgather/internal/storage"
)

type fakeSource struct {
	tag     source.Tag
	records []source.Record
	err     error

	calls  int
	limits []int
}

func (f *fakeSource) Name() string    { return "fake_" + string(f.tag) }
func (f *fakeSource) Tag() source.Tag { return f.tag }

func (f *fakeSource) Fetch(ctx context.Context, q source.Query, limit int) ([]source.Record, error) {
	f.calls++
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type fakeGateway struct {
	batches [][]source.Record
	err     error
	seen    map[string]struct{}
}

func (g *fakeGateway) SaveBatch(ctx context.Context, records []source.Record) (storage.BatchStats, error) {
	g.batches = append(g.batches, records)
	if g.err != nil {
		return storage.BatchStats{Total: len(records)}, g.err
	}
	if g.seen == nil {
		g.seen = map[string]struct{}{}
	}
	stats := storage.BatchStats{Total: len(records)}
	inBatch := map[string]struct{}{}
	for _, r := range records {
		if _, dup := g.seen[r.OriginalLink]; dup {
			stats.Duplicates++
			continue
		}
		if _, dup := inBatch[r.OriginalLink]; dup {
			stats.Duplicates++
			continue
		}
		inBatch[r.OriginalLink] = struct{}{}
		g.seen[r.OriginalLink] = struct{}{}
		stats.Saved++
	}
	return stats, nil
}

type fakeAudit struct {
	logs    []storage.CollectionLog
	logErr  error
	pingErr error
	counts  storage.Counts
}

func (a *fakeAudit) AppendLog(ctx context.Context, entry storage.CollectionLog) error {
	if a.logErr != nil {
		return a.logErr
	}
	a.logs = append(a.logs, entry)
	return nil
}

func (a *fakeAudit) AggregateCounts(ctx context.Context) (storage.Counts, error) {
	return a.counts, nil
}

func (a *fakeAudit) Ping(ctx context.Context) error { return a.pingErr }

func apiRec(link string) source.Record {
	return source.Record{Title: "t " + link, OriginalLink: link, Source: source.TagAPI}
}

func crawlRec(link string) source.Record {
	return source.Record{Title: "t " + link, OriginalLink: link, Source: source.TagCrawl}
}

func newTestCollector(api, crawl *fakeSource, gw *fakeGateway, audit *fakeAudit) *Collector {
	return New(Options{API: api, Crawl: crawl, Gateway: gw, Store: audit})
}

func TestSplitQuantity(t *testing.T) {
	cases := []struct {
		max                int
		useAPI, useCrawl   bool
		wantAPI, wantCrawl int
	}{
		{50, true, true, 25, 25},
		{51, true, true, 25, 26},
		{1, true, true, 0, 1},
		{50, true, false, 50, 0},
		{50, false, true, 0, 50},
	}
	for _, tc := range cases {
		gotAPI, gotCrawl := splitQuantity(tc.max, tc.useAPI, tc.useCrawl)
		if gotAPI != tc.wantAPI || gotCrawl != tc.wantCrawl {
			t.Fatalf("splitQuantity(%d, %v, %v) = (%d, %d), want (%d, %d)",
				tc.max, tc.useAPI, tc.useCrawl, gotAPI, gotCrawl, tc.wantAPI, tc.wantCrawl)
		}
	}
}

func TestCollectMergesAPIFirstAndCounts(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI, records: []source.Record{apiRec("A"), apiRec("B")}}
	crawl := &fakeSource{tag: source.TagCrawl, records: []source.Record{crawlRec("B"), crawlRec("C")}}
	gw := &fakeGateway{}
	audit := &fakeAudit{}

	out := newTestCollector(api, crawl, gw, audit).Collect(context.Background(), source.Query{Keyword: "금리"}, 50, true, true)

	if !out.Success {
		t.Fatalf("outcome not successful: %+v", out)
	}
	if out.APICount != 2 || out.CrawlCount != 2 || out.Collected != 4 {
		t.Fatalf("counts = %+v", out)
	}
	if out.Saved != 3 || out.Duplicates != 1 {
		t.Fatalf("save counts = %+v, want saved=3 duplicates=1", out)
	}

	if len(gw.batches) != 1 {
		t.Fatalf("gateway should be called once per orchestration, got %d", len(gw.batches))
	}
	merged := gw.batches[0]
	wantOrder := []string{"A", "B", "B", "C"}
	if len(merged) != len(wantOrder) {
		t.Fatalf("merged length = %d", len(merged))
	}
	for i, l := range wantOrder {
		if merged[i].OriginalLink != l {
			t.Fatalf("merge order[%d] = %q, want %q (API first, intra-source order kept)", i, merged[i].OriginalLink, l)
		}
	}

	if len(audit.logs) != 1 {
		t.Fatalf("expected one attempt log, got %d", len(audit.logs))
	}
	entry := audit.logs[0]
	if !entry.Success || entry.Source != "api+crawl" || entry.Keyword != "금리" || entry.Saved != 3 {
		t.Fatalf("log entry = %+v", entry)
	}
	if entry.RunID != out.RunID {
		t.Fatalf("log run id %q != outcome run id %q", entry.RunID, out.RunID)
	}
}

func TestCollectSplitSentToSources(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI}
	crawl := &fakeSource{tag: source.TagCrawl}
	c := newTestCollector(api, crawl, &fakeGateway{}, &fakeAudit{})

	c.Collect(context.Background(), source.Latest(), 51, true, true)
	if api.limits[0] != 25 || crawl.limits[0] != 26 {
		t.Fatalf("limits = api %v crawl %v, want 25/26", api.limits, crawl.limits)
	}
}

func TestCollectSingleSourceGetsFullQuota(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI, records: []source.Record{apiRec("A")}}
	crawl := &fakeSource{tag: source.TagCrawl}
	c := newTestCollector(api, crawl, &fakeGateway{}, &fakeAudit{})

	out := c.Collect(context.Background(), source.Query{Keyword: "x"}, 40, true, false)
	if !out.Success {
		t.Fatalf("outcome: %+v", out)
	}
	if api.calls != 1 || api.limits[0] != 40 {
		t.Fatalf("api calls=%d limits=%v, want one call with 40", api.calls, api.limits)
	}
	if crawl.calls != 0 {
		t.Fatalf("disabled crawl source must not be invoked, got %d calls", crawl.calls)
	}
}

func TestCollectAllSourcesEmptyIsFailureWithoutWrites(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI}
	crawl := &fakeSource{tag: source.TagCrawl}
	gw := &fakeGateway{}
	audit := &fakeAudit{}

	out := newTestCollector(api, crawl, gw, audit).Collect(context.Background(), source.Query{Keyword: "x"}, 10, true, true)
	if out.Success {
		t.Fatalf("empty merge must not be a success")
	}
	if out.Collected != 0 || out.Saved != 0 || out.Duplicates != 0 {
		t.Fatalf("counts must be zero: %+v", out)
	}
	if out.Error == "" {
		t.Fatalf("empty merge should carry a reason")
	}
	if len(gw.batches) != 0 {
		t.Fatalf("gateway must not be called for an empty merge")
	}
	if len(audit.logs) != 0 {
		t.Fatalf("no attempt log for the no-op case, got %d", len(audit.logs))
	}
}

func TestCollectOneSourceFailingStillCollectsTheOther(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI, err: errors.New("timeout")}
	crawl := &fakeSource{tag: source.TagCrawl, records: []source.Record{crawlRec("C")}}

	out := newTestCollector(api, crawl, &fakeGateway{}, &fakeAudit{}).
		Collect(context.Background(), source.Query{Keyword: "x"}, 10, true, true)
	if !out.Success {
		t.Fatalf("one failing source should not fail the attempt: %+v", out)
	}
	if out.APICount != 0 || out.CrawlCount != 1 || out.Saved != 1 {
		t.Fatalf("counts = %+v", out)
	}
}

func TestCollectSaveFailureIsAuditedAndReturned(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI, records: []source.Record{apiRec("A")}}
	crawl := &fakeSource{tag: source.TagCrawl}
	gw := &fakeGateway{err: errors.New("batch rolled back")}
	audit := &fakeAudit{}

	out := newTestCollector(api, crawl, gw, audit).Collect(context.Background(), source.Query{Keyword: "x"}, 10, true, true)
	if out.Success {
		t.Fatalf("save failure must fail the outcome")
	}
	if out.Error == "" || out.Saved != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(audit.logs) != 1 {
		t.Fatalf("failed attempt must still be audited, got %d logs", len(audit.logs))
	}
	entry := audit.logs[0]
	if entry.Success || entry.ErrorMessage == "" {
		t.Fatalf("log entry = %+v", entry)
	}
}

func TestNewTreatsTypedNilSourceAsDisabled(t *testing.T) {
	var api *fakeSource // typed nil wrapped in the Source interface
	crawl := &fakeSource{tag: source.TagCrawl, records: []source.Record{crawlRec("C")}}
	c := New(Options{API: api, Crawl: crawl, Gateway: &fakeGateway{}, Store: &fakeAudit{}})

	out := c.Collect(context.Background(), source.Query{Keyword: "x"}, 10, true, true)
	if !out.Success || out.CrawlCount != 1 || out.APICount != 0 {
		t.Fatalf("typed-nil api should be treated as disabled: %+v", out)
	}
	if crawl.limits[0] != 10 {
		t.Fatalf("crawl should get the full quota, got %v", crawl.limits)
	}

	c.Close() // must not invoke anything on the nil source
}

func TestCollectNoSourcesEnabled(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI, records: []source.Record{apiRec("A")}}
	crawl := &fakeSource{tag: source.TagCrawl}
	c := newTestCollector(api, crawl, &fakeGateway{}, &fakeAudit{})

	out := c.Collect(context.Background(), source.Query{Keyword: "x"}, 10, false, false)
	if out.Success || out.Collected != 0 {
		t.Fatalf("both sources disabled should yield zero collected, not an error: %+v", out)
	}
	if api.calls != 0 || crawl.calls != 0 {
		t.Fatalf("no source should be invoked")
	}
}

func TestCollectManyOrderAndCancellation(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI, records: []source.Record{apiRec("A")}}
	crawl := &fakeSource{tag: source.TagCrawl}
	c := New(Options{API: api, Crawl: crawl, Gateway: &fakeGateway{}, Store: &fakeAudit{}, QueryDelay: time.Millisecond})

	queries := []source.Query{{Keyword: "하나"}, {Keyword: "둘"}, {Keyword: "셋"}}
	outcomes := c.CollectMany(context.Background(), queries, 5, true, false)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for i, q := range queries {
		if outcomes[i].Keyword != q.Keyword {
			t.Fatalf("outcome %d keyword = %q, want %q (strict input order)", i, outcomes[i].Keyword, q.Keyword)
		}
	}

	// cancellation between queries stops the run early
	slow := New(Options{API: api, Crawl: crawl, Gateway: &fakeGateway{}, Store: &fakeAudit{}, QueryDelay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes = slow.CollectMany(ctx, queries, 5, true, false)
	if len(outcomes) != 1 {
		t.Fatalf("cancelled run should stop after the first query, got %d outcomes", len(outcomes))
	}
}

func TestCollectSection(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI}
	crawl := &fakeSource{tag: source.TagCrawl, records: []source.Record{crawlRec("C")}}
	c := newTestCollector(api, crawl, &fakeGateway{}, &fakeAudit{})

	out := c.CollectSection(context.Background(), "economy", 10)
	if !out.Success || out.Keyword != "경제" {
		t.Fatalf("outcome = %+v", out)
	}
	if api.calls != 0 {
		t.Fatalf("sections are crawl-only, api was called %d times", api.calls)
	}

	bad := c.CollectSection(context.Background(), "weather", 10)
	if bad.Success || bad.Error == "" {
		t.Fatalf("unknown section should fail: %+v", bad)
	}
}

func TestValidateSetup(t *testing.T) {
	api := &fakeSource{tag: source.TagAPI}
	crawl := &fakeSource{tag: source.TagCrawl}

	okAudit := &fakeAudit{}
	c := New(Options{API: api, Crawl: crawl, Gateway: &fakeGateway{}, Store: okAudit})
	if err := c.ValidateSetup(context.Background()); err != nil {
		t.Fatalf("ValidateSetup: %v", err)
	}

	downAudit := &fakeAudit{pingErr: errors.New("db down")}
	c = New(Options{API: api, Crawl: crawl, Gateway: &fakeGateway{}, Store: downAudit})
	if err := c.ValidateSetup(context.Background()); err == nil {
		t.Fatalf("ValidateSetup should surface a dead store")
	}
}
