package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlmesh/crawlmesh/internal/fetcher"
	"github.com/crawlmesh/crawlmesh/internal/frontier"
	"github.com/crawlmesh/crawlmesh/internal/index"
	"github.com/crawlmesh/crawlmesh/internal/jobqueue"
	"github.com/crawlmesh/crawlmesh/internal/progress"
	"github.com/crawlmesh/crawlmesh/internal/ratelimit"
	"github.com/crawlmesh/crawlmesh/internal/robots"
	"github.com/crawlmesh/crawlmesh/internal/store"
)

type collectingEmitter struct {
	events []progress.Event
}

func (c *collectingEmitter) Emit(evt progress.Event) {
	c.events = append(c.events, evt)
}

const samplePage = `<html><head><title>Sample</title></head><body><main>` +
	`some body content long enough to pass the main content threshold check here` +
	`<a href="/child">child link</a></main></body></html>`

type stubFetcher struct {
	resp fetcher.Response
	err  error
}

func (s stubFetcher) Fetch(context.Context, fetcher.Request) (fetcher.Response, error) {
	return s.resp, s.err
}

func newTestPool(_ *testing.T, metaStore store.Store, fetch fetcher.Fetcher, sink index.Sink) (*Pool, *frontier.Store, jobqueue.Queue) {
	fr := frontier.New(metaStore, nil)
	q := jobqueue.NewMemory(nil)
	robotsCache := robots.New(robots.Config{Respect: false}, metaStore, zap.NewNop())
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), nil, func(context.Context, time.Duration) {})

	pool := New(Config{FetchTimeout: time.Second}, fr, q, robotsCache, limiter, fetch, sink, metaStore, zap.NewNop(), nil)
	return pool, fr, q
}

func TestPool_Crawl_SuccessIndexesAndExpandsFrontier(t *testing.T) {
	metaStore := store.NewMemory()
	sink := index.NewMemory()
	fetch := stubFetcher{resp: fetcher.Response{
		URL:         "https://example.com/",
		Body:        []byte(samplePage),
		ContentType: "text/html",
		StatusCode:  200,
	}}
	pool, fr, _ := newTestPool(t, metaStore, fetch, sink)

	ctx := context.Background()
	job := &store.CrawlJob{URL: "https://example.com/", MaxDepth: 2, Status: store.JobStatusInProgress}
	err := metaStore.CreateJob(ctx, job)
	require.NoError(t, err)

	added, err := fr.Enqueue(ctx, "https://example.com/", "", 0, job.ID, 100)
	require.NoError(t, err)
	require.True(t, added)

	recs, err := fr.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	qjob := jobqueue.Job{ID: recs[0].ID, URL: recs[0].URL, Depth: recs[0].Depth, CrawlJobID: recs[0].JobID, Priority: recs[0].Priority}
	outcome, errMsg, skip, err := pool.crawl(ctx, qjob)
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, frontier.OutcomeCompleted, outcome)
	assert.Empty(t, errMsg)

	assert.Equal(t, 1, sink.Len())

	page, err := metaStore.GetCrawledPage(ctx, "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "Sample", page.Title)

	stats, err := fr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending, "child link should have been enqueued at depth 1")
}

func TestPool_Crawl_ConfiguredDelayFloorsRobotsDelay(t *testing.T) {
	metaStore := store.NewMemory()
	sink := index.NewMemory()
	fetch := stubFetcher{resp: fetcher.Response{
		URL:         "https://example.com/",
		Body:        []byte(samplePage),
		ContentType: "text/html",
		StatusCode:  200,
	}}
	fr := frontier.New(metaStore, nil)
	q := jobqueue.NewMemory(nil)
	robotsCache := robots.New(robots.Config{Respect: false}, metaStore, zap.NewNop())
	limiterStore := ratelimit.NewMemoryStore()
	limiter := ratelimit.New(limiterStore, nil, func(context.Context, time.Duration) {})

	pool := New(
		Config{FetchTimeout: time.Second, DefaultRequestDelay: 5 * time.Second},
		fr, q, robotsCache, limiter, fetch, sink, metaStore, zap.NewNop(), nil,
	)

	job := jobqueue.Job{ID: "delay-1", URL: "https://example.com/"}
	_, _, _, err := pool.crawl(context.Background(), job)
	require.NoError(t, err)

	_, delay, err := limiterStore.GetState(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, delay, "configured delay must floor the robots-derived (here: disabled, so zero) delay")
}

func TestPool_Crawl_RecentlyFetchedPageIsSkipped(t *testing.T) {
	metaStore := store.NewMemory()
	sink := index.NewMemory()
	fetch := stubFetcher{resp: fetcher.Response{}}
	pool, _, _ := newTestPool(t, metaStore, fetch, sink)

	ctx := context.Background()
	require.NoError(t, metaStore.UpsertCrawledPage(ctx, &store.CrawledPage{
		URL:         "https://example.com/",
		LastCrawled: time.Now().UTC(),
	}))

	job := jobqueue.Job{ID: "rec-1", URL: "https://example.com/", Depth: 0}
	outcome, _, skip, err := pool.crawl(ctx, job)
	require.NoError(t, err)
	assert.True(t, skip)
	assert.Equal(t, frontier.OutcomeCompleted, outcome)
	assert.Equal(t, 0, sink.Len())
}

func TestPool_Crawl_DepthLimitStopsExpansion(t *testing.T) {
	metaStore := store.NewMemory()
	sink := index.NewMemory()
	fetch := stubFetcher{resp: fetcher.Response{
		URL:         "https://example.com/",
		Body:        []byte(samplePage),
		ContentType: "text/html",
		StatusCode:  200,
	}}
	pool, fr, _ := newTestPool(t, metaStore, fetch, sink)

	ctx := context.Background()
	job := &store.CrawlJob{URL: "https://example.com/", MaxDepth: 1, Status: store.JobStatusInProgress}
	err := metaStore.CreateJob(ctx, job)
	require.NoError(t, err)

	qjob := jobqueue.Job{ID: "atmax", URL: "https://example.com/", Depth: 1, CrawlJobID: job.ID}
	_, _, _, err = pool.crawl(ctx, qjob)
	require.NoError(t, err)

	stats, err := fr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending, "depth 1 == maxDepth 1 must not expand further")
}

func TestPool_Crawl_ExtractionFailureIsReportedAsFailed(t *testing.T) {
	metaStore := store.NewMemory()
	sink := index.NewMemory()
	fetch := stubFetcher{resp: fetcher.Response{
		URL:         "https://example.com/data.bin",
		Body:        []byte("binary"),
		ContentType: "application/octet-stream",
		StatusCode:  200,
	}}
	pool, _, _ := newTestPool(t, metaStore, fetch, sink)

	job := jobqueue.Job{ID: "bin-1", URL: "https://example.com/data.bin"}
	outcome, errMsg, skip, err := pool.crawl(context.Background(), job)
	require.Error(t, err)
	assert.False(t, skip)
	assert.Equal(t, frontier.OutcomeFailed, outcome)
	assert.Equal(t, "Content extraction failed", errMsg)
}

func TestPool_Crawl_FetchFailurePropagatesForRetry(t *testing.T) {
	metaStore := store.NewMemory()
	sink := index.NewMemory()
	fetch := stubFetcher{err: &fetcher.Error{Reason: fetcher.ReasonNetworkError}}
	pool, _, _ := newTestPool(t, metaStore, fetch, sink)

	job := jobqueue.Job{ID: "net-1", URL: "https://example.com/"}
	outcome, _, skip, err := pool.crawl(context.Background(), job)
	require.Error(t, err)
	assert.False(t, skip)
	assert.Equal(t, frontier.OutcomeFailed, outcome)
}

func TestPool_Crawl_EmitsFetchProgressEvents(t *testing.T) {
	metaStore := store.NewMemory()
	sink := index.NewMemory()
	fetch := stubFetcher{resp: fetcher.Response{
		URL:         "https://example.com/",
		Body:        []byte(samplePage),
		ContentType: "text/html",
		StatusCode:  200,
	}}
	fr := frontier.New(metaStore, nil)
	q := jobqueue.NewMemory(nil)
	robotsCache := robots.New(robots.Config{Respect: false}, metaStore, zap.NewNop())
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), nil, func(context.Context, time.Duration) {})
	emitter := &collectingEmitter{}
	pool := New(Config{FetchTimeout: time.Second}, fr, q, robotsCache, limiter, fetch, sink, metaStore, zap.NewNop(), emitter)

	ctx := context.Background()
	job := &store.CrawlJob{URL: "https://example.com/", MaxDepth: 1, Status: store.JobStatusInProgress}
	err := metaStore.CreateJob(ctx, job)
	require.NoError(t, err)

	qjob := jobqueue.Job{ID: "evt-1", URL: "https://example.com/", CrawlJobID: job.ID}
	_, _, _, err = pool.crawl(ctx, qjob)
	require.NoError(t, err)

	require.Len(t, emitter.events, 2)
	assert.Equal(t, progress.StageFetchStart, emitter.events[0].Stage)
	assert.Equal(t, progress.StageFetchDone, emitter.events[1].Stage)
	assert.Equal(t, progress.Status2xx, emitter.events[1].StatusClass)
	assert.Equal(t, int64(1), emitter.events[1].Visits)
}
