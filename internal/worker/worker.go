// Package worker implements component C7: a bounded pool of crawl
// handlers plus a frontier-pump task that together drive C1-C6 through
// the nine-step crawl procedure and maintain the URL record state
// machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlmesh/crawlmesh/internal/clock/system"
	"github.com/crawlmesh/crawlmesh/internal/extractor"
	"github.com/crawlmesh/crawlmesh/internal/fetcher"
	"github.com/crawlmesh/crawlmesh/internal/frontier"
	"github.com/crawlmesh/crawlmesh/internal/index"
	"github.com/crawlmesh/crawlmesh/internal/jobqueue"
	"github.com/crawlmesh/crawlmesh/internal/progress"
	"github.com/crawlmesh/crawlmesh/internal/ratelimit"
	"github.com/crawlmesh/crawlmesh/internal/robots"
	"github.com/crawlmesh/crawlmesh/internal/store"
	"github.com/crawlmesh/crawlmesh/internal/urlnorm"
	"github.com/google/uuid"
)

// Config controls Pool behavior; zero values fall back to spec defaults.
type Config struct {
	MaxConcurrent            int
	FrontierBatchSize        int
	FrontierPumpInterval     time.Duration
	FrontierPumpErrorBackoff time.Duration
	RecencyWindow            time.Duration
	RescheduleInterval       time.Duration
	RescheduleDelay          time.Duration
	ShutdownGrace            time.Duration
	UserAgent                string
	FetchTimeout             time.Duration
	// DefaultRequestDelay is the operator-configured per-host minimum
	// delay (spec.md §6 delayBetweenRequests). It is applied as a floor
	// alongside any robots.txt crawl-delay: whichever is larger wins.
	DefaultRequestDelay time.Duration
	// StaleLeaseDuration bounds how long a record may sit in processing
	// before the reschedule sweep treats its handler as crashed and
	// reclaims it back to pending (or failed, once attempts are spent).
	StaleLeaseDuration time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.FrontierBatchSize <= 0 {
		c.FrontierBatchSize = 10
	}
	if c.FrontierPumpInterval <= 0 {
		c.FrontierPumpInterval = 5 * time.Second
	}
	if c.FrontierPumpErrorBackoff <= 0 {
		c.FrontierPumpErrorBackoff = 10 * time.Second
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = 24 * time.Hour
	}
	if c.RescheduleInterval <= 0 {
		c.RescheduleInterval = 5 * time.Minute
	}
	if c.RescheduleDelay <= 0 {
		c.RescheduleDelay = frontier.DefaultRescheduleDelay
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "crawlmeshbot/1.0"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.StaleLeaseDuration <= 0 {
		c.StaleLeaseDuration = 15 * time.Minute
	}
}

// Pool runs N crawl handlers plus the frontier-pump and reschedule-sweep
// background tasks described in spec.md §4.7 and §5.
type Pool struct {
	cfg Config

	frontier frontier.Frontier
	queue    jobqueue.Queue
	robots   *robots.Cache
	limiter  *ratelimit.Limiter
	fetch    fetcher.Fetcher
	sink     index.Sink
	store    store.Store
	logger   *zap.Logger
	clock    func() time.Time
	emitter  progress.Emitter

	wg sync.WaitGroup
}

// New builds a Pool wired to its collaborators. emitter may be nil, in which
// case progress events are simply not published (the pool still works; the
// admin API's job history and per-site stats endpoints return empty).
func New(
	cfg Config,
	fr frontier.Frontier,
	queue jobqueue.Queue,
	robotsCache *robots.Cache,
	limiter *ratelimit.Limiter,
	fetch fetcher.Fetcher,
	sink index.Sink,
	metaStore store.Store,
	logger *zap.Logger,
	emitter progress.Emitter,
) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:      cfg,
		frontier: fr,
		queue:    queue,
		robots:   robotsCache,
		limiter:  limiter,
		fetch:    fetch,
		sink:     sink,
		store:    metaStore,
		logger:   logger,
		clock:    system.New().Now,
		emitter:  emitter,
	}
}

// Run starts the handler pool and background tasks, blocking until ctx
// is cancelled. On cancellation it stops the frontier pump immediately
// and waits up to cfg.ShutdownGrace for in-flight handlers to finish.
func (p *Pool) Run(ctx context.Context) {
	var bg sync.WaitGroup

	bg.Add(1)
	go func() {
		defer bg.Done()
		p.pumpFrontier(ctx)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		p.rescheduleLoop(ctx)
	}()

	bg.Add(1)
	go func() {
		defer bg.Done()
		p.consumeQueueEvents(ctx)
	}()

	for i := 0; i < p.cfg.MaxConcurrent; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runHandler(ctx)
		}()
	}

	<-ctx.Done()
	bg.Wait()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownGrace):
		p.logger.Warn("shutdown grace period elapsed with handlers still running")
	}
}

// pumpFrontier claims batches of eligible URL records and hands them to
// the job queue, polling every FrontierPumpInterval (or the longer
// FrontierPumpErrorBackoff after a claim error).
func (p *Pool) pumpFrontier(ctx context.Context) {
	interval := p.cfg.FrontierPumpInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := p.pumpOnce(ctx)
		if err != nil {
			p.logger.Error("frontier pump failed", zap.Error(err))
			interval = p.cfg.FrontierPumpErrorBackoff
		} else {
			interval = p.cfg.FrontierPumpInterval
			if n > 0 {
				p.logger.Debug("frontier pump dispatched batch", zap.Int("count", n))
			}
		}
		timer.Reset(interval)
	}
}

func (p *Pool) pumpOnce(ctx context.Context) (int, error) {
	records, err := p.frontier.ClaimBatch(ctx, p.cfg.FrontierBatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	for _, rec := range records {
		job := jobqueue.Job{
			ID:         rec.ID,
			URL:        rec.URL,
			Depth:      rec.Depth,
			CrawlJobID: rec.JobID,
			Priority:   rec.Priority,
			Attempts:   rec.Attempts,
		}
		if err := p.queue.Enqueue(ctx, job, time.Time{}); err != nil {
			return len(records), fmt.Errorf("enqueue job %s: %w", rec.ID, err)
		}
	}
	return len(records), nil
}

// rescheduleLoop periodically moves failed frontier records with
// remaining attempts back to pending, and reclaims records left in
// processing by a handler that crashed before reporting an outcome.
func (p *Pool) rescheduleLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RescheduleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.frontier.RescheduleFailed(ctx, p.cfg.RescheduleDelay)
			if err != nil {
				p.logger.Error("reschedule sweep failed", zap.Error(err))
			} else if n > 0 {
				p.logger.Debug("reschedule sweep rescheduled records", zap.Int("count", n))
			}

			stale, err := p.frontier.ReclaimStale(ctx, p.cfg.StaleLeaseDuration)
			if err != nil {
				p.logger.Error("stale lease sweep failed", zap.Error(err))
				continue
			}
			if stale > 0 {
				p.logger.Warn("stale lease sweep reclaimed records", zap.Int("count", stale))
			}
		}
	}
}

// consumeQueueEvents drains the job queue's lifecycle notifications for
// logging. A stalled event means a handler took a job and never acked
// or nacked it; the frontier record itself is recovered separately by
// the reschedule loop's stale-lease sweep, not by this consumer.
func (p *Pool) consumeQueueEvents(ctx context.Context) {
	events := p.queue.Events()
	if events == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Status == jobqueue.EventStalled {
				p.logger.Warn("job stalled", zap.String("job_id", evt.JobID), zap.String("crawl_job_id", evt.CrawlJobID))
			}
		}
	}
}

func (p *Pool) runHandler(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		p.processJob(ctx, job)
	}
}

func (p *Pool) processJob(ctx context.Context, job jobqueue.Job) {
	outcome, errMsg, skip, err := p.crawl(ctx, job)

	if completeErr := p.frontier.Complete(ctx, job.ID, outcome, errMsg); completeErr != nil {
		p.logger.Error("frontier complete failed", zap.String("job_id", job.ID), zap.Error(completeErr))
	}

	if skip {
		if ackErr := p.queue.Ack(ctx, job.ID); ackErr != nil {
			p.logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(ackErr))
		}
		return
	}

	if err != nil {
		p.logger.Warn("crawl handler failed", zap.String("job_id", job.ID), zap.String("url", job.URL), zap.Error(err))
		if nackErr := p.queue.Nack(ctx, job.ID, err); nackErr != nil {
			p.logger.Error("nack failed", zap.String("job_id", job.ID), zap.Error(nackErr))
		}
		return
	}

	if ackErr := p.queue.Ack(ctx, job.ID); ackErr != nil {
		p.logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(ackErr))
	}
}

// crawl executes the crawl procedure from spec.md §4.7 steps 1-9 for a
// single dispatched job.
func (p *Pool) crawl(ctx context.Context, job jobqueue.Job) (outcome frontier.Outcome, errMsg string, skip bool, err error) {
	host := urlnorm.Host(job.URL)

	// Step 1: recency check.
	if page, gerr := p.store.GetCrawledPage(ctx, job.URL); gerr == nil {
		if p.clock().Sub(page.LastCrawled) < p.cfg.RecencyWindow {
			return frontier.OutcomeCompleted, "", true, nil
		}
	} else if !errors.Is(gerr, store.ErrNotFound) {
		return frontier.OutcomeFailed, gerr.Error(), false, fmt.Errorf("recency check: %w", gerr)
	}

	// Step 2: robots check.
	policy := p.robots.CanCrawl(ctx, job.URL)
	if !policy.Allowed {
		const msg = "Disallowed by robots.txt"
		p.reportJobProgress(ctx, job.CrawlJobID, 0, 0)
		return frontier.OutcomeFailed, msg, true, nil
	}

	// Step 3: rate limit. The configured default is a floor: whichever of
	// it or the robots-declared crawl-delay is larger applies to the host.
	delay := policy.Delay
	if p.cfg.DefaultRequestDelay > delay {
		delay = p.cfg.DefaultRequestDelay
	}
	if derr := p.limiter.SetDelay(ctx, host, delay); derr != nil {
		p.logger.Warn("rate limit set delay failed", zap.String("host", host), zap.Error(derr))
	}
	if werr := p.limiter.Wait(ctx, host); werr != nil {
		return frontier.OutcomeFailed, werr.Error(), false, fmt.Errorf("rate limit wait: %w", werr)
	}

	// Step 4: fetch.
	p.emitFetchStart(job.CrawlJobID, host, job.URL)
	resp, ferr := p.fetch.Fetch(ctx, fetcher.Request{
		URL:       job.URL,
		UserAgent: p.cfg.UserAgent,
		Timeout:   p.cfg.FetchTimeout,
	})
	if ferr != nil {
		return frontier.OutcomeFailed, ferr.Error(), false, fmt.Errorf("fetch: %w", ferr)
	}
	p.emitFetchDone(job.CrawlJobID, host, resp.StatusCode, int64(len(resp.Body)))

	// Step 5: extract.
	result, eerr := extractor.Extract(resp.Body, resp.ContentType, job.URL)
	if eerr != nil {
		return frontier.OutcomeFailed, eerr.Error(), false, fmt.Errorf("content extraction failed: %w", eerr)
	}
	if result == nil {
		const msg = "Content extraction failed"
		return frontier.OutcomeFailed, msg, false, errors.New(msg)
	}

	// Step 6: persist crawled page.
	now := p.clock()
	var lastModified *time.Time
	if !resp.LastModified.IsZero() {
		lm := resp.LastModified
		lastModified = &lm
	}
	page := &store.CrawledPage{
		URL:          job.URL,
		Title:        result.Title,
		ContentHash:  result.ContentHash,
		LastCrawled:  now,
		LastModified: lastModified,
		StatusCode:   resp.StatusCode,
		ContentType:  resp.ContentType,
		WordCount:    result.WordCount,
		Domain:       host,
		Indexed:      true,
		ErrorCount:   0,
	}
	if perr := p.store.UpsertCrawledPage(ctx, page); perr != nil {
		return frontier.OutcomeFailed, perr.Error(), false, fmt.Errorf("persist crawled page: %w", perr)
	}

	// Step 7: index.
	doc := buildDocument(job.URL, host, now, resp, result)
	if ierr := p.sink.Index(ctx, doc); ierr != nil {
		return frontier.OutcomeFailed, ierr.Error(), false, fmt.Errorf("index: %w", ierr)
	}

	// Step 8: frontier expansion.
	p.expandFrontier(ctx, job, result)

	// Step 9: report progress.
	p.reportJobProgress(ctx, job.CrawlJobID, 1, 1)

	return frontier.OutcomeCompleted, "", false, nil
}

func buildDocument(pageURL, host string, now time.Time, resp fetcher.Response, result *extractor.Result) index.Document {
	links := make([]index.Link, 0, len(result.Links))
	for _, l := range result.Links {
		links = append(links, index.Link{URL: l.URL, Text: l.Text, Title: l.Title})
	}
	var lastModified time.Time
	if !resp.LastModified.IsZero() {
		lastModified = resp.LastModified
	}
	return index.Document{
		ID:           extractor.DocumentID(pageURL),
		URL:          pageURL,
		Title:        result.Title,
		Description:  result.Description,
		Content:      result.Content,
		Keywords:     result.Keywords,
		Host:         host,
		CrawlDate:    now,
		LastModified: lastModified,
		ContentType:  resp.ContentType,
		Language:     result.Language,
		WordCount:    result.WordCount,
		ContentHash:  result.ContentHash,
		Links:        links,
		Metadata:     result.Metadata,
	}
}

// expandFrontier enqueues newly discovered links as new frontier records,
// skipping invalid URLs, domain-filter mismatches, and already-crawled
// pages, and respecting the job's max-depth bound.
func (p *Pool) expandFrontier(ctx context.Context, job jobqueue.Job, result *extractor.Result) int {
	if len(result.Links) == 0 {
		return 0
	}

	crawlJob, err := p.store.GetJob(ctx, job.CrawlJobID)
	if err != nil {
		p.logger.Warn("expand frontier: load crawl job failed", zap.String("crawl_job_id", job.CrawlJobID), zap.Error(err))
		return 0
	}
	if job.Depth >= crawlJob.MaxDepth {
		return 0
	}

	expanded := 0
	for _, link := range result.Links {
		if !urlnorm.ShouldCrawlDomain(link.URL, crawlJob.DomainFilter) {
			continue
		}
		if _, gerr := p.store.GetCrawledPage(ctx, link.URL); gerr == nil {
			continue
		}
		priority := 100 - (job.Depth + 1)
		added, eerr := p.frontier.Enqueue(ctx, link.URL, job.URL, job.Depth+1, job.CrawlJobID, priority)
		if eerr != nil {
			p.logger.Warn("expand frontier: enqueue failed", zap.String("url", link.URL), zap.Error(eerr))
			continue
		}
		if added {
			expanded++
		}
	}
	return expanded
}

func (p *Pool) reportJobProgress(ctx context.Context, crawlJobID string, pagesCrawled, pagesIndexed int) {
	if crawlJobID == "" {
		return
	}
	if err := p.store.IncrementJobCounters(ctx, crawlJobID, pagesCrawled, pagesIndexed); err != nil {
		p.logger.Warn("report job progress failed", zap.String("crawl_job_id", crawlJobID), zap.Error(err))
	}
}

func (p *Pool) emitFetchStart(crawlJobID, host, url string) {
	jobID, ok := jobIDBytes(crawlJobID)
	if !ok || p.emitter == nil {
		return
	}
	p.emitter.Emit(progress.Event{
		JobID: jobID,
		TS:    p.clock(),
		Stage: progress.StageFetchStart,
		Site:  host,
		URL:   url,
	})
}

func (p *Pool) emitFetchDone(crawlJobID, host string, statusCode int, bytes int64) {
	jobID, ok := jobIDBytes(crawlJobID)
	if !ok || p.emitter == nil {
		return
	}
	p.emitter.Emit(progress.Event{
		JobID:       jobID,
		TS:          p.clock(),
		Stage:       progress.StageFetchDone,
		Site:        host,
		Bytes:       bytes,
		Visits:      1,
		StatusClass: progress.ClassifyStatus(statusCode),
	})
}

// jobIDBytes parses a CrawlJob.ID (a uuid string) into the 16-byte form
// progress events use. Jobs created before the crawlJobID was made
// mandatory, or test fixtures using non-uuid IDs, are silently skipped.
func jobIDBytes(crawlJobID string) ([16]byte, bool) {
	if crawlJobID == "" {
		return [16]byte{}, false
	}
	id, err := uuid.Parse(crawlJobID)
	if err != nil {
		return [16]byte{}, false
	}
	return progress.UUIDToBytes(id), true
}
