// Package robots implements component C3: a two-tier robots.txt cache
// (in-process, then the durable metadata store) exposing isAllowed/
// crawlDelay/canCrawl with fail-open semantics on every error path.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/crawlmesh/crawlmesh/internal/store"
)

// DefaultDelay is the crawl-delay applied to a host with no explicit
// robots.txt directive or when robots are disabled.
const DefaultDelay = 1 * time.Second

// inProcessTTL is the freshness window of the in-process map tier before
// it falls through to the durable store/network fetch.
const inProcessTTL = 24 * time.Hour

// Policy is the result of consulting the robots cache for a single URL.
type Policy struct {
	Allowed bool
	Delay   time.Duration
}

// Cache is the C3 contract: given a host, return a parsed robots policy.
type Cache struct {
	client    *http.Client
	store     store.Store
	userAgent string
	respect   bool
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data       *robotstxt.RobotsData
	crawlDelay time.Duration
	fetchedAt  time.Time
}

// Config controls cache construction.
type Config struct {
	UserAgent string
	Respect   bool
	Timeout   time.Duration
}

// New builds a Cache. backing may be nil, in which case only the
// in-process tier is used (useful for tests without a store dependency).
func New(cfg Config, backing store.Store, logger *zap.Logger) *Cache {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client:    &http.Client{Timeout: timeout},
		store:     backing,
		userAgent: cfg.UserAgent,
		respect:   cfg.Respect,
		logger:    logger,
		entries:   make(map[string]cacheEntry),
	}
}

// CanCrawl implements the top-level canCrawl(url) contract: when robots are
// disabled it returns {true, 0}; on any internal error it fails open with
// {true, 1s}.
func (c *Cache) CanCrawl(ctx context.Context, rawURL string) Policy {
	if !c.respect {
		return Policy{Allowed: true, Delay: 0}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Policy{Allowed: true, Delay: DefaultDelay}
	}

	data, delay, err := c.load(ctx, parsed)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return Policy{Allowed: true, Delay: DefaultDelay}
	}

	group := data.FindGroup(c.userAgent)
	if group == nil {
		return Policy{Allowed: true, Delay: delay}
	}
	return Policy{Allowed: group.Test(parsed.Path), Delay: delay}
}

// load consults the in-process tier, then the durable store, then the
// network, populating both tiers on a fresh fetch.
func (c *Cache) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, time.Duration, error) {
	host := strings.ToLower(parsed.Host)

	c.mu.Lock()
	entry, ok := c.entries[host]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < inProcessTTL {
		return entry.data, entry.crawlDelay, nil
	}

	if c.store != nil {
		if rec, err := c.store.GetRobotsRecord(ctx, host); err == nil && time.Since(rec.LastUpdated) < inProcessTTL {
			data, perr := robotstxt.FromString(rec.RobotsTxt)
			if perr == nil {
				delay := time.Duration(rec.CrawlDelay) * time.Second
				c.storeInProcess(host, data, delay)
				return data, delay, nil
			}
		}
	}

	return c.fetch(ctx, host, parsed)
}

// fetch retrieves https://{host}/robots.txt. Per spec: status <400 with a
// body is the policy body; 4xx and DNS failures mean no restrictions
// (permissive, default delay); 5xx/network errors mean no restrictions for
// this call only, without poisoning the cache.
func (c *Cache) fetch(ctx context.Context, host string, parsed *url.URL) (*robotstxt.RobotsData, time.Duration, error) {
	robotsURL := url.URL{Scheme: "https", Host: parsed.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("robots: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return permissiveRobots(), DefaultDelay, nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return permissiveRobots(), DefaultDelay, fmt.Errorf("robots: server error %d", resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		data := permissiveRobots()
		c.storeInProcess(host, data, DefaultDelay)
		c.persist(ctx, host, "", DefaultDelay)
		return data, DefaultDelay, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return permissiveRobots(), DefaultDelay, fmt.Errorf("robots: read body: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return permissiveRobots(), DefaultDelay, fmt.Errorf("robots: parse: %w", err)
	}

	delay := DefaultDelay
	if group := data.FindGroup(c.userAgent); group != nil && group.CrawlDelay > 0 {
		delay = group.CrawlDelay
	}

	c.storeInProcess(host, data, delay)
	c.persist(ctx, host, string(body), delay)
	return data, delay, nil
}

func (c *Cache) storeInProcess(host string, data *robotstxt.RobotsData, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[host] = cacheEntry{data: data, crawlDelay: delay, fetchedAt: time.Now().UTC()}
}

func (c *Cache) persist(ctx context.Context, host, body string, delay time.Duration) {
	if c.store == nil {
		return
	}
	rec := &store.RobotsRecord{
		Domain:      host,
		RobotsTxt:   body,
		LastUpdated: time.Now().UTC(),
		CrawlDelay:  int(delay / time.Second),
	}
	if err := c.store.UpsertRobotsRecord(ctx, rec); err != nil {
		c.logger.Debug("robots: failed to persist record", zap.String("host", host), zap.Error(err))
	}
}

func permissiveRobots() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}
