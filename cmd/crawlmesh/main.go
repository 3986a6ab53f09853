// Package main hosts the crawlmesh service and CLI entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job submission,
//     status, search, and progress history. Submitting a job creates the
//     crawl_jobs row via internal/store and seeds the frontier; the worker's
//     frontier pump is what moves work onto the job queue from there.
//   - Worker pool: internal/worker.Pool runs a bounded set of crawl handlers
//     that drive components C1-C6 (URL normalizer, frontier, robots cache,
//     rate limiter, dual HTTP/headless fetcher, content extractor) through
//     the crawl procedure, plus background frontier-pump and
//     reschedule-sweep tasks.
//   - Persistence & fanout: crawled pages are indexed into the configured
//     document sink (memory or Elasticsearch); crawl metadata lives in the
//     configured store (memory or Postgres); a progress Hub batches crawl
//     lifecycle events to logging, Prometheus, and store sinks.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
