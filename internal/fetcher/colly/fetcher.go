// Package collyfetcher implements the plain HTTP phase of the page
// fetcher using gocolly/colly.
package collyfetcher

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/crawlmesh/crawlmesh/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodySize  int64
	AllowedMIMEs []string
}

// Fetcher implements fetcher.Fetcher for the plain HTTP phase: GET with
// the configured headers, a request timeout, a max response body size,
// and a MIME allow-list. Only status <400 is success; connection refused,
// DNS failure, and HTTP >=400 are failures of this phase, not the fetch.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = fetcher.DefaultMaxBodySize
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = fetcher.DefaultAllowedMIMETypes
	}
	// ParseHTTPErrorResponse routes every status through OnResponse, where
	// >=400 is classified as ReasonHTTPError.
	c := colly.NewCollector(colly.Async(false), colly.ParseHTTPErrorResponse())
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single GET through Colly.
func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) (fetcher.Response, error) {
	collector := f.baseCollector.Clone()

	userAgent := f.cfg.UserAgent
	if req.UserAgent != "" {
		userAgent = req.UserAgent
	}
	if userAgent != "" {
		collector.UserAgent = userAgent
	}

	timeout := f.cfg.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   fetcher.Response
		fetchErr error
	)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= 400 {
			fetchErr = &fetcher.Error{Reason: fetcher.ReasonHTTPError, Err: httpStatusError(r.StatusCode)}
			return
		}
		contentType := firstContentType(*r.Headers)
		if !mimeAllowed(contentType, f.cfg.AllowedMIMEs) {
			fetchErr = &fetcher.Error{Reason: fetcher.ReasonMIMERejected, Err: mimeRejectedError(contentType)}
			return
		}
		if int64(len(r.Body)) > f.cfg.MaxBodySize {
			fetchErr = &fetcher.Error{Reason: fetcher.ReasonBodyTooLarge, Err: bodyTooLargeError(f.cfg.MaxBodySize)}
			return
		}
		result = fetcher.Response{
			URL:         r.Request.URL.String(),
			Body:        append([]byte(nil), r.Body...),
			ContentType: contentType,
			StatusCode:  r.StatusCode,
			Headers:     r.Headers.Clone(),
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if fetchErr == nil {
			fetchErr = &fetcher.Error{Reason: fetcher.ReasonNetworkError, Err: err}
		}
	})

	if err := f.runCollector(ctx, collector, req.URL); err != nil {
		return fetcher.Response{}, err
	}
	if fetchErr != nil {
		return fetcher.Response{}, fetchErr
	}
	return result, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &fetcher.Error{Reason: fetcher.ReasonNetworkError, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return &fetcher.Error{Reason: fetcher.ReasonNetworkError, Err: err}
		}
		return nil
	}
}

func firstContentType(h http.Header) string {
	ct := h.Get("Content-Type")
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

func mimeAllowed(contentType string, allowed []string) bool {
	for _, m := range allowed {
		if contentType == m {
			return true
		}
	}
	return false
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
