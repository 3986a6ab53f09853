package headless

import (
	"context"
	"errors"

	"github.com/crawlmesh/crawlmesh/internal/fetcher"
)

// Noop implements fetcher.Fetcher but always returns an error, for builds
// or test runs without a headless browser available.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ fetcher.Request) (fetcher.Response, error) {
	return fetcher.Response{}, errors.New("headless fetcher not configured")
}
