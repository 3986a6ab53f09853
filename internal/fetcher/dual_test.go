package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	resp Response
	err  error
}

func (s stubFetcher) Fetch(context.Context, Request) (Response, error) {
	return s.resp, s.err
}

func TestDual_PlainSuccessSkipsHeadless(t *testing.T) {
	plain := stubFetcher{resp: Response{StatusCode: 200, Body: []byte("ok")}}
	headless := stubFetcher{err: errors.New("should not be called")}

	d := NewDual(plain, headless)
	resp, err := d.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestDual_PlainFailsFallsBackToHeadless(t *testing.T) {
	plain := stubFetcher{err: &Error{Reason: ReasonNetworkError, Err: errors.New("refused")}}
	headless := stubFetcher{resp: Response{StatusCode: 200, Body: []byte("rendered"), UsedHeadless: true}}

	d := NewDual(plain, headless)
	resp, err := d.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.NoError(t, err)
	assert.True(t, resp.UsedHeadless)
}

func TestDual_BothFailReturnsLastReason(t *testing.T) {
	plain := stubFetcher{err: &Error{Reason: ReasonHTTPError, Err: errors.New("status 503")}}
	headless := stubFetcher{err: &Error{Reason: ReasonRenderHTTPErr, Err: errors.New("status 500")}}

	d := NewDual(plain, headless)
	_, err := d.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.Error(t, err)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, ReasonRenderHTTPErr, ferr.Reason)
}

func TestDual_NoHeadlessConfiguredReturnsPlainFailure(t *testing.T) {
	plain := stubFetcher{err: &Error{Reason: ReasonNetworkError, Err: errors.New("refused")}}

	d := NewDual(plain, nil)
	_, err := d.Fetch(context.Background(), Request{URL: "https://example.com"})
	require.Error(t, err)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, ReasonNetworkError, ferr.Reason)
}
