package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlmesh/crawlmesh/internal/fetcher"
)

func TestFetcher_Fetch_SuccessWithAllowedMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "crawlmeshbot"})
	resp, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "text/html", resp.ContentType)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "hello")
}

func TestFetcher_Fetch_RejectsDisallowedMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 0x50})
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.Error(t, err)
	var ferr *fetcher.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fetcher.ReasonMIMERejected, ferr.Reason)
}

func TestFetcher_Fetch_HTTPErrorStatusIsPhaseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.Error(t, err)
	var ferr *fetcher.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fetcher.ReasonHTTPError, ferr.Reason)
}

func TestFetcher_Fetch_ConnectionRefusedIsNetworkError(t *testing.T) {
	f := New(Config{})
	_, err := f.Fetch(context.Background(), fetcher.Request{URL: "http://127.0.0.1:1/unreachable"})
	require.Error(t, err)
	var ferr *fetcher.Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, fetcher.ReasonNetworkError, ferr.Reason)
}
