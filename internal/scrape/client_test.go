package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lapforge/ingest/internal/timing"
)

type fakePages struct {
	pages map[string]Page
	err   error
	calls int
}

func (f *fakePages) FetchPage(_ context.Context, url string) (Page, error) {
	f.calls++
	if f.err != nil {
		return Page{}, f.err
	}
	p, ok := f.pages[url]
	if !ok {
		return Page{URL: url, StatusCode: http.StatusNotFound}, nil
	}
	return p, nil
}

func fastConfig(baseURL string) Config {
	return Config{
		ResultsBaseURL: baseURL,
		Timeout:        time.Second,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func TestClient_FetchJSON_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"race_id": "r1"}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL), &fakePages{}, zap.NewNop())

	var doc map[string]any
	require.NoError(t, c.FetchJSON(context.Background(), srv.URL+"/doc.json", &doc))
	require.Equal(t, "r1", doc["race_id"])
	require.Equal(t, int32(3), hits.Load())
}

func TestClient_FetchJSON_MaxRetriesExceeded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL), &fakePages{}, zap.NewNop())

	var doc map[string]any
	err := c.FetchJSON(context.Background(), srv.URL+"/doc.json", &doc)
	require.Error(t, err)

	var clientErr *timing.ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, timing.ClientErrMaxRetries, clientErr.Code)
	require.Equal(t, http.StatusTooManyRequests, clientErr.Status)
	require.Equal(t, srv.URL+"/doc.json", clientErr.URL)
}

func TestClient_FetchJSON_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL), &fakePages{}, zap.NewNop())

	var doc map[string]any
	err := c.FetchJSON(context.Background(), srv.URL+"/missing.json", &doc)

	var clientErr *timing.ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, timing.ClientErrNotFound, clientErr.Code)
	require.Equal(t, int32(1), hits.Load())
}

func TestClient_FetchJSON_ClientErrorIsTerminal(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL), &fakePages{}, zap.NewNop())

	var doc map[string]any
	err := c.FetchJSON(context.Background(), srv.URL+"/doc.json", &doc)

	var clientErr *timing.ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, timing.ClientErrUnknown, clientErr.Code)
	require.Equal(t, http.StatusForbidden, clientErr.Status)
	require.Equal(t, int32(1), hits.Load())
}

func TestClient_EventOverview_UsesPageFetcher(t *testing.T) {
	t.Parallel()

	pages := &fakePages{pages: map[string]Page{
		"https://host/results/e": {StatusCode: 200, Body: []byte("<html>overview</html>")},
	}}
	c := New(fastConfig("https://host/results"), pages, zap.NewNop())

	html, err := c.EventOverview(context.Background(), "https://host/results/e")
	require.NoError(t, err)
	require.Contains(t, html, "overview")
	require.Equal(t, 1, pages.calls)
}

func TestClient_SlugURLs(t *testing.T) {
	t.Parallel()

	c := New(fastConfig("https://host/prefix/results/"), &fakePages{}, zap.NewNop())
	require.Equal(t,
		"https://host/prefix/results/spring-gp/stock/round2/a-main.json",
		c.slugURL("spring-gp", "stock", "round2", "a-main.json"),
	)
}

func TestRetryPolicy_Classification(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	require.True(t, p.RetryableStatus(http.StatusInternalServerError))
	require.True(t, p.RetryableStatus(http.StatusBadGateway))
	require.True(t, p.RetryableStatus(http.StatusTooManyRequests))
	require.False(t, p.RetryableStatus(http.StatusBadRequest))
	require.False(t, p.RetryableStatus(http.StatusNotFound))
	require.False(t, p.RetryableError(context.Canceled))
}

func TestRetryPolicy_BackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 10*time.Millisecond, 40*time.Millisecond)
	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
}
