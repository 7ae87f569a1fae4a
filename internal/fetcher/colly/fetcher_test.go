package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchPage_ReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent", Timeout: 2 * time.Second})
	page, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "<html>ok</html>", string(page.Body))
}

func TestFetchPage_SurfacesHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 2 * time.Second})
	page, err := f.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, page.StatusCode)
	require.Equal(t, "down", string(page.Body))
}

func TestFetchPage_ContextCanceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.FetchPage(ctx, srv.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}

type stubRoundTripper struct {
	errs  []error
	calls int
}

func (s *stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "tls: handshake timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryingTransport_RetriesTransientTLS(t *testing.T) {
	t.Parallel()

	stub := &stubRoundTripper{errs: []error{timeoutErr{}, timeoutErr{}}}
	tr := &retryingTransport{base: stub}

	req, err := http.NewRequest(http.MethodGet, "https://host/results", nil)
	require.NoError(t, err)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, stub.calls)
	_ = resp.Body.Close()
}

func TestRetryingTransport_NonTransientFailsFast(t *testing.T) {
	t.Parallel()

	stub := &stubRoundTripper{errs: []error{errors.New("connection refused")}}
	tr := &retryingTransport{base: stub}

	req := httptest.NewRequest(http.MethodGet, "https://host/results", nil)
	_, err := tr.RoundTrip(req)
	require.Error(t, err)
	require.Equal(t, 1, stub.calls)
}

func TestIsTransientTLSError(t *testing.T) {
	t.Parallel()

	require.False(t, isTransientTLSError(nil))
	require.False(t, isTransientTLSError(errors.New("connection refused")))
	require.True(t, isTransientTLSError(timeoutErr{}))
	require.True(t, isTransientTLSError(context.DeadlineExceeded))
	require.True(t, isTransientTLSError(errors.New("remote error: tls: handshake timeout")))
}
