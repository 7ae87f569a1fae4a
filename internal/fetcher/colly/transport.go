package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lapforge/ingest/internal/telemetry"
)

var tlsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// retryingTransport retries GET requests that fail with a transient TLS
// handshake timeout. The provider sits behind a load balancer that
// occasionally stalls handshakes under load; a short retry avoids failing
// the whole session import for it.
type retryingTransport struct {
	base http.RoundTripper
}

func (t *retryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retrying transport received nil request")
	}
	if req.Method != http.MethodGet || req.Body != nil {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("transport base roundtrip: %w", err)
		}
		return resp, nil
	}

	maxAttempts := len(tlsRetryBackoff) + 1
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("transport roundtrip: %w", err)
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}
		telemetry.ObserveScrapeTLSRetry()
		if err := sleepWithContext(req.Context(), tlsRetryBackoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transport roundtrip exhausted TLS retries: %w", lastErr)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("transport backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
