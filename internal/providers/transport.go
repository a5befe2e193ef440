package providers

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/Davincible/plexus/internal/gatewayerr"
)

// httpClient is shared across adapters; the dispatcher attaches its own
// per-attempt timeout to the request context rather than here.
var httpClient = &http.Client{}

// doRequest issues req and classifies the outcome per spec.md §4.5/§7.
func doRequest(ctx context.Context, method, url string, body []byte, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, newBodyReader(body))
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ClassInternal, "build upstream request", err)
	}
	req.Header = headers

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gatewayerr.Wrap(gatewayerr.ClassCancelled, "upstream call cancelled", err)
		}
		return nil, gatewayerr.Wrap(gatewayerr.ClassUpstreamTransient, "upstream request failed", err)
	}

	if err := classifyStatus(resp); err != nil {
		return resp, err
	}

	return resp, nil
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &gatewayerr.Error{Class: gatewayerr.ClassUpstreamRateLimited, Message: "upstream rate limited", RetryAfter: resp.Header.Get("Retry-After")}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gatewayerr.New(gatewayerr.ClassUpstreamAuth, "upstream rejected credentials")
	case resp.StatusCode == http.StatusBadRequest:
		return gatewayerr.New(gatewayerr.ClassUpstreamInvalid, "upstream rejected request")
	case resp.StatusCode >= 500:
		return gatewayerr.New(gatewayerr.ClassUpstreamTransient, "upstream server error")
	default:
		return gatewayerr.New(gatewayerr.ClassUpstreamInvalid, "unexpected upstream status")
	}
}

func newBodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return strings.NewReader(string(body))
}

// decompressReader wraps resp.Body to transparently undo gzip/brotli
// content encoding, the way the teacher's handlers.decompressReader does.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// sseLines scans an SSE body and yields each "data: ..." payload, skipping
// keep-alive comments and blank lines. It stops when ctx is cancelled.
func sseLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// withTimeout is a small helper mirroring the dispatcher's per-attempt
// deadline so a provider adapter invoked in isolation (e.g. from a test)
// still bounds its upstream call.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
