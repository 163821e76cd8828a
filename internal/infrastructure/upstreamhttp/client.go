// Package upstreamhttp implements repository.Transformer: the plain HTTP
// fetch used both to invoke the upstream media-transformation endpoint
// (C3's built URL) and, reused unchanged, every fallback-chain fetch in
// C10 (pattern-origin, direct-origin, storage-service) — all of them are
// "fetch a URL, return status/header/body" with no interpretation beyond
// transport concerns, per spec.md §1's "only its URL grammar and
// observable error shapes" framing of the upstream service.
package upstreamhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgevid/proxy/internal/domain/repository"
)

// maxResponseBody caps how much of an upstream body is buffered into
// memory. Transformed video bodies are expected to be cached-sized; an
// upstream serving something absurdly large is treated as a transport
// failure rather than exhausting worker memory.
const maxResponseBody = 256 << 20 // 256 MiB

// Client implements repository.Transformer over a shared *http.Client.
type Client struct {
	http *http.Client
}

var _ repository.Transformer = (*Client)(nil)

// New creates a Client with the given per-request timeout (§5 "each
// upstream fetch carries an implementation-bounded timeout").
func New(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Fetch issues method against url with header attached, buffering the
// full response body. Redirects are followed per the default
// http.Client policy (C10 Step C: "following redirects").
func (c *Client) Fetch(ctx context.Context, method string, url string, header http.Header) (*repository.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if len(body) > maxResponseBody {
		return nil, fmt.Errorf("upstream body exceeds %d bytes", maxResponseBody)
	}

	return &repository.UpstreamResponse{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// NewReader adapts a byte slice as an io.Reader for use as an
// http.Request body. No package in this module calls it.
func NewReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
