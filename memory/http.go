// Copyright 2024 The ikvblob Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go4.org/syncutil"
)

const defaultMaxConcurrentRequests = 16

// HTTP reads a remote file with HTTP range requests.
type HTTP struct {
	url    string
	client *http.Client
	gate   *syncutil.Gate
}

type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used for requests.  The default is
// http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = c
	}
}

// WithMaxConcurrentRequests bounds the number of requests in flight.
func WithMaxConcurrentRequests(n int) HTTPOption {
	return func(h *HTTP) {
		if n > 0 {
			h.gate = syncutil.NewGate(n)
		}
	}
}

func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		url:    url,
		client: http.DefaultClient,
		gate:   syncutil.NewGate(defaultMaxConcurrentRequests),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) ReadSlice(ctx context.Context, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, checkRange(off, n, 0)
	}
	if n == 0 {
		return []byte{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequest: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))

	// the gate covers the body read, not just the response headers
	h.gate.Start()
	defer h.gate.Done()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", h.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body := io.Reader(resp.Body)
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// the server ignored the Range header and sent everything
		if _, err := io.CopyN(io.Discard, body, off); err != nil {
			return nil, fmt.Errorf("GET %s: skipping to %d: %w", h.url, off, noEOF(err))
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("GET %s: %w: [%d, +%d)", h.url, ErrOutOfRange, off, n)
	default:
		return nil, fmt.Errorf("GET %s: unexpected status %s", h.url, resp.Status)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(body, buf); err != nil {
		return nil, fmt.Errorf("GET %s: reading [%d, +%d): %w", h.url, off, n, noEOF(err))
	}
	return buf, nil
}

// Len issues a HEAD request for the length of the remote file.
func (h *HTTP) Len(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("http.NewRequest: %w", err)
	}
	h.gate.Start()
	defer h.gate.Done()
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", h.url, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HEAD %s: unexpected status %s", h.url, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("HEAD %s: no Content-Length", h.url)
	}
	return resp.ContentLength, nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
