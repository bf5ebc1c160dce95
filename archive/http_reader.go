package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTPRangeReader exposes an archive served over HTTP as an io.ReaderAt, so
// a server can mount a multi-gigabyte archive from object storage or a plain
// file server and only ever transfer the slices it renders. The server must
// support range requests and report a content length.
type HTTPRangeReader struct {
	ctx    context.Context
	client *http.Client
	url    string
	size   int64

	mu     sync.Mutex
	offset int64
}

// NewHTTPRangeReader probes url with a HEAD request, verifying range support
// and learning the archive size. The context is carried into every later
// read. A nil client falls back to http.DefaultClient.
func NewHTTPRangeReader(ctx context.Context, url string, client *http.Client) (*HTTPRangeReader, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("archive HEAD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive HEAD %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive HEAD %s: status %s", url, resp.Status)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, fmt.Errorf("server does not accept range requests for %s", url)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("server reports no content length for %s", url)
	}

	return &HTTPRangeReader{ctx: ctx, client: client, url: url, size: resp.ContentLength}, nil
}

// Size returns the archive length learned from the HEAD probe.
func (h *HTTPRangeReader) Size() int64 { return h.size }

// ReadAt fetches one byte range with a stateless ranged GET.
func (h *HTTPRangeReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= h.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= h.size {
		end = h.size - 1
	}

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("archive range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("archive range GET %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("archive range GET %s: status %s", h.url, resp.Status)
	}

	n, err := io.ReadFull(resp.Body, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read and Seek maintain a shared cursor for io.Reader compatibility; the
// archive reader itself only uses ReadAt.

func (h *HTTPRangeReader) Read(p []byte) (int, error) {
	h.mu.Lock()
	off := h.offset
	h.mu.Unlock()

	n, err := h.ReadAt(p, off)

	h.mu.Lock()
	h.offset = off + int64(n)
	h.mu.Unlock()
	return n, err
}

func (h *HTTPRangeReader) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = h.offset + offset
	case io.SeekEnd:
		next = h.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	h.offset = next
	return next, nil
}
