package mrf

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
)

var sourceHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	},
	Timeout: 3 * time.Hour, // large MRFs at slow CDN speeds can take over an hour
}

// sourceSuffix returns the dotted suffix sequence of a location's path
// component only — a query string containing ".json" must never fool the
// extension check. Mirrors MRFOpen.suffix from the original implementation,
// which derives from Path(urlparse(loc).path).suffixes.
func sourceSuffix(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if idx := strings.Index(base, "."); idx >= 0 {
		return base[idx:]
	}
	return ""
}

// OpenSource opens a local path or http(s) URL and returns a decompressed,
// sequential byte stream plus a close function releasing whatever
// HTTP response/decompressor/file underlies it. useStdGzip selects the
// single-threaded stdlib gzip reader over pgzip's parallel one; pgzip is
// faster but can corrupt mid-stream on very large files.
func OpenSource(ctx context.Context, location string, useStdGzip bool) (io.Reader, func() error, error) {
	suffix := sourceSuffix(location)
	if suffix != ".json" && suffix != ".json.gz" {
		return nil, nil, &ErrInvalidSource{Location: location, Reason: fmt.Sprintf("unsupported extension %q", suffix)}
	}

	var raw io.ReadCloser
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		resp, err := fetchHTTP(ctx, location)
		if err != nil {
			return nil, nil, &ErrInvalidSource{Location: location, Reason: err.Error()}
		}
		raw = resp.Body
	} else {
		f, err := os.Open(location)
		if err != nil {
			return nil, nil, &ErrInvalidSource{Location: location, Reason: err.Error()}
		}
		raw = f
	}

	closers := []func() error{raw.Close}
	var stream io.Reader = raw

	if suffix == ".json.gz" {
		gz, err := newGzipReader(raw, useStdGzip)
		if err != nil {
			raw.Close()
			return nil, nil, &ErrInvalidSource{Location: location, Reason: fmt.Sprintf("gzip: %v", err)}
		}
		closers = append(closers, gz.Close)
		stream = gz
	}

	br := &firstByteReader{r: stream}
	if _, err := br.peek(); err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, nil, &ErrInvalidSource{Location: location, Reason: "cannot read first byte: " + err.Error()}
	}

	closeFn := func() error {
		var first error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	return br, closeFn, nil
}

func newGzipReader(r io.Reader, useStdGzip bool) (io.ReadCloser, error) {
	if useStdGzip {
		return gzip.NewReader(r)
	}
	return pgzip.NewReader(r)
}

// fetchHTTP performs an HTTP GET with exponential-backoff retry, skipping
// retries on 4xx responses.
func fetchHTTP(ctx context.Context, location string) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("creating request: %w", reqErr)
		}

		resp, err = sourceHTTPClient.Do(req)
		if err != nil {
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		resp.Body.Close()
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, err
		}
	}
	return nil, fmt.Errorf("download failed after retries: %w", err)
}

// firstByteReader buffers the first byte read so OpenSource can validate the
// stream is readable without consuming it from the caller's perspective.
type firstByteReader struct {
	r       io.Reader
	peeked  bool
	buf     [1]byte
	haveBuf bool
	err     error
}

func (f *firstByteReader) peek() (byte, error) {
	if !f.peeked {
		f.peeked = true
		n, err := f.r.Read(f.buf[:])
		if n == 1 {
			f.haveBuf = true
		}
		f.err = err
	}
	if f.haveBuf {
		return f.buf[0], nil
	}
	return 0, f.err
}

func (f *firstByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	if f.haveBuf {
		p[0] = f.buf[0]
		f.haveBuf = false
		n = 1
		if len(p) == 1 {
			return n, nil
		}
		m, err := f.r.Read(p[1:])
		return n + m, err
	}
	if f.peeked && f.err != nil {
		return 0, f.err
	}
	return f.r.Read(p)
}
