package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/innoai-tech/infra/pkg/http/middleware"
	"github.com/octohelm/unifs/pkg/filesystem"
	"github.com/octohelm/unifs/pkg/filesystem/local"
	"github.com/octohelm/x/logr"
)

// ChunkSize bounds the bytes held in memory while copying a stream.
const ChunkSize = 1 << 20

var defaultClient = sync.OnceValue(func() *http.Client {
	return &http.Client{
		Transport: middleware.NewLogRoundTripper()(http.DefaultTransport),
	}
})

// Fetcher opens artifact sources as forward-only streams.
// Failures are never retried here.
type Fetcher struct {
	// Client for http(s) sources, defaults to a logging client over http.DefaultTransport
	Client *http.Client
}

func (f *Fetcher) httpClient() *http.Client {
	if f != nil && f.Client != nil {
		return f.Client
	}
	return defaultClient()
}

func (f *Fetcher) Open(ctx context.Context, uri string) (*Stream, error) {
	src, err := ParseSource(uri)
	if err != nil {
		return nil, err
	}

	if src.IsLocal() {
		return f.openLocal(ctx, src)
	}
	return f.openRemote(ctx, src)
}

func (f *Fetcher) openRemote(ctx context.Context, src *Source) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URI, nil)
	if err != nil {
		return nil, &ErrTransport{URI: src.URI, Err: err}
	}

	resp, err := f.httpClient().Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ErrTransport{URI: src.URI, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		return nil, &ErrHTTPStatus{
			URI:    src.URI,
			Code:   resp.StatusCode,
			Status: resp.Status,
		}
	}

	s := &Stream{
		ctx:          ctx,
		uri:          src.URI,
		body:         resp.Body,
		declaredSize: resp.ContentLength,
		filename:     filenameFromContentDisposition(resp.Header.Get("Content-Disposition")),
	}

	logr.FromContext(ctx).WithValues(
		slog.String("fetch.uri", src.URI),
		slog.Int64("fetch.size", s.declaredSize),
		slog.String("fetch.filename", s.filename),
	).Debug("opened")

	return s, nil
}

func (f *Fetcher) openLocal(ctx context.Context, src *Source) (*Stream, error) {
	abs, err := filepath.Abs(src.Path)
	if err != nil {
		return nil, &ErrTransport{URI: src.URI, Err: err}
	}

	fsys := local.NewFS(filepath.Dir(abs))
	name := filepath.Base(abs)

	info, err := fsys.Stat(ctx, name)
	if err != nil {
		return nil, &ErrTransport{URI: src.URI, Err: err}
	}
	if info.IsDir() {
		return nil, &ErrTransport{URI: src.URI, Err: fmt.Errorf("%s is a directory", abs)}
	}

	file, err := filesystem.Open(ctx, fsys, name)
	if err != nil {
		return nil, &ErrTransport{URI: src.URI, Err: err}
	}

	return &Stream{
		ctx:          ctx,
		uri:          src.URI,
		body:         file,
		declaredSize: info.Size(),
		filename:     name,
	}, nil
}

// Stream is a forward-only view of an opened source.
// Read reports *ErrTruncatedStream when the source ends before its declared size.
type Stream struct {
	ctx          context.Context
	uri          string
	body         io.ReadCloser
	declaredSize int64
	filename     string
	received     int64
}

func (s *Stream) URI() string {
	return s.uri
}

// DeclaredSize is the advertised length, -1 when unknown.
func (s *Stream) DeclaredSize() int64 {
	return s.declaredSize
}

// Filename is the name suggested by the source, empty when unknown.
func (s *Stream) Filename() string {
	return s.filename
}

// Received is the count of bytes read so far.
func (s *Stream) Received() int64 {
	return s.received
}

func (s *Stream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := s.body.Read(p)
	s.received += int64(n)

	if err == nil {
		return n, nil
	}

	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return n, ctxErr
	}

	switch {
	case errors.Is(err, io.EOF):
		if s.declaredSize >= 0 && s.received < s.declaredSize {
			return n, s.truncated()
		}
		return n, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return n, s.truncated()
	}

	return n, &ErrTransport{URI: s.uri, Err: err}
}

func (s *Stream) truncated() error {
	return &ErrTruncatedStream{
		URI:      s.uri,
		Expected: s.declaredSize,
		Received: s.received,
	}
}

func (s *Stream) Close() error {
	return s.body.Close()
}
