package progress

import (
	"context"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultInterval = 3 * time.Second

// New counts bytes written through to w.
func New(w io.Writer) *Writer {
	return &Writer{w: w, interval: DefaultInterval, close: make(chan struct{})}
}

type Writer struct {
	w        io.Writer
	current  atomic.Int64
	interval time.Duration

	close chan struct{}
	once  sync.Once
}

// WithInterval changes how often Observe yields.
func (pw *Writer) WithInterval(interval time.Duration) *Writer {
	if interval > 0 {
		pw.interval = interval
	}
	return pw
}

func (pw *Writer) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.current.Add(int64(n))
	}
	return n, err
}

// Current is the count of bytes written so far.
func (pw *Writer) Current() int64 {
	return pw.current.Load()
}

func (pw *Writer) Close() error {
	pw.once.Do(func() {
		close(pw.close)
	})
	return nil
}

// Observe yields the current count every interval until Close or ctx is done.
func (pw *Writer) Observe(ctx context.Context) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		ticker := time.NewTicker(pw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-pw.close:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !yield(pw.current.Load()) {
					return
				}
			}
		}
	}
}
