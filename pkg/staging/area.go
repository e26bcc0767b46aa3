package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/octohelm/unifs/pkg/filesystem"

	"github.com/octohelm/imgkit/pkg/storage/driver"
	"github.com/octohelm/imgkit/pkg/storage/layout"
)

func NewArea(fsys filesystem.FileSystem) *Area {
	return &Area{
		driver: driver.FromFileSystem(fsys),
		layout: layout.Default,
	}
}

// Area hands out exclusively owned temporary files.
type Area struct {
	driver driver.Driver
	layout layout.Layout
}

// Stage acquires a new staged artifact. The caller owns it and must Release it.
func (a *Area) Stage(ctx context.Context) (*Staged, error) {
	id := uuid.New().String()
	startedAt := time.Now().UTC()

	if err := a.driver.PutContent(ctx, a.layout.StagingStartedAtPath(id), []byte(startedAt.Format(time.RFC3339))); err != nil {
		return nil, fmt.Errorf("staging %s: %w", id, err)
	}

	dataPath := a.layout.StagingDataPath(id)

	fileWriter, err := a.driver.Writer(ctx, dataPath, false)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("staging %s: %w", id, err),
			a.driver.Delete(context.WithoutCancel(ctx), a.layout.StagingRootPath(id)),
		)
	}

	return &Staged{
		area:       a,
		id:         id,
		startedAt:  startedAt,
		path:       dataPath,
		fileWriter: fileWriter,
	}, nil
}

// Do stages an artifact for the duration of fn and releases it on every exit path.
func Do(ctx context.Context, a *Area, fn func(s *Staged) error) (err error) {
	s, err := a.Stage(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if releaseErr := s.Release(ctx); releaseErr != nil {
			err = errors.Join(err, releaseErr)
		}
	}()

	return fn(s)
}

// Staged holds downloaded bytes until released.
type Staged struct {
	area      *Area
	id        string
	startedAt time.Time
	path      string

	fileWriter driver.FileWriter

	mu        sync.Mutex
	finalized bool
	released  bool
	readers   []io.Closer
}

func (s *Staged) ID() string {
	return s.id
}

func (s *Staged) Write(p []byte) (int, error) {
	return s.fileWriter.Write(p)
}

// Size is the count of bytes written so far.
func (s *Staged) Size() int64 {
	return s.fileWriter.Size()
}

// Finalize flushes the written bytes and opens them for reading from offset 0.
// Finalize may be called more than once; each call opens a fresh reader.
func (s *Staged) Finalize(ctx context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrReleased
	}

	if !s.finalized {
		if err := s.fileWriter.Commit(ctx); err != nil {
			return nil, err
		}
		if err := s.fileWriter.Close(); err != nil {
			return nil, err
		}
		s.finalized = true
	}

	r, err := s.area.driver.Reader(ctx, s.path)
	if err != nil {
		return nil, err
	}

	s.readers = append(s.readers, r)

	return r, nil
}

// Release closes open readers and removes all storage of the staged artifact.
// It is safe before Finalize and safe to call more than once.
func (s *Staged) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true

	// cleanup must survive the cancellation which may have caused it.
	ctx = context.WithoutCancel(ctx)

	var errs []error

	for _, r := range s.readers {
		_ = r.Close()
	}
	s.readers = nil

	if !s.finalized {
		if err := s.fileWriter.Cancel(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.area.driver.Delete(ctx, s.area.layout.StagingRootPath(s.id)); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("release staged %s: %w", s.id, errors.Join(errs...))
	}
	return nil
}
