package fs_test

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/octohelm/unifs/pkg/filesystem"
	"github.com/octohelm/unifs/pkg/filesystem/local"
	. "github.com/octohelm/x/testing/v2"

	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/repository"
	repositoryfs "github.com/octohelm/imgkit/pkg/repository/fs"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	s := repositoryfs.NewStore(local.NewFS(t.TempDir()))

	content := strings.Repeat("raw-disk", 512)
	sum := checksum.SHA256.FromString(content)

	id := MustValue(t, func() (repository.ID, error) {
		return s.CreateFromStream(ctx, "cirros.img", strings.NewReader(content), repository.CreateOptions{
			Checksum: &sum,
			Format:   "img",
			Metadata: map[string]string{"os": "cirros"},
		})
	})

	t.Run("find by name", func(t *testing.T) {
		r := MustValue(t, func() (*repository.Record, error) {
			return s.FindByName(ctx, "cirros.img")
		})

		Then(t, "record carries what was created",
			Expect(r.ID, Equal(id)),
			Expect(r.Name, Equal("cirros.img")),
			Expect(r.Size, Equal(int64(len(content)))),
			Expect(r.Format, Equal("img")),
			Expect(r.Metadata["os"], Equal("cirros")),
			Expect(r.Matches(sum), Equal(true)),
		)
	})

	t.Run("content reads back", func(t *testing.T) {
		data := MustValue(t, func() ([]byte, error) {
			rc, err := s.Open(ctx, id)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		})

		Then(t, "same bytes",
			Expect(string(data), Equal(content)),
		)
	})

	t.Run("missing name is nil", func(t *testing.T) {
		Then(t, "no record no error",
			ExpectMustValue(
				func() (bool, error) {
					r, err := s.FindByName(ctx, "missing.img")
					return r == nil, err
				},
				Equal(true),
			),
		)
	})

	t.Run("second create under the same name is rejected", func(t *testing.T) {
		Then(t, "conflict",
			ExpectDo(
				func() error {
					_, err := s.CreateFromStream(ctx, "cirros.img", strings.NewReader("other"), repository.CreateOptions{})
					return err
				},
				ErrorMatch(regexp.MustCompile("is taken")),
			),
			ExpectMustValue(
				func() (repository.ID, error) {
					r, err := s.FindByName(ctx, "cirros.img")
					if err != nil {
						return "", err
					}
					return r.ID, nil
				},
				Equal(id),
			),
		)
	})

	t.Run("sha256 checksum is validated by the store", func(t *testing.T) {
		wrong := checksum.SHA256.FromString("something else")

		Then(t, "mismatch leaves no record",
			ExpectDo(
				func() error {
					_, err := s.CreateFromStream(ctx, "broken.img", strings.NewReader(content), repository.CreateOptions{Checksum: &wrong})
					return err
				},
				ErrorMatch(regexp.MustCompile("does not match")),
			),
			ExpectMustValue(
				func() (bool, error) {
					r, err := s.FindByName(ctx, "broken.img")
					return r == nil, err
				},
				Equal(true),
			),
		)
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", "..", "a/b", "a\\b"} {
			Then(t, "rejected "+name,
				ExpectDo(
					func() error {
						_, err := s.FindByName(ctx, name)
						return err
					},
					ErrorMatch(regexp.MustCompile("invalid name")),
				),
			)
		}
	})
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()

	s := repositoryfs.NewStore(local.NewFS(t.TempDir()))

	a := MustValue(t, func() (repository.ID, error) {
		return s.CreateFromStream(ctx, "a.raw", strings.NewReader("same"), repository.CreateOptions{})
	})
	b := MustValue(t, func() (repository.ID, error) {
		return s.CreateFromStream(ctx, "b.raw", strings.NewReader("same"), repository.CreateOptions{})
	})

	Then(t, "deleting one record keeps shared content",
		ExpectDo(func() error {
			return s.Delete(ctx, a)
		}),
		ExpectMustValue(
			func() (string, error) {
				rc, err := s.Open(ctx, b)
				if err != nil {
					return "", err
				}
				defer rc.Close()
				data, err := io.ReadAll(rc)
				return string(data), err
			},
			Equal("same"),
		),
	)

	Then(t, "deleted record is unknown",
		ExpectMustValue(
			func() (bool, error) {
				err := s.Delete(ctx, a)
				var unknown *repository.ErrRecordUnknown
				return errors.As(err, &unknown), nil
			},
			Equal(true),
		),
		ExpectMustValue(
			func() (bool, error) {
				r, err := s.FindByName(ctx, "a.raw")
				return r == nil, err
			},
			Equal(true),
		),
	)

	Then(t, "listing shows the remaining record",
		ExpectMustValue(
			func() ([]string, error) {
				names := make([]string, 0)
				for r, err := range s.List(ctx) {
					if err != nil {
						return nil, err
					}
					names = append(names, r.Name)
				}
				return names, nil
			},
			Equal([]string{"b.raw"}),
		),
	)
}

func TestStoreConcurrentCreate(t *testing.T) {
	ctx := context.Background()

	s := repositoryfs.NewStore(local.NewFS(t.TempDir()))

	n := 8
	errs := make([]error, n)

	wg := &sync.WaitGroup{}
	for i := range n {
		wg.Go(func() {
			_, errs[i] = s.CreateFromStream(ctx, "race.raw", strings.NewReader(strings.Repeat("x", i+1)), repository.CreateOptions{})
		})
	}
	wg.Wait()

	succeeded := 0
	conflicts := 0
	for _, err := range errs {
		var conflict *repository.ErrNameConflict
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &conflict):
			conflicts++
		}
	}

	Then(t, "exactly one creation wins",
		Expect(succeeded, Equal(1)),
		Expect(conflicts, Equal(n-1)),
	)
}

func TestStoreReplace(t *testing.T) {
	ctx := context.Background()

	s := repositoryfs.NewStore(local.NewFS(t.TempDir()))

	old := MustValue(t, func() (repository.ID, error) {
		return s.CreateFromStream(ctx, "debian.raw", strings.NewReader("v1"), repository.CreateOptions{})
	})

	read := func(id repository.ID) (string, error) {
		rc, err := s.Open(ctx, id)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		return string(data), err
	}

	linked := func() (repository.ID, error) {
		r, err := s.FindByName(ctx, "debian.raw")
		if err != nil || r == nil {
			return "", err
		}
		return r.ID, nil
	}

	t.Run("replacing another record is a conflict", func(t *testing.T) {
		Then(t, "old record stays",
			ExpectMustValue(
				func() (bool, error) {
					_, err := s.CreateFromStream(ctx, "debian.raw", strings.NewReader("v2"), repository.CreateOptions{Replace: "other"})
					var conflict *repository.ErrNameConflict
					return errors.As(err, &conflict), nil
				},
				Equal(true),
			),
			ExpectMustValue(linked, Equal(old)),
		)
	})

	t.Run("failed replacement keeps the old record", func(t *testing.T) {
		wrong := checksum.SHA256.FromString("v3")

		Then(t, "old record still linked and readable",
			ExpectDo(
				func() error {
					_, err := s.CreateFromStream(ctx, "debian.raw", strings.NewReader("v2"), repository.CreateOptions{Checksum: &wrong, Replace: old})
					return err
				},
				ErrorMatch(regexp.MustCompile("does not match")),
			),
			ExpectMustValue(linked, Equal(old)),
			ExpectMustValue(func() (string, error) { return read(old) }, Equal("v1")),
		)
	})

	t.Run("replacement swaps the link and removes the old record", func(t *testing.T) {
		replaced := MustValue(t, func() (repository.ID, error) {
			return s.CreateFromStream(ctx, "debian.raw", strings.NewReader("v2"), repository.CreateOptions{Replace: old})
		})

		Then(t, "only the new record remains",
			ExpectMustValue(linked, Equal(replaced)),
			ExpectMustValue(func() (string, error) { return read(replaced) }, Equal("v2")),
			ExpectMustValue(
				func() (bool, error) {
					err := s.Delete(ctx, old)
					var unknown *repository.ErrRecordUnknown
					return errors.As(err, &unknown), nil
				},
				Equal(true),
			),
		)
	})
}

// holdingUploads blocks the first removal of an upload once armed.
type holdingUploads struct {
	filesystem.FileSystem

	armed   atomic.Bool
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (h *holdingUploads) RemoveAll(ctx context.Context, name string) error {
	if h.armed.Load() && strings.Contains(name, "uploads/") {
		h.once.Do(func() {
			close(h.held)
			<-h.release
		})
	}
	return h.FileSystem.RemoveAll(ctx, name)
}

func TestStoreDeleteDuringCommit(t *testing.T) {
	ctx := context.Background()

	fsys := &holdingUploads{
		FileSystem: local.NewFS(t.TempDir()),
		held:       make(chan struct{}),
		release:    make(chan struct{}),
	}

	s := repositoryfs.NewStore(fsys)

	a := MustValue(t, func() (repository.ID, error) {
		return s.CreateFromStream(ctx, "a.raw", strings.NewReader("same"), repository.CreateOptions{})
	})

	fsys.armed.Store(true)

	var (
		b    repository.ID
		bErr error
	)

	wg := &sync.WaitGroup{}
	wg.Go(func() {
		b, bErr = s.CreateFromStream(ctx, "b.raw", strings.NewReader("same"), repository.CreateOptions{})
	})

	// b reuses the blob of a and is held right after committing it
	<-fsys.held

	deleted := make(chan error, 1)
	go func() {
		deleted <- s.Delete(ctx, a)
	}()

	deletedWhileHeld := false
	var deleteErr error

	select {
	case deleteErr = <-deleted:
		deletedWhileHeld = true
	case <-time.After(100 * time.Millisecond):
	}

	close(fsys.release)
	wg.Wait()

	if !deletedWhileHeld {
		deleteErr = <-deleted
	}

	Then(t, "shared content survives the delete",
		Expect(deletedWhileHeld, Equal(false)),
		Expect(bErr == nil, Equal(true)),
		Expect(deleteErr == nil, Equal(true)),
		ExpectMustValue(
			func() (string, error) {
				rc, err := s.Open(ctx, b)
				if err != nil {
					return "", err
				}
				defer rc.Close()
				data, err := io.ReadAll(rc)
				return string(data), err
			},
			Equal("same"),
		),
	)
}
