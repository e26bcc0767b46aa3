package staging_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/octohelm/unifs/pkg/filesystem/local"
	. "github.com/octohelm/x/testing/v2"

	"github.com/octohelm/imgkit/pkg/staging"
)

func TestArea(t *testing.T) {
	tmp := t.TempDir()
	t.Cleanup(func() {
		_ = os.RemoveAll(tmp)
	})

	area := staging.NewArea(local.NewFS(tmp))

	countEntries := func(ctx context.Context) (int, error) {
		n := 0
		for _, err := range area.Entries(ctx) {
			if err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	}

	t.Run("finalized stream starts at offset 0", func(t *testing.T) {
		ctx := context.Background()

		Then(t, "content is readable inside the scope and gone after",
			ExpectMustValue(
				func() (string, error) {
					var data []byte

					err := staging.Do(ctx, area, func(s *staging.Staged) error {
						if _, err := io.WriteString(s, "12345678"); err != nil {
							return err
						}
						r, err := s.Finalize(ctx)
						if err != nil {
							return err
						}
						data, err = io.ReadAll(r)
						return err
					})

					return string(data), err
				},
				Equal("12345678"),
			),
			ExpectMustValue(
				func() (int, error) {
					return countEntries(ctx)
				},
				Equal(0),
			),
		)
	})

	t.Run("released on error before finalize", func(t *testing.T) {
		ctx := context.Background()

		Then(t, "error is returned and storage is reclaimed",
			ExpectDo(
				func() error {
					return staging.Do(ctx, area, func(s *staging.Staged) error {
						_, _ = io.WriteString(s, "partial")
						return errors.New("transport closed")
					})
				},
				ErrorMatch(regexp.MustCompile("transport closed")),
			),
			ExpectMustValue(
				func() (int, error) {
					return countEntries(ctx)
				},
				Equal(0),
			),
		)
	})

	t.Run("released on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		Then(t, "cancelled context still reclaims storage",
			ExpectDo(
				func() error {
					return staging.Do(ctx, area, func(s *staging.Staged) error {
						_, _ = io.WriteString(s, "partial")
						cancel()
						return ctx.Err()
					})
				},
				ErrorMatch(regexp.MustCompile("context canceled")),
			),
			ExpectMustValue(
				func() (int, error) {
					return countEntries(context.Background())
				},
				Equal(0),
			),
		)
	})

	t.Run("release is idempotent and blocks finalize", func(t *testing.T) {
		ctx := context.Background()

		s := MustValue(t, func() (*staging.Staged, error) {
			return area.Stage(ctx)
		})

		Then(t, "second release is a no-op",
			ExpectDo(func() error {
				return s.Release(ctx)
			}),
			ExpectDo(func() error {
				return s.Release(ctx)
			}),
			ExpectDo(
				func() error {
					_, err := s.Finalize(ctx)
					return err
				},
				ErrorMatch(regexp.MustCompile("already released")),
			),
		)
	})
}

func TestPurge(t *testing.T) {
	ctx := context.Background()

	area := staging.NewArea(local.NewFS(t.TempDir()))

	for range 2 {
		_ = MustValue(t, func() (*staging.Staged, error) {
			return area.Stage(ctx)
		})
	}

	Then(t, "fresh entries survive",
		ExpectMustValue(
			func() (int, error) {
				return area.Purge(ctx, time.Hour)
			},
			Equal(0),
		),
	)

	Then(t, "expired entries are purged",
		ExpectMustValue(
			func() (int, error) {
				return area.Purge(ctx, -time.Hour)
			},
			Equal(2),
		),
	)
}

func TestPurgeWithoutStartTime(t *testing.T) {
	ctx := context.Background()

	tmp := t.TempDir()
	area := staging.NewArea(local.NewFS(tmp))

	// an entry caught before its start time is written
	dir := filepath.Join(tmp, "imgkit", "v1", "staging", "in-progress")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "startedat"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	Then(t, "recent entry is kept",
		ExpectMustValue(
			func() (int, error) {
				return area.Purge(ctx, time.Hour)
			},
			Equal(0),
		),
	)

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatal(err)
	}

	Then(t, "entry left behind long ago is purged",
		ExpectMustValue(
			func() (int, error) {
				return area.Purge(ctx, time.Hour)
			},
			Equal(1),
		),
	)
}
