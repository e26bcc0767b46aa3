package staging

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"time"

	"github.com/octohelm/x/logr"
)

// Entry is a staged artifact found on disk, possibly left behind by a crashed process.
type Entry struct {
	ID        string
	StartedAt time.Time
}

func (a *Area) Entries(ctx context.Context) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		exists, err := a.driver.Exists(ctx, a.layout.StagingPath())
		if err != nil {
			yield(nil, err)
			return
		}
		if !exists {
			return
		}

		err = a.driver.WalkDir(ctx, a.layout.StagingPath(), func(pathname string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if pathname == "." {
				return nil
			}

			if d.IsDir() {
				e := &Entry{ID: d.Name(), StartedAt: a.startedAt(ctx, d.Name())}

				if !yield(e, nil) {
					return fs.SkipAll
				}

				return fs.SkipDir
			}

			return nil
		})
		if err != nil && !errors.Is(err, fs.SkipDir) {
			yield(nil, err)
		}
	}
}

// startedAt falls back to the modification time of the entry
// while its start time is not written yet or was never written.
func (a *Area) startedAt(ctx context.Context, id string) time.Time {
	if data, err := a.driver.GetContent(ctx, a.layout.StagingStartedAtPath(id)); err == nil && len(data) > 0 {
		if t, err := time.Parse(time.RFC3339, string(data)); err == nil {
			return t
		}
	}
	if info, err := a.driver.Stat(ctx, a.layout.StagingRootPath(id)); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// Purge removes staged artifacts started before now-expiresIn.
// Entries with no known start time are left alone.
func (a *Area) Purge(pctx context.Context, expiresIn time.Duration) (int, error) {
	ctx, l := logr.FromContext(pctx).Start(pctx, "PurgeStaging")
	defer l.End()

	expiredAt := time.Now().Add(-expiresIn)

	expired := make([]string, 0)

	for e, err := range a.Entries(ctx) {
		if err != nil {
			return 0, err
		}
		if !e.StartedAt.IsZero() && e.StartedAt.Before(expiredAt) {
			expired = append(expired, e.ID)
		}
	}

	for _, id := range expired {
		if err := a.driver.Delete(ctx, a.layout.StagingRootPath(id)); err != nil {
			return 0, err
		}
		l.WithValues(slog.String("staging.id", id)).Info("purged")
	}

	return len(expired), nil
}
