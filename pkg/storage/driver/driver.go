package driver

import (
	"context"
	"io"
	"io/fs"

	"github.com/octohelm/unifs/pkg/filesystem"
)

// Driver is the path-oriented view of a unifs filesystem shared by
// the staging area and the filesystem repository.
type Driver interface {
	WalkDir(ctx context.Context, path string, fn fs.WalkDirFunc) error
	Stat(ctx context.Context, path string) (filesystem.FileInfo, error)
	Exists(ctx context.Context, path string) (bool, error)

	Reader(ctx context.Context, path string) (io.ReadCloser, error)
	Writer(ctx context.Context, path string, append bool) (FileWriter, error)

	Delete(ctx context.Context, path string) error

	Move(ctx context.Context, oldPath string, newPath string) error

	GetContent(ctx context.Context, path string) ([]byte, error)
	PutContent(ctx context.Context, path string, data []byte) error
}

// FileWriter buffers writes until Commit.
// Cancel closes and removes the file; it is the only cleanup needed
// for a writer that is never committed.
type FileWriter interface {
	io.WriteCloser
	Size() int64
	Cancel(context.Context) error
	Commit(context.Context) error
}
