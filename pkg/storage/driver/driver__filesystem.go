package driver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/octohelm/unifs/pkg/filesystem"
)

var (
	ErrClosed    = errors.New("file writer already closed")
	ErrCommitted = errors.New("file writer already committed")
	ErrCancelled = errors.New("file writer already cancelled")
)

func FromFileSystem(fsys filesystem.FileSystem) Driver {
	return &driver{fs: fsys}
}

type driver struct {
	fs filesystem.FileSystem
}

func (d *driver) Stat(ctx context.Context, path string) (filesystem.FileInfo, error) {
	return d.fs.Stat(ctx, path)
}

func (d *driver) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := d.fs.Stat(ctx, path); err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *driver) Delete(ctx context.Context, path string) error {
	return d.fs.RemoveAll(ctx, path)
}

func (d *driver) Reader(ctx context.Context, path string) (io.ReadCloser, error) {
	return filesystem.Open(ctx, d.fs, path)
}

func (d *driver) WalkDir(ctx context.Context, path string, fn fs.WalkDirFunc) error {
	return filesystem.WalkDir(ctx, filesystem.Sub(d.fs, path), ".", fn)
}

func (d *driver) Move(ctx context.Context, oldPath string, newPath string) error {
	if err := filesystem.MkdirAll(ctx, d.fs, path.Dir(newPath)); err != nil {
		return err
	}
	return d.fs.Rename(ctx, oldPath, newPath)
}

func (d *driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	f, err := d.Reader(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}

func (d *driver) PutContent(ctx context.Context, path string, contents []byte) error {
	writer, err := d.Writer(ctx, path, false)
	if err != nil {
		return err
	}
	if _, err := io.Copy(writer, bytes.NewReader(contents)); err != nil {
		if cErr := writer.Cancel(ctx); cErr != nil {
			return errors.Join(err, cErr)
		}
		return err
	}
	if err := writer.Commit(ctx); err != nil {
		return errors.Join(err, writer.Cancel(ctx))
	}
	return writer.Close()
}

func (d *driver) Writer(ctx context.Context, pathname string, append bool) (FileWriter, error) {
	if dir := path.Dir(pathname); dir != "" {
		if err := filesystem.MkdirAll(ctx, d.fs, dir); err != nil {
			return nil, err
		}
	}

	flag := os.O_WRONLY | os.O_CREATE

	if append {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}

	file, err := d.fs.OpenFile(ctx, pathname, flag, 0o600)
	if err != nil {
		return nil, err
	}

	offset := int64(0)

	if append {
		n, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			_ = file.Close()
			return nil, err
		}
		offset = n
	}

	return &fileWriter{
		driver:  d,
		path:    pathname,
		file:    file,
		written: offset,
		bw:      bufio.NewWriter(file),
	}, nil
}

type fileWriter struct {
	driver  *driver
	path    string
	written int64

	file filesystem.File
	bw   *bufio.Writer

	closed    bool
	committed bool
	cancelled bool
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	switch {
	case fw.closed:
		return 0, ErrClosed
	case fw.committed:
		return 0, ErrCommitted
	case fw.cancelled:
		return 0, ErrCancelled
	}

	n, err := fw.bw.Write(p)
	fw.written += int64(n)
	return n, err
}

func (fw *fileWriter) Size() int64 {
	return fw.written
}

func (fw *fileWriter) Close() error {
	if fw.closed {
		return ErrClosed
	}

	if !fw.cancelled {
		if err := fw.bw.Flush(); err != nil {
			return err
		}
	}

	fw.closed = true

	return fw.file.Close()
}

func (fw *fileWriter) Cancel(ctx context.Context) error {
	if fw.cancelled {
		return nil
	}
	fw.cancelled = true

	if !fw.closed {
		fw.closed = true
		_ = fw.file.Close()
	}

	return fw.driver.Delete(ctx, fw.path)
}

func (fw *fileWriter) Commit(ctx context.Context) error {
	switch {
	case fw.closed:
		return ErrClosed
	case fw.committed:
		return ErrCommitted
	case fw.cancelled:
		return ErrCancelled
	}

	if err := fw.bw.Flush(); err != nil {
		return err
	}

	fw.committed = true

	return nil
}
