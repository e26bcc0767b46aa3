package fs

import (
	"context"
	"path"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/octohelm/imgkit/pkg/storage/driver"
	"github.com/octohelm/imgkit/pkg/storage/layout"
)

// blobWriter uploads content and moves it to its content address on commit.
type blobWriter struct {
	driver driver.Driver
	layout layout.Layout

	digester   digest.Digester
	fileWriter driver.FileWriter
	path       string

	closeOnce sync.Once
	err       error
}

func (bw *blobWriter) Write(p []byte) (n int, err error) {
	n, err = bw.fileWriter.Write(p)
	bw.digester.Hash().Write(p[:n])
	return n, err
}

func (bw *blobWriter) Digest() digest.Digest {
	return bw.digester.Digest()
}

func (bw *blobWriter) Size() int64 {
	return bw.fileWriter.Size()
}

func (bw *blobWriter) Cancel(ctx context.Context) error {
	if err := bw.fileWriter.Cancel(ctx); err != nil {
		return err
	}
	return bw.cleanUpload(ctx)
}

func (bw *blobWriter) Close() error {
	bw.closeOnce.Do(func() {
		bw.err = bw.fileWriter.Close()
	})
	return bw.err
}

func (bw *blobWriter) Commit(ctx context.Context) (digest.Digest, error) {
	if err := bw.fileWriter.Commit(ctx); err != nil {
		return "", err
	}

	if err := bw.Close(); err != nil {
		return "", err
	}

	defer func() {
		// remove full uploaded
		_ = bw.cleanUpload(ctx)
	}()

	dgst := bw.Digest()

	if err := bw.moveBlob(ctx, dgst); err != nil {
		return "", err
	}

	return dgst, nil
}

func (bw *blobWriter) cleanUpload(ctx context.Context) error {
	return bw.driver.Delete(ctx, path.Dir(bw.path))
}

func (bw *blobWriter) moveBlob(ctx context.Context, dgst digest.Digest) error {
	blobDataPath := bw.layout.BlobDataPath(dgst)

	// skip moving when digest exists
	if _, err := bw.driver.Stat(ctx, blobDataPath); err == nil {
		return nil
	}

	return bw.driver.Move(ctx, bw.path, blobDataPath)
}
