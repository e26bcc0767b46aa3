package ociregistry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/stream"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/gzip"
	"github.com/octohelm/x/logr"
	"github.com/opencontainers/go-digest"
	ocispecv1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/repository"
)

const MediaTypeDiskImageLayer = repository.MediaTypeDiskImage + ".tar+gzip"

func New(r Registry, options ...remote.Option) (*Client, error) {
	repo, err := r.Repo()
	if err != nil {
		return nil, err
	}

	return &Client{
		repo:    repo,
		options: append(r.remoteOptions(), options...),
	}, nil
}

// Client stores each record as a single layer OCI image tagged by TagOf(name).
// Record ids are manifest digest references.
//
// Registries overwrite tags, so the name check before push cannot reject
// a concurrent creation from another process.
type Client struct {
	repo    name.Repository
	options []remote.Option
}

var (
	_ repository.Client = (*Client)(nil)
	_ repository.Lister = (*Client)(nil)
)

func (c *Client) remoteOptions(ctx context.Context) []remote.Option {
	return append([]remote.Option{remote.WithContext(ctx)}, c.options...)
}

func (c *Client) FindByName(ctx context.Context, recordName string) (*repository.Record, error) {
	if err := repository.ValidateName(recordName); err != nil {
		return nil, err
	}

	r, err := c.get(ctx, c.repo.Tag(TagOf(recordName)))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if r.Name != recordName {
		return nil, nil
	}

	return r, nil
}

func (c *Client) CreateFromStream(pctx context.Context, recordName string, r io.Reader, opts repository.CreateOptions) (repository.ID, error) {
	ctx, l := logr.FromContext(pctx).Start(pctx, "CreateRecord",
		slog.String("record.name", recordName),
		slog.String("repo.name", c.repo.String()),
	)
	defer l.End()

	if err := repository.ValidateName(recordName); err != nil {
		return "", err
	}

	tag := c.repo.Tag(TagOf(recordName))

	if existing, err := c.get(ctx, tag); err == nil {
		if existing.ID != opts.Replace {
			return "", &repository.ErrNameConflict{Name: recordName, Existing: existing.ID}
		}
	} else if !isNotFound(err) {
		return "", err
	}

	counter := &countingReader{r: r}

	layer := stream.NewLayer(
		io.NopCloser(counter),
		stream.WithCompressionLevel(gzip.BestSpeed),
		stream.WithMediaType(types.MediaType(MediaTypeDiskImageLayer)),
	)

	if err := remote.WriteLayer(c.repo, layer, c.remoteOptions(ctx)...); err != nil {
		return "", err
	}

	uploaded, err := uploadedLayerOf(layer)
	if err != nil {
		return "", err
	}

	size := counter.n.Load()
	contentDigest := digest.Digest(uploaded.diffID.String())

	if opts.Checksum != nil {
		if expected, ok := opts.Checksum.Digest(); ok && expected.Algorithm() == contentDigest.Algorithm() && expected != contentDigest {
			return "", &repository.ErrChecksumMismatch{Name: recordName, Expected: expected.String(), Actual: contentDigest.String()}
		}
	}

	record := &repository.Record{
		Name:           recordName,
		Checksum:       opts.Checksum,
		SourceChecksum: opts.SourceChecksum,
		Size:           size,
		Format:         opts.Format,
		Metadata:       opts.CopyMetadata(),
		CreatedAt:      time.Now().UTC(),
	}

	if record.Checksum == nil {
		sum, err := checksum.FromDigest(contentDigest)
		if err != nil {
			return "", err
		}
		record.Checksum = &sum
	}

	annotations := record.Descriptor(contentDigest).Annotations
	annotations[repository.AnnotationSize] = strconv.FormatInt(size, 10)

	img, err := mutate.AppendLayers(empty.Image, uploaded)
	if err != nil {
		return "", err
	}
	img = mutate.MediaType(img, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, types.MediaType(repository.ConfigMediaType))
	img = mutate.Annotations(img, annotations).(v1.Image)

	if err := remote.Write(tag, img, c.remoteOptions(ctx)...); err != nil {
		return "", err
	}

	dgst, err := img.Digest()
	if err != nil {
		return "", err
	}

	id := repository.ID(c.repo.Digest(dgst.String()).String())

	l.WithValues(
		slog.String("record.id", string(id)),
		slog.Int64("record.size", size),
	).Info("pushed")

	if opts.Replace != "" && opts.Replace != id {
		// the tag moved with the push, only the replaced manifest is left
		if ref, err := name.NewDigest(string(opts.Replace), name.WeakValidation); err == nil && ref.Context().String() == c.repo.String() {
			if err := remote.Delete(ref, c.remoteOptions(ctx)...); err != nil && !isNotFound(err) {
				l.WithValues(slog.String("record.replaced", string(opts.Replace))).Error(err)
			}
		}
	}

	return id, nil
}

func (c *Client) Delete(pctx context.Context, id repository.ID) error {
	ctx, l := logr.FromContext(pctx).Start(pctx, "DeleteRecord", slog.String("record.id", string(id)))
	defer l.End()

	ref, err := name.NewDigest(string(id), name.WeakValidation)
	if err != nil || ref.Context().String() != c.repo.String() {
		return &repository.ErrRecordUnknown{ID: id}
	}

	r, err := c.get(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return &repository.ErrRecordUnknown{ID: id}
		}
		return err
	}

	if err := remote.Delete(ref, c.remoteOptions(ctx)...); err != nil && !isNotFound(err) {
		return err
	}

	// some registries keep the tag after the manifest is deleted by digest
	if err := remote.Delete(c.repo.Tag(TagOf(r.Name)), c.remoteOptions(ctx)...); err != nil && !isNotFound(err) && !isUnsupported(err) {
		return err
	}

	return nil
}

func (c *Client) List(ctx context.Context) iter.Seq2[*repository.Record, error] {
	return func(yield func(*repository.Record, error) bool) {
		tags, err := remote.List(c.repo, c.remoteOptions(ctx)...)
		if err != nil {
			if !isNotFound(err) {
				yield(nil, err)
			}
			return
		}

		for _, tag := range tags {
			r, err := c.get(ctx, c.repo.Tag(tag))
			if err != nil {
				if isNotFound(err) {
					continue
				}
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Open reads back the content of a record.
func (c *Client) Open(ctx context.Context, id repository.ID) (io.ReadCloser, error) {
	ref, err := name.NewDigest(string(id), name.WeakValidation)
	if err != nil {
		return nil, &repository.ErrRecordUnknown{ID: id}
	}

	img, err := remote.Image(ref, c.remoteOptions(ctx)...)
	if err != nil {
		return nil, err
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}
	if len(layers) != 1 {
		return nil, fmt.Errorf("%s is not a disk image", id)
	}

	return layers[0].Uncompressed()
}

func (c *Client) get(ctx context.Context, ref name.Reference) (*repository.Record, error) {
	desc, err := remote.Get(ref, c.remoteOptions(ctx)...)
	if err != nil {
		return nil, err
	}

	img, err := desc.Image()
	if err != nil {
		return nil, err
	}

	m, err := img.Manifest()
	if err != nil {
		return nil, err
	}

	if len(m.Layers) != 1 || m.Layers[0].MediaType != types.MediaType(MediaTypeDiskImageLayer) {
		return nil, fmt.Errorf("%s is not a disk image", ref)
	}

	d := ocispecv1.Descriptor{
		MediaType:   repository.MediaTypeDiskImage,
		Digest:      digest.Digest(desc.Digest.String()),
		Annotations: m.Annotations,
	}

	if size, ok := m.Annotations[repository.AnnotationSize]; ok {
		d.Size, _ = strconv.ParseInt(size, 10, 64)
	}

	r, err := repository.RecordFromDescriptor(d)
	if err != nil {
		return nil, err
	}

	r.ID = repository.ID(c.repo.Digest(desc.Digest.String()).String())

	return r, nil
}

func isNotFound(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound
}

func isUnsupported(err error) bool {
	var terr *transport.Error
	return errors.As(err, &terr) && (terr.StatusCode == http.StatusMethodNotAllowed || terr.StatusCode == http.StatusBadRequest)
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n.Add(int64(n))
	return n, err
}
