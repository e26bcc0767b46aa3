package ociregistry

import (
	"errors"
	"io"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/stream"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

var errLayerUploaded = errors.New("layer content is only available in the registry")

// uploadedLayer describes a consumed stream layer so the image referencing it
// can be pushed without reading the content again.
type uploadedLayer struct {
	digest    v1.Hash
	diffID    v1.Hash
	size      int64
	mediaType types.MediaType
}

func uploadedLayerOf(l *stream.Layer) (*uploadedLayer, error) {
	dgst, err := l.Digest()
	if err != nil {
		return nil, err
	}
	diffID, err := l.DiffID()
	if err != nil {
		return nil, err
	}
	size, err := l.Size()
	if err != nil {
		return nil, err
	}
	mediaType, err := l.MediaType()
	if err != nil {
		return nil, err
	}

	return &uploadedLayer{
		digest:    dgst,
		diffID:    diffID,
		size:      size,
		mediaType: mediaType,
	}, nil
}

var _ v1.Layer = (*uploadedLayer)(nil)

func (l *uploadedLayer) Digest() (v1.Hash, error) {
	return l.digest, nil
}

func (l *uploadedLayer) DiffID() (v1.Hash, error) {
	return l.diffID, nil
}

func (l *uploadedLayer) Compressed() (io.ReadCloser, error) {
	return nil, errLayerUploaded
}

func (l *uploadedLayer) Uncompressed() (io.ReadCloser, error) {
	return nil, errLayerUploaded
}

func (l *uploadedLayer) Size() (int64, error) {
	return l.size, nil
}

func (l *uploadedLayer) MediaType() (types.MediaType, error) {
	return l.mediaType, nil
}
