package repository

import (
	"maps"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispecv1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/octohelm/imgkit/pkg/checksum"
)

const (
	MediaTypeDiskImage = "application/vnd.imgkit.disk.image.v1"
	ConfigMediaType    = "application/vnd.imgkit.disk.image.config.v1+json"

	AnnotationID             = "io.imgkit.id"
	AnnotationChecksum       = "io.imgkit.checksum"
	AnnotationSourceChecksum = "io.imgkit.source-checksum"
	AnnotationFormat         = "io.imgkit.format"
	AnnotationSize           = "io.imgkit.size"
	AnnotationMetadataPrefix = "io.imgkit.metadata."
)

// Descriptor encodes the record as an OCI descriptor of its content.
func (r *Record) Descriptor(dgst digest.Digest) ocispecv1.Descriptor {
	annotations := map[string]string{
		ocispecv1.AnnotationRefName: r.Name,
	}

	if r.ID != "" {
		annotations[AnnotationID] = string(r.ID)
	}

	if !r.CreatedAt.IsZero() {
		annotations[ocispecv1.AnnotationCreated] = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	if r.Checksum != nil {
		annotations[AnnotationChecksum] = r.Checksum.String()
	}
	if r.SourceChecksum != nil {
		annotations[AnnotationSourceChecksum] = r.SourceChecksum.String()
	}
	if r.Format != "" {
		annotations[AnnotationFormat] = r.Format
	}
	for k, v := range r.Metadata {
		annotations[AnnotationMetadataPrefix+k] = v
	}

	return ocispecv1.Descriptor{
		MediaType:   MediaTypeDiskImage,
		Digest:      dgst,
		Size:        r.Size,
		Annotations: annotations,
	}
}

func RecordFromDescriptor(d ocispecv1.Descriptor) (*Record, error) {
	annotations := maps.Clone(d.Annotations)

	r := &Record{
		ID:     ID(annotations[AnnotationID]),
		Name:   annotations[ocispecv1.AnnotationRefName],
		Size:   d.Size,
		Format: annotations[AnnotationFormat],
	}

	if created, ok := annotations[ocispecv1.AnnotationCreated]; ok {
		t, err := time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, err
		}
		r.CreatedAt = t
	}

	for key, c := range map[string]**checksum.Checksum{
		AnnotationChecksum:       &r.Checksum,
		AnnotationSourceChecksum: &r.SourceChecksum,
	} {
		if v, ok := annotations[key]; ok {
			parsed, err := checksum.Parse(v)
			if err != nil {
				return nil, err
			}
			*c = &parsed
		}
	}

	for k, v := range annotations {
		if key, ok := strings.CutPrefix(k, AnnotationMetadataPrefix); ok {
			if r.Metadata == nil {
				r.Metadata = map[string]string{}
			}
			r.Metadata[key] = v
		}
	}

	return r, nil
}
