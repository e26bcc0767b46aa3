package importer

import (
	"maps"
	"path"

	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/fetch"
	"github.com/octohelm/imgkit/pkg/repository"
)

// Request of importing one artifact. Immutable once constructed.
type Request struct {
	sourceURI        string
	expectedChecksum *checksum.Checksum
	name             string
	format           string
	metadata         map[string]string
	decompress       fetch.Compression
}

type RequestOption func(r *Request) error

// WithChecksum parses algorithm:hexdigest.
// An empty value means no checksum is expected.
func WithChecksum(s string) RequestOption {
	return func(r *Request) error {
		if s == "" {
			return nil
		}
		c, err := checksum.Parse(s)
		if err != nil {
			return err
		}
		r.expectedChecksum = &c
		return nil
	}
}

func WithExpectedChecksum(c checksum.Checksum) RequestOption {
	return func(r *Request) error {
		if _, err := checksum.ParseAlgorithm(string(c.Algorithm)); err != nil {
			return err
		}
		if _, err := c.Algorithm.FromHex(c.Hex); err != nil {
			return err
		}
		r.expectedChecksum = &c
		return nil
	}
}

// WithName overrides the name derived from the source uri.
func WithName(name string) RequestOption {
	return func(r *Request) error {
		r.name = name
		return nil
	}
}

// WithFormat overrides the disk format derived from the name.
func WithFormat(format string) RequestOption {
	return func(r *Request) error {
		r.format = format
		return nil
	}
}

func WithMetadata(metadata map[string]string) RequestOption {
	return func(r *Request) error {
		if len(metadata) > 0 {
			if r.metadata == nil {
				r.metadata = map[string]string{}
			}
			maps.Copy(r.metadata, metadata)
		}
		return nil
	}
}

// WithDecompress stores the artifact decompressed. The checksum still covers the transferred bytes.
func WithDecompress(c fetch.Compression) RequestOption {
	return func(r *Request) error {
		r.decompress = c
		return nil
	}
}

func NewRequest(uri string, options ...RequestOption) (*Request, error) {
	if _, err := fetch.ParseSource(uri); err != nil {
		return nil, err
	}

	r := &Request{sourceURI: uri}

	for _, opt := range options {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	derived := fetch.DeriveName(uri)

	c, err := fetch.ParseCompression(string(r.decompress))
	if err != nil {
		return nil, err
	}
	r.decompress = c.Resolve(derived)

	if r.name == "" {
		r.name = r.decompress.TrimExtension(derived)
	}

	if r.name == "" {
		return nil, &ErrInvalidRequest{URI: uri, Reason: "no name given and name could not be derived from uri"}
	}

	if err := repository.ValidateName(r.name); err != nil {
		return nil, err
	}

	if r.format == "" {
		if ext := path.Ext(fetch.CompressionFromName(r.name).TrimExtension(r.name)); len(ext) > 1 {
			r.format = ext[1:]
		}
	}

	if r.format == "" {
		return nil, &ErrInvalidRequest{URI: uri, Reason: "no format given and format could not be derived from name"}
	}

	return r, nil
}

func (r *Request) SourceURI() string {
	return r.sourceURI
}

// Name is the name the artifact is published under.
func (r *Request) Name() string {
	return r.name
}

func (r *Request) Format() string {
	return r.format
}

func (r *Request) ExpectedChecksum() (checksum.Checksum, bool) {
	if r.expectedChecksum == nil {
		return checksum.Checksum{}, false
	}
	return *r.expectedChecksum, true
}

func (r *Request) Metadata() map[string]string {
	return maps.Clone(r.metadata)
}

func (r *Request) Decompress() fetch.Compression {
	return r.decompress
}
