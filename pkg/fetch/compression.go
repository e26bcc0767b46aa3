package fetch

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compression of a transferred artifact.
type Compression string

const (
	CompressionNone Compression = "none"
	// CompressionAuto resolves by the extension of the artifact name.
	CompressionAuto Compression = "auto"
	CompressionGzip Compression = "gz"
	CompressionXz   Compression = "xz"
	CompressionZstd Compression = "zst"
	CompressionLz4  Compression = "lz4"
)

func Compressions() []Compression {
	return []Compression{
		CompressionNone,
		CompressionAuto,
		CompressionGzip,
		CompressionXz,
		CompressionZstd,
		CompressionLz4,
	}
}

func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")); c {
	case "":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	case CompressionNone, CompressionAuto, CompressionGzip, CompressionXz, CompressionZstd, CompressionLz4:
		return c, nil
	}
	return "", &ErrUnsupportedCompression{Compression: s}
}

// CompressionFromName picks the compression by file extension.
func CompressionFromName(name string) Compression {
	for _, c := range []Compression{CompressionGzip, CompressionXz, CompressionZstd, CompressionLz4} {
		if strings.HasSuffix(strings.ToLower(name), c.Extension()) {
			return c
		}
	}
	return CompressionNone
}

func (c Compression) Extension() string {
	switch c {
	case CompressionGzip, CompressionXz, CompressionZstd, CompressionLz4:
		return "." + string(c)
	}
	return ""
}

// Resolve turns CompressionAuto into a concrete compression for name.
func (c Compression) Resolve(name string) Compression {
	switch c {
	case "":
		return CompressionNone
	case CompressionAuto:
		return CompressionFromName(name)
	}
	return c
}

// TrimExtension drops the compression suffix from name.
func (c Compression) TrimExtension(name string) string {
	ext := c.Extension()
	if ext != "" && len(name) > len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext) {
		return name[:len(name)-len(ext)]
	}
	return name
}

func (c Compression) String() string {
	return string(c)
}

func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c), nil
}

func (c *Compression) UnmarshalText(text []byte) error {
	parsed, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Decompress wraps r. Reads report *ErrDecompress for malformed input;
// errors of r itself pass through unchanged.
func Decompress(r io.Reader, c Compression) (io.ReadCloser, error) {
	if c == CompressionNone || c == "" {
		return io.NopCloser(r), nil
	}

	src := &sourceReader{r: r}
	r = src

	var (
		rc  io.ReadCloser
		err error
	)

	switch c {
	case CompressionGzip:
		var gr *gzip.Reader
		gr, err = gzip.NewReader(r)
		rc = gr
	case CompressionZstd:
		var zr *zstd.Decoder
		// decode in the calling goroutine so the source is read in order
		zr, err = zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err == nil {
			rc = zr.IOReadCloser()
		}
	case CompressionXz:
		var xr *xz.Reader
		xr, err = xz.NewReader(r)
		rc = io.NopCloser(xr)
	case CompressionLz4:
		rc = io.NopCloser(lz4.NewReader(r))
	default:
		return nil, &ErrUnsupportedCompression{Compression: string(c)}
	}

	if err != nil {
		if src.err != nil {
			return nil, src.err
		}
		return nil, &ErrDecompress{Compression: c, Err: err}
	}

	return &decompressReader{c: c, src: src, rc: rc}, nil
}

type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

type decompressReader struct {
	c   Compression
	src *sourceReader
	rc  io.ReadCloser
}

func (d *decompressReader) Read(p []byte) (int, error) {
	n, err := d.rc.Read(p)
	if err != nil && err != io.EOF {
		if d.src.err != nil {
			return n, d.src.err
		}
		return n, &ErrDecompress{Compression: d.c, Err: err}
	}
	return n, err
}

func (d *decompressReader) Close() error {
	return d.rc.Close()
}
