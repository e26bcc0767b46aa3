package fetch

import (
	"fmt"

	"github.com/octohelm/courier/pkg/statuserror"
)

// ErrTransport covers failures below HTTP semantics: DNS, refused connections, TLS,
// local file access and connections reset mid-body.
type ErrTransport struct {
	statuserror.BadGateway

	URI string
	Err error
}

func (ErrTransport) ErrCode() string {
	return "FETCH_TRANSPORT"
}

func (err *ErrTransport) Error() string {
	return fmt.Sprintf("fetch %s: %s", err.URI, err.Err)
}

func (err *ErrTransport) Unwrap() error {
	return err.Err
}

type ErrHTTPStatus struct {
	statuserror.BadGateway

	URI    string
	Code   int
	Status string
}

func (ErrHTTPStatus) ErrCode() string {
	return "FETCH_HTTP_STATUS"
}

func (err *ErrHTTPStatus) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %s", err.URI, err.Status)
}

type ErrTruncatedStream struct {
	statuserror.BadGateway

	URI      string
	Expected int64
	Received int64
}

func (ErrTruncatedStream) ErrCode() string {
	return "FETCH_TRUNCATED"
}

func (err *ErrTruncatedStream) Error() string {
	return fmt.Sprintf("fetch %s: stream closed after %d of %d bytes", err.URI, err.Received, err.Expected)
}

type ErrUnsupportedScheme struct {
	statuserror.BadRequest

	URI    string
	Scheme string
}

func (ErrUnsupportedScheme) ErrCode() string {
	return "FETCH_UNSUPPORTED_SCHEME"
}

func (err *ErrUnsupportedScheme) Error() string {
	return fmt.Sprintf("unsupported scheme %q of %s", err.Scheme, err.URI)
}

type ErrUnsupportedCompression struct {
	statuserror.BadRequest

	Compression string
}

func (ErrUnsupportedCompression) ErrCode() string {
	return "UNSUPPORTED_COMPRESSION"
}

func (err *ErrUnsupportedCompression) Error() string {
	return fmt.Sprintf("unsupported compression %q, supported: %v", err.Compression, Compressions())
}

type ErrDecompress struct {
	statuserror.BadRequest

	Compression Compression
	Err         error
}

func (ErrDecompress) ErrCode() string {
	return "DECOMPRESS_FAILED"
}

func (err *ErrDecompress) Error() string {
	return fmt.Sprintf("decompress %s: %s", err.Compression, err.Err)
}

func (err *ErrDecompress) Unwrap() error {
	return err.Err
}
