package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/octohelm/courier/pkg/statuserror"

	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/fetch"
	"github.com/octohelm/imgkit/pkg/repository"
)

type ErrInvalidRequest struct {
	statuserror.BadRequest

	URI    string
	Reason string
}

func (ErrInvalidRequest) ErrCode() string {
	return "IMPORT_REQUEST_INVALID"
}

func (err *ErrInvalidRequest) Error() string {
	return fmt.Sprintf("invalid import of %s: %s", err.URI, err.Reason)
}

// ErrStaging wraps failures of writing or reading back staged bytes.
type ErrStaging struct {
	Err error
}

func (err *ErrStaging) Error() string {
	return fmt.Sprintf("staging: %s", err.Err)
}

func (err *ErrStaging) Unwrap() error {
	return err.Err
}

// classify maps err to its kind, fallback when it is none of the known errors.
// Any error after ctx is done counts as cancellation.
func classify(ctx context.Context, err error, fallback ErrorKind) ErrorKind {
	if ctx.Err() != nil {
		return KindCancelled
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	switch {
	case is[*checksum.ErrUnsupportedAlgorithm](err):
		return KindUnsupportedAlgorithm
	case is[*checksum.ErrChecksumMismatch](err):
		return KindChecksumMismatch
	case is[*fetch.ErrHTTPStatus](err):
		return KindHTTPStatus
	case is[*fetch.ErrTruncatedStream](err):
		return KindTruncatedStream
	case is[*fetch.ErrTransport](err):
		return KindTransport
	case is[*fetch.ErrDecompress](err):
		return KindDecompress
	case is[*ErrStaging](err):
		return KindStaging
	case is[*repository.ErrNameConflict](err):
		return KindConflict
	case is[*ErrInvalidRequest](err),
		is[*checksum.ErrInvalidChecksum](err),
		is[*repository.ErrNameInvalid](err),
		is[*fetch.ErrUnsupportedScheme](err),
		is[*fetch.ErrUnsupportedCompression](err):
		return KindInvalidRequest
	}

	return fallback
}

func is[E error](err error) bool {
	var e E
	return errors.As(err, &e)
}
