package checksum

import (
	"fmt"

	"github.com/octohelm/courier/pkg/statuserror"
)

type ErrUnsupportedAlgorithm struct {
	statuserror.BadRequest

	Algorithm string
}

func (ErrUnsupportedAlgorithm) ErrCode() string {
	return "UNSUPPORTED_ALGORITHM"
}

func (err *ErrUnsupportedAlgorithm) Error() string {
	return fmt.Sprintf("unsupported checksum algorithm %q, supported: %v", err.Algorithm, Algorithms())
}

type ErrInvalidChecksum struct {
	statuserror.BadRequest

	Value  string
	Reason string
}

func (ErrInvalidChecksum) ErrCode() string {
	return "CHECKSUM_INVALID"
}

func (err *ErrInvalidChecksum) Error() string {
	return fmt.Sprintf("invalid checksum %q: %s", err.Value, err.Reason)
}

type ErrChecksumMismatch struct {
	statuserror.BadRequest

	Expected Checksum
	Actual   Checksum
}

func (ErrChecksumMismatch) ErrCode() string {
	return "CHECKSUM_MISMATCH"
}

func (err *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("checksum mismatch %s != %s", err.Expected, err.Actual)
}
