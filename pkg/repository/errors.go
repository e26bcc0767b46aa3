package repository

import (
	"fmt"

	"github.com/octohelm/courier/pkg/statuserror"
)

type ErrNameConflict struct {
	statuserror.Conflict

	Name     string
	Existing ID
}

func (ErrNameConflict) ErrCode() string {
	return "NAME_CONFLICT"
}

func (err *ErrNameConflict) Error() string {
	if err.Existing != "" {
		return fmt.Sprintf("name %q is taken by %s", err.Name, err.Existing)
	}
	return fmt.Sprintf("name %q is taken", err.Name)
}

type ErrRecordUnknown struct {
	statuserror.NotFound

	ID ID
}

func (ErrRecordUnknown) ErrCode() string {
	return "RECORD_UNKNOWN"
}

func (err *ErrRecordUnknown) Error() string {
	return fmt.Sprintf("unknown record id=%s", err.ID)
}

type ErrNameInvalid struct {
	statuserror.BadRequest

	Name   string
	Reason string
}

func (ErrNameInvalid) ErrCode() string {
	return "NAME_INVALID"
}

func (err *ErrNameInvalid) Error() string {
	return fmt.Sprintf("invalid name %q: %s", err.Name, err.Reason)
}

type ErrChecksumMismatch struct {
	statuserror.BadRequest

	Name     string
	Expected string
	Actual   string
}

func (ErrChecksumMismatch) ErrCode() string {
	return "CONTENT_CHECKSUM_MISMATCH"
}

func (err *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("content of %q does not match, %s != %s", err.Name, err.Expected, err.Actual)
}
