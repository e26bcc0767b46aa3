package importer

import (
	"context"
	"fmt"

	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/repository"
)

type Status string

const (
	StatusCreated        Status = "created"
	StatusAlreadyPresent Status = "already_present"
	StatusFailed         Status = "failed"
	StatusDeleted        Status = "deleted"
	StatusAbsent         Status = "absent"
	StatusPlanned        Status = "planned"
)

// Action a dry run would take.
type Action string

const (
	ActionCreate    Action = "create"
	ActionOverwrite Action = "overwrite"
)

// Outcome is the terminal result of one operation.
type Outcome struct {
	Status   Status             `json:"status"`
	Name     string             `json:"name"`
	ID       repository.ID      `json:"id,omitzero"`
	Checksum *checksum.Checksum `json:"checksum,omitzero"`
	Size     int64              `json:"size,omitzero"`
	Format   string             `json:"format,omitzero"`
	Action   Action             `json:"action,omitzero"`
	Kind     ErrorKind          `json:"kind,omitzero"`
	Error    string             `json:"error,omitzero"`

	err error
}

func created(name string, id repository.ID, sum checksum.Checksum, size int64, format string) Outcome {
	return Outcome{
		Status:   StatusCreated,
		Name:     name,
		ID:       id,
		Checksum: &sum,
		Size:     size,
		Format:   format,
	}
}

func alreadyPresent(r *repository.Record) Outcome {
	return Outcome{
		Status:   StatusAlreadyPresent,
		Name:     r.Name,
		ID:       r.ID,
		Checksum: r.Checksum,
		Size:     r.Size,
		Format:   r.Format,
	}
}

func failed(name string, kind ErrorKind, err error) Outcome {
	return Outcome{
		Status: StatusFailed,
		Name:   name,
		Kind:   kind,
		Error:  err.Error(),
		err:    err,
	}
}

// Rejected is the outcome of a request which could not be constructed.
func Rejected(name string, err error) Outcome {
	return failed(name, classify(context.Background(), err, KindInvalidRequest), err)
}

func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// Changed reports whether the repository was modified.
func (o Outcome) Changed() bool {
	return o.Status == StatusCreated || o.Status == StatusDeleted
}

// Err returns *ImportError for failed outcomes, otherwise nil.
func (o Outcome) Err() error {
	if !o.Failed() {
		return nil
	}
	return &ImportError{Kind: o.Kind, Name: o.Name, Err: o.err}
}

func (o Outcome) String() string {
	if o.Failed() {
		return fmt.Sprintf("%s %s: %s", o.Status, o.Name, o.Kind)
	}
	if o.ID != "" {
		return fmt.Sprintf("%s %s (%s)", o.Status, o.Name, o.ID)
	}
	return fmt.Sprintf("%s %s", o.Status, o.Name)
}

type ImportError struct {
	Kind ErrorKind
	Name string
	Err  error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Name, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
