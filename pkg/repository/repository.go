package repository

import (
	"context"
	"io"
	"iter"
	"maps"
	"time"

	"github.com/octohelm/imgkit/pkg/checksum"
)

// ID is assigned by the repository and opaque to callers.
type ID string

func (id ID) String() string {
	return string(id)
}

// Record is the repository view of a stored artifact.
type Record struct {
	ID       ID                 `json:"id"`
	Name     string             `json:"name"`
	Checksum *checksum.Checksum `json:"checksum,omitzero"`
	// SourceChecksum of the artifact as transferred, when it was decompressed before storing
	SourceChecksum *checksum.Checksum `json:"sourceChecksum,omitzero"`
	Size           int64              `json:"size"`
	Format         string             `json:"format,omitzero"`
	Metadata       map[string]string  `json:"metadata,omitzero"`
	CreatedAt      time.Time          `json:"createdAt,omitzero"`
}

// Matches reports whether the record was stored from an artifact with checksum c.
func (r *Record) Matches(c checksum.Checksum) bool {
	if r == nil {
		return false
	}
	if r.SourceChecksum != nil {
		return r.SourceChecksum.Equal(c)
	}
	return r.Checksum != nil && r.Checksum.Equal(c)
}

type CreateOptions struct {
	// Checksum of the stream as verified by the caller
	Checksum *checksum.Checksum
	// SourceChecksum of the transferred artifact the stream was decompressed from
	SourceChecksum *checksum.Checksum
	Format         string
	Metadata       map[string]string
	// Replace is the record currently under the name.
	// It stays in place until the new record is stored, then it is removed.
	Replace ID
}

// CopyMetadata returns a copy, nil when empty.
func (o CreateOptions) CopyMetadata() map[string]string {
	if len(o.Metadata) == 0 {
		return nil
	}
	return maps.Clone(o.Metadata)
}

// Client is the repository an artifact is published into.
//
// CreateFromStream must never let two creations under the same name both succeed;
// the loser gets *ErrNameConflict. A name held by a record other than CreateOptions.Replace
// is a conflict too.
type Client interface {
	// FindByName returns nil without error when no record has the name
	FindByName(ctx context.Context, name string) (*Record, error)
	CreateFromStream(ctx context.Context, name string, r io.Reader, opts CreateOptions) (ID, error)
	// Delete returns *ErrRecordUnknown when the record is gone
	Delete(ctx context.Context, id ID) error
}

type Lister interface {
	List(ctx context.Context) iter.Seq2[*Record, error]
}

type contextClient struct{}

func ClientInjectContext(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, contextClient{}, c)
}

func ClientFromContext(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(contextClient{}).(Client)
	return c, ok && c != nil
}
