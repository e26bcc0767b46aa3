package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/octohelm/unifs/pkg/filesystem"
	"github.com/octohelm/x/logr"
	"github.com/opencontainers/go-digest"
	ocispecv1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/repository"
	"github.com/octohelm/imgkit/pkg/storage/driver"
	"github.com/octohelm/imgkit/pkg/storage/layout"
)

func NewStore(fsys filesystem.FileSystem) *Store {
	return &Store{
		driver: driver.FromFileSystem(fsys),
		layout: layout.Default,
	}
}

// Store keeps records on a unifs filesystem.
//
//	names/{name}/link                 record id
//	records/{id}/descriptor.json      oci descriptor of the content
//	blobs/sha256/{xx}/{hex}/data      content, shared by equal records
//
// Creation under a taken name is rejected within one process.
// Blob commits, record links and deletions are serialized by mu.
type Store struct {
	driver driver.Driver
	layout layout.Layout

	mu sync.Mutex
}

var (
	_ repository.Client = (*Store)(nil)
	_ repository.Lister = (*Store)(nil)
)

func (s *Store) FindByName(ctx context.Context, name string) (*repository.Record, error) {
	if err := repository.ValidateName(name); err != nil {
		return nil, err
	}

	id, err := s.resolve(ctx, name)
	if err != nil || id == "" {
		return nil, err
	}

	r, _, err := s.get(ctx, id)
	if err != nil {
		var unknown *repository.ErrRecordUnknown
		if errors.As(err, &unknown) {
			// dangling link
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func (s *Store) CreateFromStream(pctx context.Context, name string, r io.Reader, opts repository.CreateOptions) (repository.ID, error) {
	ctx, l := logr.FromContext(pctx).Start(pctx, "CreateRecord", slog.String("record.name", name))
	defer l.End()

	if err := repository.ValidateName(name); err != nil {
		return "", err
	}

	if err := s.checkName(ctx, name, opts.Replace); err != nil {
		return "", err
	}

	id := repository.ID(uuid.New().String())

	bw, err := s.writer(ctx, id)
	if err != nil {
		return "", err
	}

	size, err := io.Copy(bw, r)
	if err != nil {
		return "", errors.Join(err, bw.Cancel(context.WithoutCancel(ctx)))
	}

	// blobs are shared, so committing one must not interleave with Delete
	s.mu.Lock()
	defer s.mu.Unlock()

	dgst, err := bw.Commit(ctx)
	if err != nil {
		return "", errors.Join(err, bw.Cancel(context.WithoutCancel(ctx)))
	}

	if opts.Checksum != nil {
		if expected, ok := opts.Checksum.Digest(); ok && expected.Algorithm() == dgst.Algorithm() && expected != dgst {
			return "", errors.Join(
				&repository.ErrChecksumMismatch{Name: name, Expected: expected.String(), Actual: dgst.String()},
				s.removeBlobIfUnreferenced(context.WithoutCancel(ctx), dgst),
			)
		}
	}

	record := &repository.Record{
		ID:             id,
		Name:           name,
		Checksum:       opts.Checksum,
		SourceChecksum: opts.SourceChecksum,
		Size:           size,
		Format:         opts.Format,
		Metadata:       opts.CopyMetadata(),
		CreatedAt:      time.Now().UTC(),
	}

	if record.Checksum == nil {
		c, err := checksum.FromDigest(dgst)
		if err != nil {
			return "", errors.Join(err, s.removeBlobIfUnreferenced(context.WithoutCancel(ctx), dgst))
		}
		record.Checksum = &c
	}

	if err := s.checkName(ctx, name, opts.Replace); err != nil {
		return "", errors.Join(err, s.removeBlobIfUnreferenced(context.WithoutCancel(ctx), dgst))
	}

	raw, err := json.Marshal(record.Descriptor(dgst), json.Deterministic(true))
	if err != nil {
		return "", err
	}

	if err := s.driver.PutContent(ctx, s.layout.RecordPath(string(id)), raw); err != nil {
		return "", errors.Join(err, s.removeBlobIfUnreferenced(context.WithoutCancel(ctx), dgst))
	}

	// the replaced record stays linked until the rename
	if err := s.link(ctx, name, id); err != nil {
		return "", errors.Join(
			err,
			s.driver.Delete(context.WithoutCancel(ctx), path.Dir(s.layout.RecordPath(string(id)))),
			s.removeBlobIfUnreferenced(context.WithoutCancel(ctx), dgst),
		)
	}

	l.WithValues(
		slog.String("record.id", string(id)),
		slog.String("record.digest", string(dgst)),
		slog.Int64("record.size", size),
	).Info("created")

	if opts.Replace != "" && opts.Replace != id {
		if err := s.deleteRecord(context.WithoutCancel(ctx), opts.Replace); err != nil {
			var unknown *repository.ErrRecordUnknown
			if !errors.As(err, &unknown) {
				// unlinked already, only leaves an orphan record
				l.WithValues(slog.String("record.replaced", string(opts.Replace))).Error(err)
			}
		}
	}

	return id, nil
}

func (s *Store) link(ctx context.Context, name string, id repository.ID) error {
	p := s.layout.NameLinkPath(name)
	tmp := p + "." + string(id)

	if err := s.driver.PutContent(ctx, tmp, []byte(id)); err != nil {
		return errors.Join(err, s.driver.Delete(context.WithoutCancel(ctx), tmp))
	}

	if err := s.driver.Move(ctx, tmp, p); err != nil {
		return errors.Join(err, s.driver.Delete(context.WithoutCancel(ctx), tmp))
	}

	return nil
}

// checkName fails when name is held by a record other than replace.
func (s *Store) checkName(ctx context.Context, name string, replace repository.ID) error {
	linked, err := s.resolve(ctx, name)
	if err != nil {
		return err
	}
	if linked != "" && linked != replace {
		return &repository.ErrNameConflict{Name: name, Existing: linked}
	}
	return nil
}

func (s *Store) Delete(pctx context.Context, id repository.ID) error {
	ctx, l := logr.FromContext(pctx).Start(pctx, "DeleteRecord", slog.String("record.id", string(id)))
	defer l.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteRecord(ctx, id)
}

// deleteRecord must be called with mu held.
func (s *Store) deleteRecord(ctx context.Context, id repository.ID) error {
	r, dgst, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	if linked, err := s.resolve(ctx, r.Name); err != nil {
		return err
	} else if linked == id {
		if err := s.driver.Delete(ctx, path.Dir(s.layout.NameLinkPath(r.Name))); err != nil {
			return err
		}
	}

	if err := s.driver.Delete(ctx, path.Dir(s.layout.RecordPath(string(id)))); err != nil {
		return err
	}

	return s.removeBlobIfUnreferenced(ctx, dgst)
}

func (s *Store) List(ctx context.Context) iter.Seq2[*repository.Record, error] {
	return func(yield func(*repository.Record, error) bool) {
		names := make([]string, 0)

		if err := s.walkDirs(ctx, s.layout.NamesPath(), func(name string) error {
			names = append(names, name)
			return nil
		}); err != nil {
			yield(nil, err)
			return
		}

		for _, name := range names {
			r, err := s.FindByName(ctx, name)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if r == nil {
				continue
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Open reads back the content of a record.
func (s *Store) Open(ctx context.Context, id repository.ID) (io.ReadCloser, error) {
	_, dgst, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.driver.Reader(ctx, s.layout.BlobDataPath(dgst))
}

func (s *Store) writer(ctx context.Context, id repository.ID) (*blobWriter, error) {
	p := s.layout.UploadDataPath(string(id))

	fw, err := s.driver.Writer(ctx, p, false)
	if err != nil {
		return nil, err
	}

	return &blobWriter{
		driver:     s.driver,
		layout:     s.layout,
		digester:   digest.Canonical.Digester(),
		fileWriter: fw,
		path:       p,
	}, nil
}

func (s *Store) resolve(ctx context.Context, name string) (repository.ID, error) {
	data, err := s.driver.GetContent(ctx, s.layout.NameLinkPath(name))
	if err != nil {
		if isNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return repository.ID(strings.TrimSpace(string(data))), nil
}

func (s *Store) get(ctx context.Context, id repository.ID) (*repository.Record, digest.Digest, error) {
	if id == "" || strings.ContainsAny(string(id), "/\\") {
		return nil, "", &repository.ErrRecordUnknown{ID: id}
	}

	raw, err := s.driver.GetContent(ctx, s.layout.RecordPath(string(id)))
	if err != nil {
		if isNotExist(err) {
			return nil, "", &repository.ErrRecordUnknown{ID: id}
		}
		return nil, "", err
	}

	d := ocispecv1.Descriptor{}
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, "", fmt.Errorf("invalid record %s: %w", id, err)
	}

	r, err := repository.RecordFromDescriptor(d)
	if err != nil {
		return nil, "", fmt.Errorf("invalid record %s: %w", id, err)
	}

	return r, d.Digest, nil
}

func (s *Store) removeBlobIfUnreferenced(ctx context.Context, dgst digest.Digest) error {
	referenced := false

	err := s.walkDirs(ctx, s.layout.RecordsPath(), func(id string) error {
		_, d, err := s.get(ctx, repository.ID(id))
		if err != nil {
			return nil
		}
		if d == dgst {
			referenced = true
			return iofs.SkipAll
		}
		return nil
	})
	if err != nil {
		return err
	}

	if referenced {
		return nil
	}

	return s.driver.Delete(ctx, path.Dir(s.layout.BlobDataPath(dgst)))
}

func (s *Store) walkDirs(ctx context.Context, root string, fn func(name string) error) error {
	exists, err := s.driver.Exists(ctx, root)
	if err != nil || !exists {
		return err
	}

	err = s.driver.WalkDir(ctx, root, func(pathname string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if pathname == "." {
			return nil
		}
		if d.IsDir() {
			if err := fn(d.Name()); err != nil {
				return err
			}
			return iofs.SkipDir
		}
		return nil
	})
	if errors.Is(err, iofs.SkipAll) {
		return nil
	}
	return err
}

func isNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist) || os.IsNotExist(err)
}
