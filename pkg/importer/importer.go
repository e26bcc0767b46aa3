package importer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/octohelm/x/logr"

	"github.com/octohelm/imgkit/internal/pkg/progress"
	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/fetch"
	"github.com/octohelm/imgkit/pkg/repository"
	"github.com/octohelm/imgkit/pkg/staging"
)

type Option func(i *Importer)

func WithFetcher(f *fetch.Fetcher) Option {
	return func(i *Importer) {
		i.fetcher = f
	}
}

// WithTransitionHook registers fn to be called on every state change of an attempt.
func WithTransitionHook(fn func(ctx context.Context, t Transition)) Option {
	return func(i *Importer) {
		i.onTransition = fn
	}
}

func WithProgressInterval(interval time.Duration) Option {
	return func(i *Importer) {
		i.progressInterval = interval
	}
}

// WithTimeout bounds each Import, Plan or Delete. An expired attempt fails as cancelled.
func WithTimeout(timeout time.Duration) Option {
	return func(i *Importer) {
		i.timeout = timeout
	}
}

func New(client repository.Client, area *staging.Area, options ...Option) *Importer {
	i := &Importer{
		client:           client,
		area:             area,
		fetcher:          &fetch.Fetcher{},
		progressInterval: progress.DefaultInterval,
	}

	for _, opt := range options {
		opt(i)
	}

	return i
}

var ErrNotConfigured = errors.New("repository client or staging area missing in context")

// NewFromContext builds the Importer from the repository client and staging area injected into ctx.
func NewFromContext(ctx context.Context, options ...Option) (*Importer, error) {
	client, ok := repository.ClientFromContext(ctx)
	if !ok {
		return nil, ErrNotConfigured
	}
	area, ok := staging.AreaFromContext(ctx)
	if !ok {
		return nil, ErrNotConfigured
	}
	return New(client, area, options...), nil
}

// Importer publishes remote artifacts into a repository exactly once.
type Importer struct {
	client           repository.Client
	area             *staging.Area
	fetcher          *fetch.Fetcher
	onTransition     func(ctx context.Context, t Transition)
	progressInterval time.Duration
	timeout          time.Duration
}

func (i *Importer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.timeout > 0 {
		return context.WithTimeout(ctx, i.timeout)
	}
	return context.WithCancel(ctx)
}

// Import runs one attempt for req. The returned Outcome is terminal; no step is retried.
func (i *Importer) Import(pctx context.Context, req *Request, overwrite bool) Outcome {
	ctx, l := logr.FromContext(pctx).Start(pctx, "Import",
		slog.String("import.name", req.Name()),
		slog.String("import.uri", req.SourceURI()),
	)
	defer l.End()

	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	a := &attempt{Importer: i, req: req, state: StateIdle}

	o := a.run(ctx, overwrite)

	a.transit(ctx, StateDone)

	if o.Failed() {
		l.WithValues(slog.String("import.kind", string(o.Kind))).Error(o.err)
	} else {
		l.WithValues(
			slog.String("import.status", string(o.Status)),
			slog.String("import.id", string(o.ID)),
		).Info("done")
	}

	return o
}

// Plan runs the pre-flight check of Import only. Nothing is fetched or modified.
func (i *Importer) Plan(pctx context.Context, req *Request, overwrite bool) Outcome {
	ctx, l := logr.FromContext(pctx).Start(pctx, "Plan", slog.String("import.name", req.Name()))
	defer l.End()

	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	existing, o, done := i.check(ctx, req, overwrite)
	if done {
		return o
	}

	planned := Outcome{
		Status: StatusPlanned,
		Name:   req.Name(),
		Format: req.Format(),
		Action: ActionCreate,
	}

	if c, ok := req.ExpectedChecksum(); ok {
		planned.Checksum = &c
	}

	if existing != nil {
		planned.Action = ActionOverwrite
		planned.ID = existing.ID
	}

	return planned
}

// Delete removes the record under name. A missing record is Absent, not a failure.
func (i *Importer) Delete(pctx context.Context, name string) Outcome {
	ctx, l := logr.FromContext(pctx).Start(pctx, "Delete", slog.String("import.name", name))
	defer l.End()

	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	if err := repository.ValidateName(name); err != nil {
		return failed(name, KindInvalidRequest, err)
	}

	existing, err := i.client.FindByName(ctx, name)
	if err != nil {
		return failed(name, classify(ctx, err, KindRepository), err)
	}

	if existing == nil {
		return Outcome{Status: StatusAbsent, Name: name}
	}

	if err := i.client.Delete(ctx, existing.ID); err != nil {
		var unknown *repository.ErrRecordUnknown
		if errors.As(err, &unknown) {
			return Outcome{Status: StatusAbsent, Name: name}
		}
		return failed(name, classify(ctx, err, KindRepository), err)
	}

	l.WithValues(slog.String("import.id", string(existing.ID))).Info("deleted")

	return Outcome{Status: StatusDeleted, Name: name, ID: existing.ID}
}

// DeleteByID removes the record with the repository assigned id.
func (i *Importer) DeleteByID(pctx context.Context, id repository.ID) Outcome {
	ctx, l := logr.FromContext(pctx).Start(pctx, "DeleteByID", slog.String("import.id", string(id)))
	defer l.End()

	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	if id == "" {
		return failed("", KindInvalidRequest, &ErrInvalidRequest{Reason: "empty record id"})
	}

	if err := i.client.Delete(ctx, id); err != nil {
		var unknown *repository.ErrRecordUnknown
		if errors.As(err, &unknown) {
			return Outcome{Status: StatusAbsent, ID: id}
		}
		return failed("", classify(ctx, err, KindRepository), err)
	}

	l.Info("deleted")

	return Outcome{Status: StatusDeleted, ID: id}
}

// check resolves the pre-flight state. done reports the attempt already has its outcome.
func (i *Importer) check(ctx context.Context, req *Request, overwrite bool) (existing *repository.Record, o Outcome, done bool) {
	existing, err := i.client.FindByName(ctx, req.Name())
	if err != nil {
		return nil, failed(req.Name(), classify(ctx, err, KindRepository), err), true
	}

	if existing == nil {
		return nil, Outcome{}, false
	}

	if expected, ok := req.ExpectedChecksum(); ok && existing.Matches(expected) {
		return existing, alreadyPresent(existing), true
	}

	if !overwrite {
		err := &repository.ErrNameConflict{Name: req.Name(), Existing: existing.ID}
		return existing, failed(req.Name(), KindConflict, err), true
	}

	return existing, Outcome{}, false
}

type attempt struct {
	*Importer

	req   *Request
	state State
}

func (a *attempt) transit(ctx context.Context, to State) {
	t := Transition{Name: a.req.Name(), From: a.state, To: to}
	a.state = to

	logr.FromContext(ctx).
		WithValues(slog.String("import.from", string(t.From)), slog.String("import.to", string(t.To))).
		Debug("transit")

	if a.onTransition != nil {
		a.onTransition(ctx, t)
	}
}

func (a *attempt) run(ctx context.Context, overwrite bool) Outcome {
	a.transit(ctx, StateChecking)

	existing, o, done := a.check(ctx, a.req, overwrite)
	if done {
		return o
	}

	staged := false

	err := staging.Do(ctx, a.area, func(s *staging.Staged) error {
		staged = true
		o = a.fetchAndPublish(ctx, s, existing)
		return nil
	})

	if err != nil {
		if !staged {
			return failed(a.req.Name(), classify(ctx, err, KindStaging), err)
		}
		// publishing already took effect, a leftover staging entry is purged later
		logr.FromContext(ctx).WithValues(slog.String("import.kind", string(KindStaging))).Error(err)
	}

	return o
}

func (a *attempt) fetchAndPublish(ctx context.Context, s *staging.Staged, existing *repository.Record) Outcome {
	name := a.req.Name()

	a.transit(ctx, StateFetching)

	stream, err := a.fetcher.Open(ctx, a.req.SourceURI())
	if err != nil {
		return failed(name, classify(ctx, err, KindTransport), err)
	}
	defer stream.Close()

	if filename := stream.Filename(); filename != "" {
		logr.FromContext(ctx).WithValues(slog.String("import.filename", filename)).Debug("source")
	}

	var (
		transferred *checksum.Digester
		verifier    *checksum.Verifier
	)

	if expected, ok := a.req.ExpectedChecksum(); ok {
		verifier = expected.Verifier()
		transferred = verifier.Digester
	} else {
		transferred = checksum.Canonical.Digester()
	}

	var content *checksum.Digester
	if a.req.Decompress() != fetch.CompressionNone {
		content = checksum.Canonical.Digester()
	}

	if err := a.fetch(ctx, stream, s, transferred, content); err != nil {
		var decompressErr *fetch.ErrDecompress
		if errors.As(err, &decompressErr) {
			// corrupt transfer reports as mismatch
			if mismatch := drain(ctx, stream, verifier); mismatch != nil {
				return failed(name, KindChecksumMismatch, mismatch)
			}
		}
		return failed(name, classify(ctx, err, KindTransport), err)
	}

	a.transit(ctx, StateVerifying)

	if verifier != nil {
		if err := verifier.Verify(); err != nil {
			return failed(name, KindChecksumMismatch, err)
		}
	}

	sum := transferred.Checksum()

	opts := repository.CreateOptions{
		Checksum: &sum,
		Format:   a.req.Format(),
		Metadata: a.req.Metadata(),
	}

	if content != nil {
		contentSum := content.Checksum()
		opts.Checksum = &contentSum
		opts.SourceChecksum = &sum
	}

	if existing != nil {
		opts.Replace = existing.ID
	}

	a.transit(ctx, StatePublishing)

	r, err := s.Finalize(ctx)
	if err != nil {
		return failed(name, classify(ctx, err, KindStaging), &ErrStaging{Err: err})
	}

	id, err := a.client.CreateFromStream(ctx, name, r, opts)
	if err != nil {
		return failed(name, classify(ctx, err, KindPublish), err)
	}

	return created(name, id, *opts.Checksum, s.Size(), a.req.Format())
}

// fetch copies the stream into s. The transferred digester sees each chunk as it is read,
// content sees the staged bytes.
func (a *attempt) fetch(ctx context.Context, stream *fetch.Stream, s *staging.Staged, transferred io.Writer, content *checksum.Digester) error {
	pw := progress.New(transferred).WithInterval(a.progressInterval)

	wg := &sync.WaitGroup{}
	defer wg.Wait()
	defer pw.Close()

	wg.Go(func() {
		l := logr.FromContext(ctx)
		total := stream.DeclaredSize()

		for n := range pw.Observe(ctx) {
			l.WithValues(slog.Int64("import.fetched", n), slog.Int64("import.total", total)).Info("fetching")
		}
	})

	raw := io.TeeReader(stream, pw)

	dst := io.Writer(&stagingWriter{w: s})
	if content != nil {
		dst = io.MultiWriter(dst, content)
	}

	c := a.req.Decompress()
	if c == fetch.CompressionNone {
		return copyChunks(ctx, dst, raw)
	}

	rc, err := fetch.Decompress(raw, c)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := copyChunks(ctx, dst, rc); err != nil {
		return err
	}

	// trailing bytes the decoder left unread still count for the checksum
	return copyChunks(ctx, io.Discard, raw)
}

// drain reads the rest of the stream into the verifier
// and reports the mismatch against the expected checksum, if any.
func drain(ctx context.Context, stream *fetch.Stream, verifier *checksum.Verifier) error {
	if verifier == nil {
		return nil
	}
	if err := copyChunks(ctx, verifier, stream); err != nil {
		return nil
	}
	return verifier.Verify()
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, fetch.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

type stagingWriter struct {
	w io.Writer
}

func (s *stagingWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, &ErrStaging{Err: err}
	}
	return n, nil
}
