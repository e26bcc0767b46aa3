package main

import (
	"context"
	"strings"
	"time"

	"github.com/innoai-tech/infra/pkg/cli"
	"github.com/innoai-tech/infra/pkg/otel"
	"k8s.io/kube-openapi/pkg/validation/strfmt"

	"github.com/octohelm/imgkit/pkg/fetch"
	"github.com/octohelm/imgkit/pkg/importer"
	repositoryapi "github.com/octohelm/imgkit/pkg/repository/api"
	"github.com/octohelm/imgkit/pkg/staging"
)

func init() {
	c := cli.AddTo(App, &Import{})
	c.LogFormat = "text"
}

// Import disk images into the repository
type Import struct {
	cli.C
	otel.Otel

	staging.Provider
	repositoryapi.RepositoryProvider

	ImportRunner
}

type ImportRunner struct {
	// Source of the disk image, http(s) url, file:// url or local path. Repeat to import in batch
	URI []string `flag:",omitzero"`
	// Expected checksum as algorithm:hexdigest, single source only
	Checksum string `flag:",omitzero"`
	// Name to publish under, single source only. Defaults to the last path segment of the source
	ImageName string `flag:",omitzero"`
	// Disk format. Defaults to the extension of the name
	Format string `flag:",omitzero"`
	// Metadata as key=value
	Metadata []string `flag:",omitzero"`
	// Decompress before storing: none, auto, gz, xz, zst or lz4
	Decompress string `flag:",omitzero"`
	// Replace an existing record with different content
	Overwrite bool `flag:",omitzero"`
	// Only check what would be done
	DryRun bool `flag:",omitzero"`
	// Max concurrent imports of a batch
	Concurrency int `flag:",omitzero"`
	// Time limit of each import, none when zero
	Timeout strfmt.Duration `flag:",omitzero"`

	output
}

func (r *ImportRunner) SetDefaults() {
	if r.Concurrency == 0 {
		r.Concurrency = 2
	}
}

func (r *ImportRunner) Run(ctx context.Context) error {
	imp, err := importer.NewFromContext(ctx, importer.WithTimeout(time.Duration(r.Timeout)))
	if err != nil {
		return err
	}

	outcomes := make([]importer.Outcome, len(r.URI))

	reqs := make([]*importer.Request, 0, len(r.URI))
	slots := make([]int, 0, len(r.URI))

	for i, uri := range r.URI {
		req, err := r.request(uri)
		if err != nil {
			outcomes[i] = importer.Rejected(fetch.DeriveName(uri), err)
			continue
		}
		reqs = append(reqs, req)
		slots = append(slots, i)
	}

	var results []importer.Outcome

	if r.DryRun {
		for _, req := range reqs {
			results = append(results, imp.Plan(ctx, req, r.Overwrite))
		}
	} else {
		results = imp.ImportAll(ctx, reqs, r.Overwrite, r.Concurrency)
	}

	for i, o := range results {
		outcomes[slots[i]] = o
	}

	return r.report(outcomes)
}

func (r *ImportRunner) request(uri string) (*importer.Request, error) {
	if len(r.URI) > 1 && (r.Checksum != "" || r.ImageName != "") {
		return nil, &importer.ErrInvalidRequest{URI: uri, Reason: "checksum and name only apply to a single source"}
	}

	metadata := map[string]string{}
	for _, kv := range r.Metadata {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, &importer.ErrInvalidRequest{URI: uri, Reason: "metadata must be key=value, got " + kv}
		}
		metadata[k] = v
	}

	return importer.NewRequest(uri,
		importer.WithChecksum(r.Checksum),
		importer.WithName(r.ImageName),
		importer.WithFormat(r.Format),
		importer.WithMetadata(metadata),
		importer.WithDecompress(fetch.Compression(r.Decompress)),
	)
}
