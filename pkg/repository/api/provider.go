package api

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/octohelm/unifs/pkg/filesystem"
	"github.com/octohelm/unifs/pkg/filesystem/api"
	"github.com/octohelm/unifs/pkg/strfmt"
	"github.com/octohelm/x/logr"

	"github.com/octohelm/imgkit/pkg/repository"
	repositoryfs "github.com/octohelm/imgkit/pkg/repository/fs"
	"github.com/octohelm/imgkit/pkg/repository/ociregistry"
)

// RepositoryProvider publishes into the container registry when its endpoint is set,
// otherwise into the filesystem repository.
type RepositoryProvider struct {
	Registry ociregistry.Registry
	// Filesystem repository storage, defaults to .tmp/imgkit-repository under the working dir
	Repository api.FileSystemBackend

	client repository.Client
}

func (p *RepositoryProvider) Init(ctx context.Context) error {
	if p.client != nil {
		return nil
	}

	if !p.Registry.IsZero() {
		c, err := ociregistry.New(p.Registry)
		if err != nil {
			return err
		}

		p.client = c

		logr.FromContext(ctx).
			WithValues(slog.String("registry", p.Registry.Endpoint)).
			Info("repository")

		return nil
	}

	if p.Repository.Backend.IsZero() {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		endpoint, err := strfmt.ParseEndpoint("file://" + filepath.Join(cwd, ".tmp/imgkit-repository"))
		if err != nil {
			return err
		}
		p.Repository.Backend = *endpoint
	}

	if err := p.Repository.Init(ctx); err != nil {
		return err
	}

	if err := filesystem.MkdirAll(ctx, p.Repository.FileSystem(), "."); err != nil {
		return err
	}

	p.client = repositoryfs.NewStore(p.Repository.FileSystem())

	return nil
}

func (p *RepositoryProvider) InjectContext(ctx context.Context) context.Context {
	return repository.ClientInjectContext(ctx, p.client)
}

func (p *RepositoryProvider) Client() repository.Client {
	return p.client
}
