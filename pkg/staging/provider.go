package staging

import (
	"context"
	"os"
	"path/filepath"

	"github.com/octohelm/unifs/pkg/filesystem"
	"github.com/octohelm/unifs/pkg/filesystem/api"
	"github.com/octohelm/unifs/pkg/strfmt"
)

// Provider configures the staging area of downloads.
type Provider struct {
	// Staging storage, defaults to a directory under the system temp dir
	Staging api.FileSystemBackend

	area *Area
}

func (p *Provider) Init(ctx context.Context) error {
	if p.area != nil {
		return nil
	}

	if p.Staging.Backend.IsZero() {
		endpoint, err := strfmt.ParseEndpoint("file://" + filepath.Join(os.TempDir(), "imgkit-staging"))
		if err != nil {
			return err
		}
		p.Staging.Backend = *endpoint
	}

	if err := p.Staging.Init(ctx); err != nil {
		return err
	}

	if err := filesystem.MkdirAll(ctx, p.Staging.FileSystem(), "."); err != nil {
		return err
	}

	p.area = NewArea(p.Staging.FileSystem())

	return nil
}

func (p *Provider) InjectContext(ctx context.Context) context.Context {
	return AreaInjectContext(ctx, p.area)
}

func (p *Provider) Area() *Area {
	return p.area
}

type contextArea struct{}

func AreaInjectContext(ctx context.Context, a *Area) context.Context {
	return context.WithValue(ctx, contextArea{}, a)
}

func AreaFromContext(ctx context.Context) (*Area, bool) {
	a, ok := ctx.Value(contextArea{}).(*Area)
	return a, ok && a != nil
}
