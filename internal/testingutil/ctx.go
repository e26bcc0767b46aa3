package testingutil

import (
	"context"
	"log/slog"
	"testing"

	"github.com/innoai-tech/infra/pkg/configuration"
	"github.com/octohelm/x/logr"
	logrslog "github.com/octohelm/x/logr/slog"
	. "github.com/octohelm/x/testing/v2"
	"golang.org/x/sync/errgroup"
)

// NewContext inits the configuration singletons of v inside a fresh working dir
// and returns the context they are injected into.
// Servers among them are served until the test ends.
func NewContext(t *testing.T, v any) context.Context {
	t.Chdir(t.TempDir())

	ctx := logr.LoggerInjectContext(context.Background(), logrslog.Logger(slog.Default()))

	if v == nil {
		return ctx
	}

	singletons := configuration.SingletonsFromStruct(v)

	ctx = MustValue(t, func() (context.Context, error) {
		return singletons.Init(ctx)
	})

	serveCtx, cancel := context.WithCancel(ctx)

	g, c := errgroup.WithContext(serveCtx)

	for i := range singletons {
		if server, ok := singletons[i].(configuration.Server); ok {
			g.Go(func() error {
				return server.Serve(c)
			})
		}
	}

	t.Cleanup(func() {
		cancel()

		c := configuration.ContextInjectorFromContext(ctx).InjectContext(ctx)

		for _, s := range singletons {
			if canShutdown, ok := s.(configuration.CanShutdown); ok {
				_ = configuration.Shutdown(c, canShutdown)
			}
		}

		_ = g.Wait()
	})

	return configuration.ContextInjectorFromContext(ctx).InjectContext(ctx)
}
