package main

import (
	"context"
	"errors"

	"github.com/gobwas/glob"
	"github.com/innoai-tech/infra/pkg/cli"
	"github.com/innoai-tech/infra/pkg/otel"

	"github.com/octohelm/imgkit/pkg/repository"
	repositoryapi "github.com/octohelm/imgkit/pkg/repository/api"
)

func init() {
	c := cli.AddTo(App, &List{})
	c.LogFormat = "text"
}

// List disk images of the repository
type List struct {
	cli.C
	otel.Otel

	repositoryapi.RepositoryProvider

	ListRunner
}

type ListRunner struct {
	// Glob of record names, like debian-*.qcow2
	Match string `flag:",omitzero"`

	output
}

func (r *ListRunner) Run(ctx context.Context) error {
	client, ok := repository.ClientFromContext(ctx)
	if !ok {
		return errors.New("repository client missing in context")
	}

	lister, ok := client.(repository.Lister)
	if !ok {
		return errors.New("repository does not support listing")
	}

	var g glob.Glob
	if r.Match != "" {
		compiled, err := glob.Compile(r.Match)
		if err != nil {
			return err
		}
		g = compiled
	}

	records := make([]*repository.Record, 0)

	for record, err := range lister.List(ctx) {
		if err != nil {
			return err
		}
		if g != nil && !g.Match(record.Name) {
			continue
		}
		records = append(records, record)
	}

	return r.write(records)
}
