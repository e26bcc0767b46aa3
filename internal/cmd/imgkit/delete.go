package main

import (
	"context"
	"time"

	"github.com/innoai-tech/infra/pkg/cli"
	"github.com/innoai-tech/infra/pkg/otel"
	"k8s.io/kube-openapi/pkg/validation/strfmt"

	"github.com/octohelm/imgkit/pkg/importer"
	"github.com/octohelm/imgkit/pkg/repository"
	repositoryapi "github.com/octohelm/imgkit/pkg/repository/api"
	"github.com/octohelm/imgkit/pkg/staging"
)

func init() {
	c := cli.AddTo(App, &Delete{})
	c.LogFormat = "text"
}

// Delete disk images from the repository
type Delete struct {
	cli.C
	otel.Otel

	staging.Provider
	repositoryapi.RepositoryProvider

	DeleteRunner
}

type DeleteRunner struct {
	// Names of the records to delete
	ImageName []string `flag:",omitzero"`
	// Repository assigned ids of the records to delete
	ImageID []string `flag:",omitzero"`
	// Time limit of each deletion, none when zero
	Timeout strfmt.Duration `flag:",omitzero"`

	output
}

func (r *DeleteRunner) Run(ctx context.Context) error {
	imp, err := importer.NewFromContext(ctx, importer.WithTimeout(time.Duration(r.Timeout)))
	if err != nil {
		return err
	}

	outcomes := make([]importer.Outcome, 0, len(r.ImageName)+len(r.ImageID))
	for _, name := range r.ImageName {
		outcomes = append(outcomes, imp.Delete(ctx, name))
	}
	for _, id := range r.ImageID {
		outcomes = append(outcomes, imp.DeleteByID(ctx, repository.ID(id)))
	}

	return r.report(outcomes)
}
