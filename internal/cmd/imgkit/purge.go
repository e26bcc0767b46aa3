package main

import (
	"context"
	"errors"
	"time"

	"github.com/innoai-tech/infra/pkg/cli"
	"github.com/innoai-tech/infra/pkg/otel"
	"k8s.io/kube-openapi/pkg/validation/strfmt"

	"github.com/octohelm/imgkit/pkg/staging"
	"github.com/octohelm/imgkit/pkg/staging/purger"
)

func init() {
	c := cli.AddTo(App, &Purge{})
	c.LogFormat = "text"

	cli.AddTo(Serve, &StagingPurger{})
}

// Purge staging entries left behind by interrupted imports
type Purge struct {
	cli.C
	otel.Otel

	staging.Provider

	PurgeRunner
}

type PurgeRunner struct {
	// Entries started earlier than this are purged
	ExpiresIn strfmt.Duration `flag:",omitzero"`

	output
}

func (r *PurgeRunner) SetDefaults() {
	if r.ExpiresIn == 0 {
		r.ExpiresIn = strfmt.Duration(24 * time.Hour)
	}
}

func (r *PurgeRunner) Run(ctx context.Context) error {
	area, ok := staging.AreaFromContext(ctx)
	if !ok {
		return errors.New("staging area missing in context")
	}

	n, err := area.Purge(ctx, time.Duration(r.ExpiresIn))
	if err != nil {
		return err
	}

	return r.write(map[string]int{"purged": n})
}

// Staging purger
type StagingPurger struct {
	cli.C `component:"staging-purger"`
	otel.Otel

	staging.Provider

	purger.Purger
}
