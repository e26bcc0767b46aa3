package purger

import (
	"context"
	"log/slog"
	"time"

	"github.com/innoai-tech/infra/pkg/agent"
	"github.com/innoai-tech/infra/pkg/cron"
	"github.com/octohelm/x/logr"
	"k8s.io/kube-openapi/pkg/validation/strfmt"

	"github.com/octohelm/imgkit/pkg/staging"
)

// Purger removes staging entries left behind by crashed imports on a schedule.
type Purger struct {
	agent.Agent

	ExpiresIn strfmt.Duration `flag:",omitzero"`
	Period    cron.Spec       `flag:",omitzero"`

	area *staging.Area
}

func (p *Purger) Disabled(ctx context.Context) bool {
	return p.area == nil
}

func (p *Purger) SetDefaults() {
	if p.ExpiresIn == 0 {
		p.ExpiresIn = strfmt.Duration(24 * time.Hour)
	}

	if p.Period.IsZero() {
		p.Period = "@every 1h"
	}
}

func (p *Purger) Init(ctx context.Context) error {
	if area, ok := staging.AreaFromContext(ctx); ok {
		p.area = area
	}

	if p.Disabled(ctx) {
		return nil
	}

	p.Host("Purge staging", func(ctx context.Context) error {
		p.Go(ctx, p.Purge)

		for range p.Period.Times(ctx) {
			p.Go(ctx, p.Purge)
		}

		return nil
	})

	return nil
}

func (p *Purger) Purge(ctx context.Context) error {
	ctx, l := logr.FromContext(ctx).Start(ctx, "purging")
	defer l.End()

	n, err := p.area.Purge(ctx, time.Duration(p.ExpiresIn))
	if err != nil {
		return err
	}

	if n > 0 {
		l.WithValues(slog.Int("staging.purged", n)).Info("purged")
	}

	return nil
}
