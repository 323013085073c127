package commands

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/updater"
)

// UpdateCmd re-applies the configured onboarding template to every managed
// deployment.
type UpdateCmd struct {
	config.Config `embed:""`
}

func (u *UpdateCmd) Run(ctx context.Context, globals *Globals) error {
	if err := u.Config.Validate(); err != nil {
		return err
	}

	deployments, err := buildDeployments(ctx, &u.Config)
	if err != nil {
		return err
	}

	report, err := updater.New(&u.Config, deployments).Run(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int("applied", len(report.Applied)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("Template update pass finished")

	return printReport(report)
}
