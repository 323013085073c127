package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/reconciler"
)

// RegisterCmd reconciles every active account in the organization.
type RegisterCmd struct {
	config.Config `embed:""`
}

func (r *RegisterCmd) Run(ctx context.Context, globals *Globals) error {
	if err := r.Config.Validate(); err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(ctx, &r.Config)
	if err != nil {
		return err
	}

	report := dispatcher.RegisterAll(ctx)

	log.Info().
		Int("succeeded", len(report.Succeeded)).
		Int("unmatched", len(report.Unmatched)).
		Int("failed", len(report.Failed)).
		Msg("Registration run finished")

	if err := printReport(report); err != nil {
		return err
	}

	if report.Status == reconciler.StatusFailed {
		return fmt.Errorf("registration run failed for all accounts")
	}

	return nil
}
