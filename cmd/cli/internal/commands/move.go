package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/reconciler"
)

// MoveCmd reconciles one account, as the event-driven entry point would
// after an OU move.
type MoveCmd struct {
	AccountID     string `help:"Account to reconcile." required:""`
	DestinationOU string `help:"OU the account moved to."`

	config.Config `embed:""`
}

func (m *MoveCmd) Run(ctx context.Context, globals *Globals) error {
	if err := m.Config.Validate(); err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(ctx, &m.Config)
	if err != nil {
		return err
	}

	report := dispatcher.HandleMove(ctx, reconciler.MoveEvent{
		AccountID:     m.AccountID,
		DestinationOU: m.DestinationOU,
	})

	if err := printReport(report); err != nil {
		return err
	}

	if len(report.Failed) > 0 {
		return fmt.Errorf("failed to reconcile account %s: %s", m.AccountID, report.Failed[0].Message)
	}

	return nil
}
