package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/cidsync/cmd/cli/internal/commands"
	"github.com/wolfeidau/cidsync/internal/logger"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool `help:"Enable debug mode."`
		Version  kong.VersionFlag
		Register commands.RegisterCmd `cmd:"" help:"Register every organization account with its tenant."`
		Move     commands.MoveCmd     `cmd:"" help:"Reconcile a single account after an OU move."`
		Update   commands.UpdateCmd   `cmd:"" help:"Re-apply the configured onboarding template to managed deployments."`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	logger.Setup(cli.Debug)
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
