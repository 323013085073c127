package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/credentials"
	"github.com/wolfeidau/cidsync/internal/deployment"
	"github.com/wolfeidau/cidsync/internal/directory"
	"github.com/wolfeidau/cidsync/internal/events"
	"github.com/wolfeidau/cidsync/internal/logger"
	"github.com/wolfeidau/cidsync/internal/reconciler"
	"github.com/wolfeidau/cidsync/internal/registration"
	"github.com/wolfeidau/cidsync/internal/updater"
)

var version = "dev"

// result is the structured payload every invocation returns. Exactly one of
// the report fields is set.
type result struct {
	Mode    events.Mode        `json:"mode"`
	Version string             `json:"version"`
	Report  *reconciler.Report `json:"report,omitempty"`
	Updates *updater.Report    `json:"updates,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func main() {
	logger.Setup(false)
	lambda.Start(handler)
}

func handler(ctx context.Context, payload json.RawMessage) (*result, error) {
	log.Info().Str("version", version).RawJSON("event", normalize(payload)).Msg("Invocation started")

	cfg, err := config.FromEnv()
	if err != nil {
		// Misconfiguration is fatal for the invocation, surface it to the
		// platform so the delivery is retried once fixed.
		log.Error().Err(err).Msg("Configuration invalid")
		return nil, err
	}

	invocation, err := events.Parse(payload)
	if err != nil {
		log.Error().Err(err).Msg("Unrecognized invocation payload")
		return &result{Mode: "", Version: version, Error: err.Error()}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load AWS config")
		return nil, err
	}

	// Opt-in regions left disabled reject all provisioning, trim them out
	// before any deployment targets them.
	cfg.Regions, err = directory.EnabledRegions(ctx, ec2.NewFromConfig(awsCfg), cfg.Regions)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve enabled regions")
		return nil, err
	}

	deployments := deployment.NewStackSetManager(cloudformation.NewFromConfig(awsCfg), deployment.StackSetManagerConfig{
		AdminRoleARN:  cfg.StackSetAdminRoleARN,
		ExecRoleName:  cfg.StackSetExecRoleName,
		DefaultRegion: cfg.CurrentRegion,
	})

	if invocation.Mode == events.ModeUpdate {
		report, err := updater.New(cfg, deployments).Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Template update pass failed")
			return &result{Mode: invocation.Mode, Version: version, Error: err.Error()}, nil
		}
		return &result{Mode: invocation.Mode, Version: version, Updates: report}, nil
	}

	dispatcher := reconciler.NewDispatcher(
		cfg,
		directory.NewAWSDirectory(organizations.NewFromConfig(awsCfg)),
		credentials.NewSecretsStore(secretsmanager.NewFromConfig(awsCfg), cfg.SecretList),
		registration.NewFalconRegistrar(cfg),
		deployments,
	)

	var report *reconciler.Report
	switch invocation.Mode {
	case events.ModeMove:
		report = dispatcher.HandleMove(ctx, *invocation.Move)
	default:
		report = dispatcher.RegisterAll(ctx)
	}

	return &result{Mode: invocation.Mode, Version: version, Report: report}, nil
}

// normalize keeps the invocation log line valid JSON for empty payloads.
func normalize(payload json.RawMessage) []byte {
	if len(payload) == 0 {
		return []byte("{}")
	}
	return payload
}
