package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/credentials"
	"github.com/wolfeidau/cidsync/internal/deployment"
	"github.com/wolfeidau/cidsync/internal/directory"
	"github.com/wolfeidau/cidsync/internal/reconciler"
	"github.com/wolfeidau/cidsync/internal/registration"
)

type Globals struct {
	Debug   bool
	Version string
}

// buildDeployments wires the StackSet manager from the local AWS credential
// chain.
func buildDeployments(ctx context.Context, cfg *config.Config) (*deployment.StackSetManager, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return deployment.NewStackSetManager(cloudformation.NewFromConfig(awsCfg), deployment.StackSetManagerConfig{
		AdminRoleARN:  cfg.StackSetAdminRoleARN,
		ExecRoleName:  cfg.StackSetExecRoleName,
		DefaultRegion: cfg.CurrentRegion,
	}), nil
}

// buildDispatcher wires the full reconciliation pipeline.
func buildDispatcher(ctx context.Context, cfg *config.Config) (*reconciler.Dispatcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cfg.Regions, err = directory.EnabledRegions(ctx, ec2.NewFromConfig(awsCfg), cfg.Regions)
	if err != nil {
		return nil, err
	}

	deployments := deployment.NewStackSetManager(cloudformation.NewFromConfig(awsCfg), deployment.StackSetManagerConfig{
		AdminRoleARN:  cfg.StackSetAdminRoleARN,
		ExecRoleName:  cfg.StackSetExecRoleName,
		DefaultRegion: cfg.CurrentRegion,
	})

	return reconciler.NewDispatcher(
		cfg,
		directory.NewAWSDirectory(organizations.NewFromConfig(awsCfg)),
		credentials.NewSecretsStore(secretsmanager.NewFromConfig(awsCfg), cfg.SecretList),
		registration.NewFalconRegistrar(cfg),
		deployments,
	), nil
}

// printReport writes a run report to stdout as indented JSON.
func printReport(report any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
