// Package config holds the invocation configuration for the registration
// engine. A Config is built once at invocation start, validated, and passed
// to every component; nothing reads the environment mid-run.
package config

import (
	"errors"
	"fmt"

	"github.com/alecthomas/kong"
)

// Credential storage modes for the in-account onboarding template.
const (
	StorageModeLambda = "lambda"
	StorageModeSecret = "secret"
)

// AWS account types supported by the Falcon registration API.
const (
	AccountTypeCommercial = "commercial"
	AccountTypeGovCloud   = "govcloud"
)

// Config is the full configuration surface. The env tags match the variable
// names set by the provisioning stack, so the same struct serves the Lambda
// (environment only) and the CLI (flags with env fallback).
type Config struct {
	EnableIOA              bool     `help:"Enable indicator of attack scanning." env:"enable_ioa" default:"false"`
	EnableIDP              bool     `help:"Enable identity protection feature registration." env:"identity_protection" default:"false"`
	UseExistingCloudTrail  bool     `help:"Reuse an existing CloudTrail instead of provisioning one." env:"existing_cloudtrail" default:"false"`
	EnableSensorManagement bool     `help:"Enable 1-click sensor management." env:"sensor_management" default:"false"`
	CredentialsStorage     string   `help:"How the onboarding template stores API credentials." env:"credentials_storage" enum:"lambda,secret" default:"secret"`
	AWSAccountType         string   `help:"AWS partition of the accounts being onboarded." env:"aws_account_type" enum:"commercial,govcloud" default:"commercial"`
	Regions                []string `help:"Regions targeted by onboarding deployments." env:"regions"`
	CurrentRegion          string   `help:"Region this invocation runs in." env:"current_region"`
	TemplateURL            string   `help:"Onboarding template reference currently in force." env:"template_url"`
	SecretList             []string `help:"Secret names holding per-tenant Falcon credentials." env:"secret_list"`
	StackSetAdminRoleARN   string   `help:"StackSet administration role ARN." env:"admin_role"`
	StackSetExecRoleName   string   `help:"StackSet execution role name." env:"exec_role"`
	S3Bucket               string   `help:"Bucket holding templates for commercial-to-gov onboarding." env:"s3_bucket"`
}

// FromEnv builds a Config from the environment alone. Used by the Lambda
// entry point, where there are no command line arguments to parse.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	parser, err := kong.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build config parser: %w", err)
	}

	if _, err := parser.Parse(nil); err != nil {
		return nil, fmt.Errorf("failed to parse configuration from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the fields kong cannot enforce on its own.
func (c *Config) Validate() error {
	if len(c.SecretList) == 0 {
		return errors.New("config: secret_list must name at least one tenant secret")
	}
	if c.TemplateURL == "" {
		return errors.New("config: template_url is required")
	}
	if c.CurrentRegion == "" {
		return errors.New("config: current_region is required")
	}
	if c.StackSetAdminRoleARN == "" {
		return errors.New("config: admin_role is required")
	}
	if c.StackSetExecRoleName == "" {
		return errors.New("config: exec_role is required")
	}
	return nil
}

// DeploymentRegions returns the configured regions excluding the current
// one. Companion deployments for commercial-to-gov onboarding target these.
func (c *Config) DeploymentRegions() []string {
	var regions []string
	for _, region := range c.Regions {
		if region != c.CurrentRegion {
			regions = append(regions, region)
		}
	}
	return regions
}
