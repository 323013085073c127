package reconciler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/credentials"
	"github.com/wolfeidau/cidsync/internal/deployment"
	"github.com/wolfeidau/cidsync/internal/registration"
)

// Companion template references for commercial accounts registered against a
// gov tenant.
const (
	ebGovCommTemplateURL  = "https://cs-prod-cloudconnect-templates.s3.amazonaws.com/aws_cspm_cloudformation_eb_gov_comm_v2.json"
	ioaGovCommTemplateURL = "https://cs-prod-cloudconnect-templates.s3.amazonaws.com/aws_cspm_cloudformation_gov_commercial_ioa_lambda_v2.json"
)

// buildPlan produces the set of deployments that realize a registration.
// The main onboarding deployment always targets the current region. A
// commercial account registered against a gov tenant additionally needs an
// event forwarding deployment in the remaining regions and an IOA
// deployment in every configured region.
func buildPlan(cfg *config.Config, cred *credentials.Record, reg *registration.Registration) ([]deployment.Params, error) {
	base := map[string]string{
		"RoleName":                  reg.IAMRoleName,
		"ExternalID":                reg.ExternalID,
		"CSRoleName":                reg.CSRoleName,
		"CSAccountNumber":           reg.CSAccountNumber,
		"ClientID":                  cred.ClientID,
		"ClientSecret":              cred.ClientSecret,
		"CSBucketName":              reg.CloudTrailBucketName,
		"UseExistingCloudtrail":     strconv.FormatBool(cfg.UseExistingCloudTrail),
		"EnableSensorManagement":    strconv.FormatBool(cfg.EnableSensorManagement),
		"APICredentialsStorageMode": cfg.CredentialsStorage,
	}

	govTenant := strings.Contains(cred.Cloud, "gov")

	switch {
	case !govTenant:
		base["CSEventBusName"] = reg.EventBusName
		base["EnableIOA"] = strconv.FormatBool(cfg.EnableIOA)

		return []deployment.Params{{
			TemplateURL: cfg.TemplateURL,
			Parameters:  base,
			Regions:     []string{cfg.CurrentRegion},
		}}, nil

	case cfg.AWSAccountType == config.AccountTypeGovCloud:
		base["CSEventBusName"] = reg.EventBusName
		base["EnableIOA"] = strconv.FormatBool(cfg.EnableIOA)

		return []deployment.Params{{
			TemplateURL: cfg.TemplateURL,
			Parameters:  base,
			Regions:     []string{cfg.CurrentRegion},
		}}, nil

	case cfg.AWSAccountType == config.AccountTypeCommercial:
		// Commercial account, gov tenant: IOA runs through the companion
		// deployment, never the main one.
		base["EnableIOA"] = "false"

		plans := []deployment.Params{{
			TemplateURL: fmt.Sprintf("https://%s.s3.%s.amazonaws.com/crowdstrike_aws_cspm.json", cfg.S3Bucket, cfg.CurrentRegion),
			Parameters:  base,
			Regions:     []string{cfg.CurrentRegion},
		}}

		if extraRegions := cfg.DeploymentRegions(); len(extraRegions) > 0 {
			plans = append(plans, deployment.Params{
				Suffix:      "-EB",
				TemplateURL: ebGovCommTemplateURL,
				Parameters: map[string]string{
					"DefaultEventBusRegion": cfg.CurrentRegion,
				},
				Regions: extraRegions,
			})
		}

		if len(cfg.Regions) > 0 {
			plans = append(plans, deployment.Params{
				Suffix:      "-IOA",
				TemplateURL: ioaGovCommTemplateURL,
				Parameters: map[string]string{
					"ClientID":     cred.ClientID,
					"ClientSecret": cred.ClientSecret,
				},
				Regions: cfg.Regions,
			})
		}

		return plans, nil

	default:
		return nil, fmt.Errorf("unsupported cloud configuration: cloud %q, account type %q", cred.Cloud, cfg.AWSAccountType)
	}
}
