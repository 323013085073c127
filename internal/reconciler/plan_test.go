package reconciler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/registration"
)

func testRegistration() *registration.Registration {
	return &registration.Registration{
		IAMRoleName:          "CrowdStrikeCSPMReader",
		ExternalID:           "ext-id",
		CSRoleName:           "CrowdStrikeCSPMConnector",
		CSAccountNumber:      "292230061137",
		EventBusName:         "cs-eventbus",
		CloudTrailBucketName: "none",
	}
}

func TestBuildPlan(t *testing.T) {
	t.Run("commercial tenant yields a single deployment", func(t *testing.T) {
		cfg := testConfig()
		cfg.EnableIOA = true

		plans, err := buildPlan(cfg, tenantRecord("tenant-a", "cid-a", "ou-1"), testRegistration())
		require.NoError(t, err)
		require.Len(t, plans, 1)

		plan := plans[0]
		require.Empty(t, plan.Suffix)
		require.Equal(t, cfg.TemplateURL, plan.TemplateURL)
		require.Equal(t, []string{"us-east-1"}, plan.Regions)
		require.Equal(t, "true", plan.Parameters["EnableIOA"])
		require.Equal(t, "cs-eventbus", plan.Parameters["CSEventBusName"])
		require.Equal(t, "secret", plan.Parameters["APICredentialsStorageMode"])
	})

	t.Run("gov account on gov tenant yields a single deployment", func(t *testing.T) {
		cfg := testConfig()
		cfg.AWSAccountType = config.AccountTypeGovCloud

		cred := tenantRecord("tenant-g", "cid-g", "ou-1")
		cred.Cloud = "us-gov-1"

		plans, err := buildPlan(cfg, cred, testRegistration())
		require.NoError(t, err)
		require.Len(t, plans, 1)
		require.Equal(t, cfg.TemplateURL, plans[0].TemplateURL)
	})

	t.Run("commercial account on gov tenant adds companion deployments", func(t *testing.T) {
		cfg := testConfig()
		cfg.EnableIOA = true
		cfg.S3Bucket = "cs-templates"

		cred := tenantRecord("tenant-g", "cid-g", "ou-1")
		cred.Cloud = "us-gov-1"

		plans, err := buildPlan(cfg, cred, testRegistration())
		require.NoError(t, err)
		require.Len(t, plans, 3)

		main := plans[0]
		require.Equal(t, "https://cs-templates.s3.us-east-1.amazonaws.com/crowdstrike_aws_cspm.json", main.TemplateURL)
		// IOA is carried by the companion deployment, never the main one.
		require.Equal(t, "false", main.Parameters["EnableIOA"])

		eb := plans[1]
		require.Equal(t, "-EB", eb.Suffix)
		require.Equal(t, []string{"us-west-2"}, eb.Regions)
		require.Equal(t, "us-east-1", eb.Parameters["DefaultEventBusRegion"])

		ioa := plans[2]
		require.Equal(t, "-IOA", ioa.Suffix)
		require.Equal(t, []string{"us-east-1", "us-west-2"}, ioa.Regions)
		require.Equal(t, "client-cid-g", ioa.Parameters["ClientID"])
	})

	t.Run("single region skips the event forwarding companion", func(t *testing.T) {
		cfg := testConfig()
		cfg.Regions = []string{"us-east-1"}
		cfg.S3Bucket = "cs-templates"

		cred := tenantRecord("tenant-g", "cid-g", "ou-1")
		cred.Cloud = "us-gov-1"

		plans, err := buildPlan(cfg, cred, testRegistration())
		require.NoError(t, err)
		require.Len(t, plans, 2)
		require.Equal(t, "-IOA", plans[1].Suffix)
	})
}
