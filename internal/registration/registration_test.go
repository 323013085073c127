package registration

import (
	"testing"

	"github.com/crowdstrike/gofalcon/falcon/models"
	"github.com/stretchr/testify/require"
)

func TestARNHelpers(t *testing.T) {
	t.Run("extracts account and resource from role ARN", func(t *testing.T) {
		arn := "arn:aws:iam::292230061137:role/CrowdStrikeCSPMConnector"

		accountID, err := arnAccountID(arn)
		require.NoError(t, err)
		require.Equal(t, "292230061137", accountID)

		name, err := arnResourceName(arn)
		require.NoError(t, err)
		require.Equal(t, "CrowdStrikeCSPMConnector", name)
	})

	t.Run("extracts last path element from nested role path", func(t *testing.T) {
		name, err := arnResourceName("arn:aws:iam::292230061137:role/service/CrowdStrikeCSPMReader")
		require.NoError(t, err)
		require.Equal(t, "CrowdStrikeCSPMReader", name)
	})

	t.Run("rejects malformed ARNs", func(t *testing.T) {
		for _, arn := range []string{"", "not-an-arn", "arn:aws:iam:::role/name"} {
			_, err := arnAccountID(arn)
			require.Error(t, err, "arn %q", arn)
		}

		_, err := arnResourceName("arn:aws:iam::123456789012:role/")
		require.Error(t, err)
		_, err = arnResourceName("no-path-separator")
		require.Error(t, err)
	})
}

func TestFeatureResources(t *testing.T) {
	resources := featureResources("111111111111", "commercial")
	require.Len(t, resources, 1)

	account := resources[0]
	require.Equal(t, "111111111111", account.AccountID)
	require.Equal(t, "commercial", account.AccountType)
	require.True(t, account.IsMaster)
	require.True(t, account.CspEvents)
	require.Len(t, account.Products, 1)
	require.Equal(t, "idp", *account.Products[0].Product)
	require.Equal(t, []string{"default"}, account.Products[0].Features)
}

func TestFromAccount(t *testing.T) {
	t.Run("builds deployment inputs from a registration response", func(t *testing.T) {
		reg, err := fromAccount(&models.DomainAWSAccountV2{
			ExternalID:              "ext-id",
			IamRoleArn:              "arn:aws:iam::111111111111:role/CrowdStrikeCSPMReader",
			IntermediateRoleArn:     "arn:aws:iam::292230061137:role/CrowdStrikeCSPMConnector",
			EventbusName:            "cs-eventbus",
			AwsCloudtrailBucketName: "cs-trail-bucket",
		})
		require.NoError(t, err)

		require.Equal(t, "CrowdStrikeCSPMReader", reg.IAMRoleName)
		require.Equal(t, "ext-id", reg.ExternalID)
		require.Equal(t, "CrowdStrikeCSPMConnector", reg.CSRoleName)
		require.Equal(t, "292230061137", reg.CSAccountNumber)
		require.Equal(t, "cs-eventbus", reg.EventBusName)
		require.Equal(t, "cs-trail-bucket", reg.CloudTrailBucketName)
	})

	t.Run("takes the first bus from a gov event bus list", func(t *testing.T) {
		reg, err := fromAccount(&models.DomainAWSAccountV2{
			IamRoleArn:          "arn:aws:iam::111111111111:role/CrowdStrikeCSPMReader",
			IntermediateRoleArn: "arn:aws:iam::292230061137:role/CrowdStrikeCSPMConnector",
			EventbusName:        "cs-bus-east,cs-bus-west",
		})
		require.NoError(t, err)
		require.Equal(t, "cs-bus-east", reg.EventBusName)
	})

	t.Run("defaults missing cloudtrail bucket", func(t *testing.T) {
		reg, err := fromAccount(&models.DomainAWSAccountV2{
			IamRoleArn:          "arn:aws:iam::111111111111:role/CrowdStrikeCSPMReader",
			IntermediateRoleArn: "arn:aws:iam::292230061137:role/CrowdStrikeCSPMConnector",
		})
		require.NoError(t, err)
		require.Equal(t, "none", reg.CloudTrailBucketName)
	})

	t.Run("rejects a response without role ARNs", func(t *testing.T) {
		_, err := fromAccount(&models.DomainAWSAccountV2{ExternalID: "ext-id"})
		require.Error(t, err)
	})
}
