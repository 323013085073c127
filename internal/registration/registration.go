// Package registration registers AWS accounts with a CrowdStrike Falcon
// tenant via the Falcon APIs.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/crowdstrike/gofalcon/falcon"
	"github.com/crowdstrike/gofalcon/falcon/client"
	"github.com/crowdstrike/gofalcon/falcon/client/cloud_aws_registration"
	"github.com/crowdstrike/gofalcon/falcon/client/cspm_registration"
	"github.com/crowdstrike/gofalcon/falcon/models"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/credentials"
)

const userAgent = "cidsync/1.0.0"

// ErrRegistrationAPI indicates the Falcon registration call was rejected.
// Transient rejections (rate limiting) are retried with backoff before this
// surfaces.
var ErrRegistrationAPI = errors.New("falcon registration rejected")

// Registration holds the values returned by a successful tenant
// registration. The onboarding deployment parameters are built from these.
type Registration struct {
	IAMRoleName          string
	ExternalID           string
	CSRoleName           string
	CSAccountNumber      string
	EventBusName         string
	CloudTrailBucketName string
}

// Registrar registers accounts with a Falcon tenant.
type Registrar interface {
	Register(ctx context.Context, accountID string, cred *credentials.Record) (*Registration, error)

	// RegisterFeatures enables the identity protection product for an
	// already registered account.
	RegisterFeatures(ctx context.Context, accountID string, cred *credentials.Record) error
}

// FalconRegistrar implements Registrar against the Falcon cloud registration
// APIs. A fresh API client is built per tenant credential record.
type FalconRegistrar struct {
	cfg *config.Config
}

func NewFalconRegistrar(cfg *config.Config) *FalconRegistrar {
	return &FalconRegistrar{cfg: cfg}
}

// Register calls the CSPM registration API and extracts the deployment
// inputs from the response. Rate limited calls are retried with exponential
// backoff bounded by the invocation context.
func (r *FalconRegistrar) Register(ctx context.Context, accountID string, cred *credentials.Record) (*Registration, error) {
	apiClient, err := newFalconClient(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build falcon client for CID %s: %v", ErrRegistrationAPI, cred.CID, err)
	}

	cloudtrailRegion := ""
	if !r.cfg.UseExistingCloudTrail {
		cloudtrailRegion = r.cfg.CurrentRegion
	}

	body := &models.RegistrationAWSAccountCreateRequestExtV2{
		Resources: []*models.RegistrationAWSAccountExtV2{
			{
				AccountID:                 &accountID,
				AccountType:               r.cfg.AWSAccountType,
				CloudtrailRegion:          &cloudtrailRegion,
				BehaviorAssessmentEnabled: true,
				SensorManagementEnabled:   r.cfg.EnableSensorManagement,
				UseExistingCloudtrail:     r.cfg.UseExistingCloudTrail,
				DeploymentMethod:          "cloudformation-native",
			},
		},
	}

	account, err := backoff.Retry(ctx, func() (*models.DomainAWSAccountV2, error) {
		res, status, err := apiClient.CspmRegistration.CreateCSPMAwsAccount(&cspm_registration.CreateCSPMAwsAccountParams{
			Context: ctx,
			Body:    body,
		})
		if err != nil {
			return nil, classifyError(err)
		}
		if status != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrRegistrationAPI, status.Error()))
		}
		if res.Payload == nil || len(res.Payload.Resources) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("%w: empty registration response for account %s", ErrRegistrationAPI, accountID))
		}
		return res.Payload.Resources[0], nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	if err != nil {
		return nil, err
	}

	registration, err := fromAccount(account)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrRegistrationAPI, accountID, err)
	}

	log.Info().
		Str("account_id", accountID).
		Str("cid", cred.CID).
		Str("cs_account", registration.CSAccountNumber).
		Msg("Registered account with Falcon tenant")

	return registration, nil
}

// RegisterFeatures enables identity protection. Failures here do not undo
// the base registration; callers log and continue.
func (r *FalconRegistrar) RegisterFeatures(ctx context.Context, accountID string, cred *credentials.Record) error {
	apiClient, err := newFalconClient(ctx, cred)
	if err != nil {
		return fmt.Errorf("%w: failed to build falcon client for CID %s: %v", ErrRegistrationAPI, cred.CID, err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		res, status, err := apiClient.CloudAwsRegistration.CloudRegistrationAwsCreateAccount(
			&cloud_aws_registration.CloudRegistrationAwsCreateAccountParams{
				Context: ctx,
				Body: &models.RestAWSAccountCreateRequestExtv1{
					Resources: featureResources(accountID, r.cfg.AWSAccountType),
				},
			},
		)
		if err != nil {
			return struct{}{}, classifyError(err)
		}
		if status != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrRegistrationAPI, status.Error()))
		}
		if res.Payload == nil || len(res.Payload.Resources) == 0 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: empty feature registration response for account %s", ErrRegistrationAPI, accountID))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	if err != nil {
		return err
	}

	log.Info().Str("account_id", accountID).Str("cid", cred.CID).Msg("Registered identity protection features")

	return nil
}

// featureResources builds the identity protection product registration body
// for an account.
func featureResources(accountID, accountType string) []*models.RestCloudAWSAccountCreateExtV1 {
	product := "idp"
	return []*models.RestCloudAWSAccountCreateExtV1{
		{
			AccountID:   accountID,
			AccountType: accountType,
			IsMaster:    true,
			CspEvents:   true,
			Products: []*models.RestAccountProductRequestExtV1{
				{
					Product:  &product,
					Features: []string{"default"},
				},
			},
		},
	}
}

func newFalconClient(ctx context.Context, cred *credentials.Record) (*client.CrowdStrikeAPISpecification, error) {
	return falcon.NewClient(&falcon.ApiConfig{
		Cloud:             falcon.Cloud(cred.Cloud),
		ClientId:          cred.ClientID,
		ClientSecret:      cred.ClientSecret,
		UserAgentOverride: userAgent,
		Context:           ctx,
	})
}

// classifyError marks non-retryable rejections permanent so the backoff loop
// stops immediately; everything else is retried.
func classifyError(err error) error {
	switch err.(type) {
	case *cspm_registration.CreateCSPMAwsAccountForbidden:
		return backoff.Permanent(fmt.Errorf("%w: forbidden, check API scopes: %v", ErrRegistrationAPI, err))
	case *cspm_registration.CreateCSPMAwsAccountBadRequest:
		return backoff.Permanent(fmt.Errorf("%w: bad request: %v", ErrRegistrationAPI, err))
	case *cloud_aws_registration.CloudRegistrationAwsCreateAccountForbidden:
		return backoff.Permanent(fmt.Errorf("%w: forbidden, check API scopes: %v", ErrRegistrationAPI, err))
	case *cloud_aws_registration.CloudRegistrationAwsCreateAccountBadRequest:
		return backoff.Permanent(fmt.Errorf("%w: bad request: %v", ErrRegistrationAPI, err))
	}
	return fmt.Errorf("%w: %v", ErrRegistrationAPI, err)
}

// fromAccount extracts the deployment inputs from a registration response.
func fromAccount(account *models.DomainAWSAccountV2) (*Registration, error) {
	csAccountNumber, err := arnAccountID(account.IntermediateRoleArn)
	if err != nil {
		return nil, err
	}

	csRoleName, err := arnResourceName(account.IntermediateRoleArn)
	if err != nil {
		return nil, err
	}

	iamRoleName, err := arnResourceName(account.IamRoleArn)
	if err != nil {
		return nil, err
	}

	// Gov tenants return a comma separated list of event buses, the first
	// entry is the registration region's bus.
	eventBusName := account.EventbusName
	if i := strings.IndexByte(eventBusName, ','); i >= 0 {
		eventBusName = eventBusName[:i]
	}

	bucket := account.AwsCloudtrailBucketName
	if bucket == "" {
		bucket = "none"
	}

	return &Registration{
		IAMRoleName:          iamRoleName,
		ExternalID:           account.ExternalID,
		CSRoleName:           csRoleName,
		CSAccountNumber:      csAccountNumber,
		EventBusName:         eventBusName,
		CloudTrailBucketName: bucket,
	}, nil
}

// arnAccountID extracts the account field from an IAM role ARN, e.g.
// arn:aws:iam::123456789012:role/name.
func arnAccountID(arn string) (string, error) {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 || parts[4] == "" {
		return "", fmt.Errorf("malformed role ARN %q", arn)
	}
	return parts[4], nil
}

// arnResourceName extracts the final path element of a role ARN.
func arnResourceName(arn string) (string, error) {
	i := strings.LastIndexByte(arn, '/')
	if i < 0 || i == len(arn)-1 {
		return "", fmt.Errorf("malformed role ARN %q", arn)
	}
	return arn[i+1:], nil
}
