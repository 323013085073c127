package deployment

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StackSetAPI is the subset of the CloudFormation client this package uses.
type StackSetAPI interface {
	CreateStackSet(ctx context.Context, params *cloudformation.CreateStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackSetOutput, error)
	UpdateStackSet(ctx context.Context, params *cloudformation.UpdateStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackSetOutput, error)
	DescribeStackSet(ctx context.Context, params *cloudformation.DescribeStackSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackSetOutput, error)
	CreateStackInstances(ctx context.Context, params *cloudformation.CreateStackInstancesInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackInstancesOutput, error)
	ListStackSets(ctx context.Context, params *cloudformation.ListStackSetsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ListStackSetsOutput, error)
}

// StackSetManagerConfig holds the configuration for StackSetManager.
type StackSetManagerConfig struct {
	AdminRoleARN  string
	ExecRoleName  string
	DefaultRegion string
}

// StackSetManager implements Manager using CloudFormation StackSets.
type StackSetManager struct {
	client StackSetAPI
	cfg    StackSetManagerConfig
}

func NewStackSetManager(client StackSetAPI, cfg StackSetManagerConfig) *StackSetManager {
	return &StackSetManager{client: client, cfg: cfg}
}

// Ensure converges the account's deployment on the desired parameters.
// Describe-before-act: two concurrent reconciliations for the same account
// converge because the second create observes the first and falls through to
// parameter reconciliation.
func (m *StackSetManager) Ensure(ctx context.Context, accountID string, params Params) (*Record, error) {
	name := Name(accountID, params.Suffix)

	existing, err := m.describe(ctx, name)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return m.reconcile(ctx, name, accountID, existing, params)
	}

	record, err := m.create(ctx, name, accountID, params)
	if err == nil || !isAlreadyExists(err) {
		return record, err
	}

	// A concurrent reconciliation created the deployment between our
	// describe and create. Treat as success and reconcile parameters.
	log.Warn().Str("stackset", name).Msg("StackSet created concurrently, reconciling parameters")

	existing, err = m.describe(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: stackset %s vanished after create conflict", ErrDeployment, name)
	}

	return m.reconcile(ctx, name, accountID, existing, params)
}

func (m *StackSetManager) create(ctx context.Context, name, accountID string, params Params) (*Record, error) {
	regions := params.Regions
	if len(regions) == 0 {
		regions = []string{m.cfg.DefaultRegion}
	}

	_, err := m.client.CreateStackSet(ctx, &cloudformation.CreateStackSetInput{
		StackSetName:          aws.String(name),
		Description:           aws.String(fmt.Sprintf("StackSet to onboard account %s with CrowdStrike", accountID)),
		TemplateURL:           aws.String(params.TemplateURL),
		Parameters:            toParameters(params.Parameters),
		Capabilities:          []types.Capability{types.CapabilityCapabilityNamedIam},
		AdministrationRoleARN: aws.String(m.cfg.AdminRoleARN),
		ExecutionRoleName:     aws.String(m.cfg.ExecRoleName),
		PermissionModel:       types.PermissionModelsSelfManaged,
		CallAs:                types.CallAsSelf,
		Tags: []types.Tag{
			{Key: aws.String(templateURLTag), Value: aws.String(params.TemplateURL)},
		},
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil, err
		}
		return nil, wrapError(err, fmt.Sprintf("failed to create stackset %s", name))
	}

	_, err = m.client.CreateStackInstances(ctx, &cloudformation.CreateStackInstancesInput{
		StackSetName: aws.String(name),
		Accounts:     []string{accountID},
		Regions:      regions,
		OperationPreferences: &types.StackSetOperationPreferences{
			FailureTolerancePercentage: aws.Int32(100),
			MaxConcurrentPercentage:    aws.Int32(100),
			ConcurrencyMode:            types.ConcurrencyModeSoftFailureTolerance,
		},
		OperationId: aws.String(uuid.Must(uuid.NewV7()).String()),
		CallAs:      types.CallAsSelf,
	})
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("failed to create stack instances for %s", name))
	}

	log.Info().Str("stackset", name).Strs("regions", regions).Msg("Created stackset")

	return &Record{
		Name:        name,
		AccountID:   accountID,
		TemplateURL: params.TemplateURL,
		Parameters:  params.Parameters,
		Status:      StatusCreating,
	}, nil
}

// reconcile brings an existing deployment in line with the desired state.
// A second Ensure with identical parameters is a no-op.
func (m *StackSetManager) reconcile(ctx context.Context, name, accountID string, existing *Record, params Params) (*Record, error) {
	if existing.TemplateURL == params.TemplateURL && parametersEqual(existing.Parameters, params.Parameters) {
		log.Debug().Str("stackset", name).Msg("StackSet already current")
		existing.AccountID = accountID
		existing.Status = StatusActive
		return existing, nil
	}

	_, err := m.client.UpdateStackSet(ctx, &cloudformation.UpdateStackSetInput{
		StackSetName:          aws.String(name),
		TemplateURL:           aws.String(params.TemplateURL),
		Parameters:            toParameters(params.Parameters),
		Capabilities:          []types.Capability{types.CapabilityCapabilityNamedIam},
		AdministrationRoleARN: aws.String(m.cfg.AdminRoleARN),
		ExecutionRoleName:     aws.String(m.cfg.ExecRoleName),
		CallAs:                types.CallAsSelf,
		OperationId:           aws.String(uuid.Must(uuid.NewV7()).String()),
		Tags: []types.Tag{
			{Key: aws.String(templateURLTag), Value: aws.String(params.TemplateURL)},
		},
	})
	if err != nil {
		return nil, wrapError(err, fmt.Sprintf("failed to update stackset %s", name))
	}

	log.Info().Str("stackset", name).Str("template_url", params.TemplateURL).Msg("Updated stackset")

	return &Record{
		Name:        name,
		AccountID:   accountID,
		TemplateURL: params.TemplateURL,
		Parameters:  params.Parameters,
		Status:      StatusUpdating,
	}, nil
}

// List pages through active stacksets and returns the ones carrying the
// template reference tag.
func (m *StackSetManager) List(ctx context.Context) ([]*Record, error) {
	var records []*Record
	var nextToken *string

	for {
		out, err := m.client.ListStackSets(ctx, &cloudformation.ListStackSetsInput{
			Status:    types.StackSetStatusActive,
			NextToken: nextToken,
		})
		if err != nil {
			return nil, wrapError(err, "failed to list stacksets")
		}

		for _, summary := range out.Summaries {
			if summary.StackSetName == nil || !Managed(*summary.StackSetName) {
				continue
			}

			record, err := m.describe(ctx, *summary.StackSetName)
			if err != nil {
				log.Warn().Err(err).Str("stackset", *summary.StackSetName).Msg("Failed to describe stackset, skipping")
				continue
			}
			if record == nil {
				continue
			}
			records = append(records, record)
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	return records, nil
}

// Update re-applies a template reference, keeping every declared parameter
// at its previous value.
func (m *StackSetManager) Update(ctx context.Context, name string, templateURL string) error {
	out, err := m.client.DescribeStackSet(ctx, &cloudformation.DescribeStackSetInput{
		StackSetName: aws.String(name),
		CallAs:       types.CallAsSelf,
	})
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to describe stackset %s", name))
	}
	if out.StackSet == nil {
		return fmt.Errorf("%w: stackset %s not found", ErrDeployment, name)
	}

	previous := make([]types.Parameter, 0, len(out.StackSet.Parameters))
	for _, param := range out.StackSet.Parameters {
		previous = append(previous, types.Parameter{
			ParameterKey:     param.ParameterKey,
			UsePreviousValue: aws.Bool(true),
		})
	}

	_, err = m.client.UpdateStackSet(ctx, &cloudformation.UpdateStackSetInput{
		StackSetName:          aws.String(name),
		TemplateURL:           aws.String(templateURL),
		Parameters:            previous,
		Capabilities:          []types.Capability{types.CapabilityCapabilityNamedIam},
		AdministrationRoleARN: aws.String(m.cfg.AdminRoleARN),
		ExecutionRoleName:     aws.String(m.cfg.ExecRoleName),
		CallAs:                types.CallAsSelf,
		OperationId:           aws.String(uuid.Must(uuid.NewV7()).String()),
		Tags: []types.Tag{
			{Key: aws.String(templateURLTag), Value: aws.String(templateURL)},
		},
	})
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to update stackset %s", name))
	}

	log.Info().Str("stackset", name).Str("template_url", templateURL).Msg("Re-applied template to stackset")

	return nil
}

// describe returns the current state of a stackset, or nil when it does not
// exist.
func (m *StackSetManager) describe(ctx context.Context, name string) (*Record, error) {
	out, err := m.client.DescribeStackSet(ctx, &cloudformation.DescribeStackSetInput{
		StackSetName: aws.String(name),
		CallAs:       types.CallAsSelf,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, wrapError(err, fmt.Sprintf("failed to describe stackset %s", name))
	}
	if out.StackSet == nil {
		return nil, nil
	}

	record := &Record{
		Name:       name,
		AccountID:  AccountIDFromName(name),
		Parameters: fromParameters(out.StackSet.Parameters),
		Status:     StatusActive,
	}

	for _, tag := range out.StackSet.Tags {
		if tag.Key != nil && *tag.Key == templateURLTag && tag.Value != nil {
			record.TemplateURL = *tag.Value
		}
	}

	return record, nil
}

func isAlreadyExists(err error) bool {
	var alreadyExists *types.NameAlreadyExistsException
	return errors.As(err, &alreadyExists)
}

func isNotFound(err error) bool {
	var notFound *types.StackSetNotFoundException
	return errors.As(err, &notFound)
}

func toParameters(params map[string]string) []types.Parameter {
	out := make([]types.Parameter, 0, len(params))
	for key, value := range params {
		out = append(out, types.Parameter{
			ParameterKey:     aws.String(key),
			ParameterValue:   aws.String(value),
			UsePreviousValue: aws.Bool(false),
		})
	}
	return out
}

func fromParameters(params []types.Parameter) map[string]string {
	out := make(map[string]string, len(params))
	for _, param := range params {
		if param.ParameterKey == nil || param.ParameterValue == nil {
			continue
		}
		out[*param.ParameterKey] = *param.ParameterValue
	}
	return out
}

func parametersEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if b[key] != value {
			return false
		}
	}
	return true
}
