// Package directory resolves account placement within the AWS Organization.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/rs/zerolog/log"
)

// ErrDirectory indicates the organization directory could not answer for an
// account. Callers must retry by re-invocation, never treat the account as
// unregistered.
var ErrDirectory = errors.New("organization directory error")

// Directory answers placement questions about accounts in the organization.
type Directory interface {
	// Ancestry returns the OU chain for an account, ordered root to
	// immediate parent. The organization root id is included.
	Ancestry(ctx context.Context, accountID string) ([]string, error)

	// ListAccounts returns the ids of every active account in the
	// organization.
	ListAccounts(ctx context.Context) ([]string, error)
}

// OrganizationsAPI is the subset of the AWS Organizations client this
// package uses.
type OrganizationsAPI interface {
	ListParents(ctx context.Context, params *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error)
	ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error)
}

// AWSDirectory implements Directory against AWS Organizations.
type AWSDirectory struct {
	client OrganizationsAPI
}

func NewAWSDirectory(client OrganizationsAPI) *AWSDirectory {
	return &AWSDirectory{client: client}
}

// Ancestry walks ListParents from the account upward until the organization
// root. AWS Organizations guarantees a single parent per child.
func (d *AWSDirectory) Ancestry(ctx context.Context, accountID string) ([]string, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrDirectory)
	}

	var chain []string
	child := accountID

	for {
		out, err := d.client.ListParents(ctx, &organizations.ListParentsInput{
			ChildId: aws.String(child),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list parents of %s: %v", ErrDirectory, child, err)
		}
		if len(out.Parents) == 0 {
			return nil, fmt.Errorf("%w: no parent found for %s", ErrDirectory, child)
		}

		parent := out.Parents[0]
		if parent.Id == nil {
			return nil, fmt.Errorf("%w: parent of %s has no id", ErrDirectory, child)
		}

		chain = append(chain, *parent.Id)
		if parent.Type == types.ParentTypeRoot {
			break
		}
		child = *parent.Id
	}

	// Walked nearest-first, callers expect root-first.
	reverse(chain)

	log.Debug().Str("account_id", accountID).Strs("ancestry", chain).Msg("Resolved account ancestry")

	return chain, nil
}

// ListAccounts pages through the organization and returns active accounts.
func (d *AWSDirectory) ListAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	var nextToken *string

	for {
		out, err := d.client.ListAccounts(ctx, &organizations.ListAccountsInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to list accounts: %v", ErrDirectory, err)
		}

		for _, account := range out.Accounts {
			if account.Status != types.AccountStatusActive || account.Id == nil {
				continue
			}
			accounts = append(accounts, *account.Id)
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	log.Debug().Int("count", len(accounts)).Msg("Enumerated organization accounts")

	return accounts, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
