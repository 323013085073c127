package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/stretchr/testify/require"
)

type fakeOrganizations struct {
	// parents maps child id to its single parent.
	parents map[string]types.Parent
	// pages of accounts returned by ListAccounts.
	pages [][]types.Account
	err   error

	page int
}

func (f *fakeOrganizations) ListParents(ctx context.Context, params *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	parent, ok := f.parents[aws.ToString(params.ChildId)]
	if !ok {
		return &organizations.ListParentsOutput{}, nil
	}
	return &organizations.ListParentsOutput{Parents: []types.Parent{parent}}, nil
}

func (f *fakeOrganizations) ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.page >= len(f.pages) {
		return &organizations.ListAccountsOutput{}, nil
	}
	out := &organizations.ListAccountsOutput{Accounts: f.pages[f.page]}
	f.page++
	if f.page < len(f.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func ouParent(id string) types.Parent {
	return types.Parent{Id: aws.String(id), Type: types.ParentTypeOrganizationalUnit}
}

func rootParent(id string) types.Parent {
	return types.Parent{Id: aws.String(id), Type: types.ParentTypeRoot}
}

func TestAWSDirectory_Ancestry(t *testing.T) {
	t.Run("returns chain root first", func(t *testing.T) {
		api := &fakeOrganizations{parents: map[string]types.Parent{
			"111111111111": ouParent("ou-5"),
			"ou-5":         ouParent("ou-1"),
			"ou-1":         rootParent("r-abcd"),
		}}
		dir := NewAWSDirectory(api)

		chain, err := dir.Ancestry(context.Background(), "111111111111")
		require.NoError(t, err)
		require.Equal(t, []string{"r-abcd", "ou-1", "ou-5"}, chain)
	})

	t.Run("account directly under root", func(t *testing.T) {
		api := &fakeOrganizations{parents: map[string]types.Parent{
			"111111111111": rootParent("r-abcd"),
		}}
		dir := NewAWSDirectory(api)

		chain, err := dir.Ancestry(context.Background(), "111111111111")
		require.NoError(t, err)
		require.Equal(t, []string{"r-abcd"}, chain)
	})

	t.Run("unknown account is a directory error", func(t *testing.T) {
		dir := NewAWSDirectory(&fakeOrganizations{parents: map[string]types.Parent{}})

		_, err := dir.Ancestry(context.Background(), "999999999999")
		require.ErrorIs(t, err, ErrDirectory)
	})

	t.Run("unreachable service is a directory error", func(t *testing.T) {
		dir := NewAWSDirectory(&fakeOrganizations{err: errors.New("connection refused")})

		_, err := dir.Ancestry(context.Background(), "111111111111")
		require.ErrorIs(t, err, ErrDirectory)
	})

	t.Run("empty account id rejected", func(t *testing.T) {
		dir := NewAWSDirectory(&fakeOrganizations{})

		_, err := dir.Ancestry(context.Background(), "")
		require.ErrorIs(t, err, ErrDirectory)
	})
}

func TestAWSDirectory_ListAccounts(t *testing.T) {
	t.Run("pages through and keeps only active accounts", func(t *testing.T) {
		api := &fakeOrganizations{pages: [][]types.Account{
			{
				{Id: aws.String("111111111111"), Status: types.AccountStatusActive},
				{Id: aws.String("222222222222"), Status: types.AccountStatusSuspended},
			},
			{
				{Id: aws.String("333333333333"), Status: types.AccountStatusActive},
			},
		}}
		dir := NewAWSDirectory(api)

		accounts, err := dir.ListAccounts(context.Background())
		require.NoError(t, err)
		require.Equal(t, []string{"111111111111", "333333333333"}, accounts)
	})

	t.Run("service failure is a directory error", func(t *testing.T) {
		dir := NewAWSDirectory(&fakeOrganizations{err: errors.New("throttled")})

		_, err := dir.ListAccounts(context.Background())
		require.ErrorIs(t, err, ErrDirectory)
	})
}
