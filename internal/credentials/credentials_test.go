package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	secrets map[string]string
	binary  map[string][]byte
	errs    map[string]error
	calls   int
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	name := aws.ToString(params.SecretId)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if value, ok := f.binary[name]; ok {
		return &secretsmanager.GetSecretValueOutput{SecretBinary: value}, nil
	}
	value, ok := f.secrets[name]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

const validSecret = `{"FalconClientId":"client-1","FalconSecret":"shh","FalconCloud":"us-1","OUs":"ou-1, ou-2","CID":"cid-a"}`

func TestSecretsStore_Fetch(t *testing.T) {
	t.Run("parses a full record", func(t *testing.T) {
		api := &fakeSecretsManager{secrets: map[string]string{"tenant-a": validSecret}}
		store := NewSecretsStore(api, []string{"tenant-a"})

		record, err := store.Fetch(context.Background(), "tenant-a")
		require.NoError(t, err)
		require.Equal(t, "client-1", record.ClientID)
		require.Equal(t, "shh", record.ClientSecret)
		require.Equal(t, "us-1", record.Cloud)
		require.Equal(t, []string{"ou-1", "ou-2"}, record.OUs)
		require.Equal(t, "cid-a", record.CID)
		require.Equal(t, "tenant-a", record.SecretName)
	})

	t.Run("parses a binary secret", func(t *testing.T) {
		api := &fakeSecretsManager{binary: map[string][]byte{"tenant-a": []byte(validSecret)}}
		store := NewSecretsStore(api, []string{"tenant-a"})

		record, err := store.Fetch(context.Background(), "tenant-a")
		require.NoError(t, err)
		require.Equal(t, "cid-a", record.CID)
	})

	t.Run("missing required field fails whole record", func(t *testing.T) {
		api := &fakeSecretsManager{secrets: map[string]string{
			"tenant-a": `{"FalconClientId":"client-1","FalconCloud":"us-1"}`,
		}}
		store := NewSecretsStore(api, []string{"tenant-a"})

		record, err := store.Fetch(context.Background(), "tenant-a")
		require.ErrorIs(t, err, ErrCredential)
		require.Nil(t, record)
	})

	t.Run("malformed JSON fails whole record", func(t *testing.T) {
		api := &fakeSecretsManager{secrets: map[string]string{"tenant-a": "not-json"}}
		store := NewSecretsStore(api, []string{"tenant-a"})

		_, err := store.Fetch(context.Background(), "tenant-a")
		require.ErrorIs(t, err, ErrCredential)
	})

	t.Run("access denied wraps ErrCredential", func(t *testing.T) {
		api := &fakeSecretsManager{errs: map[string]error{"tenant-a": errors.New("AccessDeniedException")}}
		store := NewSecretsStore(api, []string{"tenant-a"})

		_, err := store.Fetch(context.Background(), "tenant-a")
		require.ErrorIs(t, err, ErrCredential)
	})

	t.Run("second fetch is served from the invocation cache", func(t *testing.T) {
		api := &fakeSecretsManager{secrets: map[string]string{"tenant-a": validSecret}}
		store := NewSecretsStore(api, []string{"tenant-a"})

		_, err := store.Fetch(context.Background(), "tenant-a")
		require.NoError(t, err)
		_, err = store.Fetch(context.Background(), "tenant-a")
		require.NoError(t, err)
		require.Equal(t, 1, api.calls)
	})
}

func TestSecretsStore_List(t *testing.T) {
	t.Run("returns all configured records", func(t *testing.T) {
		api := &fakeSecretsManager{secrets: map[string]string{
			"tenant-a": validSecret,
			"tenant-b": `{"FalconClientId":"client-2","FalconSecret":"shh","FalconCloud":"us-2","OUs":"ou-9","CID":"cid-b"}`,
		}}
		store := NewSecretsStore(api, []string{"tenant-a", "tenant-b"})

		records, err := store.List(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 2)
	})

	t.Run("skips unreadable secrets and reports them", func(t *testing.T) {
		api := &fakeSecretsManager{secrets: map[string]string{"tenant-a": validSecret}}
		store := NewSecretsStore(api, []string{"tenant-a", "tenant-missing"})

		records, err := store.List(context.Background())
		require.ErrorIs(t, err, ErrCredential)
		require.Len(t, records, 1)
		require.Equal(t, "tenant-a", records[0].SecretName)
	})
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"ou-1", "ou-2"}, splitList("ou-1, ou-2"))
	require.Equal(t, []string{"ou-1"}, splitList("ou-1,"))
	require.Nil(t, splitList(""))
	require.Nil(t, splitList(" , "))
}
