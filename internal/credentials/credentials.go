// Package credentials fetches and parses per-tenant Falcon API credential
// records from AWS Secrets Manager.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog/log"
)

// ErrCredential indicates a missing, malformed, or inaccessible credential
// record. The record is all-or-nothing: no partial record is ever returned.
var ErrCredential = errors.New("credential record unavailable")

// Record is a resolved per-tenant credential set.
type Record struct {
	ClientID     string
	ClientSecret string
	Cloud        string
	OUs          []string
	CID          string

	// SecretName is the stable per-tenant key the record was fetched by.
	SecretName string
}

// secretPayload is the JSON shape stored in Secrets Manager. OUs is a
// comma-separated list.
type secretPayload struct {
	FalconClientID string `json:"FalconClientId"`
	FalconSecret   string `json:"FalconSecret"`
	FalconCloud    string `json:"FalconCloud"`
	OUs            string `json:"OUs"`
	CID            string `json:"CID"`
}

// Store fetches tenant credential records.
type Store interface {
	Fetch(ctx context.Context, secretName string) (*Record, error)

	// List fetches every configured tenant record. Unreadable secrets are
	// skipped; the joined error reports them so callers can surface the
	// partial state.
	List(ctx context.Context) ([]*Record, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsStore implements Store over Secrets Manager with an
// invocation-scoped cache. Records never outlive the invocation.
type SecretsStore struct {
	client      SecretsManagerAPI
	secretNames []string

	mu    sync.Mutex
	cache map[string]*Record
}

func NewSecretsStore(client SecretsManagerAPI, secretNames []string) *SecretsStore {
	return &SecretsStore{
		client:      client,
		secretNames: secretNames,
		cache:       make(map[string]*Record),
	}
}

// Fetch retrieves and parses a single tenant record.
func (s *SecretsStore) Fetch(ctx context.Context, secretName string) (*Record, error) {
	s.mu.Lock()
	if record, ok := s.cache[secretName]; ok {
		s.mu.Unlock()
		return record, nil
	}
	s.mu.Unlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve secret %s: %v", ErrCredential, secretName, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		raw = out.SecretBinary
	default:
		return nil, fmt.Errorf("%w: secret %s has no value", ErrCredential, secretName)
	}

	record, err := parseRecord(secretName, raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[secretName] = record
	s.mu.Unlock()

	return record, nil
}

// List fetches all configured tenant records.
func (s *SecretsStore) List(ctx context.Context) ([]*Record, error) {
	var records []*Record
	var errs []error

	for _, name := range s.secretNames {
		record, err := s.Fetch(ctx, name)
		if err != nil {
			log.Error().Err(err).Str("secret", name).Msg("Failed to fetch tenant credential record")
			errs = append(errs, err)
			continue
		}
		records = append(records, record)
	}

	return records, errors.Join(errs...)
}

func parseRecord(secretName string, raw []byte) (*Record, error) {
	var payload secretPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: secret %s is not valid JSON: %v", ErrCredential, secretName, err)
	}

	if payload.FalconClientID == "" {
		return nil, fmt.Errorf("%w: secret %s missing required field FalconClientId", ErrCredential, secretName)
	}
	if payload.FalconSecret == "" {
		return nil, fmt.Errorf("%w: secret %s missing required field FalconSecret", ErrCredential, secretName)
	}
	if payload.FalconCloud == "" {
		return nil, fmt.Errorf("%w: secret %s missing required field FalconCloud", ErrCredential, secretName)
	}

	return &Record{
		ClientID:     payload.FalconClientID,
		ClientSecret: payload.FalconSecret,
		Cloud:        payload.FalconCloud,
		OUs:          splitList(payload.OUs),
		CID:          payload.CID,
		SecretName:   secretName,
	}, nil
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
