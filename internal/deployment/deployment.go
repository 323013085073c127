// Package deployment manages the per-account onboarding deployments,
// realized as CloudFormation StackSets.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions
var (
	ErrDeployment = errors.New("deployment operation failed")
	ErrThrottled  = errors.New("AWS request throttled")
)

// namePrefix is the deterministic deployment name prefix. The account id is
// appended, optionally followed by a companion suffix such as -EB or -IOA.
const namePrefix = "CrowdStrike-Cloud-Security-Stackset-"

// templateURLTag carries the template reference a deployment was created
// with. The update reconciler discovers managed deployments through it.
const templateURLTag = "template_url"

// Status of a per-account deployment.
type Status string

const (
	StatusAbsent        Status = "ABSENT"
	StatusCreating      Status = "CREATING"
	StatusActive        Status = "ACTIVE"
	StatusUpdatePending Status = "UPDATE_PENDING"
	StatusUpdating      Status = "UPDATING"
	StatusFailed        Status = "FAILED"
)

// Record describes one onboarding deployment.
type Record struct {
	Name        string
	AccountID   string
	TemplateURL string
	Parameters  map[string]string
	Status      Status
}

// Params is the desired state for one deployment.
type Params struct {
	// Suffix distinguishes companion deployments ("-EB", "-IOA") from the
	// main onboarding deployment (empty).
	Suffix      string
	TemplateURL string
	Parameters  map[string]string
	Regions     []string
}

// Manager idempotently drives per-account deployments toward desired state.
type Manager interface {
	// Ensure converges the named account's deployment on the given
	// parameters. Safe under concurrent invocations: it describes before
	// acting and treats a create conflict as success followed by parameter
	// reconciliation.
	Ensure(ctx context.Context, accountID string, params Params) (*Record, error)

	// List returns every deployment carrying this system's name prefix.
	// Records created by this system also carry the template reference in
	// TemplateURL; records without it were not tagged by this system.
	List(ctx context.Context) ([]*Record, error)

	// Update re-applies the given template reference to an existing
	// deployment, keeping all declared parameter values.
	Update(ctx context.Context, name string, templateURL string) error
}

// Name returns the deterministic deployment name for an account.
func Name(accountID, suffix string) string {
	return namePrefix + accountID + suffix
}

// AccountIDFromName recovers the account id from a deployment name.
func AccountIDFromName(name string) string {
	rest, ok := strings.CutPrefix(name, namePrefix)
	if !ok {
		return ""
	}
	// Strip any companion suffix.
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// Managed reports whether a deployment name belongs to this system.
func Managed(name string) bool {
	return strings.HasPrefix(name, namePrefix)
}

// Companion reports whether a deployment name carries a companion suffix.
// Companions ship fixed templates of their own and are never retargeted to
// the main onboarding template.
func Companion(name string) bool {
	rest, ok := strings.CutPrefix(name, namePrefix)
	if !ok {
		return false
	}
	return strings.IndexByte(rest, '-') >= 0
}

func wrapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	// AWS SDK v2 does not use typed errors for all throttling responses.
	errMsg := err.Error()
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "RequestLimitExceeded") ||
		strings.Contains(errMsg, "Throttling") {
		return fmt.Errorf("%s: %w: %v", msg, ErrThrottled, err)
	}

	return fmt.Errorf("%s: %w: %v", msg, ErrDeployment, err)
}
