// Package reconciler drives single-account and full-organization
// registration runs.
package reconciler

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/credentials"
	"github.com/wolfeidau/cidsync/internal/deployment"
	"github.com/wolfeidau/cidsync/internal/directory"
	"github.com/wolfeidau/cidsync/internal/registration"
	"github.com/wolfeidau/cidsync/internal/resolver"
)

// MoveEvent is a single-account reconciliation trigger, raised when an
// account moves between OUs.
type MoveEvent struct {
	AccountID     string
	DestinationOU string
	SourceOU      string
}

// Dispatcher wires the reconciliation pipeline together. Each invocation is
// stateless; everything is re-fetched per run.
type Dispatcher struct {
	cfg         *config.Config
	dir         directory.Directory
	creds       credentials.Store
	registrar   registration.Registrar
	deployments deployment.Manager
}

func NewDispatcher(cfg *config.Config, dir directory.Directory, creds credentials.Store, registrar registration.Registrar, deployments deployment.Manager) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		dir:         dir,
		creds:       creds,
		registrar:   registrar,
		deployments: deployments,
	}
}

// HandleMove reconciles a single account after an OU move. The event's
// destination OU is informational only: the account's ancestry is re-read at
// apply time, so a stale event delivered late cannot regress the account to
// an old tenant.
func (d *Dispatcher) HandleMove(ctx context.Context, ev MoveEvent) *Report {
	log.Info().
		Str("account_id", ev.AccountID).
		Str("destination_ou", ev.DestinationOU).
		Msg("Reconciling moved account")

	report := &Report{}

	set, err := d.tenantMappings(ctx, report, ev.AccountID)
	if err != nil {
		return report.finish()
	}

	d.reconcileAccount(ctx, ev.AccountID, set, report)

	return report.finish()
}

// RegisterAll reconciles every active account in the organization,
// continuing past per-account failures.
func (d *Dispatcher) RegisterAll(ctx context.Context) *Report {
	log.Info().Msg("Reconciling all organization accounts")

	report := &Report{}

	set, err := d.tenantMappings(ctx, report, "")
	if err != nil {
		return report.finish()
	}

	accounts, err := d.dir.ListAccounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enumerate organization accounts")
		report.addFailure("", KindDirectory, err.Error())
		return report.finish()
	}

	for _, accountID := range accounts {
		if ctx.Err() != nil {
			// Out of budget. Accounts processed so far are consistent; the
			// remainder is picked up by re-invocation.
			log.Warn().Int("remaining", len(accounts)-len(report.Succeeded)-len(report.Unmatched)-len(report.Failed)).
				Msg("Execution budget exhausted, stopping batch")
			break
		}
		d.reconcileAccount(ctx, accountID, set, report)
	}

	log.Info().
		Int("succeeded", len(report.Succeeded)).
		Int("unmatched", len(report.Unmatched)).
		Int("failed", len(report.Failed)).
		Msg("Bulk reconciliation finished")

	return report.finish()
}

// mappingSet is the outcome of loading tenant mappings. degraded carries the
// load failures for secrets that could not be read; while it is set, an
// account matching no mapping cannot be proven unowned, the failed secret
// may claim its OU.
type mappingSet struct {
	mappings []resolver.Mapping
	degraded error
}

// tenantMappings loads and validates the configured tenant mappings. A
// configuration error (overlapping OU ownership) fails the run before any
// account is touched.
func (d *Dispatcher) tenantMappings(ctx context.Context, report *Report, accountID string) (*mappingSet, error) {
	records, err := d.creds.List(ctx)
	if err != nil && len(records) == 0 {
		log.Error().Err(err).Msg("No tenant credential records available")
		report.addFailure(accountID, KindCredential, err.Error())
		return nil, err
	}
	if err != nil {
		log.Warn().Err(err).Msg("Some tenant credential records unavailable, continuing with the rest")
	}

	mappings := resolver.FromRecords(records)
	if verr := resolver.ValidateMappings(mappings); verr != nil {
		log.Error().Err(verr).Msg("Tenant mapping configuration invalid")
		report.addFailure(accountID, KindConfig, verr.Error())
		return nil, verr
	}

	return &mappingSet{mappings: mappings, degraded: err}, nil
}

// reconcileAccount runs the full pipeline for one account and files the
// outcome in exactly one report bucket.
func (d *Dispatcher) reconcileAccount(ctx context.Context, accountID string, set *mappingSet, report *Report) {
	ancestry, err := d.dir.Ancestry(ctx, accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Failed to resolve account ancestry")
		report.addFailure(accountID, KindDirectory, err.Error())
		return
	}

	mapping, matched := resolver.Resolve(ancestry, set.mappings)
	if !matched {
		if set.degraded != nil {
			// A secret that failed to load may own this account's OU.
			// Filing it as unmatched would orphan it permanently; a
			// credential failure is retried next run.
			log.Error().Err(set.degraded).Str("account_id", accountID).Msg("Account unmatched while tenant credentials are missing")
			report.addFailure(accountID, KindCredential, set.degraded.Error())
			return
		}
		log.Debug().Str("account_id", accountID).Msg("Account not owned by any tenant mapping, skipping")
		report.addUnmatched(accountID)
		return
	}

	// Re-fetch the credential record at use time. The mapping only proves
	// ownership; the secret may have been rotated or revoked since the
	// mapping pass, and a partial record must never reach registration.
	cred, err := d.creds.Fetch(ctx, mapping.Credentials.SecretName)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Str("cid", mapping.CID).Msg("Tenant credentials unavailable")
		report.addFailure(accountID, KindCredential, err.Error())
		return
	}

	reg, err := d.registrar.Register(ctx, accountID, cred)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Str("cid", mapping.CID).Msg("Falcon registration failed")
		report.addFailure(accountID, classify(err), err.Error())
		return
	}

	if d.cfg.EnableIDP {
		if err := d.registrar.RegisterFeatures(ctx, accountID, cred); err != nil {
			// Feature registration is best effort, the base registration
			// stands either way.
			log.Error().Err(err).Str("account_id", accountID).Msg("Identity protection registration failed")
		}
	}

	plans, err := buildPlan(d.cfg, cred, reg)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Unsupported cloud configuration")
		report.addFailure(accountID, KindConfig, err.Error())
		return
	}

	for _, plan := range plans {
		if _, err := d.deployments.Ensure(ctx, accountID, plan); err != nil {
			log.Error().Err(err).Str("account_id", accountID).Str("suffix", plan.Suffix).Msg("Failed to ensure deployment")
			report.addFailure(accountID, classify(err), err.Error())
			return
		}
	}

	log.Info().Str("account_id", accountID).Str("cid", mapping.CID).Msg("Account reconciled")
	report.addSuccess(accountID)
}

// classify maps pipeline errors onto failure kinds.
func classify(err error) Kind {
	switch {
	case errors.Is(err, directory.ErrDirectory):
		return KindDirectory
	case errors.Is(err, credentials.ErrCredential):
		return KindCredential
	case errors.Is(err, registration.ErrRegistrationAPI):
		return KindRegistrationAPI
	default:
		return KindDeployment
	}
}
