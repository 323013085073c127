// Package updater propagates the currently configured onboarding template to
// every deployment previously created by this system.
package updater

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/cidsync/internal/config"
	"github.com/wolfeidau/cidsync/internal/deployment"
)

// Failure names one deployment that could not be updated.
type Failure struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Report is the aggregated result of an update pass.
type Report struct {
	Applied []string  `json:"applied"`
	Skipped []string  `json:"skipped"`
	Failed  []Failure `json:"failed"`
}

// Updater re-applies the in-force template reference across managed
// deployments. Running it twice with no template change applies nothing on
// the second run.
type Updater struct {
	cfg         *config.Config
	deployments deployment.Manager
}

func New(cfg *config.Config, deployments deployment.Manager) *Updater {
	return &Updater{cfg: cfg, deployments: deployments}
}

// Run scans managed deployments and updates every one whose recorded
// template reference differs from the configured one. A failure on one
// deployment does not block the others.
func (u *Updater) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	records, err := u.deployments.List(ctx)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		log.Warn().Msg("No managed deployments found to update")
		return report, nil
	}

	log.Info().Int("count", len(records)).Str("template_url", u.cfg.TemplateURL).Msg("Scanning deployments for template updates")

	for _, record := range records {
		if deployment.Companion(record.Name) {
			// Companions carry their own fixed templates.
			report.Skipped = append(report.Skipped, record.Name)
			continue
		}

		if record.TemplateURL == "" || record.TemplateURL == u.cfg.TemplateURL {
			// Not tagged by this system, or already current.
			report.Skipped = append(report.Skipped, record.Name)
			continue
		}

		if err := u.deployments.Update(ctx, record.Name, u.cfg.TemplateURL); err != nil {
			log.Error().Err(err).Str("stackset", record.Name).Msg("Failed to update deployment template")
			report.Failed = append(report.Failed, Failure{Name: record.Name, Message: err.Error()})
			continue
		}

		log.Info().Str("stackset", record.Name).Str("from", record.TemplateURL).Str("to", u.cfg.TemplateURL).Msg("Applied template update")
		report.Applied = append(report.Applied, record.Name)
	}

	return report, nil
}
