package commands

import (
	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/shipper/internal/observability"
	"github.com/alvesdmateus/shipper/internal/pipeline"
)

// recordMetrics exports the run to the configured metrics file. Export
// failures are logged and never change the outcome of the run.
func (a *app) recordMetrics(run *pipeline.Run) {
	path := a.settings.Metrics.File
	if path == "" || run == nil || run.DryRun {
		return
	}

	m := observability.NewMetrics("")
	m.RecordRun(
		string(run.Kind),
		string(run.FailedStage()),
		run.Duration().Seconds(),
		float64(run.FinishedAt.Unix()),
	)

	if b := run.Build; b != nil {
		mode := "single"
		if len(b.Platforms) > 1 {
			mode = "multi"
		}
		m.RecordBuildDuration(mode, b.BuildDuration.Seconds())

		if s := b.Scan; s != nil {
			m.SetVulnerabilitiesFound("critical", float64(s.VulnCounts.Critical))
			m.SetVulnerabilitiesFound("high", float64(s.VulnCounts.High))
			m.SetVulnerabilitiesFound("medium", float64(s.VulnCounts.Medium))
			m.SetVulnerabilitiesFound("low", float64(s.VulnCounts.Low))
			m.SetVulnerabilitiesFound("unknown", float64(s.VulnCounts.Unknown))
		}
	}

	if err := m.WriteTextfile(path); err != nil {
		log.Warn().Err(err).Msg("Run metrics not exported")
		return
	}
	log.Debug().Str("path", path).Str("kind", string(run.Kind)).Msg("Run metrics exported")
}
