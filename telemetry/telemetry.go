// Package telemetry provides setup for reporting the localization spans and stats.
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// ReportingInterval is how often the development exporter prints what it has collected.
const ReportingInterval = 5 * time.Second

// SetupTelemetry sets up telemetry so spans and stats can be reported.
func SetupTelemetry() (perf.Exporter, error) {
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: ReportingInterval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}

	return exporter, nil
}
