package exporter

import (
	"fmt"
	"log/slog"

	"clumpcli/internal/standardize"
)

// Report writes the full set of output files for one standardization run:
// analyses, samples and sessions tables, the sample correlation and
// covariance matrices, and a combined workbook.
func Report(dir string, eng *standardize.Engine, logger *slog.Logger) error {
	cw := NewCSVWriter(dir, logger)
	tables := NewTables(eng)

	headers, records := tables.Analyses()
	if err := cw.WriteSimpleCSV("analyses.csv", headers, records); err != nil {
		return fmt.Errorf("analyses table: %w", err)
	}
	headers, records = tables.Samples()
	if err := cw.WriteSimpleCSV("samples.csv", headers, records); err != nil {
		return fmt.Errorf("samples table: %w", err)
	}
	headers, records = tables.Sessions()
	if err := cw.WriteSimpleCSV("sessions.csv", headers, records); err != nil {
		return fmt.Errorf("sessions table: %w", err)
	}

	headers, records, err := tables.SampleCorrel()
	if err != nil {
		return fmt.Errorf("sample correlations: %w", err)
	}
	if err := cw.WriteSimpleCSV("sample_correl.csv", headers, records); err != nil {
		return fmt.Errorf("sample correlations: %w", err)
	}
	headers, records, err = tables.SampleCovar()
	if err != nil {
		return fmt.Errorf("sample covariances: %w", err)
	}
	if err := cw.WriteSimpleCSV("sample_covar.csv", headers, records); err != nil {
		return fmt.Errorf("sample covariances: %w", err)
	}

	return NewWorkbookWriter(dir, logger).Write("report.xlsx", eng)
}
