package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"clumpcli/internal/standardize"
)

// WorkbookWriter renders the full standardization report as a single
// spreadsheet with one sheet per table plus a run summary.
type WorkbookWriter struct {
	dir    string
	logger *slog.Logger
}

// NewWorkbookWriter creates a workbook writer rooted at dir.
func NewWorkbookWriter(dir string, logger *slog.Logger) *WorkbookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkbookWriter{dir: dir, logger: logger}
}

// Write saves the report workbook under the given file name.
func (w *WorkbookWriter) Write(name string, eng *standardize.Engine) error {
	fullPath := filepath.Join(w.dir, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := w.writeSummary(f, eng); err != nil {
		return err
	}

	tables := NewTables(eng)
	headers, records := tables.Samples()
	if err := writeSheet(f, "Samples", headers, records); err != nil {
		return err
	}
	headers, records = tables.Sessions()
	if err := writeSheet(f, "Sessions", headers, records); err != nil {
		return err
	}
	headers, records = tables.Analyses()
	if err := writeSheet(f, "Analyses", headers, records); err != nil {
		return err
	}
	headers, records, err := tables.SampleCorrel()
	if err != nil {
		return err
	}
	if err := writeSheet(f, "Correlations", headers, records); err != nil {
		return err
	}

	if err := f.SaveAs(fullPath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	w.logger.Info("wrote report workbook", slog.String("path", fullPath))
	return nil
}

func (w *WorkbookWriter) writeSummary(f *excelize.File, eng *standardize.Engine) error {
	const sheet = "Summary"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}

	res := eng.Result()
	ds := eng.Dataset()
	rep := eng.Repeatability
	rows := [][]any{
		{"run_id", res.ID.String()},
		{"method", string(res.Method)},
		{"mass", ds.Mass.String()},
		{"analyses", len(ds.Analyses)},
		{"sessions", len(ds.SessionNames())},
		{"samples", len(ds.SampleNames())},
		{"anchors", len(ds.AnchorNames())},
		{"unknowns", len(ds.UnknownNames())},
		{"degrees_of_freedom", res.Nf},
		{"t95", res.T95},
		{"r_d13C_VPDB", rep.Rd13C},
		{"r_d18O_VSMOW", rep.Rd18O},
		{"r_D" + ds.Mass.String() + "_anchors", rep.RD4xAnchors},
		{"r_D" + ds.Mass.String() + "_unknowns", rep.RD4xUnknowns},
		{"r_D" + ds.Mass.String(), rep.RD4x},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, records [][]string) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %q: %w", sheet, err)
	}

	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
		return fmt.Errorf("write %q headers: %w", sheet, err)
	}

	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := make([]any, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %q row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
