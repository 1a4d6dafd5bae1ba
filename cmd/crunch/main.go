package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"clumpcli/internal/config"
	"clumpcli/internal/crunch"
	"clumpcli/internal/exporter"
	"clumpcli/internal/standardize"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	inPath := flag.String("in", "", "input CSV file of raw analyses (overrides the config)")
	outDir := flag.String("out", "", "output directory for report files (overrides the config)")
	method := flag.String("method", "", "standardization method: pooled or indep_sessions (overrides the config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *inPath != "" {
		cfg.Input.Path = *inPath
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *method != "" {
		cfg.Standardization.Method = *method
	}
	if cfg.Input.Path == "" {
		slog.Error("No input file: pass -in or set input.path in the config")
		os.Exit(1)
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)
	ctx := context.Background()

	logger.InfoContext(ctx, "Starting clumped-isotope processing",
		slog.String("input", cfg.Input.Path),
		slog.String("output_dir", cfg.Output.Dir),
		slog.String("mass", cfg.Mass),
		slog.String("method", cfg.Standardization.Method))

	records, err := crunch.ReadAnalysesFile(cfg.Input.Path)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read raw analyses", "error", err)
		os.Exit(1)
	}
	logger.InfoContext(ctx, "Loaded raw analyses", slog.Int("count", len(records)))

	ds := cfg.Dataset(logger)
	ds.Add(records...)

	cruncher := crunch.NewCruncher(ds, logger)
	if cfg.Standardization.InferWG {
		if err := cruncher.InferWorkingGas(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to infer working gas composition", "error", err)
			os.Exit(1)
		}
	}
	if err := cruncher.Crunch(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to crunch raw data", "error", err)
		os.Exit(1)
	}

	eng := standardize.NewEngine(ds, cfg.EngineOptions(logger)...)

	split := cfg.Standardization.Split
	if split.Enabled() {
		samples := split.Samples
		if len(samples) == 0 {
			samples = nil // all unknowns
		}
		err := eng.SplitSamples(samples, standardize.Grouping(split.Grouping))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to split samples", "error", err)
			os.Exit(1)
		}
	}

	if _, err := eng.Standardize(ctx); err != nil {
		logger.ErrorContext(ctx, "Standardization failed", "error", err)
		os.Exit(1)
	}

	if split.Enabled() && split.Unsplit {
		if cfg.Standardization.Method != string(standardize.Pooled) {
			logger.WarnContext(ctx, "Skipping unsplit: requires the pooled method")
		} else if err := eng.UnsplitSamples(); err != nil {
			logger.ErrorContext(ctx, "Failed to unsplit samples", "error", err)
			os.Exit(1)
		}
	}

	if err := exporter.Report(cfg.Output.Dir, eng, logger); err != nil {
		logger.ErrorContext(ctx, "Failed to write report files", "error", err)
		os.Exit(1)
	}

	logger.InfoContext(ctx, "Processing complete",
		slog.String("output_dir", cfg.Output.Dir))
}
