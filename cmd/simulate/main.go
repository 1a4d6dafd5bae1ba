package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"clumpcli/internal/crunch"
	"clumpcli/internal/exporter"
	"clumpcli/internal/simulate"
)

func main() {
	outPath := flag.String("out", "rawdata.csv", "output CSV file for the simulated raw analyses")
	sessions := flag.Int("sessions", 2, "number of sessions to simulate")
	anchorsN := flag.Int("anchors", 4, "replicates per anchor per session")
	unknownsN := flag.Int("unknowns", 6, "replicates per unknown per session")
	seed := flag.Uint64("seed", 0, "random seed (0 draws a fresh one)")
	mass48 := flag.Bool("mass48", false, "also vary the mass-48 instrument model between sessions")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *sessions < 1 {
		logger.Error("At least one session is required", slog.Int("sessions", *sessions))
		os.Exit(1)
	}

	specs := []simulate.SampleSpec{
		simulate.NewSampleSpec("ETH-1", *anchorsN),
		simulate.NewSampleSpec("ETH-2", *anchorsN),
		simulate.NewSampleSpec("ETH-3", *anchorsN),
	}
	foo := simulate.NewSampleSpec("FOO", *unknownsN)
	foo.D13CVPDB = -5
	foo.D18OVPDB = -10
	foo.D47 = 0.3
	foo.D48 = 0.15
	bar := simulate.NewSampleSpec("BAR", *unknownsN)
	bar.D13CVPDB = 2.5
	bar.D18OVPDB = -2
	bar.D47 = 0.6
	bar.D48 = 0.25
	specs = append(specs, foo, bar)

	var records []*crunch.Analysis
	for i := 0; i < *sessions; i++ {
		cfg := simulate.DefaultConfig()
		cfg.Session = fmt.Sprintf("Session%02d", i+1)
		if *seed != 0 {
			cfg.Seed = *seed + uint64(i)
		}
		// Drift the instrument model a little from session to session so
		// the sessions are distinguishable in the fit.
		cfg.A47 = 1 + 0.01*float64(i)
		cfg.C47 = -0.9 - 0.02*float64(i)
		if *mass48 {
			cfg.A48 = 1 + 0.015*float64(i)
			cfg.C48 = -0.45 - 0.03*float64(i)
		}

		data, err := simulate.SessionData(cfg, specs)
		if err != nil {
			logger.Error("Failed to simulate session",
				slog.String("session", cfg.Session), "error", err)
			os.Exit(1)
		}
		records = append(records, data...)
	}

	dir, file := filepath.Split(*outPath)
	if dir == "" {
		dir = "."
	}
	headers, rows := exporter.RawAnalyses(records)
	w := exporter.NewCSVWriter(dir, logger)
	if err := w.WriteSimpleCSV(file, headers, rows); err != nil {
		logger.Error("Failed to write simulated analyses", "error", err)
		os.Exit(1)
	}

	logger.Info("Simulated raw analyses written",
		slog.String("path", *outPath),
		slog.Int("sessions", *sessions),
		slog.Int("analyses", len(records)))
}
