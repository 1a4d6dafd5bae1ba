package exporter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clumpcli/internal/crunch"
	"clumpcli/internal/standardize"
)

func standardizedEngine(t *testing.T) *standardize.Engine {
	t.Helper()
	ds := crunch.New(crunch.Mass47)
	nominal := ds.NominalD4x

	noise := []float64{0.011, -0.007, 0.004, -0.009}
	k := 0
	add := func(sample string, d47, d47abs float64) {
		raw := 1.01*d47abs + 0.002*d47 - 0.85 + noise[k%len(noise)]
		k++
		ds.Add(&crunch.Analysis{
			Session: "S1", Sample: sample,
			Delta47: d47, D47Raw: raw,
		})
	}
	for _, d47 := range []float64{8, -6} {
		add("ETH-1", d47, nominal["ETH-1"])
		add("ETH-2", d47, nominal["ETH-2"])
		add("ETH-3", d47, nominal["ETH-3"])
		add("FOO", d47, 0.8)
	}

	eng := standardize.NewEngine(ds, standardize.WithMethod(standardize.Pooled))
	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)
	return eng
}

func TestTables(t *testing.T) {
	eng := standardizedEngine(t)
	tables := NewTables(eng)

	t.Run("analyses", func(t *testing.T) {
		headers, records := tables.Analyses()
		assert.Contains(t, headers, "D47")
		assert.Len(t, records, 8)
		assert.Len(t, records[0], len(headers))
	})

	t.Run("samples", func(t *testing.T) {
		headers, records := tables.Samples()
		require.Len(t, records, 4)
		assert.Equal(t, "Sample", headers[0])
		// Anchors carry no standard error column value.
		assert.Equal(t, "ETH-1", records[0][0])
		assert.Empty(t, records[0][5])
		// The unknown does.
		assert.Equal(t, "FOO", records[3][0])
		assert.NotEmpty(t, records[3][5])
	})

	t.Run("sessions", func(t *testing.T) {
		_, records := tables.Sessions()
		require.Len(t, records, 1)
		assert.Equal(t, "S1", records[0][0])
	})

	t.Run("correlations", func(t *testing.T) {
		headers, records, err := tables.SampleCorrel()
		require.NoError(t, err)
		assert.Equal(t, []string{"Sample", "FOO"}, headers)
		require.Len(t, records, 1)
		assert.Equal(t, "1.000000", records[0][1])
	})
}

func TestReport(t *testing.T) {
	eng := standardizedEngine(t)
	dir := t.TempDir()

	require.NoError(t, Report(dir, eng, nil))

	for _, name := range []string{
		"analyses.csv", "samples.csv", "sessions.csv",
		"sample_correl.csv", "sample_covar.csv", "report.xlsx",
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "samples.csv"))
	require.NoError(t, err)
	text := strings.TrimPrefix(string(data), "\xef\xbb\xbf")
	assert.Contains(t, text, "FOO")
	assert.Contains(t, text, "ETH-3")
}

func TestWriteCSVAppend(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(dir, nil)

	require.NoError(t, w.WriteSimpleCSV("t.csv", []string{"a", "b"}, [][]string{{"1", "2"}}))
	require.NoError(t, w.WriteCSV("t.csv", WriteOptions{
		Records: [][]string{{"3", "4"}},
		Append:  true,
	}))

	data, err := os.ReadFile(filepath.Join(dir, "t.csv"))
	require.NoError(t, err)
	text := strings.TrimPrefix(string(data), "\xef\xbb\xbf")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	assert.Len(t, lines, 3)
}
