package crunch

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// column headers recognized by ReadAnalyses. Header matching is exact and
// case-sensitive; unrecognized columns are ignored.
const (
	colUID     = "UID"
	colSession = "Session"
	colSample  = "Sample"
	colTimeTag = "TimeTag"
	colD17O    = "D17O"
	colD45     = "d45"
	colD46     = "d46"
	colD47     = "d47"
	colD48     = "d48"
	colD49     = "d49"
	colD13Cwg  = "d13Cwg_VPDB"
	colD18Owg  = "d18Owg_VSMOW"
)

// ReadAnalysesFile reads raw analyses from a delimited file.
func ReadAnalysesFile(path string) ([]*Analysis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw data: %w", err)
	}
	defer f.Close()
	records, err := ReadAnalyses(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ReadAnalyses parses raw analyses from delimited text. The field separator
// is detected from the header line (comma, semicolon or tab, whichever
// occurs most). A Sample column and d45/d46 columns are required, along
// with at least one of d47/d48; all other columns are optional.
func ReadAnalyses(r io.Reader) ([]*Analysis, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read raw data: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, Configf("raw data is empty")
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = detectSeparator(text)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse raw data: %w", err)
	}
	if len(rows) < 2 {
		return nil, Configf("raw data has no analysis rows")
	}

	header := map[string]int{}
	for i, name := range rows[0] {
		header[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{colSample, colD45, colD46} {
		if _, ok := header[required]; !ok {
			return nil, Configf("raw data is missing required column %q", required)
		}
	}
	if _, ok47 := header[colD47]; !ok47 {
		if _, ok48 := header[colD48]; !ok48 {
			return nil, Configf("raw data must carry a d47 or d48 column")
		}
	}

	out := make([]*Analysis, 0, len(rows)-1)
	for line, row := range rows[1:] {
		a := &Analysis{
			Delta47: math.NaN(),
			Delta48: math.NaN(),
			Delta49: math.NaN(),
		}
		get := func(col string) (string, bool) {
			i, ok := header[col]
			if !ok || i >= len(row) {
				return "", false
			}
			v := strings.TrimSpace(row[i])
			return v, v != ""
		}
		num := func(col string, dst *float64) error {
			v, ok := get(col)
			if !ok {
				return nil
			}
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Configf("row %d: column %q: invalid number %q", line+2, col, v)
			}
			*dst = x
			return nil
		}

		if v, ok := get(colUID); ok {
			a.UID = v
		}
		if v, ok := get(colSession); ok {
			a.Session = v
		}
		v, ok := get(colSample)
		if !ok {
			return nil, Configf("row %d: missing sample name", line+2)
		}
		a.Sample = v

		if raw, ok := get(colTimeTag); ok {
			x, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, Configf("row %d: column %q: invalid number %q", line+2, colTimeTag, raw)
			}
			a.TimeTag = x
			a.HasTimeTag = true
		}

		for _, c := range []struct {
			col string
			dst *float64
		}{
			{colD17O, &a.D17O},
			{colD45, &a.Delta45},
			{colD46, &a.Delta46},
			{colD47, &a.Delta47},
			{colD48, &a.Delta48},
			{colD49, &a.Delta49},
		} {
			if err := num(c.col, c.dst); err != nil {
				return nil, err
			}
		}

		_, has13 := get(colD13Cwg)
		_, has18 := get(colD18Owg)
		if has13 != has18 {
			return nil, Configf("row %d: working-gas columns %q and %q must be supplied together", line+2, colD13Cwg, colD18Owg)
		}
		if has13 {
			if err := num(colD13Cwg, &a.D13CwgVPDB); err != nil {
				return nil, err
			}
			if err := num(colD18Owg, &a.D18OwgVSMOW); err != nil {
				return nil, err
			}
			a.WGFromRecord = true
		}

		out = append(out, a)
	}
	return out, nil
}

// detectSeparator picks the delimiter occurring most often in the header
// line, defaulting to comma.
func detectSeparator(text string) rune {
	head, _, _ := strings.Cut(text, "\n")
	sep, best := ',', strings.Count(head, ",")
	for _, c := range []rune{';', '\t'} {
		if n := strings.Count(head, string(c)); n > best {
			sep, best = c, n
		}
	}
	return sep
}
