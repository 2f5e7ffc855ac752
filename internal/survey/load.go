package survey

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/model"
)

// Row is the survey's agricultural-dependent population fraction for one
// district.
type Row struct {
	Key      string
	Name     string
	Fraction float64
}

// Options names the survey columns and how fractions are expressed.
type Options struct {
	DistrictField string
	FractionField string
	// Sheet selects the worksheet of an .xlsx survey; the first sheet when empty.
	Sheet string
	// Percent marks the fraction column as 0-100 instead of 0-1. Values with
	// a trailing % sign are always read as percentages.
	Percent bool
}

type record struct {
	District string `csv:"district"`
	Fraction string `csv:"fraction"`
}

// Load reads the survey table from a .csv or .xlsx file. Every row must carry
// a district name and a fraction in [0,1]; duplicate districts are rejected.
func Load(path string, opts Options) ([]Row, error) {
	var (
		recs []record
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		recs, err = readXLSX(path, opts)
	case ".csv":
		recs, err = readCSV(path, opts)
	default:
		return nil, eris.Errorf("survey: unsupported file type %q", path)
	}
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(recs))
	seen := make(map[string]string, len(recs))
	for i, r := range recs {
		name := strings.TrimSpace(r.District)
		if name == "" {
			return nil, model.IntegrityErrorf("survey: %s row %d has no district", path, i+2)
		}
		frac, err := parseFraction(r.Fraction, opts.Percent)
		if err != nil {
			return nil, eris.Wrapf(err, "survey: %s district %q", path, name)
		}
		key := Canonical(name)
		if prev, dup := seen[key]; dup {
			return nil, model.IntegrityErrorf("survey: %s lists %q and %q, which are the same district", path, prev, name)
		}
		seen[key] = name
		rows = append(rows, Row{Key: key, Name: name, Fraction: frac})
	}

	zap.L().Info("survey: loaded", zap.String("path", path), zap.Int("districts", len(rows)))
	return rows, nil
}

func parseFraction(raw string, percent bool) (float64, error) {
	s := strings.TrimSpace(raw)
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		percent = true
	}
	if s == "" {
		return 0, model.IntegrityErrorf("missing fraction")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, model.IntegrityErrorf("fraction %q is not a number", raw)
	}
	if percent {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, model.IntegrityErrorf("fraction %q is outside [0,1]", raw)
	}
	return v, nil
}

// readCSV maps the configured column names onto record's tags and decodes
// the remaining lines with csvutil.
func readCSV(path string, opts Options) ([]record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, model.IOErrorf(err, "survey: open %s", path)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, eris.Wrapf(err, "survey: read header of %s", path)
	}
	mapped, err := mapHeader(header, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "survey: %s", path)
	}

	dec, err := csvutil.NewDecoder(r, mapped...)
	if err != nil {
		return nil, eris.Wrapf(err, "survey: decoder for %s", path)
	}
	var recs []record
	for {
		var rec record
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "survey: decode %s", path)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// mapHeader renames the district and fraction columns to the decoder's tag
// names. Other columns keep their names and are ignored.
func mapHeader(header []string, opts Options) ([]string, error) {
	out := make([]string, len(header))
	var haveDistrict, haveFraction bool
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, opts.DistrictField):
			out[i] = "district"
			haveDistrict = true
		case strings.EqualFold(h, opts.FractionField):
			out[i] = "fraction"
			haveFraction = true
		default:
			out[i] = "_" + h
		}
	}
	if !haveDistrict || !haveFraction {
		return nil, eris.Errorf("header %v lacks %q or %q", header, opts.DistrictField, opts.FractionField)
	}
	return out, nil
}

func readXLSX(path string, opts Options) ([]record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, model.IOErrorf(err, "survey: open %s", path)
	}

	var sheet *xlsx.Sheet
	if opts.Sheet != "" {
		s, ok := f.Sheet[opts.Sheet]
		if !ok {
			return nil, eris.Errorf("survey: sheet %q not found in %s", opts.Sheet, path)
		}
		sheet = s
	} else {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("survey: %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("survey: sheet %q of %s is empty", sheet.Name, path)
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, c := range sheet.Rows[0].Cells {
		header[i] = c.String()
	}
	mapped, err := mapHeader(header, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "survey: %s", path)
	}
	districtCol, fractionCol := -1, -1
	for i, h := range mapped {
		switch h {
		case "district":
			districtCol = i
		case "fraction":
			fractionCol = i
		}
	}

	var recs []record
	for _, row := range sheet.Rows[1:] {
		cell := func(i int) string {
			if i < len(row.Cells) {
				return strings.TrimSpace(row.Cells[i].String())
			}
			return ""
		}
		rec := record{District: cell(districtCol), Fraction: cell(fractionCol)}
		if rec.District == "" && rec.Fraction == "" {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
