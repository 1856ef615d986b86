package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/perpbt/errs"
)

// CSVProvider loads series from a directory laid out as
//
//	<dir>/<INSTRUMENT>_<interval>.csv   time,open,high,low,close,volume
//	<dir>/<INSTRUMENT>_funding.csv      time,rate
//
// The funding file is optional.
type CSVProvider struct {
	Dir string
}

func (p CSVProvider) BarsPath(instrument string, iv Interval) string {
	return filepath.Join(p.Dir, fmt.Sprintf("%s_%s.csv", instrument, iv))
}

func (p CSVProvider) FundingPath(instrument string) string {
	return filepath.Join(p.Dir, instrument+"_funding.csv")
}

func (p CSVProvider) Load(ctx context.Context, req Request) (*Series, error) {
	const op = "market.CSVProvider.Load"

	if err := req.Validate(); err != nil {
		return nil, err
	}

	bars, err := readFile(p.BarsPath(req.Instrument, req.Interval), ReadBarsCSV)
	if errors.Is(err, os.ErrNotExist) {
		return nil, unavailable(op, "no bar file for %s %s", req.Instrument, req.Interval)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInputData, op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	funding, err := readFile(p.FundingPath(req.Instrument), ReadFundingCSV)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Wrap(errs.KindInputData, op, err)
	}

	return Assemble(req, bars, funding)
}

// Assemble filters bars and funding to the request range, applies the
// gap policy and builds the Series.
func Assemble(req Request, bars []Bar, funding []FundingSample) (*Series, error) {
	const op = "market.Assemble"

	var kept []Bar
	for _, b := range bars {
		if req.Contains(b.Time) {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return nil, unavailable(op, "no bars for %s %s in range", req.Instrument, req.Interval)
	}

	if n := MarkGaps(kept, req.Interval); n > 0 && !req.AllowGaps {
		return nil, unavailable(op, "%d gaps in %s %s", n, req.Instrument, req.Interval)
	}

	var fs []FundingSample
	for _, f := range funding {
		if req.Contains(f.Time) {
			fs = append(fs, f)
		}
	}
	return NewSeries(req.Instrument, req.Interval, kept, fs)
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// ReadBarsCSV parses time,open,high,low,close[,volume] rows. A header row
// starting with "time" is skipped.
func ReadBarsCSV(r io.Reader) ([]Bar, error) {
	var bars []Bar
	err := readRows(r, 5, func(line int, row []string) error {
		t, err := ParseTime(row[0])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		v := make([]float64, 5)
		for i := 1; i < len(row) && i <= 5; i++ {
			if v[i-1], err = parseDecimal(row[i]); err != nil {
				return fmt.Errorf("line %d col %d: %w", line, i+1, err)
			}
		}
		bars = append(bars, Bar{Time: t, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]})
		return nil
	})
	return bars, err
}

// ReadFundingCSV parses time,rate rows.
func ReadFundingCSV(r io.Reader) ([]FundingSample, error) {
	var out []FundingSample
	err := readRows(r, 2, func(line int, row []string) error {
		t, err := ParseTime(row[0])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		rate, err := parseDecimal(row[1])
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, FundingSample{Time: t, Rate: rate})
		return nil
	})
	return out, err
}

func readRows(r io.Reader, minCols int, fn func(line int, row []string) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		if len(row) < minCols {
			return fmt.Errorf("line %d: need at least %d columns, got %d", line, minCols, len(row))
		}
		if err := fn(line, row); err != nil {
			return err
		}
	}
}

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// ParseTime accepts RFC3339 or unix epoch seconds / milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	if n > 1e11 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// WriteBarsCSV writes bars in the layout ReadBarsCSV expects.
func WriteBarsCSV(w io.Writer, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			decimal.NewFromFloat(b.Open).String(),
			decimal.NewFromFloat(b.High).String(),
			decimal.NewFromFloat(b.Low).String(),
			decimal.NewFromFloat(b.Close).String(),
			decimal.NewFromFloat(b.Volume).String(),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFundingCSV writes samples in the layout ReadFundingCSV expects.
func WriteFundingCSV(w io.Writer, fs []FundingSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "rate"}); err != nil {
		return err
	}
	for _, f := range fs {
		if err := cw.Write([]string{f.Time.UTC().Format(time.RFC3339), decimal.NewFromFloat(f.Rate).String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
