// Package clean turns raw extraction result files into canonical
// observation rows ready for the store.
package clean

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mesonet-io/satsync/internal/store"
)

// Cleaner converts every result file in a directory into observation rows.
type Cleaner interface {
	CleanAll(ctx context.Context, dir string) ([]store.Observation, error)
}

// csvColumns are the required header columns of a result file, in any order.
var csvColumns = []string{"station", "date", "platform", "element", "value"}

// Option configures a CSVCleaner.
type Option func(*CSVCleaner)

// WithDelimiter sets the field delimiter. Defaults to comma.
func WithDelimiter(d rune) Option {
	return func(c *CSVCleaner) {
		c.delimiter = d
	}
}

// WithFillValues marks sentinel values whose rows are dropped rather than
// stored, e.g. the nodata marker of a satellite product.
func WithFillValues(vals ...float64) Option {
	return func(c *CSVCleaner) {
		c.fillValues = append(c.fillValues, vals...)
	}
}

// CSVCleaner parses delimited result files. Each file carries a header row
// naming at least station, date, platform, element and value columns; a
// units column is optional. Rows with an empty or unparsable value, or a
// value matching a configured fill sentinel, are dropped.
type CSVCleaner struct {
	delimiter  rune
	fillValues []float64
}

// NewCSVCleaner creates a cleaner for comma-separated result files.
func NewCSVCleaner(opts ...Option) *CSVCleaner {
	c := &CSVCleaner{delimiter: ','}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CleanAll parses every .csv file under dir and returns the combined rows.
// File order is lexicographic, row order follows the file, so output is
// deterministic for a given directory.
func (c *CSVCleaner) CleanAll(ctx context.Context, dir string) ([]store.Observation, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list result files in %s: %w", dir, err)
	}

	var rows []store.Observation
	dropped := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileRows, fileDropped, err := c.cleanFile(f)
		if err != nil {
			return nil, err
		}
		rows = append(rows, fileRows...)
		dropped += fileDropped
	}

	slog.Info("Cleaned result files",
		"directory", dir,
		"files", len(files),
		"rows", len(rows),
		"dropped", dropped)
	return rows, nil
}

func (c *CSVCleaner) cleanFile(path string) ([]store.Observation, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open result file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.Comma = c.delimiter
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, want := range csvColumns {
		if _, ok := col[want]; !ok {
			return nil, 0, fmt.Errorf("result file %s is missing column %q", path, want)
		}
	}
	unitsIdx, hasUnits := col["units"]

	var rows []store.Observation
	dropped := 0
	line := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
		line++

		value, ok := c.parseValue(record[col["value"]])
		if !ok {
			dropped++
			continue
		}
		day, err := time.Parse(time.DateOnly, strings.TrimSpace(record[col["date"]]))
		if err != nil {
			return nil, 0, fmt.Errorf("bad date on line %d of %s: %w", line, path, err)
		}

		obs := store.Observation{
			Station:   strings.TrimSpace(record[col["station"]]),
			Platform:  strings.TrimSpace(record[col["platform"]]),
			Element:   strings.TrimSpace(record[col["element"]]),
			Value:     value,
			Timestamp: day.Unix(),
		}
		if hasUnits {
			obs.Units = strings.TrimSpace(record[unitsIdx])
		}
		obs.ID = ObservationID(obs.Platform, obs.Element, obs.Station, obs.Timestamp)
		rows = append(rows, obs)
	}
	return rows, dropped, nil
}

// parseValue reports whether raw is a storable measurement.
func (c *CSVCleaner) parseValue(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nan") {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	for _, fill := range c.fillValues {
		if v == fill {
			return 0, false
		}
	}
	return v, true
}

// ObservationID derives the natural identity of an observation. Two rows
// describing the same platform, element, station and timestamp always get
// the same id, which is what makes upserts idempotent.
func ObservationID(platform, element, station string, timestamp int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", platform, element, station, timestamp)
}
