package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Memory is an in-process Store with the same uniqueness semantics as the
// graph-backed implementation: stations merge by name, observations are
// first-write-wins on id, and the OBSERVES edge timestamp equals the
// observation timestamp. Used in tests and for offline dry runs.
type Memory struct {
	mu           sync.RWMutex
	initialized  bool
	stations     map[string]struct{}
	observations map[string]Observation
	// edges maps station -> observation id -> edge timestamp.
	edges map[string]map[string]int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		stations:     make(map[string]struct{}),
		observations: make(map[string]Observation),
		edges:        make(map[string]map[string]int64),
	}
}

// InitSchema marks the store initialized. Safe to call repeatedly.
func (m *Memory) InitSchema(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = true
	return nil
}

// BulkLoad imports every data_init* CSV file from dir. Rows use CREATE
// semantics for observations: a duplicate id in the input is an error, since
// bootstrap input is expected to be clean.
func (m *Memory) BulkLoad(ctx context.Context, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "data_init*"))
	if err != nil {
		return fmt.Errorf("failed to list bulk load files: %w", err)
	}
	for _, f := range files {
		rows, err := readObservationFile(f)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.create(row); err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
		}
	}
	return nil
}

func (m *Memory) create(row Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.observations[row.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateObservation, row.ID)
	}
	m.insertLocked(row)
	return nil
}

// insertLocked merges the station, stores the observation and links the edge.
// Caller holds the write lock.
func (m *Memory) insertLocked(row Observation) {
	m.stations[row.Station] = struct{}{}
	m.observations[row.ID] = row
	if m.edges[row.Station] == nil {
		m.edges[row.Station] = make(map[string]int64)
	}
	m.edges[row.Station][row.ID] = row.Timestamp
}

// UpsertMany implements the merge/skip protocol: duplicate observation ids
// are counted as skipped and never abort the batch.
func (m *Memory) UpsertMany(ctx context.Context, rows []Observation, progress ProgressFunc) (UpsertResult, error) {
	var res UpsertResult
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		m.mu.Lock()
		if _, ok := m.observations[row.ID]; ok {
			res.Skipped++
		} else {
			m.insertLocked(row)
			res.Inserted++
		}
		m.mu.Unlock()
		if progress != nil {
			progress(i+1, len(rows))
		}
	}
	return res, nil
}

// QueryRange returns observations for station/element with edge timestamps
// in [start, end] inclusive.
func (m *Memory) QueryRange(_ context.Context, station string, start, end int64, element string) ([]ObservationRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ObservationRow
	for id, ts := range m.edges[station] {
		if ts < start || ts > end {
			continue
		}
		obs := m.observations[id]
		if obs.Element != element {
			continue
		}
		out = append(out, ObservationRow{
			Value:    obs.Value,
			Date:     ts,
			Station:  station,
			Platform: obs.Platform,
			Element:  obs.Element,
		})
	}
	return out, nil
}

// LatestPerProduct returns the max timestamp per (platform, element).
func (m *Memory) LatestPerProduct(_ context.Context) ([]LatestRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ platform, element string }
	latest := make(map[key]int64)
	for _, obs := range m.observations {
		k := key{obs.Platform, obs.Element}
		if ts, ok := latest[k]; !ok || obs.Timestamp > ts {
			latest[k] = obs.Timestamp
		}
	}

	out := make([]LatestRow, 0, len(latest))
	for k, ts := range latest {
		out = append(out, LatestRow{Platform: k.platform, Element: k.element, Timestamp: ts})
	}
	return out, nil
}

// ObservationCount returns the number of stored observations.
func (m *Memory) ObservationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.observations)
}

// EdgeCount returns the total number of OBSERVES edges.
func (m *Memory) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, obs := range m.edges {
		n += len(obs)
	}
	return n
}

// Close implements Store.
func (*Memory) Close(_ context.Context) error { return nil }

// readObservationFile parses one delimited bulk-load file with a header row
// containing the columns {station, id, platform, element, value, timestamp,
// units} in any order.
func readObservationFile(path string) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			slog.Warn("Failed to close bulk load file", "path", path, "error", cerr)
		}
	}()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%s: missing header row", path)
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	for _, required := range []string{"station", "id", "platform", "element", "value", "timestamp", "units"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, required)
		}
	}

	rows := make([]Observation, 0, len(records)-1)
	for i, rec := range records[1:] {
		value, err := strconv.ParseFloat(rec[col["value"]], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid value: %w", path, i+2, err)
		}
		ts, err := strconv.ParseInt(rec[col["timestamp"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid timestamp: %w", path, i+2, err)
		}
		rows = append(rows, Observation{
			Station:   rec[col["station"]],
			ID:        rec[col["id"]],
			Platform:  rec[col["platform"]],
			Element:   rec[col["element"]],
			Value:     value,
			Units:     rec[col["units"]],
			Timestamp: ts,
		})
	}
	return rows, nil
}
