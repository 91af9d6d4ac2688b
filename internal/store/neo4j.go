package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	// constraintViolationCode is raised when a MERGE/CREATE collides with a
	// uniqueness constraint.
	constraintViolationCode = "Neo.ClientError.Schema.ConstraintValidationFailed"

	// equivalentSchemaExistsCode is raised when a constraint or index is
	// created twice; schema init treats it as success.
	equivalentSchemaExistsCode = "Neo.ClientError.Schema.EquivalentSchemaRuleAlreadyExists"
)

// progressStep controls how often the upsert progress callback fires.
const progressStep = 5 // percent

// Neo4jConfig holds the connection parameters for the archive database.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
}

// Validate checks that all required connection parameters are present.
func (c *Neo4jConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("store configuration is required")
	}
	if c.URI == "" {
		return fmt.Errorf("store uri is required")
	}
	if c.Username == "" {
		return fmt.Errorf("store username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("store password is required")
	}
	return nil
}

// Neo4jStore is the graph-backed Store implementation.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

var _ Store = (*Neo4jStore)(nil)

// NewNeo4jStore connects to the archive database and verifies connectivity.
func NewNeo4jStore(ctx context.Context, cfg *Neo4jConfig) (*Neo4jStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URI, err)
	}

	return &Neo4jStore{driver: driver}, nil
}

// Close releases the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// InitSchema creates the Station.name and Observation.id uniqueness
// constraints and the OBSERVES timestamp index. Re-running against an
// already-initialized database is a no-op.
func (s *Neo4jStore) InitSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("Failed to close neo4j session", "error", err)
		}
	}()

	statements := []string{
		"CREATE CONSTRAINT stationConstraint IF NOT EXISTS FOR (s:Station) REQUIRE s.name IS UNIQUE",
		"CREATE CONSTRAINT obsIdConstraint IF NOT EXISTS FOR (obs:Observation) REQUIRE obs.id IS UNIQUE",
		"CREATE INDEX timestampIndex IF NOT EXISTS FOR ()-[o:OBSERVES]-() ON (o.timestamp)",
	}
	for _, stmt := range statements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		})
		if err != nil && !isSchemaExists(err) {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// bulkLoadCypher imports one pre-formatted file server-side. CREATE semantics
// for observations: bootstrap input must not collide with existing ids.
const bulkLoadCypher = "LOAD CSV WITH HEADERS FROM $file AS line " +
	"MERGE (station:Station {name: line.station}) " +
	"CREATE (obs:Observation {id: line.id, platform: line.platform, element: line.element, " +
	"value: toFloat(line.value), units: toString(line.units)}) " +
	"CREATE (station)-[:OBSERVES {timestamp: toInteger(line.timestamp)}]->(obs)"

// BulkLoad imports every data_init* file from dir, one transaction per file.
// The import is split across multiple files because a single very large LOAD
// CSV statement is operationally fragile.
func (s *Neo4jStore) BulkLoad(ctx context.Context, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "data_init*"))
	if err != nil {
		return fmt.Errorf("failed to list bulk load files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no data_init files found in %s", dir)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("Failed to close neo4j session", "error", err)
		}
	}()

	for _, f := range files {
		fileURL := "file:///" + filepath.Base(f)
		slog.Info("Bulk loading file", "file", fileURL)
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, bulkLoadCypher, map[string]any{"file": fileURL})
			return nil, err
		})
		if err != nil {
			return fmt.Errorf("failed to bulk load %s: %w", f, err)
		}
	}
	return nil
}

// upsertCypher merges the station, the observation and the OBSERVES edge.
// The edge timestamp and the node identity derive from the same bound row,
// which keeps the denormalized edge property equal to the observation's
// timestamp at creation time.
const upsertCypher = "MERGE (s:Station {name: $station}) " +
	"MERGE (o:Observation {id: $id, platform: $platform, element: $element, value: $value, units: $units}) " +
	"MERGE (s)-[:OBSERVES {timestamp: toInteger($timestamp)}]->(o)"

// UpsertMany writes rows one transaction at a time. A uniqueness violation on
// the observation id is logged and skipped; any other error aborts the batch.
func (s *Neo4jStore) UpsertMany(ctx context.Context, rows []Observation, progress ProgressFunc) (UpsertResult, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("Failed to close neo4j session", "error", err)
		}
	}()

	var res UpsertResult
	lastReported := -1
	for i, row := range rows {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, upsertCypher, map[string]any{
				"station":   row.Station,
				"id":        row.ID,
				"platform":  row.Platform,
				"element":   row.Element,
				"value":     row.Value,
				"units":     row.Units,
				"timestamp": row.Timestamp,
			})
			return nil, err
		})
		switch {
		case err == nil:
			res.Inserted++
		case IsConstraintViolation(err):
			slog.Info("Skipping duplicate observation", "id", row.ID)
			res.Skipped++
		default:
			return res, fmt.Errorf("upsert failed at row %d (id %s): %w", i, row.ID, err)
		}

		if progress != nil && len(rows) > 0 {
			pct := (i + 1) * 100 / len(rows)
			if pct >= lastReported+progressStep {
				progress(i+1, len(rows))
				lastReported = pct
			}
		}
	}
	return res, nil
}

// rangeCypher filters on the edge timestamp property, not the node's, so the
// timestampIndex applies.
const rangeCypher = "MATCH (obs:Observation)<-[o:OBSERVES]-(s:Station) " +
	"WHERE o.timestamp >= $start AND o.timestamp <= $end AND s.name = $station AND obs.element = $element " +
	"RETURN obs.value, o.timestamp, s.name, obs.platform, obs.element"

// QueryRange returns observations for a station/element in [start, end].
func (s *Neo4jStore) QueryRange(ctx context.Context, station string, start, end int64, element string) ([]ObservationRow, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("Failed to close neo4j session", "error", err)
		}
	}()

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, rangeCypher, map[string]any{
			"station": station,
			"start":   start,
			"end":     end,
			"element": element,
		})
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("range query failed: %w", err)
	}

	recs := records.([]*neo4j.Record)
	rows := make([]ObservationRow, 0, len(recs))
	for _, rec := range recs {
		row, err := observationRowFromValues(rec.Values)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// latestCypher reports the max edge timestamp per (platform, element); only
// products actually present in the archive appear.
const latestCypher = "MATCH (obs:Observation)<-[o:OBSERVES]-(:Station) " +
	"RETURN obs.platform, obs.element, max(o.timestamp)"

// LatestPerProduct returns the newest stored timestamp per (platform, element).
func (s *Neo4jStore) LatestPerProduct(ctx context.Context) ([]LatestRow, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("Failed to close neo4j session", "error", err)
		}
	}()

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, latestCypher, nil)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("latest-per-product query failed: %w", err)
	}

	recs := records.([]*neo4j.Record)
	rows := make([]LatestRow, 0, len(recs))
	for _, rec := range recs {
		row, err := latestRowFromValues(rec.Values)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// observationRowFromValues maps a rangeCypher record to an ObservationRow.
func observationRowFromValues(values []any) (ObservationRow, error) {
	if len(values) != 5 {
		return ObservationRow{}, fmt.Errorf("unexpected range query record width %d", len(values))
	}
	value, ok := asFloat(values[0])
	if !ok {
		return ObservationRow{}, fmt.Errorf("unexpected value type %T", values[0])
	}
	ts, ok := asInt(values[1])
	if !ok {
		return ObservationRow{}, fmt.Errorf("unexpected timestamp type %T", values[1])
	}
	station, _ := values[2].(string)
	platform, _ := values[3].(string)
	element, _ := values[4].(string)
	return ObservationRow{
		Value:    value,
		Date:     ts,
		Station:  station,
		Platform: platform,
		Element:  element,
	}, nil
}

// latestRowFromValues maps a latestCypher record to a LatestRow.
func latestRowFromValues(values []any) (LatestRow, error) {
	if len(values) != 3 {
		return LatestRow{}, fmt.Errorf("unexpected latest query record width %d", len(values))
	}
	platform, _ := values[0].(string)
	element, _ := values[1].(string)
	ts, ok := asInt(values[2])
	if !ok {
		return LatestRow{}, fmt.Errorf("unexpected timestamp type %T", values[2])
	}
	return LatestRow{Platform: platform, Element: element, Timestamp: ts}, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// IsConstraintViolation reports whether err is a uniqueness constraint
// violation raised by the database.
func IsConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return neoErr.Code == constraintViolationCode
	}
	return errors.Is(err, ErrDuplicateObservation)
}

func isSchemaExists(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == equivalentSchemaExistsCode
}
