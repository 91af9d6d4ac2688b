// Package store provides persistence for the satellite observation archive.
// Observations hang off Station nodes via OBSERVES edges; uniqueness of
// Station.name and Observation.id is enforced by the backing store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateObservation reports an upsert that collided with an existing
// observation id. It is an expected steady-state condition when an update
// re-covers dates that are already in the archive.
var ErrDuplicateObservation = errors.New("observation id already exists")

// Observation is a single satellite-derived measurement tied to a station.
// ID is the natural identity (derived from product, element, station and
// timestamp) and is globally unique in the archive.
type Observation struct {
	Station   string
	ID        string
	Platform  string
	Element   string
	Value     float64
	Units     string
	Timestamp int64
}

// Date returns the observation timestamp as a UTC calendar day.
func (o Observation) Date() time.Time {
	return time.Unix(o.Timestamp, 0).UTC().Truncate(24 * time.Hour)
}

// ObservationRow is a row returned by range queries.
type ObservationRow struct {
	Value    float64
	Date     int64
	Station  string
	Platform string
	Element  string
}

// LatestRow is one row of the latest-per-product report: the maximum stored
// timestamp for a (platform, element) pair.
type LatestRow struct {
	Platform  string
	Element   string
	Timestamp int64
}

// ProgressFunc is invoked during long upsert batches with the number of rows
// processed so far and the batch total.
type ProgressFunc func(done, total int)

// UpsertResult summarizes an UpsertMany call.
type UpsertResult struct {
	Inserted int
	Skipped  int
}

// Store is the archive persistence contract consumed by the updater.
//
// UpsertMany merges stations, skips observations whose id already exists
// (first write wins) and merges the OBSERVES edge carrying the observation
// timestamp. A duplicate id never aborts the batch; any other store error
// does.
type Store interface {
	// InitSchema idempotently creates the uniqueness constraints and the
	// edge timestamp index.
	InitSchema(ctx context.Context) error

	// BulkLoad imports pre-formatted delimited files from dir. Bootstrap
	// only; the steady-state path is UpsertMany.
	BulkLoad(ctx context.Context, dir string) error

	// UpsertMany writes rows with merge/skip semantics. progress may be nil.
	UpsertMany(ctx context.Context, rows []Observation, progress ProgressFunc) (UpsertResult, error)

	// QueryRange returns observations for station/element whose edge
	// timestamp lies in [start, end] inclusive. No ordering is guaranteed.
	QueryRange(ctx context.Context, station string, start, end int64, element string) ([]ObservationRow, error)

	// LatestPerProduct returns the maximum stored timestamp for every
	// (platform, element) present in the archive.
	LatestPerProduct(ctx context.Context) ([]LatestRow, error)

	Close(ctx context.Context) error
}
