// Package history defines the durable, deduplicating store for canonical
// records. Backends are pluggable behind one interface: badger for
// production, memory for tests and development.
package history

import (
	"context"
	"time"

	"energysync/pkg/record"
)

// Store is a per-sensor, append-only, deduplicating record store.
//
// Merge is idempotent and never overwrites: the dedup key is (sensor,
// timestamp) and on collision the existing value is kept, so refetching
// from a lower-fidelity source cannot regress stored data. Each merge
// commits atomically per sensor. Nothing in this interface deletes;
// retention is out of scope.
type Store interface {
	// Merge inserts the records that are not already present, in timestamp
	// order, and advances the sensor's last-seen timestamp in the same
	// commit.
	Merge(ctx context.Context, sensorID string, records []record.Record) (MergeResult, error)

	// Range returns the stored records matching req in ascending timestamp
	// order.
	Range(ctx context.Context, req RangeRequest) ([]record.Record, error)

	// LastSeen returns the newest stored timestamp for the sensor, and
	// whether the sensor has any records at all. O(1): cached, not scanned.
	LastSeen(ctx context.Context, sensorID string) (time.Time, bool, error)

	// Stats summarizes what the store holds.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the backend.
	Close() error
}

// MergeResult reports what one merge changed.
type MergeResult struct {
	Inserted          int `json:"inserted"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
}

// RangeRequest selects records to read back.
type RangeRequest struct {
	// SensorID limits the scan to one sensor; empty means all sensors.
	SensorID string

	// Time range, inclusive on both ends. Zero values mean unbounded.
	Start time.Time
	End   time.Time

	// Limit caps the number of results (0 = no limit).
	Limit int
}

// Stats summarizes store contents.
type Stats struct {
	TotalRecords uint64    `json:"total_records"`
	Sensors      uint64    `json:"sensors"`
	OldestRecord time.Time `json:"oldest_record"`
	NewestRecord time.Time `json:"newest_record"`
}
