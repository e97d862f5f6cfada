// Package badger implements history.Store on BadgerDB. One transaction per
// sensor merge gives the atomic per-sensor commit the planner depends on:
// a crash mid-merge leaves either the old state or the new one, never a
// partial batch.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"energysync/pkg/history"
	"energysync/pkg/record"
)

// Key layout, all big-endian so iteration order is chronological:
//
//	'r' + sensor_hash(8) + unix_seconds(8) -> JSON record
//	'l' + sensor_hash(8)                   -> unix_seconds(8) last-seen cache
const (
	recordPrefix   = 'r'
	lastSeenPrefix = 'l'
)

// Store implements history.Store using BadgerDB.
type Store struct {
	db *badger.DB

	// Serializes merges per sensor. Merges for different sensors proceed
	// concurrently; badger transactions handle the rest.
	locks sync.Map // sensor hash -> *sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to the database directory.
	Path string

	// InMemory mode, for tests.
	InMemory bool
}

// New opens a badger-backed history store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Hourly records are tiny; keep badger's appetite modest.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumMemtables(3).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Merge inserts records not already present and advances the last-seen
// cache, all in one transaction. Existing records are never overwritten.
func (s *Store) Merge(ctx context.Context, sensorID string, records []record.Record) (history.MergeResult, error) {
	var res history.MergeResult
	if len(records) == 0 {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	hash := sensorHash(sensorID)
	mu := s.sensorLock(hash)
	mu.Lock()
	defer mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		var maxTS int64

		for i, rec := range records {
			// Check cancellation occasionally; a first-run backfill can
			// carry thousands of records.
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			key := recordKey(hash, rec.Timestamp)
			_, err := txn.Get(key)
			if err == nil {
				res.DuplicatesSkipped++
				continue
			}
			if err != badger.ErrKeyNotFound {
				return fmt.Errorf("failed to check record key: %w", err)
			}

			value, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			if err := txn.Set(key, value); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
			res.Inserted++
			if ts := rec.Timestamp.Unix(); ts > maxTS {
				maxTS = ts
			}
		}

		if res.Inserted == 0 {
			return nil
		}
		return advanceLastSeen(txn, hash, maxTS)
	})
	if err != nil {
		return history.MergeResult{}, err
	}
	return res, nil
}

// Range scans stored records. With a sensor id this is a prefix seek
// bounded by the time range; without one it walks all records.
func (s *Store) Range(ctx context.Context, req history.RangeRequest) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 128

		var prefix []byte
		if req.SensorID != "" {
			prefix = sensorPrefix(sensorHash(req.SensorID))
		} else {
			prefix = []byte{recordPrefix}
		}
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if req.SensorID != "" && !req.Start.IsZero() {
			seek = recordKey(sensorHash(req.SensorID), req.Start)
		}

		count := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			count++
			if count%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			ts := keyTimestamp(it.Item().Key())
			if req.SensorID != "" && !req.End.IsZero() && ts.After(req.End) {
				break // keys are chronological within a sensor prefix
			}
			if !req.Start.IsZero() && ts.Before(req.Start) {
				continue
			}
			if !req.End.IsZero() && ts.After(req.End) {
				continue
			}

			var rec record.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			results = append(results, rec)

			if req.Limit > 0 && len(results) >= req.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A cross-sensor scan interleaves hash prefixes; present it in time
	// order regardless.
	if req.SensorID == "" {
		sort.SliceStable(results, func(i, j int) bool {
			if results[i].Timestamp.Equal(results[j].Timestamp) {
				return results[i].SensorID < results[j].SensorID
			}
			return results[i].Timestamp.Before(results[j].Timestamp)
		})
	}
	return results, nil
}

// LastSeen reads the cached newest timestamp for a sensor.
func (s *Store) LastSeen(ctx context.Context, sensorID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	var ts int64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lastSeenKey(sensorHash(sensorID)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt last-seen value (%d bytes)", len(val))
			}
			ts = int64(binary.BigEndian.Uint64(val))
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if !found {
		return time.Time{}, false, nil
	}
	return time.Unix(ts, 0).UTC(), true, nil
}

// Stats walks the store and summarizes its contents.
func (s *Store) Stats(ctx context.Context) (*history.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &history.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			switch key[0] {
			case lastSeenPrefix:
				stats.Sensors++
			case recordPrefix:
				stats.TotalRecords++
				ts := keyTimestamp(key)
				if stats.OldestRecord.IsZero() || ts.Before(stats.OldestRecord) {
					stats.OldestRecord = ts
				}
				if ts.After(stats.NewestRecord) {
					stats.NewestRecord = ts
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Close shuts down badger cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) sensorLock(hash uint64) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(hash, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func advanceLastSeen(txn *badger.Txn, hash uint64, maxTS int64) error {
	key := lastSeenKey(hash)
	current := int64(-1)

	item, err := txn.Get(key)
	if err == nil {
		err = item.Value(func(val []byte) error {
			if len(val) == 8 {
				current = int64(binary.BigEndian.Uint64(val))
			}
			return nil
		})
		if err != nil {
			return err
		}
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	if maxTS <= current {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(maxTS))
	return txn.Set(key, buf)
}

func sensorHash(sensorID string) uint64 {
	return xxhash.Sum64String(sensorID)
}

func sensorPrefix(hash uint64) []byte {
	p := make([]byte, 9)
	p[0] = recordPrefix
	binary.BigEndian.PutUint64(p[1:], hash)
	return p
}

func recordKey(hash uint64, ts time.Time) []byte {
	key := make([]byte, 17)
	key[0] = recordPrefix
	binary.BigEndian.PutUint64(key[1:9], hash)
	binary.BigEndian.PutUint64(key[9:], uint64(ts.Unix()))
	return key
}

func lastSeenKey(hash uint64) []byte {
	key := make([]byte, 9)
	key[0] = lastSeenPrefix
	binary.BigEndian.PutUint64(key[1:], hash)
	return key
}

func keyTimestamp(key []byte) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(key[9:17])), 0).UTC()
}
