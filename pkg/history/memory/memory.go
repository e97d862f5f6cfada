// Package memory implements history.Store with in-process maps. It backs
// tests and short-lived runs where durability does not matter.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"energysync/pkg/history"
	"energysync/pkg/record"
)

// Store keeps records in memory, ordered by timestamp per sensor.
type Store struct {
	mu     sync.RWMutex
	series map[string][]record.Record
	closed bool
}

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("memory store is closed")

// New creates an empty in-memory history store.
func New() *Store {
	return &Store{series: make(map[string][]record.Record)}
}

// Merge inserts records not already present, keeping existing values.
func (s *Store) Merge(ctx context.Context, sensorID string, records []record.Record) (history.MergeResult, error) {
	var res history.MergeResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, ErrClosed
	}

	existing := s.series[sensorID]
	for _, rec := range records {
		idx := sort.Search(len(existing), func(i int) bool {
			return !existing[i].Timestamp.Before(rec.Timestamp)
		})
		if idx < len(existing) && existing[idx].Timestamp.Equal(rec.Timestamp) {
			res.DuplicatesSkipped++
			continue
		}
		existing = append(existing, record.Record{})
		copy(existing[idx+1:], existing[idx:])
		existing[idx] = rec
		res.Inserted++
	}
	s.series[sensorID] = existing
	return res, nil
}

// Range returns stored records in the given time range, ascending by
// timestamp.
func (s *Store) Range(ctx context.Context, req history.RangeRequest) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var results []record.Record
	appendSeries := func(recs []record.Record) {
		for _, rec := range recs {
			if !req.Start.IsZero() && rec.Timestamp.Before(req.Start) {
				continue
			}
			if !req.End.IsZero() && rec.Timestamp.After(req.End) {
				continue
			}
			results = append(results, rec)
		}
	}

	if req.SensorID != "" {
		appendSeries(s.series[req.SensorID])
	} else {
		ids := make([]string, 0, len(s.series))
		for id := range s.series {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			appendSeries(s.series[id])
		}
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Timestamp.Before(results[j].Timestamp)
		})
	}

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// LastSeen returns the newest stored timestamp for a sensor.
func (s *Store) LastSeen(ctx context.Context, sensorID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}

	recs := s.series[sensorID]
	if len(recs) == 0 {
		return time.Time{}, false, nil
	}
	return recs[len(recs)-1].Timestamp, true, nil
}

// Stats summarizes the store contents.
func (s *Store) Stats(ctx context.Context) (*history.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	stats := &history.Stats{}
	for _, recs := range s.series {
		if len(recs) == 0 {
			continue
		}
		stats.Sensors++
		stats.TotalRecords += uint64(len(recs))
		oldest := recs[0].Timestamp
		newest := recs[len(recs)-1].Timestamp
		if stats.OldestRecord.IsZero() || oldest.Before(stats.OldestRecord) {
			stats.OldestRecord = oldest
		}
		if newest.After(stats.NewestRecord) {
			stats.NewestRecord = newest
		}
	}
	return stats, nil
}

// Close releases the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.series = nil
	return nil
}
