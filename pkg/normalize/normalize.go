// Package normalize maps each source's native readings into canonical
// records. Malformed entries are dropped and counted, never propagated as
// fetch failures: partial data beats aborting a sensor.
package normalize

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"energysync/pkg/record"
	"energysync/pkg/source"
)

// Normalizer converts native readings to canonical records. loc is the
// local timezone used to recognize expected midnight resets; everything
// else is UTC.
type Normalizer struct {
	loc *time.Location
	log zerolog.Logger
}

// New creates a normalizer. Pass nil to use the process-local timezone for
// midnight-boundary detection.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{
		loc: loc,
		log: log.With().Str("component", "normalizer").Logger(),
	}
}

// Normalize converts readings fetched for win from src into canonical
// records, sorted by timestamp and unique per timestamp. The second return
// is the number of malformed readings dropped.
func (n *Normalizer) Normalize(win record.FetchWindow, src record.Source, readings []source.Reading) ([]record.Record, int) {
	var (
		records []record.Record
		dropped int
	)

	raw := false
	for _, r := range readings {
		if r.Raw {
			raw = true
			break
		}
	}

	if raw {
		records, dropped = n.fromRawStates(win, src, readings)
	} else {
		records, dropped = n.fromAggregates(win, src, readings)
	}

	records = dedupeSorted(records)
	n.warnOnDrops(records)

	if dropped > 0 {
		n.log.Warn().
			Str("sensor", win.SensorID).
			Str("source", string(src)).
			Int("dropped", dropped).
			Msg("dropped malformed readings")
	}
	return records, dropped
}

// fromAggregates handles database rows and statistics buckets: both carry a
// cumulative sum keyed by bucket start and map one-to-one.
func (n *Normalizer) fromAggregates(win record.FetchWindow, src record.Source, readings []source.Reading) ([]record.Record, int) {
	records := make([]record.Record, 0, len(readings))
	dropped := 0

	for _, r := range readings {
		if r.Sum == nil || r.Timestamp.IsZero() {
			dropped++
			continue
		}
		v := *r.Sum
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			dropped++
			continue
		}
		records = append(records, record.Record{
			SensorID:  win.SensorID,
			Timestamp: record.Normalize(r.Timestamp),
			Value:     v,
			Source:    src,
		})
	}
	return records, dropped
}

// fromRawStates handles history-API state transitions. The sensor reports
// cumulative consumption since local midnight, so for every UTC hour
// boundary in the window the canonical value is the state in effect
// immediately before that boundary, restricted to the boundary's own UTC
// day so one day's total never bleeds into the next.
func (n *Normalizer) fromRawStates(win record.FetchWindow, src record.Source, readings []source.Reading) ([]record.Record, int) {
	type sample struct {
		ts    time.Time
		value float64
	}

	samples := make([]sample, 0, len(readings))
	dropped := 0
	for _, r := range readings {
		if r.Timestamp.IsZero() {
			dropped++
			continue
		}
		v, ok := parseState(r.State)
		if !ok || v < 0 {
			dropped++
			continue
		}
		samples = append(samples, sample{ts: record.Normalize(r.Timestamp), value: v})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].ts.Before(samples[j].ts) })

	if len(samples) == 0 {
		return nil, dropped
	}

	start := record.Normalize(win.Start).Truncate(time.Hour)
	if start.Before(record.Normalize(win.Start)) {
		start = start.Add(time.Hour)
	}
	end := record.Normalize(win.End)

	var records []record.Record
	idx := 0
	var last *sample

	for boundary := start; !boundary.After(end); boundary = boundary.Add(time.Hour) {
		for idx < len(samples) && !samples[idx].ts.After(boundary) {
			last = &samples[idx]
			idx++
		}
		if last == nil {
			continue
		}
		// The sample must belong to the same UTC day as the instant the
		// boundary closes; a stale sample from a previous day would carry a
		// pre-reset total.
		day := boundary.Add(-time.Second).Truncate(24 * time.Hour)
		if last.ts.Before(day) {
			continue
		}
		records = append(records, record.Record{
			SensorID:  win.SensorID,
			Timestamp: boundary,
			Value:     last.value,
			Source:    src,
		})
	}
	return records, dropped
}

// warnOnDrops logs value decreases that do not coincide with a midnight
// boundary. The raw value is preserved either way; a mid-day drop points at
// a source glitch worth noticing, not data worth rejecting.
func (n *Normalizer) warnOnDrops(records []record.Record) {
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		if cur.Value >= prev.Value {
			continue
		}
		if record.IsMidnightBoundary(cur.Timestamp, n.loc) || record.IsMidnightBoundary(cur.Timestamp, time.UTC) {
			continue // expected daily reset
		}
		n.log.Warn().
			Str("sensor", cur.SensorID).
			Time("timestamp", cur.Timestamp).
			Float64("previous", prev.Value).
			Float64("value", cur.Value).
			Msg("value drop outside midnight boundary, keeping raw value")
	}
}

func dedupeSorted(records []record.Record) []record.Record {
	if len(records) == 0 {
		return records
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	out := records[:1]
	for _, r := range records[1:] {
		if r.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue // first occurrence wins
		}
		out = append(out, r)
	}
	return out
}

func parseState(s string) (float64, bool) {
	switch s {
	case "", "unknown", "unavailable", "none", "None":
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
