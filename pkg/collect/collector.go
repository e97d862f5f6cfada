// Package collect orchestrates one collection run: probe the sources
// once, then plan, fetch, normalize, and merge every sensor through a
// bounded worker pool. Sensors fail independently; one broken sensor
// never aborts the run.
package collect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"energysync/pkg/config"
	"energysync/pkg/history"
	"energysync/pkg/normalize"
	"energysync/pkg/record"
	"energysync/pkg/source"
)

// Fetcher is the source-selection surface the collector drives.
type Fetcher interface {
	Probe(ctx context.Context) source.ProbeResults
	Fetch(ctx context.Context, win record.FetchWindow, probes source.ProbeResults) ([]source.Reading, record.Source, error)
}

// WindowPlanner computes the fetch window a sensor still needs.
type WindowPlanner interface {
	Plan(ctx context.Context, sensorID string) (record.FetchWindow, bool, error)
}

// Collector runs collection passes over a fixed sensor list.
type Collector struct {
	fetcher    Fetcher
	planner    WindowPlanner
	normalizer *normalize.Normalizer
	store      history.Store

	workers      int
	mergeTimeout time.Duration
	log          zerolog.Logger
}

// Config wires a collector together.
type Config struct {
	Fetcher    Fetcher
	Planner    WindowPlanner
	Normalizer *normalize.Normalizer
	Store      history.Store

	// Workers bounds concurrent sensors; <= 0 uses the default.
	Workers int

	// MergeTimeout bounds a single sensor's store commit; <= 0 uses the
	// default.
	MergeTimeout time.Duration

	Logger zerolog.Logger
}

// New creates a collector.
func New(cfg Config) *Collector {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	mergeTimeout := cfg.MergeTimeout
	if mergeTimeout <= 0 {
		mergeTimeout = config.MergeTimeout
	}
	return &Collector{
		fetcher:      cfg.Fetcher,
		planner:      cfg.Planner,
		normalizer:   cfg.Normalizer,
		store:        cfg.Store,
		workers:      workers,
		mergeTimeout: mergeTimeout,
		log:          cfg.Logger.With().Str("component", "collector").Logger(),
	}
}

// SensorResult reports the outcome for a single sensor within a run.
type SensorResult struct {
	SensorID          string        `json:"sensor_id"`
	UpToDate          bool          `json:"up_to_date,omitempty"`
	WindowStart       time.Time     `json:"window_start,omitempty"`
	WindowEnd         time.Time     `json:"window_end,omitempty"`
	SourceUsed        record.Source `json:"source_used,omitempty"`
	Fetched           int           `json:"fetched"`
	Dropped           int           `json:"dropped"`
	Inserted          int           `json:"inserted"`
	DuplicatesSkipped int           `json:"duplicates_skipped"`
	Error             string        `json:"error,omitempty"`
}

// Summary reports a whole run.
type Summary struct {
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Probes     source.ProbeResults `json:"probes"`
	Sensors    []SensorResult      `json:"sensors"`

	Inserted          int `json:"inserted"`
	DuplicatesSkipped int `json:"duplicates_skipped"`
	Failed            int `json:"failed"`
}

// Run executes one collection pass over the sensors. Source availability
// is probed once at the start of the pass and holds for its duration.
// The returned summary always covers every sensor, even on cancellation.
func (c *Collector) Run(ctx context.Context, sensors []record.SensorSpec) *Summary {
	summary := &Summary{
		StartedAt: time.Now().UTC(),
		Probes:    c.fetcher.Probe(ctx),
		Sensors:   make([]SensorResult, len(sensors)),
	}

	c.log.Info().
		Int("sensors", len(sensors)).
		Int("workers", c.workers).
		Msg("collection run started")

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.workers)

	for i, spec := range sensors {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(sensors); j++ {
				summary.Sensors[j] = SensorResult{
					SensorID: sensors[j].EntityID,
					Error:    err.Error(),
				}
			}
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, spec record.SensorSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			summary.Sensors[i] = c.collectSensor(ctx, spec, summary.Probes)
		}(i, spec)
	}
	wg.Wait()

	for _, res := range summary.Sensors {
		summary.Inserted += res.Inserted
		summary.DuplicatesSkipped += res.DuplicatesSkipped
		if res.Error != "" {
			summary.Failed++
		}
	}
	summary.FinishedAt = time.Now().UTC()

	c.log.Info().
		Int("inserted", summary.Inserted).
		Int("duplicates_skipped", summary.DuplicatesSkipped).
		Int("failed", summary.Failed).
		Dur("elapsed", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("collection run finished")
	return summary
}

func (c *Collector) collectSensor(ctx context.Context, spec record.SensorSpec, probes source.ProbeResults) SensorResult {
	res := SensorResult{SensorID: spec.EntityID}
	slog := c.log.With().Str("sensor", spec.EntityID).Logger()

	win, ok, err := c.planner.Plan(ctx, spec.EntityID)
	if err != nil {
		res.Error = err.Error()
		slog.Error().Err(err).Msg("planning failed")
		return res
	}
	if !ok {
		res.UpToDate = true
		slog.Debug().Msg("sensor up to date")
		return res
	}
	res.WindowStart = win.Start
	res.WindowEnd = win.End

	readings, src, err := c.fetcher.Fetch(ctx, win, probes)
	if err != nil {
		res.Error = err.Error()
		slog.Error().Err(err).Msg("fetch failed on every source")
		return res
	}
	res.SourceUsed = src
	res.Fetched = len(readings)

	records, dropped := c.normalizer.Normalize(win, src, readings)
	res.Dropped = dropped
	if len(records) == 0 {
		slog.Info().
			Str("source", string(src)).
			Time("start", win.Start).
			Time("end", win.End).
			Msg("no usable records in window")
		return res
	}

	mergeCtx, cancel := context.WithTimeout(ctx, c.mergeTimeout)
	defer cancel()
	merged, err := c.store.Merge(mergeCtx, spec.EntityID, records)
	if err != nil {
		res.Error = err.Error()
		slog.Error().Err(err).Msg("merge failed")
		return res
	}
	res.Inserted = merged.Inserted
	res.DuplicatesSkipped = merged.DuplicatesSkipped

	slog.Info().
		Str("source", string(src)).
		Int("fetched", res.Fetched).
		Int("inserted", res.Inserted).
		Int("skipped", res.DuplicatesSkipped).
		Msg("sensor collected")
	return res
}
