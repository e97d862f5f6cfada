// Package planner decides what time window each sensor still needs
// fetched. The merge layer is idempotent, so windows are planned
// generously: re-fetching the boundary record costs one duplicate skip,
// never a corrupted series.
package planner

import (
	"context"
	"fmt"
	"time"

	"energysync/pkg/record"
)

// LastSeener is the slice of the history store the planner needs.
type LastSeener interface {
	LastSeen(ctx context.Context, sensorID string) (time.Time, bool, error)
}

// Planner computes fetch windows against a history store.
type Planner struct {
	store  LastSeener
	anchor time.Time
	now    func() time.Time
}

// New creates a planner. The anchor is where a sensor's history starts
// when the store has never seen it.
func New(store LastSeener, anchor time.Time) *Planner {
	return &Planner{
		store:  store,
		anchor: anchor.UTC(),
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// Plan returns the window a sensor needs fetched: anchor to now for a
// sensor the store has never seen, otherwise last stored timestamp
// (inclusive) to now. An up-to-date sensor yields ok=false.
func (p *Planner) Plan(ctx context.Context, sensorID string) (record.FetchWindow, bool, error) {
	last, found, err := p.store.LastSeen(ctx, sensorID)
	if err != nil {
		return record.FetchWindow{}, false, fmt.Errorf("failed to read last seen for %s: %w", sensorID, err)
	}

	now := record.Normalize(p.now())
	start := p.anchor
	if found {
		start = record.Normalize(last)
	}
	if !start.Before(now) {
		return record.FetchWindow{}, false, nil
	}

	return record.FetchWindow{
		SensorID: sensorID,
		Start:    start,
		End:      now,
	}, true, nil
}
