package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"energysync/pkg/record"
)

// fakeClient scripts one source's probe and fetch behavior.
type fakeClient struct {
	name     record.Source
	probeErr error
	readings []Reading
	fetchErr error
	fetches  int
}

func (f *fakeClient) Name() record.Source             { return f.name }
func (f *fakeClient) Probe(ctx context.Context) error { return f.probeErr }
func (f *fakeClient) Fetch(ctx context.Context, win record.FetchWindow) ([]Reading, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.readings, nil
}

func window(span time.Duration) record.FetchWindow {
	end := time.Date(2025, 10, 30, 12, 0, 0, 0, time.UTC)
	return record.FetchWindow{SensorID: "sensor.mains_energy", Start: end.Add(-span), End: end}
}

func someReadings(n int) []Reading {
	out := make([]Reading, n)
	for i := range out {
		v := float64(i)
		out[i] = Reading{EntityID: "sensor.mains_energy", Timestamp: time.Now().UTC(), Sum: &v}
	}
	return out
}

func TestSelector_Order(t *testing.T) {
	db := &fakeClient{name: record.SourceDatabase}
	stats := &fakeClient{name: record.SourceStatisticsAPI}
	hist := &fakeClient{name: record.SourceHistoryAPI}
	sel := NewSelector(db, stats, hist)

	allUp := ProbeResults{
		record.SourceDatabase:      {Available: true},
		record.SourceStatisticsAPI: {Available: true},
		record.SourceHistoryAPI:    {Available: true},
	}
	dbDown := ProbeResults{
		record.SourceDatabase:      {Available: false, Reason: "no database file"},
		record.SourceStatisticsAPI: {Available: true},
		record.SourceHistoryAPI:    {Available: true},
	}

	tests := []struct {
		name   string
		span   time.Duration
		probes ProbeResults
		want   []record.Source
	}{
		{"short window goes straight to history", 24 * time.Hour, allUp,
			[]record.Source{record.SourceHistoryAPI}},
		{"exactly 3 days selects database", 3 * 24 * time.Hour, allUp,
			[]record.Source{record.SourceDatabase, record.SourceHistoryAPI}},
		{"just under 3 days does not", 3*24*time.Hour - time.Second, allUp,
			[]record.Source{record.SourceHistoryAPI}},
		{"exactly 30 days adds statistics api", 30 * 24 * time.Hour, allUp,
			[]record.Source{record.SourceDatabase, record.SourceStatisticsAPI, record.SourceHistoryAPI}},
		{"10 days with database down falls to history, not statistics", 10 * 24 * time.Hour, dbDown,
			[]record.Source{record.SourceHistoryAPI}},
		{"45 days with database down uses statistics first", 45 * 24 * time.Hour, dbDown,
			[]record.Source{record.SourceStatisticsAPI, record.SourceHistoryAPI}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := sel.order(window(tt.span), tt.probes)
			if len(chain) != len(tt.want) {
				t.Fatalf("chain length = %d, want %d", len(chain), len(tt.want))
			}
			for i, c := range chain {
				if c.Name() != tt.want[i] {
					t.Errorf("chain[%d] = %s, want %s", i, c.Name(), tt.want[i])
				}
			}
		})
	}
}

func TestSelector_FallbackOnFailure(t *testing.T) {
	db := &fakeClient{
		name:     record.SourceDatabase,
		fetchErr: NewError(record.SourceDatabase, KindUnreadable, errors.New("malformed database")),
	}
	hist := &fakeClient{name: record.SourceHistoryAPI, readings: someReadings(5)}
	sel := NewSelector(db, nil, hist)

	probes := ProbeResults{
		record.SourceDatabase:   {Available: true},
		record.SourceHistoryAPI: {Available: true},
	}

	readings, src, err := sel.Fetch(context.Background(), window(5*24*time.Hour), probes)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if src != record.SourceHistoryAPI {
		t.Errorf("source used = %s, want history_api", src)
	}
	if len(readings) != 5 {
		t.Errorf("got %d readings, want 5", len(readings))
	}
	if db.fetches != 1 {
		t.Errorf("database fetched %d times, want 1", db.fetches)
	}
}

func TestSelector_EmptyMultiDayResultFallsThrough(t *testing.T) {
	db := &fakeClient{name: record.SourceDatabase} // succeeds with zero readings
	hist := &fakeClient{name: record.SourceHistoryAPI, readings: someReadings(3)}
	sel := NewSelector(db, nil, hist)

	probes := ProbeResults{
		record.SourceDatabase:   {Available: true},
		record.SourceHistoryAPI: {Available: true},
	}

	readings, src, err := sel.Fetch(context.Background(), window(5*24*time.Hour), probes)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if src != record.SourceHistoryAPI {
		t.Errorf("source used = %s, want history_api", src)
	}
	if len(readings) != 3 {
		t.Errorf("got %d readings, want 3", len(readings))
	}
}

func TestSelector_AllEmptyIsNotFatal(t *testing.T) {
	db := &fakeClient{name: record.SourceDatabase}
	hist := &fakeClient{name: record.SourceHistoryAPI}
	sel := NewSelector(db, nil, hist)

	probes := ProbeResults{
		record.SourceDatabase:   {Available: true},
		record.SourceHistoryAPI: {Available: true},
	}

	readings, _, err := sel.Fetch(context.Background(), window(5*24*time.Hour), probes)
	if err != nil {
		t.Fatalf("all-empty fetch should not fail: %v", err)
	}
	if len(readings) != 0 {
		t.Errorf("expected no readings, got %d", len(readings))
	}
}

func TestSelector_AllSourcesFailing(t *testing.T) {
	db := &fakeClient{
		name:     record.SourceDatabase,
		fetchErr: NewError(record.SourceDatabase, KindUnreadable, errors.New("corrupt")),
	}
	hist := &fakeClient{
		name:     record.SourceHistoryAPI,
		fetchErr: NewError(record.SourceHistoryAPI, KindTransient, errors.New("connection refused")),
	}
	sel := NewSelector(db, nil, hist)

	probes := ProbeResults{
		record.SourceDatabase:   {Available: true},
		record.SourceHistoryAPI: {Available: true},
	}

	_, _, err := sel.Fetch(context.Background(), window(5*24*time.Hour), probes)
	if err == nil {
		t.Fatal("expected error when every source fails")
	}
}

func TestSelector_ShortWindowEmptyIsFine(t *testing.T) {
	// A one-hour window with no data is normal, not below-sanity.
	hist := &fakeClient{name: record.SourceHistoryAPI}
	sel := NewSelector(nil, nil, hist)

	probes := ProbeResults{record.SourceHistoryAPI: {Available: true}}
	readings, src, err := sel.Fetch(context.Background(), window(time.Hour), probes)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if src != record.SourceHistoryAPI || len(readings) != 0 {
		t.Errorf("unexpected result: src=%s n=%d", src, len(readings))
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w",
		NewError(record.SourceHistoryAPI, KindTransient, errors.New("inner")))
	if KindOf(wrapped) != KindTransient {
		t.Errorf("KindOf should see through wrapping")
	}
	if KindOf(errors.New("plain")) != KindUnavailable {
		t.Errorf("unclassified errors default to unavailable")
	}
	if !IsTransient(wrapped) {
		t.Errorf("IsTransient(wrapped transient) = false")
	}
}
