package memory

import (
	"context"
	"testing"
	"time"

	"energysync/pkg/history"
	"energysync/pkg/record"
)

func rec(sensorID string, ts time.Time, v float64) record.Record {
	return record.Record{SensorID: sensorID, Timestamp: ts, Value: v, Source: record.SourceHistoryAPI}
}

func TestMergeOrderedInsert(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.Merge(ctx, "sensor.a", []record.Record{
		rec("sensor.a", start.Add(2*time.Hour), 3),
		rec("sensor.a", start, 1),
		rec("sensor.a", start.Add(time.Hour), 2),
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Inserted != 3 {
		t.Fatalf("inserted %d, want 3", res.Inserted)
	}

	got, err := s.Range(ctx, history.RangeRequest{SensorID: "sensor.a"})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	for i, want := range []float64{1, 2, 3} {
		if got[i].Value != want {
			t.Errorf("record %d: value %v, want %v", i, got[i].Value, want)
		}
	}
}

func TestMergeSkipsDuplicates(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	ts := time.Date(2025, 10, 1, 6, 0, 0, 0, time.UTC)

	if _, err := s.Merge(ctx, "sensor.a", []record.Record{rec("sensor.a", ts, 5)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	res, err := s.Merge(ctx, "sensor.a", []record.Record{rec("sensor.a", ts, 42)})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Inserted != 0 || res.DuplicatesSkipped != 1 {
		t.Fatalf("got %+v, want 1 duplicate", res)
	}

	got, _ := s.Range(ctx, history.RangeRequest{SensorID: "sensor.a"})
	if len(got) != 1 || got[0].Value != 5 {
		t.Errorf("stored record changed: %+v", got)
	}
}

func TestLastSeen(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()

	if _, ok, _ := s.LastSeen(ctx, "sensor.a"); ok {
		t.Fatal("last seen on empty store reported a timestamp")
	}

	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	s.Merge(ctx, "sensor.a", []record.Record{
		rec("sensor.a", start, 1),
		rec("sensor.a", start.Add(time.Hour), 2),
	})

	last, ok, err := s.LastSeen(ctx, "sensor.a")
	if err != nil || !ok {
		t.Fatalf("last seen: ok=%v err=%v", ok, err)
	}
	if want := start.Add(time.Hour); !last.Equal(want) {
		t.Errorf("last seen %v, want %v", last, want)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := New()
	ctx := context.Background()
	ts := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.Merge(ctx, "sensor.a", []record.Record{rec("sensor.a", ts, 1)}); err != nil {
		t.Fatalf("merge before close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := s.Merge(ctx, "sensor.a", []record.Record{rec("sensor.a", ts.Add(time.Hour), 2)}); err != ErrClosed {
		t.Errorf("merge after close: err = %v, want ErrClosed", err)
	}
	if _, err := s.Range(ctx, history.RangeRequest{SensorID: "sensor.a"}); err != ErrClosed {
		t.Errorf("range after close: err = %v, want ErrClosed", err)
	}
	if _, _, err := s.LastSeen(ctx, "sensor.a"); err != ErrClosed {
		t.Errorf("last seen after close: err = %v, want ErrClosed", err)
	}
	if _, err := s.Stats(ctx); err != ErrClosed {
		t.Errorf("stats after close: err = %v, want ErrClosed", err)
	}
}

func TestRangeAcrossSensors(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	s.Merge(ctx, "sensor.b", []record.Record{rec("sensor.b", start.Add(time.Hour), 2)})
	s.Merge(ctx, "sensor.a", []record.Record{rec("sensor.a", start, 1)})

	got, err := s.Range(ctx, history.RangeRequest{})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].SensorID != "sensor.a" || got[1].SensorID != "sensor.b" {
		t.Errorf("records out of time order: %+v", got)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Sensors != 2 || stats.TotalRecords != 2 {
		t.Errorf("stats %+v, want 2 sensors / 2 records", stats)
	}
}
