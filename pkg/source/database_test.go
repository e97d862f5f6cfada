package source

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"energysync/pkg/record"
)

// writeRecorderDB creates a minimal recorder database with one metered
// sensor and hourly statistics rows starting at start.
func writeRecorderDB(t *testing.T, entityID string, start time.Time, sums ...float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "home-assistant_v2.db")

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to create fixture db: %v", err)
	}
	defer db.Close()

	schema := `
	CREATE TABLE statistics_meta (
		id INTEGER PRIMARY KEY,
		statistic_id TEXT NOT NULL
	);
	CREATE TABLE statistics_short_term (
		id INTEGER PRIMARY KEY,
		metadata_id INTEGER NOT NULL,
		start_ts REAL NOT NULL,
		state REAL,
		sum REAL
	);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	res, err := db.Exec(`INSERT INTO statistics_meta (statistic_id) VALUES (?)`, entityID)
	if err != nil {
		t.Fatalf("failed to insert metadata: %v", err)
	}
	metaID, _ := res.LastInsertId()

	for i, sum := range sums {
		ts := float64(start.Add(time.Duration(i) * time.Hour).Unix())
		if _, err := db.Exec(
			`INSERT INTO statistics_short_term (metadata_id, start_ts, state, sum) VALUES (?, ?, ?, ?)`,
			metaID, ts, nil, sum); err != nil {
			t.Fatalf("failed to insert row: %v", err)
		}
	}
	return path
}

func TestDatabaseFetch(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	path := writeRecorderDB(t, "sensor.energy_total", start, 1.5, 2.5, 4.0)

	c := NewDatabaseClient(path)
	defer c.Close()
	ctx := context.Background()

	if err := c.Probe(ctx); err != nil {
		t.Fatalf("probe: %v", err)
	}

	readings, err := c.Fetch(ctx, record.FetchWindow{
		SensorID: "sensor.energy_total",
		Start:    start,
		End:      start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("got %d readings, want 2 (window excludes the third row)", len(readings))
	}
	if readings[0].Sum == nil || *readings[0].Sum != 1.5 {
		t.Errorf("first reading sum %v, want 1.5", readings[0].Sum)
	}
	if !readings[1].Timestamp.Equal(start.Add(time.Hour)) {
		t.Errorf("second reading at %v, want %v", readings[1].Timestamp, start.Add(time.Hour))
	}
	if readings[0].Raw {
		t.Error("recorder readings must be aggregates, not raw states")
	}
}

func TestDatabaseFetchUnknownSensor(t *testing.T) {
	start := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	path := writeRecorderDB(t, "sensor.energy_total", start, 1.0)

	c := NewDatabaseClient(path)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Fetch(ctx, record.FetchWindow{
		SensorID: "sensor.does_not_exist",
		Start:    start,
		End:      start.Add(time.Hour),
	})
	if err == nil {
		t.Fatal("expected an error for an unknown sensor")
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("kind %v, want not-found", KindOf(err))
	}
}

func TestDatabaseProbeMissingFile(t *testing.T) {
	c := NewDatabaseClient(filepath.Join(t.TempDir(), "nope.db"))
	defer c.Close()

	err := c.Probe(context.Background())
	if err == nil {
		t.Fatal("expected probe to fail with no database present")
	}
	if KindOf(err) != KindUnavailable {
		t.Errorf("kind %v, want unavailable", KindOf(err))
	}

	var srcErr *Error
	if !errors.As(err, &srcErr) {
		t.Fatal("probe error must carry a source error")
	}
	if srcErr.Source != record.SourceDatabase {
		t.Errorf("source %q, want database", srcErr.Source)
	}
}
