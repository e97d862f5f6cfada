// Package export renders stored consumption series as JSON or CSV, for
// backups and for feeding downstream spreadsheets.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"energysync/pkg/history"
	"energysync/pkg/record"
)

// Exporter reads series out of a history store.
type Exporter struct {
	store history.Store
}

// NewExporter creates an exporter over the given store.
func NewExporter(store history.Store) *Exporter {
	return &Exporter{store: store}
}

// Options configures a single export.
type Options struct {
	// Time range to export, inclusive.
	Start time.Time
	End   time.Time

	// SensorID limits the export to one sensor (empty = all).
	SensorID string

	// Format: "json" or "csv".
	Format string
}

// Result reports what an export produced.
type Result struct {
	RecordsExported int       `json:"records_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// ToJSON writes the matching records as a JSON document with metadata.
func (e *Exporter) ToJSON(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := struct {
		Metadata struct {
			ExportedAt  time.Time `json:"exported_at"`
			StartTime   time.Time `json:"start_time"`
			EndTime     time.Time `json:"end_time"`
			RecordCount int       `json:"record_count"`
			SensorID    string    `json:"sensor_id,omitempty"`
			Version     string    `json:"version"`
		} `json:"metadata"`
		Records []record.Record `json:"records"`
	}{
		Records: records,
	}
	doc.Metadata.ExportedAt = time.Now().UTC()
	doc.Metadata.StartTime = opts.Start
	doc.Metadata.EndTime = opts.End
	doc.Metadata.RecordCount = len(records)
	doc.Metadata.SensorID = opts.SensorID
	doc.Metadata.Version = "1.0"

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return e.result(records, opts, "json"), nil
}

// ToCSV writes the matching records as CSV rows.
func (e *Exporter) ToCSV(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"timestamp", "sensor_id", "value", "source"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.SensorID,
			strconv.FormatFloat(rec.Value, 'f', -1, 64),
			string(rec.Source),
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return e.result(records, opts, "csv"), nil
}

func (e *Exporter) query(ctx context.Context, opts Options) ([]record.Record, error) {
	records, err := e.store.Range(ctx, history.RangeRequest{
		SensorID: opts.SensorID,
		Start:    opts.Start,
		End:      opts.End,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

func (e *Exporter) result(records []record.Record, opts Options, format string) *Result {
	return &Result{
		RecordsExported: len(records),
		TimeRange:       fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339)),
		Format:          format,
		ExportedAt:      time.Now().UTC(),
	}
}
