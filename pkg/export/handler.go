package export

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"energysync/pkg/history"
)

// DefaultWindow is the export range when no start is given.
const DefaultWindow = 24 * time.Hour

// Handler serves GET /export over a history store.
type Handler struct {
	exporter *Exporter
	log      zerolog.Logger
}

// NewHandler creates the export HTTP handler.
func NewHandler(store history.Store, log zerolog.Logger) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		log:      log.With().Str("component", "export").Logger(),
	}
}

// ServeHTTP handles GET /export.
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start:  RFC3339 timestamp (default: 24h before end)
//   - end:    RFC3339 timestamp (default: now)
//   - sensor: entity id filter (optional)
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		http.Error(w, "format must be 'json' or 'csv'", http.StatusBadRequest)
		return
	}

	end := parseTimeParam(query.Get("end"), time.Now().UTC())
	start := parseTimeParam(query.Get("start"), end.Add(-DefaultWindow))
	if !start.Before(end) {
		http.Error(w, "start must be before end", http.StatusBadRequest)
		return
	}

	opts := Options{
		Start:    start,
		End:      end,
		SensorID: query.Get("sensor"),
		Format:   format,
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=energysync-%s.json", stamp))
	} else {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=energysync-%s.csv", stamp))
	}

	var (
		result *Result
		err    error
	)
	if format == "json" {
		result, err = h.exporter.ToJSON(r.Context(), w, opts)
	} else {
		result, err = h.exporter.ToCSV(r.Context(), w, opts)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("export failed")
		http.Error(w, fmt.Sprintf("export failed: %v", err), http.StatusInternalServerError)
		return
	}

	h.log.Info().
		Int("records", result.RecordsExported).
		Str("format", format).
		Str("range", result.TimeRange).
		Msg("export served")
}

func parseTimeParam(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fallback
	}
	return t.UTC()
}
