package record

import "time"

// Source identifies which upstream a record was fetched from.
type Source string

const (
	SourceDatabase      Source = "database"
	SourceStatisticsAPI Source = "statistics_api"
	SourceHistoryAPI    Source = "history_api"
)

// Record is the canonical, source-independent representation of one
// timestamped consumption reading. Value is cumulative kWh since local
// midnight; per sensor, records are uniquely keyed by Timestamp.
type Record struct {
	SensorID  string    `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Source    Source    `json:"source"`
}

// SensorSpec names one tracked energy sensor. Loaded once per run from the
// sensor CSV and immutable afterwards.
type SensorSpec struct {
	EntityID     string `json:"entity_id"`
	FriendlyName string `json:"friendly_name"`
	Group        string `json:"group,omitempty"`
}

// FetchWindow is the time range one run must fetch for one sensor.
// Produced by the planner, consumed once by the selector.
type FetchWindow struct {
	SensorID string    `json:"sensor_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Span returns the window length.
func (w FetchWindow) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// Normalize truncates a timestamp to UTC second precision, the resolution
// every source is reduced to before merging.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// IsMidnightBoundary reports whether t falls exactly on a midnight boundary
// in the given location. Cumulative sensors reset there, so a value drop at
// such a timestamp is expected rather than a data-quality problem.
func IsMidnightBoundary(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	return local.Hour() == 0 && local.Minute() == 0 && local.Second() == 0
}
