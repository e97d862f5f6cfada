package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"energysync/pkg/record"
)

const statisticsPath = "/api/history/statistics"

// StatisticsAPIClient fetches pre-aggregated hourly sums from the
// statistics endpoint. Not every Home Assistant version ships it: a 404
// surfaces as Unsupported and the selector moves on without retrying.
type StatisticsAPIClient struct {
	api apiClient
	log zerolog.Logger
}

// NewStatisticsAPIClient creates a statistics endpoint client.
func NewStatisticsAPIClient(baseURL, token string, timeout time.Duration) *StatisticsAPIClient {
	return &StatisticsAPIClient{
		api: newAPIClient(baseURL, token, timeout),
		log: log.With().Str("source", string(record.SourceStatisticsAPI)).Logger(),
	}
}

func (c *StatisticsAPIClient) Name() record.Source { return record.SourceStatisticsAPI }

// Probe checks that the API root answers. Whether the statistics endpoint
// itself exists is only knowable at fetch time (it 404s on older versions).
func (c *StatisticsAPIClient) Probe(ctx context.Context) error {
	return c.api.probeAPI(ctx, record.SourceStatisticsAPI)
}

// statBucket is one hourly aggregate as the statistics endpoint returns it.
type statBucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Sum   *float64  `json:"sum"`
	State *float64  `json:"state"`
}

// Fetch returns one reading per hourly bucket for the sensor.
func (c *StatisticsAPIClient) Fetch(ctx context.Context, win record.FetchWindow) ([]Reading, error) {
	params := url.Values{}
	params.Set("statistic_ids", win.SensorID)
	params.Set("start_time", win.Start.UTC().Format(time.RFC3339))
	params.Set("end_time", win.End.UTC().Format(time.RFC3339))
	params.Set("period", "hour")

	body, err := c.api.get(ctx, record.SourceStatisticsAPI, statisticsPath, params)
	if err != nil {
		return nil, err
	}

	// Response shape: {"sensor.x": [bucket, ...], ...}
	var payload map[string][]statBucket
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewError(record.SourceStatisticsAPI, KindUnavailable,
			fmt.Errorf("failed to decode statistics response: %w", err))
	}

	buckets := payload[win.SensorID]
	readings := make([]Reading, 0, len(buckets))
	for _, b := range buckets {
		if b.Start.IsZero() {
			continue
		}
		sum := b.Sum
		if sum == nil {
			sum = b.State
		}
		if sum == nil {
			continue
		}
		v := *sum
		readings = append(readings, Reading{
			EntityID:  win.SensorID,
			Timestamp: record.Normalize(b.Start),
			Sum:       &v,
		})
	}

	c.log.Debug().
		Str("sensor", win.SensorID).
		Int("buckets", len(readings)).
		Msg("fetched hourly statistics")
	return readings, nil
}
