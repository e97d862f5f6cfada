package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"energysync/pkg/config"
	"energysync/pkg/record"
)

// HistoryAPIClient fetches raw state transitions from the period-history
// endpoint. It is the guaranteed last-resort source: Probe always succeeds,
// and transient failures are retried with exponential backoff before the
// error is surfaced.
type HistoryAPIClient struct {
	api        apiClient
	maxRetries int
	baseDelay  time.Duration
	log        zerolog.Logger
}

// NewHistoryAPIClient creates a period-history client. maxRetries bounds
// retry attempts for transient failures; pass 0 for the default.
func NewHistoryAPIClient(baseURL, token string, timeout time.Duration, maxRetries int) *HistoryAPIClient {
	if maxRetries <= 0 {
		maxRetries = config.DefaultFetchRetries
	}
	return &HistoryAPIClient{
		api:        newAPIClient(baseURL, token, timeout),
		maxRetries: maxRetries,
		baseDelay:  config.FetchRetryBaseDelay,
		log:        log.With().Str("source", string(record.SourceHistoryAPI)).Logger(),
	}
}

func (c *HistoryAPIClient) Name() record.Source { return record.SourceHistoryAPI }

// Probe always reports available. The history API is the floor of the
// fallback chain; reachability problems show up as transient fetch errors
// with their own retry budget.
func (c *HistoryAPIClient) Probe(ctx context.Context) error { return nil }

// historyState is one raw state transition as the history API returns it.
type historyState struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
}

// Fetch returns the raw state transitions for the sensor in the window.
// Transient failures (network, 429, 5xx) are retried with exponential
// backoff: baseDelay, doubling per attempt, maxRetries attempts total.
func (c *HistoryAPIClient) Fetch(ctx context.Context, win record.FetchWindow) ([]Reading, error) {
	var readings []Reading

	op := func() error {
		var err error
		readings, err = c.fetchOnce(ctx, win)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0 // deterministic schedule, tests rely on it
	policy.MaxElapsedTime = 0

	notify := func(err error, delay time.Duration) {
		c.log.Warn().
			Err(err).
			Dur("retry_in", delay).
			Str("sensor", win.SensorID).
			Msg("transient history fetch failure, retrying")
	}

	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries-1)), ctx),
		notify)
	if err != nil {
		return nil, err
	}
	return readings, nil
}

func (c *HistoryAPIClient) fetchOnce(ctx context.Context, win record.FetchWindow) ([]Reading, error) {
	path := "/api/history/period/" + win.Start.UTC().Format(time.RFC3339)
	params := url.Values{}
	params.Set("filter_entity_id", win.SensorID)
	params.Set("end_time", win.End.UTC().Format(time.RFC3339))

	body, err := c.api.get(ctx, record.SourceHistoryAPI, path, params)
	if err != nil {
		return nil, err
	}

	// Response shape: one list of state objects per requested entity.
	var payload [][]historyState
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, NewError(record.SourceHistoryAPI, KindUnavailable,
			fmt.Errorf("failed to decode history response: %w", err))
	}

	var readings []Reading
	for _, entityStates := range payload {
		for _, st := range entityStates {
			if st.EntityID != "" && st.EntityID != win.SensorID {
				continue
			}
			ts, err := time.Parse(time.RFC3339, st.LastChanged)
			if err != nil {
				// Malformed timestamps are a per-record problem for the
				// normalizer to count, not a fetch failure.
				continue
			}
			readings = append(readings, Reading{
				EntityID:  win.SensorID,
				Timestamp: record.Normalize(ts),
				State:     st.State,
				Raw:       true,
			})
		}
	}

	c.log.Debug().
		Str("sensor", win.SensorID).
		Int("states", len(readings)).
		Msg("fetched raw history states")
	return readings, nil
}
