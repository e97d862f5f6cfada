package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"energysync/pkg/config"
	"energysync/pkg/record"
)

// Availability is one source's probe outcome for the current run.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ProbeResults maps each source to its availability. Recomputed at the
// start of every run and scoped to that run; never cached across runs.
type ProbeResults map[record.Source]Availability

// Selector picks the source order for a fetch window and walks the
// fallback chain. Selection is deterministic given the window span and the
// probe results: no randomness, no memory across calls.
type Selector struct {
	database   Client
	statistics Client
	history    Client
	log        zerolog.Logger
}

// NewSelector builds a selector over the three source tiers. database and
// statistics may be nil when disabled by configuration; history is
// mandatory, it is the guaranteed fallback.
func NewSelector(database, statistics, history Client) *Selector {
	if history == nil {
		panic("selector requires a history client")
	}
	return &Selector{
		database:   database,
		statistics: statistics,
		history:    history,
		log:        log.With().Str("component", "selector").Logger(),
	}
}

// Probe recomputes availability for every configured source.
func (s *Selector) Probe(ctx context.Context) ProbeResults {
	results := make(ProbeResults, 3)
	for _, c := range []Client{s.database, s.statistics, s.history} {
		if c == nil {
			continue
		}
		if err := c.Probe(ctx); err != nil {
			results[c.Name()] = Availability{Available: false, Reason: err.Error()}
			s.log.Info().Str("source", string(c.Name())).Err(err).Msg("source unavailable this run")
		} else {
			results[c.Name()] = Availability{Available: true}
		}
	}
	return results
}

// order returns the clients to try for the window, in preference order.
func (s *Selector) order(win record.FetchWindow, probes ProbeResults) []Client {
	span := win.Span()
	var chain []Client

	if s.database != nil && span >= config.DatabaseMinSpan &&
		probes[record.SourceDatabase].Available {
		chain = append(chain, s.database)
	}
	if s.statistics != nil && span >= config.StatisticsAPIMinSpan &&
		probes[record.SourceStatisticsAPI].Available {
		chain = append(chain, s.statistics)
	}
	return append(chain, s.history)
}

// Fetch walks the fallback chain for the window and returns the first
// usable result along with the source that produced it.
//
// A successful fetch of zero readings for a multi-day window is treated as
// a below-sanity result: the next source is tried, and the empty result is
// only returned if no later source does better. The fetch fails only when
// every attempted source fails.
func (s *Selector) Fetch(ctx context.Context, win record.FetchWindow, probes ProbeResults) ([]Reading, record.Source, error) {
	chain := s.order(win, probes)

	var (
		errs       []error
		emptyFrom  record.Source
		sawEmptyOK bool
	)

	for i, client := range chain {
		src := client.Name()
		readings, err := client.Fetch(ctx, win)
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("sensor", win.SensorID).
				Str("source", string(src)).
				Str("kind", KindOf(err).String()).
				Msg("source fetch failed, falling back")
			errs = append(errs, err)
			continue
		}

		if len(readings) == 0 && win.Span() >= config.SanityMinSpan && i < len(chain)-1 {
			s.log.Warn().
				Str("sensor", win.SensorID).
				Str("source", string(src)).
				Dur("span", win.Span()).
				Msg("empty result for multi-day window, trying next source")
			sawEmptyOK = true
			emptyFrom = src
			continue
		}

		return readings, src, nil
	}

	// Every source either failed or came back empty. An empty success wins
	// over failures: when a source answered and simply had nothing, absence
	// of data is the answer.
	if sawEmptyOK {
		return nil, emptyFrom, nil
	}
	return nil, "", fmt.Errorf("all sources failed for %s: %w", win.SensorID, errors.Join(errs...))
}
