package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"energysync/pkg/collect"
	"energysync/pkg/config"
	"energysync/pkg/export"
	badgerstore "energysync/pkg/history/badger"
	"energysync/pkg/normalize"
	"energysync/pkg/notify"
	"energysync/pkg/planner"
	"energysync/pkg/record"
	"energysync/pkg/sensors"
	"energysync/pkg/source"
)

var startTime = time.Now()

// runState holds the latest collection summary for /status.
type runState struct {
	mu      sync.RWMutex
	summary *collect.Summary
	runs    int
}

func (s *runState) set(summary *collect.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.runs++
}

func (s *runState) get() (*collect.Summary, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.runs
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	specs, err := sensors.LoadCSV(config.SensorCSV())
	if err != nil {
		log.Fatal().Err(err).Str("path", config.SensorCSV()).Msg("failed to load sensor list")
	}
	log.Info().Int("sensors", len(specs)).Str("path", config.SensorCSV()).Msg("sensor list loaded")

	if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", config.DataDir()).Msg("failed to create data directory")
	}
	store, err := badgerstore.New(badgerstore.Config{Path: config.DataDir()})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history store")
	}
	defer store.Close()
	log.Info().Str("dir", config.DataDir()).Msg("history store opened")

	var database, statistics source.Client
	if config.DatabaseEnabled() {
		database = source.NewDatabaseClient(config.HADBPath())
	}
	if config.StatisticsEnabled() {
		statistics = source.NewStatisticsAPIClient(config.HAURL(), config.HAToken(), config.HTTPTimeout())
	}
	historyClient := source.NewHistoryAPIClient(config.HAURL(), config.HAToken(), config.HTTPTimeout(), config.FetchRetries())
	selector := source.NewSelector(database, statistics, historyClient)

	collector := collect.New(collect.Config{
		Fetcher:    selector,
		Planner:    planner.New(store, config.AnchorDate()),
		Normalizer: normalize.New(time.Local),
		Store:      store,
		Workers:    config.Workers(),
		Logger:     log.Logger,
	})

	var publisher *notify.Publisher
	if broker := config.MQTTBroker(); broker != "" {
		publisher, err = notify.Connect(broker, config.MQTTTopic(), log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("mqtt unavailable, run summaries will not be published")
		} else {
			defer publisher.Close()
		}
	}

	state := &runState{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runLoop(ctx, collector, specs, state, publisher)
	}()

	router := mux.NewRouter()
	router.HandleFunc("/health", handleHealth(store)).Methods("GET")
	router.HandleFunc("/status", handleStatus(state)).Methods("GET")
	router.HandleFunc("/stats", handleStats(store)).Methods("GET")
	router.Handle("/export", export.NewHandler(store, log.Logger)).Methods("GET")

	server := &http.Server{
		Addr:         config.HealthAddr(),
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}
	go func() {
		log.Info().Str("addr", config.HealthAddr()).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("collector stopped cleanly")
	case <-time.After(config.ShutdownTimeout):
		log.Warn().Msg("collection run did not stop in time, forcing exit")
	}
}

// runLoop runs one collection immediately and then on every tick.
func runLoop(ctx context.Context, collector *collect.Collector, specs []record.SensorSpec, state *runState, publisher *notify.Publisher) {
	runOnce := func() {
		summary := collector.Run(ctx, specs)
		state.set(summary)
		if publisher != nil {
			publisher.PublishSummary(summary)
		}
	}

	runOnce()

	ticker := time.NewTicker(config.RunInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func handleHealth(store *badgerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"status": "healthy",
			"uptime": time.Since(startTime).String(),
		}
		if stats, err := store.Stats(r.Context()); err == nil {
			resp["records"] = stats.TotalRecords
			resp["sensors"] = stats.Sensors
		} else {
			resp["status"] = "degraded"
			resp["error"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error().Err(err).Msg("failed to encode health response")
		}
	}
}

func handleStatus(state *runState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, runs := state.get()
		w.Header().Set("Content-Type", "application/json")

		if summary == nil {
			w.WriteHeader(http.StatusOK)
			if err := json.NewEncoder(w).Encode(map[string]interface{}{"runs": 0}); err != nil {
				log.Error().Err(err).Msg("failed to encode status response")
			}
			return
		}
		resp := struct {
			Runs    int              `json:"runs"`
			LastRun *collect.Summary `json:"last_run"`
		}{Runs: runs, LastRun: summary}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error().Err(err).Msg("failed to encode status response")
		}
	}
}

func handleStats(store *badgerstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := store.Stats(r.Context())
		if err != nil {
			http.Error(w, "failed to read store stats", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			log.Error().Err(err).Msg("failed to encode stats response")
		}
	}
}
