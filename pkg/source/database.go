package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"energysync/pkg/config"
	"energysync/pkg/record"
)

// defaultDBPaths are the well-known recorder database locations, in
// preference order. The first existing, readable path wins.
var defaultDBPaths = []string{
	"/config/home-assistant_v2.db",
	"/data/home-assistant_v2.db",
	"~/.homeassistant/home-assistant_v2.db",
	"/homeassistant/home-assistant_v2.db",
	"/share/homeassistant/home-assistant_v2.db",
}

// DatabaseClient reads statistics straight out of the Home Assistant
// recorder database. Strictly read-only: the file is opened with mode=ro
// and nothing in this client ever writes.
type DatabaseClient struct {
	paths []string
	log   zerolog.Logger

	mu   sync.Mutex
	db   *sqlx.DB
	path string
}

// NewDatabaseClient creates a recorder-database client. An explicit path
// (from configuration) is tried before the well-known locations; pass ""
// to use only the defaults.
func NewDatabaseClient(explicitPath string) *DatabaseClient {
	paths := make([]string, 0, len(defaultDBPaths)+1)
	if explicitPath != "" {
		paths = append(paths, explicitPath)
	}
	paths = append(paths, defaultDBPaths...)

	return &DatabaseClient{
		paths: paths,
		log:   log.With().Str("source", string(record.SourceDatabase)).Logger(),
	}
}

func (c *DatabaseClient) Name() record.Source { return record.SourceDatabase }

// Probe locates the database file and verifies it opens read-only. The
// handle is kept for subsequent fetches in the same run; a later probe
// re-checks from scratch because the file can appear or vanish between
// runs.
func (c *DatabaseClient) Probe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path, err := c.findPath()
	if err != nil {
		return NewError(record.SourceDatabase, KindUnavailable, err)
	}

	// Reopen if the winning candidate changed since last run.
	if c.db != nil && c.path == path {
		return nil
	}
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}

	db, err := openReadOnly(ctx, path)
	if err != nil {
		return NewError(record.SourceDatabase, KindUnreadable, err)
	}

	c.db = db
	c.path = path
	c.log.Debug().Str("path", path).Msg("recorder database available")
	return nil
}

// statRow mirrors one statistics_short_term row joined with its metadata.
type statRow struct {
	StatisticID string          `db:"statistic_id"`
	StartTS     float64         `db:"start_ts"`
	State       sql.NullFloat64 `db:"state"`
	Sum         sql.NullFloat64 `db:"sum"`
}

// Fetch queries hourly statistics rows for one sensor in the window.
func (c *DatabaseClient) Fetch(ctx context.Context, win record.FetchWindow) ([]Reading, error) {
	c.mu.Lock()
	db := c.db
	c.mu.Unlock()

	if db == nil {
		if err := c.Probe(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		db = c.db
		c.mu.Unlock()
	}

	// The recorder keys statistics by an internal metadata id, not the
	// entity id. No metadata row means this sensor has no statistics here.
	var metaID int64
	err := db.GetContext(ctx, &metaID,
		`SELECT id FROM statistics_meta WHERE statistic_id = ?`, win.SensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError(record.SourceDatabase, KindNotFound,
			fmt.Errorf("no statistics metadata for %s", win.SensorID))
	}
	if err != nil {
		return nil, NewError(record.SourceDatabase, KindUnreadable,
			fmt.Errorf("failed to resolve metadata id: %w", err))
	}

	var rows []statRow
	err = db.SelectContext(ctx, &rows, `
		SELECT sm.statistic_id, s.start_ts, s.state, s.sum
		FROM statistics_short_term s
		JOIN statistics_meta sm ON s.metadata_id = sm.id
		WHERE s.metadata_id = ?
		  AND s.start_ts >= ?
		  AND s.start_ts <= ?
		ORDER BY s.start_ts`,
		metaID, float64(win.Start.Unix()), float64(win.End.Unix()))
	if err != nil {
		return nil, NewError(record.SourceDatabase, KindUnreadable,
			fmt.Errorf("failed to query statistics: %w", err))
	}

	readings := make([]Reading, 0, len(rows))
	for _, r := range rows {
		rd := Reading{
			EntityID:  r.StatisticID,
			Timestamp: record.Normalize(unixFloat(r.StartTS)),
		}
		// Prefer the cumulative sum; fall back to state for rows written by
		// older recorder versions.
		switch {
		case r.Sum.Valid:
			v := r.Sum.Float64
			rd.Sum = &v
		case r.State.Valid:
			v := r.State.Float64
			rd.Sum = &v
		default:
			continue
		}
		readings = append(readings, rd)
	}

	c.log.Debug().
		Str("sensor", win.SensorID).
		Int("rows", len(readings)).
		Msg("fetched recorder statistics")
	return readings, nil
}

// Close releases the database handle, if one is open.
func (c *DatabaseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *DatabaseClient) findPath() (string, error) {
	for _, p := range c.paths {
		expanded := expandHome(p)
		info, err := os.Stat(expanded)
		if err != nil || info.IsDir() {
			continue
		}
		f, err := os.Open(expanded)
		if err != nil {
			continue // present but not readable, try the next candidate
		}
		f.Close()
		return expanded, nil
	}
	return "", fmt.Errorf("no recorder database found in %d candidate paths", len(c.paths))
}

func openReadOnly(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder database: %w", err)
	}
	db.SetMaxOpenConns(1) // one reader, serialized; the recorder owns this file

	pingCtx, cancel := context.WithTimeout(ctx, config.DatabaseOpenTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder database unreadable: %w", err)
	}
	return db, nil
}

// unixFloat converts a recorder fractional unix timestamp to a time.Time.
func unixFloat(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
