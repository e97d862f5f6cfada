// Package sensors loads the tracked-sensor list from the user's CSV file.
// The file shape matches the Home Assistant export the project has always
// consumed: a header row with at least entity_id, optionally friendly_name
// and group columns.
package sensors

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"energysync/pkg/record"
)

// LoadCSV reads sensor specs from path. Rows without an entity_id and
// duplicate entity ids are skipped with a warning; order of first
// appearance is preserved.
func LoadCSV(path string) ([]record.SensorSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor csv: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads sensor specs from an already-open CSV stream.
func Parse(r io.Reader) ([]record.SensorSpec, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	idCol, ok := cols["entity_id"]
	if !ok {
		return nil, fmt.Errorf("sensor csv has no entity_id column (header: %v)", header)
	}

	var specs []record.SensorSpec
	seen := make(map[string]bool)

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sensor csv row: %w", err)
		}

		id := strings.TrimSpace(field(row, idCol))
		if id == "" {
			continue
		}
		if seen[id] {
			log.Warn().Str("entity_id", id).Msg("duplicate sensor in csv, keeping first occurrence")
			continue
		}
		seen[id] = true

		spec := record.SensorSpec{EntityID: id}
		if i, ok := cols["friendly_name"]; ok {
			spec.FriendlyName = strings.TrimSpace(field(row, i))
		}
		if spec.FriendlyName == "" {
			spec.FriendlyName = id
		}
		if i, ok := cols["group"]; ok {
			spec.Group = strings.TrimSpace(field(row, i))
		}
		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("sensor csv contains no sensors")
	}

	log.Info().Int("sensors", len(specs)).Msg("loaded sensor list")
	return specs, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
