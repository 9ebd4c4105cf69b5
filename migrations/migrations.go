// Package migrations embeds the schema for each supported SQL dialect.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Directions accepted by Load.
const (
	Up   = "up"
	Down = "down"
)

// Script is one migration file.
type Script struct {
	Name string
	SQL  string
}

// Load returns the scripts for a dialect and direction, ordered for
// application: ascending for up, descending for down.
func Load(dialect, direction string) ([]Script, error) {
	if direction != Up && direction != Down {
		return nil, fmt.Errorf("unknown migration direction %q", direction)
	}

	entries, err := fs.ReadDir(files, dialect)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}

	suffix := "." + direction + ".sql"
	var scripts []Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		body, err := fs.ReadFile(files, dialect+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", e.Name(), err)
		}
		scripts = append(scripts, Script{Name: e.Name(), SQL: string(body)})
	}

	sort.Slice(scripts, func(i, j int) bool {
		if direction == Down {
			return scripts[i].Name > scripts[j].Name
		}
		return scripts[i].Name < scripts[j].Name
	})

	return scripts, nil
}
