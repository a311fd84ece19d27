// Package artifacts reads the columnar tables the external tool writes
// after an indexing run. Nothing here interprets the graph; the tables are
// loaded for display only.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// ErrNoOutput indicates the tool has not produced an output directory yet.
// It is an expected pre-indexing state, not a failure.
var ErrNoOutput = errors.New("no indexing output found")

// Entity is one row of the entities table.
type Entity struct {
	Title       string `parquet:"title,optional" json:"title"`
	Type        string `parquet:"type,optional" json:"type"`
	Description string `parquet:"description,optional" json:"description"`
}

// Relationship is one row of the relationships table.
type Relationship struct {
	Source      string  `parquet:"source,optional" json:"source"`
	Target      string  `parquet:"target,optional" json:"target"`
	Description string  `parquet:"description,optional" json:"description"`
	Weight      float64 `parquet:"weight,optional" json:"weight"`
}

// CommunityReport is one row of the community reports table.
type CommunityReport struct {
	Title       string `parquet:"title,optional" json:"title"`
	Summary     string `parquet:"summary,optional" json:"summary"`
	FullContent string `parquet:"full_content,optional" json:"full_content"`
}

// GraphData holds the three loaded datasets. An empty slice means the
// dataset was absent or unreadable, not that the table is confirmed empty.
type GraphData struct {
	Entities      []Entity          `json:"entities"`
	Relationships []Relationship    `json:"relationships"`
	Reports       []CommunityReport `json:"reports"`
}

// Filename candidates per dataset, current naming first, then the layout
// older tool versions produced.
var (
	entityFiles       = []string{"entities.parquet", "create_final_entities.parquet"}
	relationshipFiles = []string{"relationships.parquet", "create_final_relationships.parquet"}
	reportFiles       = []string{"community_reports.parquet", "create_final_community_reports.parquet"}
)

// LatestOutputDir resolves the directory holding the most recent run's
// artifacts. Newer tool versions write parquet files directly under the
// output root; older ones create timestamped subdirectories with a nested
// artifacts/ directory. Returns ErrNoOutput when nothing has been indexed.
func LatestOutputDir(outputRoot string) (string, error) {
	if _, err := os.Stat(outputRoot); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoOutput
		}
		return "", fmt.Errorf("checking output root: %w", err)
	}

	if _, err := os.Stat(filepath.Join(outputRoot, "entities.parquet")); err == nil {
		return outputRoot, nil
	}

	entries, err := os.ReadDir(outputRoot)
	if err != nil {
		return "", fmt.Errorf("reading output root: %w", err)
	}

	var latest string
	var latestMod int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().UnixNano() > latestMod {
			latest = filepath.Join(outputRoot, e.Name())
			latestMod = info.ModTime().UnixNano()
		}
	}
	if latest == "" {
		return "", ErrNoOutput
	}

	nested := filepath.Join(latest, "artifacts")
	if _, err := os.Stat(nested); err == nil {
		return nested, nil
	}
	return latest, nil
}

// Load resolves the latest output directory and loads the three datasets.
// A dataset whose candidates are all missing or unparsable comes back
// empty; only the complete absence of an output directory is reported,
// via ErrNoOutput.
func Load(outputRoot string) (GraphData, error) {
	dir, err := LatestOutputDir(outputRoot)
	if err != nil {
		return GraphData{}, err
	}

	var data GraphData
	data.Entities = loadFirst[Entity](dir, entityFiles)
	data.Relationships = loadFirst[Relationship](dir, relationshipFiles)
	data.Reports = loadFirst[CommunityReport](dir, reportFiles)
	return data, nil
}

// loadFirst returns the rows of the first candidate file that exists and
// parses. When none does it returns an empty, non-nil slice, so datasets
// always serialize as arrays rather than null.
func loadFirst[T any](dir string, candidates []string) []T {
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		rows, err := parquet.ReadFile[T](path)
		if err != nil {
			continue
		}
		return rows
	}
	return []T{}
}
