package vector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileRecord is the on-disk shape of an importable entry. Everything beyond
// the known keys is kept as metadata.
type fileRecord struct {
	ID       string         `json:"id" yaml:"id"`
	Text     string         `json:"text" yaml:"text"`
	Prompt   string         `json:"prompt" yaml:"prompt"`
	Response string         `json:"response" yaml:"response"`
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
}

// ImportFile loads records from a file and imports them into the given
// collection. JSON and YAML files hold a list of records; any other
// extension is read as plain text, one document per line.
func ImportFile(ctx context.Context, h Handler, collection string, path string) error {
	recs, err := readImportFile(path)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("vector: no importable records in %s", path)
	}
	return h.Import(ctx, collection, recs)
}

func readImportFile(path string) ([]Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("vector: cannot read %s: %w", path, err)
		}
		var entries []fileRecord
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("vector: cannot parse %s: %w", path, err)
		}
		return convertFileRecords(entries), nil

	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("vector: cannot read %s: %w", path, err)
		}
		var entries []fileRecord
		if err := yaml.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("vector: cannot parse %s: %w", path, err)
		}
		return convertFileRecords(entries), nil

	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("vector: cannot read %s: %w", path, err)
		}
		defer f.Close()

		var recs []Record
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				recs = append(recs, Record{Text: line})
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("vector: cannot read %s: %w", path, err)
		}
		return recs, nil
	}
}

func convertFileRecords(entries []fileRecord) []Record {
	recs := make([]Record, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, Record{
			ID:       e.ID,
			Text:     e.Text,
			Prompt:   e.Prompt,
			Response: e.Response,
			Metadata: e.Metadata,
		})
	}
	return recs
}
