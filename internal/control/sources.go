package control

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/hxann/curator/internal/core/domain"
)

// sourceEntry is one work item in a source list file.
type sourceEntry struct {
	URL   string   `yaml:"url"`
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

type sourceList struct {
	Sources map[string]sourceEntry `yaml:"sources"`
}

// LoadSources reads a YAML source list keyed by stable work-item key.
func LoadSources(path string) (map[string]*domain.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source list: %w", err)
	}

	var list sourceList
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &list); err != nil {
		return nil, fmt.Errorf("failed to parse source list: %w", err)
	}

	out := make(map[string]*domain.Source, len(list.Sources))
	for key, entry := range list.Sources {
		if key == "" {
			continue
		}
		out[key] = &domain.Source{
			Key:    key,
			Status: domain.StatusDiscovered,
			URL:    entry.URL,
			Title:  entry.Title,
			Tags:   entry.Tags,
		}
	}
	return out, nil
}
