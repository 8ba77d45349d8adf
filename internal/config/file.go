package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML (or JSON) config file. Unlike inline config, an
// unreadable or unparsable file is an error; per-key fallback still applies
// once the document is read.
func LoadFile(path string) (*Config, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if doc == nil {
		return Default(), nil, nil
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert config file %s: %w", path, err)
	}
	cfg, problems := ParseReport(string(encoded))
	return cfg, problems, nil
}
