package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a newspush config file. Files ending in .yaml or .yml are
// read as YAML; anything else is JSON. Both go through one strict JSON
// decoder, so a misspelled key such as "appsecret" is an error instead of
// a silently empty secret.
func Decode(path string, data []byte) (*Config, error) {
	if isYAML(path) {
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, errors.New("trailing data after config object")
		}
		return nil, err
	}
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON. An empty document is an
// empty config, which env vars alone can complete.
func yamlToJSON(data []byte) ([]byte, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if tree == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(jsonKeys(tree))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

// jsonKeys turns non-string map keys (a bare `8:` under scheduler, say)
// into strings so encoding/json accepts the tree.
func jsonKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = jsonKeys(val)
		}
		return m
	case map[string]any:
		for k, val := range t {
			t[k] = jsonKeys(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = jsonKeys(val)
		}
		return t
	}
	return v
}

// DurationField parses a duration setting such as http.timeout. Empty or
// zero yields def; a malformed or negative value is an error naming field.
func DurationField(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration like 30s or 2m", field, raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %q is negative", field, raw)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
