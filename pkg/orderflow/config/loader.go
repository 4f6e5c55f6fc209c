package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/orderflow/pkg/orderflow/template"
)

// LoadOption configures file loading.
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookup template.Lookup
}

// WithSubstitution expands ${VAR} and ${VAR:-default} references in the
// raw file before parsing. Unresolved references are an error.
func WithSubstitution(lookup template.Lookup) LoadOption {
	return func(o *loadOptions) { o.lookup = lookup }
}

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string, opts ...LoadOption) (Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if o.lookup != nil {
		expanded, err := template.Substitute(string(data), o.lookup, template.WithMissing(template.MissingError))
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		data = []byte(expanded)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
