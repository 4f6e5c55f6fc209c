package orderflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/orderflow/pkg/orderflow/template"
)

//go:embed order_flow.yaml
var defaultFlow []byte

// ParseDefinition decodes a YAML definition after resolving ${VAR}
// references through lookup. A reference with no value and no default is
// an error. Unknown fields are rejected.
func ParseDefinition(data []byte, lookup template.Lookup) (*Definition, error) {
	src, err := template.Substitute(string(data), lookup, template.WithMissing(template.MissingError))
	if err != nil {
		return nil, fmt.Errorf("resolve definition: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(src)))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return &def, nil
}

// LoadDefinitionFile reads and parses a YAML definition file.
func LoadDefinitionFile(path string, lookup template.Lookup) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := ParseDefinition(data, lookup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// DefaultDefinition returns the built-in order notification flow:
//
//	placed -> restaurant_notifying -> restaurant_notified -> user_notifying -> complete
//
// with failed as the error target of every state.
func DefaultDefinition(lookup template.Lookup) (*Definition, error) {
	return ParseDefinition(defaultFlow, lookup)
}

// DefaultWorkflow compiles the built-in flow with values from the environment.
func DefaultWorkflow() (*Workflow, error) {
	def, err := DefaultDefinition(template.Env)
	if err != nil {
		return nil, err
	}
	return Compile(def)
}
