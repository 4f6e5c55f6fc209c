package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// reference matches $$, ${NAME} and ${NAME:-default}.
var reference = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// MissingAction specifies how to handle references with no value and no default.
type MissingAction int

const (
	// MissingKeep leaves the reference in place. This is the default.
	MissingKeep MissingAction = iota

	// MissingEmpty replaces the reference with an empty string.
	MissingEmpty

	// MissingError fails the substitution.
	MissingError
)

// Lookup resolves a variable name.
type Lookup func(name string) (string, bool)

// Env resolves names from the process environment.
func Env(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Map resolves names from a fixed map.
func Map(vars map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

// Chain tries each lookup in order.
func Chain(lookups ...Lookup) Lookup {
	return func(name string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(name); ok {
				return v, true
			}
		}
		return "", false
	}
}

// MissingVariableError lists the references that could not be resolved.
type MissingVariableError struct {
	Names []string
}

// Error implements error interface.
func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

// Option configures Substitute.
type Option func(*options)

type options struct {
	missing MissingAction
}

// WithMissing sets how unresolved references are handled.
func WithMissing(action MissingAction) Option {
	return func(o *options) {
		o.missing = action
	}
}

// Substitute replaces references in src using lookup.
// An empty value from lookup counts as set; the default only applies when
// the name is absent.
func Substitute(src string, lookup Lookup, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if lookup == nil {
		lookup = Map(nil)
	}

	var missing []string
	seen := make(map[string]bool)

	out := reference.ReplaceAllStringFunc(src, func(match string) string {
		if match == "$$" {
			return "$"
		}
		sub := reference.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := lookup(name); ok {
			return v
		}
		if strings.Contains(match, ":-") {
			return sub[2]
		}
		switch o.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			if !seen[name] {
				seen[name] = true
				missing = append(missing, name)
			}
		}
		return match
	})

	if len(missing) > 0 {
		return "", &MissingVariableError{Names: missing}
	}
	return out, nil
}

// References returns the distinct variable names referenced in src, in
// order of first appearance.
func References(src string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, sub := range reference.FindAllStringSubmatch(src, -1) {
		if sub[0] == "$$" || seen[sub[1]] {
			continue
		}
		seen[sub[1]] = true
		names = append(names, sub[1])
	}
	return names
}
