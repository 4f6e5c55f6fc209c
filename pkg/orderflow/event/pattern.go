package event

import (
	"fmt"
	"slices"
)

// Pattern selects events by attribute. Each declared field lists the
// values it allows; an event matches only when every declared field's
// value is one of them. Empty fields are wildcards, so the zero Pattern
// matches every event.
//
// Detail keys are matched against top-level detail values rendered with
// fmt's %v verb, which is enough for string and numeric identifiers.
type Pattern struct {
	Source     []string            `json:"source,omitempty" yaml:"source,omitempty"`
	DetailType []string            `json:"detailType,omitempty" yaml:"detailType,omitempty"`
	Detail     map[string][]string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Matches reports whether evt satisfies p. It has no side effects.
func Matches(p Pattern, evt Event) bool {
	if len(p.Source) > 0 && !slices.Contains(p.Source, evt.Source) {
		return false
	}
	if len(p.DetailType) > 0 && !slices.Contains(p.DetailType, evt.DetailType) {
		return false
	}
	for key, allowed := range p.Detail {
		if len(allowed) == 0 {
			continue
		}
		v, ok := evt.Detail[key]
		if !ok || v == nil {
			return false
		}
		if !slices.Contains(allowed, fmt.Sprint(v)) {
			return false
		}
	}
	return true
}

// Matches is a method form of Matches.
func (p Pattern) Matches(evt Event) bool {
	return Matches(p, evt)
}

// SourcePattern matches every event from the given sources.
func SourcePattern(sources ...string) Pattern {
	return Pattern{Source: sources}
}

// TypePattern matches events from source with one of the detail types.
func TypePattern(source string, detailTypes ...string) Pattern {
	return Pattern{Source: []string{source}, DetailType: detailTypes}
}
