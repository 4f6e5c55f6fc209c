// Package template substitutes ${NAME} references in workflow definition
// and configuration files before they are decoded.
//
// A reference may carry a default:
//
//	topic: ${RESTAURANT_TOPIC:-restaurant_notification}
//
// Values come from a Lookup, usually the process environment:
//
//	out, err := template.Substitute(src, template.Env, template.WithMissing(template.MissingError))
//
// $$ produces a literal $.
package template
