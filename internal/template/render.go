// internal/template/render.go

// Package template renders outreach message bodies by plain placeholder
// substitution. No code execution, no recursive expansion; anything that is
// not a recognized placeholder passes through untouched, since clinics may
// legitimately want curly braces in their copy.
package template

import "strings"

// Fields holds the per-recipient values available to a template.
type Fields struct {
	FirstName  string
	CalledName string
	LastName   string
}

// Render substitutes the recognized placeholders with recipient values.
// CalledName falls back to FirstName when empty so a greeting never renders
// blank.
func Render(tmpl string, f Fields) string {
	called := f.CalledName
	if called == "" {
		called = f.FirstName
	}

	msg := tmpl
	msg = strings.ReplaceAll(msg, "{first_name}", f.FirstName)
	msg = strings.ReplaceAll(msg, "{called_name}", called)
	msg = strings.ReplaceAll(msg, "{last_name}", f.LastName)
	return msg
}
