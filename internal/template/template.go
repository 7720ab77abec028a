package template

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

// Context holds all variables available when resolving a prompt template.
type Context struct {
	PromptID string

	// Prompt variables, addressable as {{.Vars.name}} or the short form {{name}}.
	Vars map[string]string
}

// shortVar matches {{ name }} with a bare identifier.
var shortVar = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// actions that are valid bare words inside {{ }} and must not become variables
var keywords = map[string]bool{
	"end":      true,
	"else":     true,
	"break":    true,
	"continue": true,
	"nil":      true,
}

// Render resolves template expressions in the given string.
// Uses Go's text/template syntax ({{.PromptID}}, {{.Vars.topic}}) and
// accepts {{topic}} as shorthand for {{.Vars.topic}}.
// Returns the input unchanged if it contains no template delimiters.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	expanded := shortVar.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := shortVar.FindStringSubmatch(m)[1]
		if keywords[name] {
			return m
		}
		return "{{.Vars." + name + "}}"
	})

	if ctx == nil {
		ctx = &Context{}
	}

	t, err := template.New("").Option("missingkey=error").Parse(expanded)
	if err != nil {
		return "", fmt.Errorf("template: parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("template: render: %w", err)
	}

	return buf.String(), nil
}
