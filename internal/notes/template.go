package notes

import (
	"regexp"
	"time"
)

var placeholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

var builtins = map[string]bool{"date": true, "time": true, "datetime": true, "timestamp": true}

// RenderTemplate substitutes {{key}} placeholders from vars, falling back
// to the built-in date and time placeholders evaluated at now. Substituted
// values are not expanded again; unknown placeholders are left as written.
func (e Encoder) RenderTemplate(tmpl string, vars map[string]string, now time.Time) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[2 : len(m)-2]
		if v, ok := vars[key]; ok {
			return v
		}
		switch key {
		case "date":
			return e.Date(now)
		case "time":
			return e.Time(now)
		case "datetime":
			return e.DateTime(now)
		case "timestamp":
			return FormatInstant(now)
		}
		return m
	})
}

// TemplateVariables lists the caller-supplied placeholders of tmpl in order
// of first appearance.
func TemplateVariables(tmpl string) []string {
	var vars []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if builtins[name] || seen[name] {
			continue
		}
		seen[name] = true
		vars = append(vars, name)
	}
	return vars
}
