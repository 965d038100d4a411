package workflow

import (
	"regexp"
	"strings"

	"github.com/luminetic/ensemble/types"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// TemplateKeys returns the placeholder keys referenced by a template, in
// first-appearance order without duplicates.
func TemplateKeys(tmpl string) []string {
	matches := placeholderRE.FindAllStringSubmatch(tmpl, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// RenderTemplate substitutes {{key}} placeholders with the rendered form of
// the matching value from vars. Keys absent from vars are left in place and
// reported in missing, first appearance first; callers decide whether an
// unresolved placeholder is an error.
func RenderTemplate(tmpl string, vars types.Map) (rendered string, missing []string) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}
	seen := make(map[string]bool)
	rendered = placeholderRE.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderRE.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v.Render()
		}
		if !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
		return match
	})
	return rendered, missing
}
