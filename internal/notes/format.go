package notes

import (
	"regexp"
	"strings"
)

var heading = regexp.MustCompile(`^( {0,3})(#{1,6})([ \t]*)(.*)$`)

// FormatMarkdown tidies a note: headings get exactly one space after their
// hashes and are preceded by a blank line. A single # glued to a word is a
// tag and is left alone, as are front matter and fenced code. Formatting
// an already formatted note changes nothing.
func FormatMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	frontMatter := len(lines) > 0 && strings.TrimSuffix(lines[0], "\r") == delimiter
	fence := ""
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case frontMatter:
			if i > 0 && trimmed == delimiter {
				frontMatter = false
			}
		case fence != "":
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
		case strings.HasPrefix(trimmed, "```"), strings.HasPrefix(trimmed, "~~~"):
			fence = trimmed[:3]
		default:
			if h, ok := formatHeading(line); ok {
				if n := len(out); n > 0 && strings.TrimSpace(out[n-1]) != "" {
					out = append(out, "")
				}
				line = h
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func formatHeading(line string) (string, bool) {
	m := heading.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	indent, hashes, space, rest := m[1], m[2], m[3], m[4]
	if strings.HasPrefix(rest, "#") || strings.TrimSpace(rest) == "" {
		return "", false
	}
	if space == "" && len(hashes) == 1 {
		return "", false
	}
	return indent + hashes + " " + rest, true
}
