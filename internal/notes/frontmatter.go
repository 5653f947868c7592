// Package notes converts conversations to and from the Markdown notes stored
// in a vault. Nothing here touches the file system.
package notes

import (
	"fmt"
	"regexp"
	"strings"
)

const delimiter = "---"

var (
	illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Name, e.Reason)
}

// Sanitize makes name usable as a single path segment.
func Sanitize(name string) string {
	return whitespace.ReplaceAllString(illegalChars.ReplaceAllString(name, "-"), "-")
}

// ParseFrontMatter returns the key/value pairs of the leading front matter
// block. A document without one yields an empty map.
func ParseFrontMatter(text string) map[string]string {
	fields, _, _ := splitFrontMatter(text)
	return fields
}

// splitFrontMatter separates the front matter from the rest of the document.
// ok is false when the opening or closing delimiter is missing. Front matter
// lines may end in CRLF; body is returned exactly as written.
func splitFrontMatter(text string) (fields map[string]string, body string, ok bool) {
	fields = map[string]string{}

	first, rest, found := strings.Cut(text, "\n")
	if !found || strings.TrimSuffix(first, "\r") != delimiter {
		return fields, text, false
	}

	var block []string
	for {
		line, next, more := strings.Cut(rest, "\n")
		line = strings.TrimSuffix(line, "\r")
		if line == delimiter {
			body = next
			if !more {
				body = ""
			}
			break
		}
		if !more {
			return map[string]string{}, text, false
		}
		block = append(block, line)
		rest = next
	}

	for _, line := range block {
		i := strings.Index(line, ":")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = value[1 : len(value)-1]
		}
		fields[key] = value
	}
	return fields, body, true
}
