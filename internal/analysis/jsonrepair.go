// internal/analysis/jsonrepair.go
package analysis

import (
	"encoding/json"
	"strings"
)

// ValidateAndRepairJSON makes a best effort at turning a model answer
// into parseable JSON: markdown fences are stripped, the content is
// trimmed to its outermost object or array, and trailing commas are
// removed. The (possibly still invalid) text is returned either way;
// the caller decides how to persist unparseable content.
func ValidateAndRepairJSON(content string) string {
	repaired := stripCodeFences(content)
	repaired = trimToJSON(repaired)
	if json.Valid([]byte(repaired)) {
		return repaired
	}

	repaired = removeTrailingCommas(repaired)
	return repaired
}

// stripCodeFences removes a surrounding ```json ... ``` block.
func stripCodeFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// trimToJSON cuts leading and trailing prose around the outermost JSON
// object or array.
func trimToJSON(content string) string {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return content
	}
	end := strings.LastIndexAny(content, "}]")
	if end <= start {
		return content
	}
	return content[start : end+1]
}

// removeTrailingCommas drops commas that directly precede a closing
// brace or bracket, skipping string literals.
func removeTrailingCommas(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	inString := false
	escaped := false
	pendingComma := -1

	for _, r := range content {
		if inString {
			b.WriteRune(r)
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}

		switch {
		case r == '"':
			inString = true
			pendingComma = -1
			b.WriteRune(r)
		case r == ',':
			pendingComma = b.Len()
			b.WriteRune(r)
		case r == '}' || r == ']':
			if pendingComma >= 0 {
				s := b.String()
				b.Reset()
				b.WriteString(s[:pendingComma])
				b.WriteString(strings.TrimRight(s[pendingComma+1:], " \t\n\r"))
			}
			pendingComma = -1
			b.WriteRune(r)
		default:
			if !isSpace(r) {
				pendingComma = -1
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
