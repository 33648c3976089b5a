package filter

import (
	"regexp"
	"strings"
)

// TranslateGlob converts a shell glob into a regular expression anchored at
// the end of the subject. "*" and "?" also match path separators.
func TranslateGlob(glob string) string {
	var sb strings.Builder

	sb.WriteString("(?s:")

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch ch := runes[i]; ch {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			class, next, ok := translateClass(runes, i)
			if !ok {
				sb.WriteString(`\[`)

				continue
			}

			sb.WriteString(class)
			i = next
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}

	sb.WriteString(`)\z`)

	return sb.String()
}

// translateClass converts the bracket expression starting at runes[start].
// It returns the class, the index of the closing bracket and whether the
// bracket was closed.
func translateClass(runes []rune, start int) (string, int, bool) {
	end := start + 1
	if end < len(runes) && runes[end] == '!' {
		end++
	}

	if end < len(runes) && runes[end] == ']' {
		end++
	}

	for end < len(runes) && runes[end] != ']' {
		end++
	}

	if end >= len(runes) {
		return "", start, false
	}

	body := string(runes[start+1 : end])
	body = strings.ReplaceAll(body, `\`, `\\`)

	switch {
	case strings.HasPrefix(body, "!"):
		body = "^" + body[1:]
	case strings.HasPrefix(body, "^"):
		body = `\` + body
	}

	return "[" + body + "]", end, true
}
