package extract

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	hexEscape      = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)
	spaceRun       = regexp.MustCompile(`[ \t\f\v\x{00a0}\x{3000}]+`)
	excessiveBlank = regexp.MustCompile(`\n\n\n+`)
)

// DecodeEntities resolves HTML entities and the \xNN escapes the platform
// embeds in script strings, including doubly escaped forms like \x26amp;.
func DecodeEntities(s string) string {
	if s == "" {
		return s
	}
	s = html.UnescapeString(s)
	s = hexEscape.ReplaceAllStringFunc(s, func(m string) string {
		v, err := strconv.ParseUint(m[2:], 16, 8)
		if err != nil {
			return m
		}
		return string(rune(v))
	})
	return html.UnescapeString(s)
}

// CleanText normalizes rendered body text. Headings and list items keep their
// markers, runs of spaces collapse outside code fences, and no more than one
// blank line separates blocks.
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	cleaned := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			cleaned = append(cleaned, strings.TrimSpace(line))
			continue
		}
		if inFence {
			cleaned = append(cleaned, strings.TrimRight(line, " \t"))
			continue
		}
		cleaned = append(cleaned, cleanLine(line))
	}

	result := strings.Join(cleaned, "\n")
	result = excessiveBlank.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// cleanLine trims a line and collapses inner whitespace, keeping list
// indentation.
func cleanLine(line string) string {
	line = strings.TrimRight(line, " \t\u00a0")
	trimmed := strings.TrimLeft(line, " \t\u00a0")
	if trimmed == "" {
		return ""
	}

	body := spaceRun.ReplaceAllString(trimmed, " ")
	if isListLine(trimmed) {
		if indent := len(line) - len(trimmed); indent > 0 {
			return strings.Repeat(" ", indent) + body
		}
	}
	return body
}

func isListLine(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && strings.HasPrefix(line[i:], ". ")
}

// contentLength counts the runes of s without surrounding whitespace.
func contentLength(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
