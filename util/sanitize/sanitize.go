package sanitize

import (
	"regexp"
	"strings"
)

var (
	// fileNameReplacer handles common separators in file names
	fileNameReplacer = strings.NewReplacer(
		" ", "-",
		".", "-",
		"/", "-",
		"\\", "-",
	)

	// nonFileNameRegex matches characters not allowed in generated file names
	nonFileNameRegex = regexp.MustCompile(`[^a-z0-9_-]+`)

	// nonObjectKeyRegex matches characters not allowed in object key segments
	nonObjectKeyRegex = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

	// multiDashRegex matches multiple consecutive dashes
	multiDashRegex = regexp.MustCompile(`-+`)

	// whitespaceRegex matches runs of whitespace, including newlines
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// ForFileName sanitizes a string for use in a local file name (kebab-case).
func ForFileName(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	s = fileNameReplacer.Replace(s)
	s = nonFileNameRegex.ReplaceAllString(s, "-")
	s = multiDashRegex.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = strings.Trim(s[:64], "-")
	}
	return s
}

// ForObjectKey sanitizes a single segment of a storage object key.
// Slashes are not allowed inside a segment; callers join segments themselves.
func ForObjectKey(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "-")
	s = nonObjectKeyRegex.ReplaceAllString(s, "-")
	s = multiDashRegex.ReplaceAllString(s, "-")
	return strings.Trim(s, "-.")
}

// ForLogField collapses whitespace and truncates page text so it fits on one log line.
func ForLogField(s string, max int) string {
	s = strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
	if max > 0 && len(s) > max {
		// Avoid cutting a multi-byte rune in half.
		cut := max
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "…"
	}
	return s
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
