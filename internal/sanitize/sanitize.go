// Package sanitize enforces the input contract for user utterances.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/mindsprite/mindsprite/internal/core"
)

const (
	// MaxRunes bounds an utterance after normalization
	MaxRunes = 2000
	// MinRetained rejects input that loses more than 70% of its runes
	MinRetained = 0.3
)

var (
	dangerousSchemes = regexp.MustCompile(`(?i)\b(?:javascript|vbscript|data|file)\s*:`)
	sqlSignatures    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bunion\s+(?:all\s+)?select\b`),
		regexp.MustCompile(`(?i)\b(?:drop|truncate|alter)\s+(?:table|database)\b`),
		regexp.MustCompile(`(?i)\bdelete\s+from\b`),
		regexp.MustCompile(`(?i)\binsert\s+into\b`),
		regexp.MustCompile(`(?i)'\s*or\s+'?\w+'?\s*=\s*'?\w+'?`),
		regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`),
		regexp.MustCompile(`(?i)\bexec(?:ute)?\s*\(?\s*x?p_\w+`),
		regexp.MustCompile(`/\*.*?\*/`),
		regexp.MustCompile(`;\s*--`),
	}
	whitespaceRun = regexp.MustCompile(`[\s\p{Zs}]+`)

	// bluemonday escapes quotes too; only angle brackets and ampersands stay escaped
	unquote = strings.NewReplacer("&#39;", "'", "&#34;", `"`)
)

// Sanitizer cleans raw user text. Safe for concurrent use.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New creates a sanitizer that strips all markup
func New() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean normalizes and sanitizes raw. Rejections wrap core.ErrInvalidInput.
func (s *Sanitizer) Clean(raw string) (string, error) {
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: not valid UTF-8", core.ErrInvalidInput)
	}

	text := norm.NFC.String(raw)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty message", core.ErrInvalidInput)
	}

	original := utf8.RuneCountInString(text)
	if original > MaxRunes {
		return "", fmt.Errorf("%w: message exceeds %d characters", core.ErrInvalidInput, MaxRunes)
	}

	text = stripControls(text)
	text = dangerousSchemes.ReplaceAllString(text, "")
	for _, re := range sqlSignatures {
		text = re.ReplaceAllString(text, "")
	}
	text = unquote.Replace(s.policy.Sanitize(text))
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))

	if text == "" {
		return "", fmt.Errorf("%w: nothing left after sanitization", core.ErrInvalidInput)
	}
	// Retention counts visible characters, not the escapes bluemonday adds
	if float64(utf8.RuneCountInString(html.UnescapeString(text))) < MinRetained*float64(original) {
		return "", fmt.Errorf("%w: sanitization removed too much content", core.ErrInvalidInput)
	}
	return text, nil
}

// stripControls drops C0 controls and DEL, keeping tab, newline, and carriage return
func stripControls(s string) string {
	return strings.Map(func(r rune) rune {
		if (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
