// Package proactive detects care opportunities in user utterances and
// manages the follow-up tasks they produce.
package proactive

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "..."

// extractSummary returns the sentence of text containing keyword, trimmed to
// maxRunes runes. Sentences end at any rune in delimiters.
func extractSummary(text, keyword, delimiters string, maxRunes int) string {
	sentences := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(delimiters, r)
	})

	summary := strings.TrimSpace(text)
	for _, s := range sentences {
		if strings.Contains(strings.ToLower(s), keyword) {
			summary = strings.TrimSpace(s)
			break
		}
	}
	return truncateRunes(summary, maxRunes)
}

func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + ellipsis
}

// render fills the {summary} placeholder of a care template
func render(template, summary string) string {
	return strings.ReplaceAll(template, "{summary}", summary)
}

// signature is the dedup key stored as trigger_summary
func signature(rule, summary string) string {
	return rule + ":" + summary
}

func firstMatch(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}
