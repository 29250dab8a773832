package dedup

import (
	"regexp"
	"strings"
	"unicode"
)

// Patterns that mark obvious spam or junk content.
var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:viagra|casino|lottery|winner|prize)\b`),
	regexp.MustCompile(`(?:https?://|www\.)\S{50,}`),
	regexp.MustCompile(`\b\d{10,}\b`),
}

// URL path fragments that never lead to lead-worthy content.
var irrelevantURLPatterns = []string{
	"/tag/", "/category/", "/author/", "/archive/", "/page/",
	"/search", "/feed", "/rss", "/comments", "/reply",
	"/login", "/register", "/admin", "/wp-admin", "/wp-login",
	"/user", "/profile", "/account", "/settings",
}

// looksLikeSpam applies the pattern checks plus uppercase-ratio and
// word-repetition heuristics over the combined title and body.
func looksLikeSpam(title, body string) bool {
	text := title + " " + body
	for _, p := range spamPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	if hasRepeatedRun(text, 5) {
		return true
	}
	if uppercaseRatio(text) > 0.5 {
		return true
	}
	return excessiveRepetition(text)
}

// hasRepeatedRun reports whether any rune appears n or more times in a
// row. RE2 has no backreferences, so this is a plain scan.
func hasRepeatedRun(text string, n int) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= n {
				return true
			}
			continue
		}
		prev = r
		run = 1
	}
	return false
}

func uppercaseRatio(text string) float64 {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 20 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// excessiveRepetition rejects text where one word dominates.
func excessiveRepetition(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < 10 {
		return false
	}
	counts := make(map[string]int)
	max := 0
	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		counts[w]++
		if counts[w] > max {
			max = counts[w]
		}
	}
	return float64(max) > float64(len(words))*0.3
}

// irrelevantURL reports whether the URL path matches boilerplate
// sections not worth fetching in detail.
func irrelevantURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, p := range irrelevantURLPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
