package vectorizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// tokenize lowercases, strips accents and splits text into word tokens of at
// least two letters or digits. Punctuation and whitespace separate tokens.
func tokenize(text string) []string {
	text = stripAccents(strings.ToLower(cleanText(text)))

	var tokens []string
	var cur strings.Builder
	n := 0
	flush := func() {
		if n >= 2 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
		n = 0
	}
	for _, r := range text {
		if isWordRune(r) {
			cur.WriteRune(r)
			n++
			continue
		}
		flush()
	}
	flush()
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// cleanText drops control characters and the replacement rune.
func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || r == 0xFFFD || (unicode.IsControl(r) && !unicode.IsSpace(r)) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// stripAccents removes combining diacritical marks after NFD normalization.
func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ngrams joins consecutive tokens into n-grams for every n in [minN, maxN].
func ngrams(tokens []string, minN, maxN int) []string {
	if minN == 1 && maxN == 1 {
		return tokens
	}
	var out []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}
