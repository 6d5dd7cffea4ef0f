// Package slug turns folder titles into storage-safe key fragments.
package slug

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength bounds generated slugs
const MaxLength = 100

// stripMarks decomposes accented letters and drops the combining marks
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Generate lowercases s, folds accents to ASCII and joins the remaining
// words with single hyphens. Characters outside [a-z0-9] are dropped;
// whitespace, underscores and slashes act as word breaks.
func Generate(s string) string {
	if s == "" {
		return ""
	}
	folded, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	pendingHyphen := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		case r == '-', r == '_', r == '/', r == '\\', unicode.IsSpace(r):
			pendingHyphen = true
		}
		if b.Len() >= MaxLength {
			break
		}
	}

	out := b.String()
	if len(out) > MaxLength {
		out = out[:MaxLength]
	}
	return strings.TrimRight(out, "-")
}

// GenerateWithFallback is Generate, using fallback when s has no usable characters
func GenerateWithFallback(s, fallback string) string {
	if out := Generate(s); out != "" {
		return out
	}
	return Generate(fallback)
}

// MakeUnique suffixes slug with -n for n > 0
func MakeUnique(slug string, n int) string {
	if n <= 0 {
		return slug
	}
	return slug + "-" + strconv.Itoa(n)
}
