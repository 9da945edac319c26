package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Hiragana and katakana blocks are parallel; adding this offset converts one
// to the other.
const katakanaOffset = 0x60

// Name canonicalizes a free-text payer name for equality comparison.
// Bank remittance fields mix half-width katakana, full-width Latin, hiragana
// and stray whitespace for what is logically the same account holder.
//
// Steps: NFKC folds full-width alphanumerics to half-width and half-width
// katakana to full-width (composing voiced marks), hiragana is shifted to
// katakana, all whitespace is removed, leading/trailing punctuation is
// trimmed, Latin letters are uppercased.
//
// Name is total and idempotent: Name(Name(s)) == Name(s) for any input.
func Name(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if (r >= 'ぁ' && r <= 'ゖ') || r == 'ゝ' || r == 'ゞ' {
			r += katakanaOffset
		}
		b.WriteRune(unicode.ToUpper(r))
	}

	return strings.TrimFunc(b.String(), unicode.IsPunct)
}
