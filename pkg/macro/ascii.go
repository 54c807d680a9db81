package macro

import (
	"fmt"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ToASCII folds accented letters to their base letter and rejects
// anything else outside 7-bit ASCII
func ToASCII(s string) (string, error) {
	if isASCII(s) {
		return s, nil
	}

	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		return "", fmt.Errorf("fold %q: %w", s, err)
	}

	for i, r := range folded {
		if r > unicode.MaxASCII {
			return "", fmt.Errorf("%w: %q at offset %d", ErrNotASCII, r, i)
		}
	}
	return folded, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
