package similarity

import (
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

// Ratio scores how alike two strings are, in [0, 1].
//
// The score is the normalised Indel similarity
//
//	1 - indel(a, b) / (len(a) + len(b))
//
// where indel is the number of single-rune insertions and deletions that
// turn a into b. It equals 2*LCS/(len(a)+len(b)). Two empty strings score 1.
//
// Thread Safety: Safe for concurrent use (read-only on inputs).
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	return float64(2*edlib.LCS(a, b)) / float64(total)
}
