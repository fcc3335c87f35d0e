package dedup

import (
	"github.com/agnivade/levenshtein"

	"github.com/openlibhub/recordman/internal/metadata"
)

// TitleSimilarity compares two titles in their normalized comparison form
// (case-, diacritic- and punctuation-insensitive, leading article removed)
// and returns an edit-distance-based similarity in [0, 1].
//
// Returns 0 when either title normalizes to the empty string: absence of a
// title is never evidence of a match.
func TitleSimilarity(a, b string) float64 {
	na := metadata.NormalizeTitle(a)
	nb := metadata.NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}

	dist := levenshtein.ComputeDistance(na, nb)
	maxLen := len([]rune(na))
	if l := len([]rune(nb)); l > maxLen {
		maxLen = l
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// AuthorsEqual reports whether two author strings normalize to the same
// comparison form. Two empty authors are not equal: silence is not a signal.
func AuthorsEqual(a, b string) bool {
	na := metadata.NormalizeAuthor(a)
	nb := metadata.NormalizeAuthor(b)
	return na != "" && na == nb
}
