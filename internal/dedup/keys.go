// Package dedup implements the deduplication engine: key extraction,
// similarity scoring and the matching state machine that maintains
// deduplication groups across sources.
package dedup

import (
	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/metadata"
)

// Identifier key prefixes. Prefixing keeps an ISSN from ever colliding with a
// control number that happens to share its digits.
const (
	keyPrefixISBN = "isbn:"
	keyPrefixISSN = "issn:"
	keyPrefixCN   = "cn:"
)

// Keys is the full comparison key set derived from one record's canonical
// attributes. Identifier keys carry strong match evidence; the fuzzy key only
// selects candidates for similarity scoring.
type Keys struct {
	// Identifier holds prefixed ISBN/ISSN/control-number keys, de-duplicated.
	Identifier []string

	// Fuzzy is the candidate-lookup key built from the normalized main author
	// and a truncated normalized title. Empty when the record has no title.
	Fuzzy string
}

// IsEmpty reports whether the key set carries no usable match evidence.
func (k Keys) IsEmpty() bool {
	return len(k.Identifier) == 0 && k.Fuzzy == ""
}

// ExtractKeys derives the comparison keys for one record's attributes.
func ExtractKeys(attrs domain.Attributes) Keys {
	var keys Keys
	seen := make(map[string]struct{})

	add := func(prefix, value string) {
		if value == "" {
			return
		}
		key := prefix + value
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys.Identifier = append(keys.Identifier, key)
	}

	// Drivers normalize identifiers at extraction time; re-normalizing here
	// keeps the keys canonical even for records stored by older versions.
	for _, isbn := range attrs.ISBNs {
		add(keyPrefixISBN, metadata.NormalizeISBN(isbn))
	}
	for _, issn := range attrs.ISSNs {
		add(keyPrefixISSN, metadata.NormalizeISSN(issn))
	}
	for _, cn := range attrs.UniqueIDs {
		add(keyPrefixCN, cn)
	}

	keys.Fuzzy = FuzzyKey(attrs.Title, attrs.MainAuthor)
	return keys
}

// FuzzyKey builds the fuzzy candidate-lookup key from a title and author. The
// title part is truncated so near-identical titles land on the same key and
// are then told apart by full similarity scoring. Returns "" when the title
// normalizes to nothing.
func FuzzyKey(title, author string) string {
	titleKey := metadata.TitleKey(title)
	if titleKey == "" {
		return ""
	}
	return metadata.NormalizeAuthor(author) + "/" + titleKey
}
