package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openlibhub/recordman/internal/domain"
)

func TestExtractKeys(t *testing.T) {
	t.Parallel()

	keys := ExtractKeys(domain.Attributes{
		Title:      "The Art of Computer Programming",
		MainAuthor: "Knuth, Donald E.",
		ISBNs:      []string{"9780134685991", "978-0-13-468599-1"},
		ISSNs:      []string{"0317-8471"},
		UniqueIDs:  []string{"(OCoLC)36457550"},
	})

	// Equivalent ISBN spellings collapse to one key.
	assert.Equal(t, []string{
		"isbn:9780134685991",
		"issn:03178471",
		"cn:(OCoLC)36457550",
	}, keys.Identifier)
	assert.Equal(t, "donald e knuth/artofcomputerprogramming", keys.Fuzzy)
	assert.False(t, keys.IsEmpty())
}

func TestExtractKeysDropsInvalidIdentifiers(t *testing.T) {
	t.Parallel()

	keys := ExtractKeys(domain.Attributes{
		ISBNs: []string{"not-an-isbn"},
		ISSNs: []string{"1234-0000"},
	})
	assert.Empty(t, keys.Identifier)
	assert.True(t, keys.IsEmpty())
}

func TestExtractKeysEmptyAttributes(t *testing.T) {
	t.Parallel()

	keys := ExtractKeys(domain.Attributes{})
	assert.True(t, keys.IsEmpty())
	assert.Empty(t, keys.Fuzzy)
}

func TestFuzzyKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		title  string
		author string
		want   string
	}{
		{
			name:   "title and author",
			title:  "An Introduction to Algorithms",
			author: "Cormen, Thomas H.",
			want:   "thomas h cormen/introductiontoalgorithms",
		},
		{
			name:   "equivalent spellings share a key",
			title:  "Introduction to Algorithms.",
			author: "Thomas H. Cormen",
			want:   "thomas h cormen/introductiontoalgorithms",
		},
		{
			name:   "long titles truncate",
			title:  "Introduction to Quantum Computing for the Working Programmer",
			author: "Mermin, N. David",
			want:   "n david mermin/introductiontoquantumcomp",
		},
		{
			name:   "no title means no key",
			title:  "",
			author: "Cormen, Thomas H.",
			want:   "",
		},
		{
			name:   "authorless key",
			title:  "Anonymous pamphlet",
			author: "",
			want:   "/anonymouspamphlet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FuzzyKey(tt.title, tt.author))
		})
	}
}
