package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical after normalization",
			a:    "The Art of Computer Programming",
			b:    "Art of computer programming!",
			want: 1.0,
		},
		{
			name: "diacritics fold",
			a:    "Les Misérables",
			b:    "les miserables",
			want: 1.0,
		},
		{
			name: "one edit",
			a:    "cat",
			b:    "cart",
			want: 0.75,
		},
		{
			name: "empty title is no evidence",
			a:    "",
			b:    "cat",
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, TitleSimilarity(tt.a, tt.b), 1e-9)
			// Similarity is symmetric.
			assert.InDelta(t, tt.want, TitleSimilarity(tt.b, tt.a), 1e-9)
		})
	}
}

func TestTitleSimilarityUnrelated(t *testing.T) {
	t.Parallel()

	s := TitleSimilarity("Introduction to Quantum Computing",
		"Introduction to Quantum Computing for the Working Programmer with Examples")
	assert.Less(t, s, 0.6)
	assert.Greater(t, s, 0.0)
}

func TestAuthorsEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, AuthorsEqual("Knuth, Donald E.", "Donald E. Knuth"))
	assert.True(t, AuthorsEqual("Škvorecký, Josef", "Josef Skvorecky"))
	assert.False(t, AuthorsEqual("Knuth, Donald E.", "Cormen, Thomas H."))

	// Two empty authors are not evidence of the same author.
	assert.False(t, AuthorsEqual("", ""))
}
