// Package metadata provides the polymorphic record driver contract, the
// format driver registry and the per-schema drivers that extract canonical
// bibliographic attributes from raw harvested metadata.
package metadata

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fuzzyTitleKeyLength is the number of runes of the normalized filing title
// used in the fuzzy lookup key. Candidates sharing the key are then scored
// with full title similarity.
const fuzzyTitleKeyLength = 25

var (
	yearRegexp   = regexp.MustCompile(`(?:^|\D)(\d{4})(?:\D|$)`)
	digitsRegexp = regexp.MustCompile(`\d+`)

	diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	// Leading articles removed from filing titles before comparison.
	leadingArticles = []string{
		"the", "an", "a", "der", "die", "das", "le", "la", "les", "el", "los", "un", "une", "il",
	}
)

// NormalizeISBN extracts an ISBN from a raw identifier string and normalizes
// it to 13-digit dash-free form. ISBN-10 values are converted to their
// ISBN-13 equivalent. Returns "" for anything that is not a valid ISBN.
func NormalizeISBN(raw string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if r >= '0' && r <= '9' || r == 'X' {
			sb.WriteRune(r)
		}
	}
	isbn := sb.String()

	switch len(isbn) {
	case 10:
		if !validISBN10(isbn) {
			return ""
		}
		return isbn10To13(isbn)
	case 13:
		if strings.ContainsRune(isbn, 'X') || !validEAN13(isbn) {
			return ""
		}
		if !strings.HasPrefix(isbn, "978") && !strings.HasPrefix(isbn, "979") {
			return ""
		}
		return isbn
	default:
		return ""
	}
}

func validISBN10(isbn string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		var v int
		switch {
		case isbn[i] >= '0' && isbn[i] <= '9':
			v = int(isbn[i] - '0')
		case isbn[i] == 'X' && i == 9:
			v = 10
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func isbn10To13(isbn string) string {
	body := "978" + isbn[:9]
	sum := 0
	for i, r := range body {
		v := int(r - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	check := (10 - sum%10) % 10
	return body + string(rune('0'+check))
}

func validEAN13(isbn string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		if isbn[i] < '0' || isbn[i] > '9' {
			return false
		}
		v := int(isbn[i] - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}

// NormalizeISSN extracts an ISSN from a raw identifier string and normalizes
// it to 8-character dash-free uppercase form. Returns "" when the value does
// not carry a valid ISSN check digit.
func NormalizeISSN(raw string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if r >= '0' && r <= '9' || r == 'X' {
			sb.WriteRune(r)
		}
	}
	issn := sb.String()
	if len(issn) != 8 {
		return ""
	}

	sum := 0
	for i := 0; i < 8; i++ {
		var v int
		switch {
		case issn[i] >= '0' && issn[i] <= '9':
			v = int(issn[i] - '0')
		case issn[i] == 'X' && i == 7:
			v = 10
		default:
			return ""
		}
		sum += v * (8 - i)
	}
	if sum%11 != 0 {
		return ""
	}
	return issn
}

// ValidateDate accepts a date string only if it parses as a valid calendar
// date in extended ISO-8601 form (date-only or full timestamp). Invalid input
// yields "", never an error. A bare year is rejected.
func ValidateDate(dateString string) string {
	if dateString == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if _, err := time.Parse(layout, dateString); err == nil {
			return dateString
		}
	}
	return ""
}

// ExtractYear returns the first four-digit year found in s, or "".
func ExtractYear(s string) string {
	m := yearRegexp.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractDigits returns the first run of digits in s, or "". Used to reduce
// page statements like "xii, 534 p." to a numeric page count.
func ExtractDigits(s string) string {
	return digitsRegexp.FindString(s)
}

// FoldDiacritics removes combining marks so that "Michèle" compares equal to
// "Michele".
func FoldDiacritics(s string) string {
	folded, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizeForComparison lower-cases, folds diacritics and strips everything
// but letters, digits and single spaces. This is the comparison form used by
// the fuzzy dedup keys.
func NormalizeForComparison(s string) string {
	s = strings.ToLower(FoldDiacritics(s))

	var sb strings.Builder
	sb.Grow(len(s))
	prevSpace := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !prevSpace {
				sb.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// StripLeadingArticle removes one leading article ("the", "der", "le", ...)
// from an already lower-cased title.
func StripLeadingArticle(s string) string {
	for _, art := range leadingArticles {
		if strings.HasPrefix(s, art+" ") {
			return strings.TrimSpace(s[len(art)+1:])
		}
	}
	return s
}

// StripLeadingArticleFold removes one leading article case-insensitively
// while preserving the case of the remainder. Used for filing titles.
func StripLeadingArticleFold(s string) string {
	lower := strings.ToLower(s)
	for _, art := range leadingArticles {
		prefix := art + " "
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(s[len(prefix):])
		}
	}
	return s
}

// NormalizeTitle produces the comparison form of a title: normalized,
// punctuation-free, leading article removed.
func NormalizeTitle(title string) string {
	return StripLeadingArticle(NormalizeForComparison(title))
}

// TitleKey returns the truncated fuzzy lookup key derived from a title:
// normalized words concatenated without spaces, cut to a fixed rune length so
// near-identical titles land on the same key.
func TitleKey(title string) string {
	normalized := strings.ReplaceAll(NormalizeTitle(title), " ", "")
	runesOf := []rune(normalized)
	if len(runesOf) > fuzzyTitleKeyLength {
		runesOf = runesOf[:fuzzyTitleKeyLength]
	}
	return string(runesOf)
}

// NormalizeAuthor normalizes an author name for comparison: reorders
// "Last, First" to "first last", lower-cases, folds diacritics and keeps only
// letters and single spaces.
func NormalizeAuthor(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if idx := strings.Index(name, ","); idx >= 0 {
		last := strings.TrimSpace(name[:idx])
		first := strings.TrimSpace(name[idx+1:])
		if first != "" {
			name = first + " " + last
		} else {
			name = last
		}
	}

	name = strings.ToLower(FoldDiacritics(name))

	var sb strings.Builder
	sb.Grow(len(name))
	prevSpace := true
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			sb.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				sb.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimRight(sb.String(), " ")
}
