package domain

import (
	"sort"
	"time"
)

// DedupGroup is a set of records judged to describe the same bibliographic
// work. A group exists only while it has at least two members; a group that
// shrinks below two is dissolved and its sole remaining record becomes
// un-deduplicated.
type DedupGroup struct {
	ID        string
	Members   []RecordKey
	CreatedAt time.Time
}

// CanonicalGroupID returns the deterministic identifier for a group with the
// given members: the lexicographically smallest member key. Using the
// smallest key keeps group assignment idempotent and order-insensitive across
// repeated deduplication runs.
func CanonicalGroupID(members []RecordKey) string {
	if len(members) == 0 {
		return ""
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = m.String()
	}
	sort.Strings(keys)
	return keys[0]
}

// ContainsMember reports whether key is already part of the member set.
func (g *DedupGroup) ContainsMember(key RecordKey) bool {
	for _, m := range g.Members {
		if m == key {
			return true
		}
	}
	return false
}
