package metadata

import (
	"sort"
	"strconv"

	"github.com/openlibhub/recordman/internal/domain"
)

// OrderParts returns part attributes in merge order: when every part carries
// a numeric start page that page is the explicit ordering key, making the
// merge deterministic under re-ordering; otherwise source order is preserved.
func OrderParts(parts []*domain.Record) []domain.Attributes {
	attrs := make([]domain.Attributes, len(parts))
	numeric := len(parts) > 0
	for i, p := range parts {
		attrs[i] = p.Attributes
		if _, err := strconv.Atoi(p.Attributes.StartPage); err != nil {
			numeric = false
		}
	}
	if numeric {
		sort.SliceStable(attrs, func(i, j int) bool {
			a, _ := strconv.Atoi(attrs[i].StartPage)
			b, _ := strconv.Atoi(attrs[j].StartPage)
			return a < b
		})
	}
	return attrs
}

// MergeComponentParts folds the given component-part records into the host's
// driver representation, ordered by OrderParts. A host with zero parts is
// left untouched so it projects identically to a host that never had parts.
func MergeComponentParts(hostDriver Driver, parts []*domain.Record) {
	if len(parts) == 0 {
		return
	}
	hostDriver.MergeComponentParts(OrderParts(parts))
}
