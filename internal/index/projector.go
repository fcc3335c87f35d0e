// Package index projects canonical records into the flattened field sets
// consumed by the search index and submits them to Solr.
package index

import (
	"regexp"

	"github.com/openlibhub/recordman/internal/domain"
)

// Document is one flattened search-index document. Values are strings or
// string slices; multi-valued fields preserve insertion order with duplicates
// suppressed.
type Document map[string]any

// ID returns the document key, or "" when the document has none.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// SourceInfo carries the per-source projection settings resolved from
// configuration.
type SourceInfo struct {
	SourceID    string
	IDPrefix    string
	Institution string
}

// DocumentID returns the stable document key for one record: the configured
// id prefix (or the source id) joined with the record id.
func (s SourceInfo) DocumentID(recordID string) string {
	prefix := s.IDPrefix
	if prefix == "" {
		prefix = s.SourceID
	}
	return prefix + "." + recordID
}

var fourDigitYear = regexp.MustCompile(`^\d{4}$`)

// Project converts a canonical record plus its dedup state into a search
// document. driverFields is the driver's own field mapping and takes
// precedence over attribute-derived fields; the projector then applies the
// fields it owns: the stable document key, provenance, date fields, the
// single-valued language code and the dedup key.
func Project(src SourceInfo, rec *domain.Record, driverFields map[string]any) Document {
	doc := Document{}
	a := rec.Attributes

	putString(doc, "title", a.Title)
	putString(doc, "title_sort", a.FilingTitle)
	putString(doc, "author", a.MainAuthor)
	putString(doc, "format", a.FormatClass)
	putStrings(doc, "isbn", a.ISBNs)
	putStrings(doc, "issn", a.ISSNs)
	putStrings(doc, "ctrlnum", a.UniqueIDs)

	if rec.IsComponentPart {
		putString(doc, "container_title", a.ContainerTitle)
		putString(doc, "container_reference", a.ContainerReference)
		putString(doc, "container_volume", a.Volume)
		putString(doc, "container_issue", a.Issue)
		putString(doc, "container_start_page", a.StartPage)
	}

	for name, value := range driverFields {
		switch v := value.(type) {
		case string:
			putString(doc, name, v)
		case []string:
			putStrings(doc, name, v)
		default:
			doc[name] = value
		}
	}

	// Projector-owned fields overwrite anything the driver supplied.
	doc["id"] = src.DocumentID(rec.RecordID)
	doc["record_format"] = string(rec.Format)
	doc["source_str_mv"] = []string{src.SourceID}
	doc["datasource_str_mv"] = []string{src.SourceID}
	putString(doc, "institution", src.Institution)

	// The index schema requires a single-valued language code; drivers may
	// extract several.
	if langs, ok := doc["language"].([]string); ok {
		delete(doc, "language")
		if len(langs) > 0 {
			doc["language"] = langs[0]
		}
	}

	if year := a.PublicationYear; fourDigitYear.MatchString(year) {
		doc["main_date_str"] = year
		doc["main_date"] = year + "-01-01T00:00:00Z"
		dateRange := "[" + year + "-01-01T00:00:00Z TO " + year + "-12-31T23:59:59Z]"
		doc["publication_daterange"] = dateRange
		doc["search_daterange_mv"] = []string{dateRange}
	}

	putString(doc, "restricted_str", a.AccessRestrictions)

	if rec.DedupGroupID != "" {
		doc["dedup_id_str"] = rec.DedupGroupID
	}

	return doc
}

// putString sets a single-valued field, skipping empty values.
func putString(doc Document, name, value string) {
	if value != "" {
		doc[name] = value
	}
}

// putStrings sets a multi-valued field with duplicates suppressed, preserving
// first-occurrence order. Empty results are omitted entirely.
func putStrings(doc Document, name string, values []string) {
	if len(values) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) > 0 {
		doc[name] = out
	}
}
