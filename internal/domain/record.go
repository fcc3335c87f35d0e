// Package domain contains the canonical record model shared by the
// normalization drivers, the deduplication engine and the store.
package domain

import (
	"fmt"
	"time"
)

// Format identifies the metadata schema a record was harvested in and selects
// the driver that parses it.
type Format string

// Supported metadata formats.
const (
	FormatDublinCore Format = "dc"
	FormatMARC       Format = "marc"
)

// RecordState tracks a record's position in the processing pipeline.
type RecordState string

// Record lifecycle states. A record re-enters StateNew when its source data
// changes or an operator forces re-evaluation.
const (
	StateNew        RecordState = "new"
	StateNormalized RecordState = "normalized"
	StateKeyed      RecordState = "keyed"
	StateMatched    RecordState = "matched"
	StateUnmatched  RecordState = "unmatched"
	StateIndexed    RecordState = "indexed"
)

// RecordKey uniquely identifies a record across all sources.
type RecordKey struct {
	SourceID string
	RecordID string
}

// String returns the key in "source.record" form. This form is also used as
// the canonical dedup group identifier of the lexicographically smallest
// member.
func (k RecordKey) String() string {
	return fmt.Sprintf("%s.%s", k.SourceID, k.RecordID)
}

// Attributes is the canonical bibliographic attribute set extracted from a
// record's raw metadata. The zero value is the documented empty default for
// every field: absence of data is never distinguished from emptiness here.
// Callers needing tri-state semantics must consult Record.Warnings or the raw
// metadata.
type Attributes struct {
	Title              string
	FilingTitle        string
	MainAuthor         string
	FormatClass        string
	ContainerTitle     string
	ContainerReference string
	Volume             string
	Issue              string
	StartPage          string
	UniqueIDs          []string
	ISBNs              []string
	ISSNs              []string
	SeriesISSN         string
	SeriesNumbering    string
	PublicationYear    string
	PageCount          string
	AccessRestrictions string
}

// Record is the normalized in-memory representation of one source record plus
// its raw payload.
type Record struct {
	SourceID        string
	RecordID        string
	LinkingID       string
	Format          Format
	RawMetadata     []byte
	IsComponentPart bool
	HostRecordIDs   []string
	Warnings        []string
	Attributes      Attributes
	State           RecordState
	DedupGroupID    string
	Deleted         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the record's cross-source identity.
func (r *Record) Key() RecordKey {
	return RecordKey{SourceID: r.SourceID, RecordID: r.RecordID}
}

// EffectiveLinkingID returns the linking ID used to resolve host/part
// relationships, falling back to the record ID when no explicit linking ID
// was extracted.
func (r *Record) EffectiveLinkingID() string {
	if r.LinkingID != "" {
		return r.LinkingID
	}
	return r.RecordID
}

// AddWarning appends a recoverable data-quality warning. Duplicates are
// suppressed so repeated normalization passes do not grow the list.
func (r *Record) AddWarning(msg string) {
	for _, w := range r.Warnings {
		if w == msg {
			return
		}
	}
	r.Warnings = append(r.Warnings, msg)
}

// HasDedupEvidence reports whether the record carries any usable matching
// signal: an identifier or a non-empty title. Records without evidence are
// never auto-matched.
func (r *Record) HasDedupEvidence() bool {
	a := r.Attributes
	return len(a.ISBNs) > 0 || len(a.ISSNs) > 0 || len(a.UniqueIDs) > 0 || a.Title != ""
}
