package metadata

import (
	"fmt"

	"github.com/openlibhub/recordman/internal/domain"
)

// DriverParams is the typed, per-source key-value view of driver parameters,
// resolved once from configuration at load time. Drivers never re-parse raw
// configuration strings.
type DriverParams map[string]string

// Get returns the named parameter or def when it is unset. Unresolvable
// parameters never fail.
func (p DriverParams) Get(name, def string) string {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// GetBool interprets the named parameter as a boolean flag.
func (p DriverParams) GetBool(name string, def bool) bool {
	v, ok := p[name]
	if !ok {
		return def
	}
	switch v {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

// Driver is the per-format record driver contract. The first three methods
// are mandatory: Base deliberately does not implement them, so a concrete
// driver that omits one fails to satisfy the interface at compile time. All
// remaining methods have safe empty defaults supplied by Base.
//
// Accessors must return defined empty values ("" or an empty slice) when the
// underlying metadata lacks the field; absence of data must never surface as
// an error or a nil-dereference.
type Driver interface {
	// ID returns the record identifier, unique within the data source.
	// Mandatory.
	ID() string

	// Serialize returns the record payload for storing in the database.
	// Mandatory.
	Serialize() ([]byte, error)

	// ToExportXML returns the record as XML for export. Mandatory.
	ToExportXML() ([]byte, error)

	// LinkingID returns the ID used for links between records in the data
	// source. An empty return means "same as ID()".
	LinkingID() string

	// Normalize performs optional in-place cleanup, e.g. canonicalizing
	// dates. The default is a no-op.
	Normalize()

	// IsComponentPart reports whether the record is a component part of a
	// host record.
	IsComponentPart() bool

	// HostRecordIDs returns the linking IDs of the host record(s) containing
	// this component part.
	HostRecordIDs() []string

	// SearchFields returns fields to be indexed in the search engine, an
	// alternative to an external transform step. Values are strings or
	// string slices; multi-valued fields preserve insertion order and the
	// caller suppresses duplicates.
	SearchFields() map[string]any

	// MergeComponentParts folds part attributes into this record's export
	// representation. The default is a no-op.
	MergeComponentParts(parts []domain.Attributes)

	// Title returns the record title. With forFiling, non-filing leading
	// articles are removed for sorting.
	Title(forFiling bool) string

	// FullTitle returns the complete title used for dedup comparison.
	FullTitle() string

	// MainAuthor returns the main author in "Last, First" form.
	MainAuthor() string

	// FormatClass returns the record format from predefined values
	// (book, journal, article, ...).
	FormatClass() string

	// Volume returns the volume containing this component part.
	Volume() string

	// Issue returns the issue containing this component part.
	Issue() string

	// StartPage returns the start page of this component part in its host.
	StartPage() string

	// ContainerTitle returns the component part's container title.
	ContainerTitle() string

	// ContainerReference returns the reference to the part in its container.
	ContainerReference() string

	// UniqueIDs returns unique control-number identifiers.
	UniqueIDs() []string

	// ISBNs returns ISBNs normalized to 13-digit dash-free form,
	// de-duplicated.
	ISBNs() []string

	// ISSNs returns normalized ISSNs.
	ISSNs() []string

	// SeriesISSN returns the series ISSN.
	SeriesISSN() string

	// SeriesNumbering returns the series numbering.
	SeriesNumbering() string

	// PublicationYear returns the four-digit publication year.
	PublicationYear() string

	// PageCount returns the page count, digits only.
	PageCount() string

	// AccessRestrictions returns "" if unrestricted, else a restriction tag.
	AccessRestrictions() string

	// Warnings returns accumulated processing warnings, de-duplicated.
	Warnings() []string
}

// Base supplies the safe empty defaults for the optional Driver methods and
// the shared warning and parameter plumbing. Concrete drivers embed it and
// override the subset their schema can populate.
type Base struct {
	SourceID string
	Params   DriverParams
	warnings []string
}

// NewBase binds a base driver to one record's source and resolved parameters.
func NewBase(sourceID string, params DriverParams) Base {
	return Base{SourceID: sourceID, Params: params}
}

// StoreWarning records a recoverable problem with the record.
func (b *Base) StoreWarning(msg string) {
	b.warnings = append(b.warnings, msg)
}

// Warnings returns accumulated warnings with duplicates removed, preserving
// first-occurrence order.
func (b *Base) Warnings() []string {
	if len(b.warnings) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(b.warnings))
	out := make([]string, 0, len(b.warnings))
	for _, w := range b.warnings {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// LinkingID defaults to "" meaning "same as ID()".
func (b *Base) LinkingID() string { return "" }

// Normalize defaults to a no-op.
func (b *Base) Normalize() {}

// IsComponentPart defaults to false.
func (b *Base) IsComponentPart() bool { return false }

// HostRecordIDs defaults to empty.
func (b *Base) HostRecordIDs() []string { return nil }

// SearchFields defaults to an empty mapping.
func (b *Base) SearchFields() map[string]any { return map[string]any{} }

// MergeComponentParts defaults to a no-op.
func (b *Base) MergeComponentParts(parts []domain.Attributes) {}

// Title defaults to "".
func (b *Base) Title(forFiling bool) string { return "" }

// FullTitle defaults to "".
func (b *Base) FullTitle() string { return "" }

// MainAuthor defaults to "".
func (b *Base) MainAuthor() string { return "" }

// FormatClass defaults to "".
func (b *Base) FormatClass() string { return "" }

// Volume defaults to "".
func (b *Base) Volume() string { return "" }

// Issue defaults to "".
func (b *Base) Issue() string { return "" }

// StartPage defaults to "".
func (b *Base) StartPage() string { return "" }

// ContainerTitle defaults to "".
func (b *Base) ContainerTitle() string { return "" }

// ContainerReference defaults to "".
func (b *Base) ContainerReference() string { return "" }

// UniqueIDs defaults to empty.
func (b *Base) UniqueIDs() []string { return nil }

// ISBNs defaults to empty.
func (b *Base) ISBNs() []string { return nil }

// ISSNs defaults to empty.
func (b *Base) ISSNs() []string { return nil }

// SeriesISSN defaults to "".
func (b *Base) SeriesISSN() string { return "" }

// SeriesNumbering defaults to "".
func (b *Base) SeriesNumbering() string { return "" }

// PublicationYear defaults to "".
func (b *Base) PublicationYear() string { return "" }

// PageCount defaults to "".
func (b *Base) PageCount() string { return "" }

// AccessRestrictions defaults to "" (unrestricted).
func (b *Base) AccessRestrictions() string { return "" }

// ValidateDate accepts only valid extended ISO-8601 dates, per the driver
// contract for date-bearing fields.
func (b *Base) ValidateDate(dateString string) string {
	return ValidateDate(dateString)
}

// Canonicalize drives a parsed record driver through normalization and reads
// every canonical accessor into a domain.Record. The returned record carries
// the driver's accumulated warnings; Canonicalize itself never mutates shared
// state, so normalizing the same payload twice yields identical output.
func Canonicalize(sourceID string, format domain.Format, raw []byte, d Driver) (*domain.Record, error) {
	d.Normalize()

	id := d.ID()
	if id == "" {
		return nil, domain.NewDriverContractError(string(format), "ID", fmt.Sprintf("empty record ID in source %s", sourceID))
	}

	rec := &domain.Record{
		SourceID:        sourceID,
		RecordID:        id,
		LinkingID:       d.LinkingID(),
		Format:          format,
		RawMetadata:     raw,
		IsComponentPart: d.IsComponentPart(),
		HostRecordIDs:   d.HostRecordIDs(),
		State:           domain.StateNormalized,
		Attributes: domain.Attributes{
			Title:              d.Title(false),
			FilingTitle:        d.Title(true),
			MainAuthor:         d.MainAuthor(),
			FormatClass:        d.FormatClass(),
			ContainerTitle:     d.ContainerTitle(),
			ContainerReference: d.ContainerReference(),
			Volume:             d.Volume(),
			Issue:              d.Issue(),
			StartPage:          d.StartPage(),
			UniqueIDs:          d.UniqueIDs(),
			ISBNs:              d.ISBNs(),
			ISSNs:              d.ISSNs(),
			SeriesISSN:         d.SeriesISSN(),
			SeriesNumbering:    d.SeriesNumbering(),
			PublicationYear:    d.PublicationYear(),
			PageCount:          d.PageCount(),
			AccessRestrictions: d.AccessRestrictions(),
		},
	}
	for _, w := range d.Warnings() {
		rec.AddWarning(w)
	}
	return rec, nil
}
