package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openlibhub/recordman/internal/domain"
)

// DublinCoreDriver processes Dublin Core records, including qualified
// elements such as dcterms:isPartOf used for host/part links.
type DublinCoreDriver struct {
	Base
	originID string
	raw      []byte
	fields   map[string][]string
	parts    []domain.Attributes
}

// Compile-time contract check: a driver missing a mandatory method fails here.
var _ Driver = (*DublinCoreDriver)(nil)

// NewDublinCoreDriver parses a Dublin Core payload. The parser is tolerant of
// OAI envelopes: it collects leaf elements by local name wherever they occur.
func NewDublinCoreDriver(sourceID, originID string, raw []byte, params DriverParams) (Driver, error) {
	d := &DublinCoreDriver{
		Base:     NewBase(sourceID, params),
		originID: originID,
		raw:      raw,
		fields:   make(map[string][]string),
	}
	if err := d.parse(raw); err != nil {
		return nil, fmt.Errorf("parsing Dublin Core record %s/%s: %w", sourceID, originID, err)
	}
	return d, nil
}

// parse walks the XML token stream and collects character data of leaf
// elements keyed by local element name.
func (d *DublinCoreDriver) parse(raw []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var stack []string
	var text strings.Builder
	leaf := false

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			text.Reset()
			leaf = true
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if leaf {
				name := stack[len(stack)-1]
				value := strings.TrimSpace(text.String())
				if value != "" {
					d.fields[name] = append(d.fields[name], value)
				}
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			leaf = false
		}
	}
	if len(d.fields) == 0 {
		return fmt.Errorf("no metadata elements found")
	}
	return nil
}

func (d *DublinCoreDriver) values(name string) []string {
	return d.fields[name]
}

func (d *DublinCoreDriver) first(name string) string {
	if v := d.fields[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// ID returns the OAI identifier when present, falling back to the first
// dc:identifier element.
func (d *DublinCoreDriver) ID() string {
	if d.originID != "" {
		return d.originID
	}
	return d.first("identifier")
}

// Serialize returns the raw payload; Dublin Core records are stored verbatim.
func (d *DublinCoreDriver) Serialize() ([]byte, error) {
	if len(d.raw) == 0 {
		return nil, domain.NewDriverContractError("dc", "Serialize", "empty payload")
	}
	return d.raw, nil
}

// dcExportDoc is the export XML shape, with merged component parts appended.
type dcExportDoc struct {
	XMLName     xml.Name       `xml:"record"`
	Identifiers []string       `xml:"identifier"`
	Titles      []string       `xml:"title"`
	Creators    []string       `xml:"creator"`
	Dates       []string       `xml:"date"`
	Languages   []string       `xml:"language"`
	Parts       []dcExportPart `xml:"part,omitempty"`
}

type dcExportPart struct {
	Title     string `xml:"title"`
	Author    string `xml:"author,omitempty"`
	StartPage string `xml:"startPage,omitempty"`
}

// ToExportXML renders the record, including any merged component parts, for
// file export.
func (d *DublinCoreDriver) ToExportXML() ([]byte, error) {
	doc := dcExportDoc{
		Identifiers: d.values("identifier"),
		Titles:      d.values("title"),
		Creators:    d.values("creator"),
		Dates:       d.values("date"),
		Languages:   d.values("language"),
	}
	for _, p := range d.parts {
		doc.Parts = append(doc.Parts, dcExportPart{
			Title:     p.Title,
			Author:    p.MainAuthor,
			StartPage: p.StartPage,
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling export XML: %w", err)
	}
	return out, nil
}

// Normalize trims date values and records a warning for any date element that
// carries no usable year.
func (d *DublinCoreDriver) Normalize() {
	for i, v := range d.fields["date"] {
		v = strings.TrimSpace(v)
		d.fields["date"][i] = v
		if ValidateDate(v) == "" && ExtractYear(v) == "" {
			d.StoreWarning(fmt.Sprintf("unparseable date: %s", v))
		}
	}
}

// Title returns the first dc:title. With forFiling, one leading article and
// leading punctuation are removed.
func (d *DublinCoreDriver) Title(forFiling bool) string {
	title := strings.TrimSpace(d.first("title"))
	if !forFiling {
		return title
	}
	return strings.TrimLeft(StripLeadingArticleFold(title), " \"'[(")
}

// FullTitle returns the complete title used for dedup comparison.
func (d *DublinCoreDriver) FullTitle() string {
	return strings.Join(d.values("title"), " ")
}

// MainAuthor returns the first dc:creator.
func (d *DublinCoreDriver) MainAuthor() string {
	return d.first("creator")
}

// FormatClass maps the first dc:type to a format class.
func (d *DublinCoreDriver) FormatClass() string {
	t := strings.ToLower(d.first("type"))
	switch {
	case t == "":
		return "Other"
	case strings.Contains(t, "book"):
		return "Book"
	case strings.Contains(t, "journal"), strings.Contains(t, "serial"):
		return "Journal"
	case strings.Contains(t, "article"):
		return "Article"
	default:
		return "Other"
	}
}

// ISBNs extracts valid ISBNs from identifier and source elements, normalized
// to 13-digit form and de-duplicated preserving first occurrence.
func (d *DublinCoreDriver) ISBNs() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, field := range []string{"identifier", "source"} {
		for _, v := range d.values(field) {
			isbn := NormalizeISBN(v)
			if isbn == "" {
				continue
			}
			if _, ok := seen[isbn]; ok {
				continue
			}
			seen[isbn] = struct{}{}
			out = append(out, isbn)
		}
	}
	return out
}

// ISSNs extracts valid ISSNs from identifier elements.
func (d *DublinCoreDriver) ISSNs() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range d.values("identifier") {
		if !strings.Contains(strings.ToLower(v), "issn") {
			continue
		}
		issn := NormalizeISSN(v)
		if issn == "" {
			continue
		}
		if _, ok := seen[issn]; ok {
			continue
		}
		seen[issn] = struct{}{}
		out = append(out, issn)
	}
	return out
}

// PublicationYear returns the four-digit year of the first dc:date carrying
// one.
func (d *DublinCoreDriver) PublicationYear() string {
	for _, v := range d.values("date") {
		if year := ExtractYear(v); year != "" {
			return year
		}
	}
	return ""
}

// PageCount extracts a numeric page count from dc:format extents such as
// "xii, 534 p.".
func (d *DublinCoreDriver) PageCount() string {
	for _, v := range d.values("format") {
		if strings.Contains(strings.ToLower(v), "p") {
			if n := ExtractDigits(v); n != "" {
				return n
			}
		}
	}
	return ""
}

// AccessRestrictions reports "restricted" when a dc:rights statement marks
// the record restricted, or when the source forces it via driver parameter.
func (d *DublinCoreDriver) AccessRestrictions() string {
	if d.Params.GetBool("restricted", false) {
		return "restricted"
	}
	for _, v := range d.values("rights") {
		if strings.Contains(strings.ToLower(v), "restricted") {
			return "restricted"
		}
	}
	return ""
}

// IsComponentPart reports whether the record links to a host record.
func (d *DublinCoreDriver) IsComponentPart() bool {
	return len(d.HostRecordIDs()) > 0
}

// HostRecordIDs returns dcterms:isPartOf values as host linking IDs.
func (d *DublinCoreDriver) HostRecordIDs() []string {
	return d.values("isPartOf")
}

// MergeComponentParts stores part attributes for inclusion in the export and
// search representations.
func (d *DublinCoreDriver) MergeComponentParts(parts []domain.Attributes) {
	d.parts = append(d.parts, parts...)
}

// SearchFields returns the driver-level index fields. Provenance and date
// range fields are added by the search-field projector.
func (d *DublinCoreDriver) SearchFields() map[string]any {
	fields := map[string]any{}
	if title := d.Title(false); title != "" {
		fields["title"] = title
		fields["title_full"] = d.FullTitle()
		fields["title_sort"] = d.Title(true)
	}
	if author := d.MainAuthor(); author != "" {
		fields["author"] = author
	}
	fields["format"] = d.FormatClass()
	if langs := d.values("language"); len(langs) > 0 {
		fields["language"] = langs
	}
	if year := d.PublicationYear(); year != "" {
		fields["publishDate"] = year
	}
	if isbns := d.ISBNs(); len(isbns) > 0 {
		fields["isbn"] = isbns
	}
	if issns := d.ISSNs(); len(issns) > 0 {
		fields["issn"] = issns
	}
	if len(d.parts) > 0 {
		titles := make([]string, 0, len(d.parts))
		for _, p := range d.parts {
			if p.Title != "" {
				titles = append(titles, p.Title)
			}
		}
		if len(titles) > 0 {
			fields["contents"] = titles
		}
	}
	return fields
}
