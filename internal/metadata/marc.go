package metadata

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/openlibhub/recordman/internal/domain"
)

// marcRecord is the MARC-in-JSON wire form: a leader plus an ordered list of
// fields, each a single-key object mapping the tag to either a control field
// string or a data field with indicators and subfields.
type marcRecord struct {
	Leader string          `json:"leader"`
	Fields []marcFieldPair `json:"fields"`
}

type marcFieldPair map[string]json.RawMessage

type marcDataField struct {
	Ind1      string             `json:"ind1"`
	Ind2      string             `json:"ind2"`
	Subfields []marcSubfieldPair `json:"subfields"`
}

type marcSubfieldPair map[string]string

// enumerationRegexp parses 773$q enumeration "volume:issue<startpage".
var enumerationRegexp = regexp.MustCompile(`^([^:<]*)(?::([^<]*))?(?:<(.*))?$`)

// sourcePrefixRegexp strips organization prefixes like "(OCoLC)" from control
// numbers.
var sourcePrefixRegexp = regexp.MustCompile(`^\([^)]*\)`)

// MARCDriver processes MARC records in the MARC-in-JSON serialization.
type MARCDriver struct {
	Base
	originID string
	raw      []byte
	record   marcRecord
	parts    []domain.Attributes
}

var _ Driver = (*MARCDriver)(nil)

// NewMARCDriver parses a MARC-in-JSON payload.
func NewMARCDriver(sourceID, originID string, raw []byte, params DriverParams) (Driver, error) {
	d := &MARCDriver{
		Base:     NewBase(sourceID, params),
		originID: originID,
		raw:      raw,
	}
	if err := json.Unmarshal(raw, &d.record); err != nil {
		return nil, fmt.Errorf("parsing MARC record %s/%s: %w", sourceID, originID, err)
	}
	if len(d.record.Fields) == 0 {
		return nil, fmt.Errorf("parsing MARC record %s/%s: no fields", sourceID, originID)
	}
	return d, nil
}

// controlField returns the first control field with the given tag.
func (d *MARCDriver) controlField(tag string) string {
	for _, pair := range d.record.Fields {
		if raw, ok := pair[tag]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}
		}
	}
	return ""
}

// dataFields returns all data fields with the given tag in record order.
func (d *MARCDriver) dataFields(tag string) []marcDataField {
	var out []marcDataField
	for _, pair := range d.record.Fields {
		raw, ok := pair[tag]
		if !ok {
			continue
		}
		var f marcDataField
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// subfield returns the first occurrence of code in f.
func subfield(f marcDataField, code string) string {
	for _, pair := range f.Subfields {
		if v, ok := pair[code]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// subfieldValues returns all values of the given codes across all fields with
// tag, normalized by fn, de-duplicated preserving order.
func (d *MARCDriver) subfieldValues(tag, code string, fn func(string) string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, f := range d.dataFields(tag) {
		for _, pair := range f.Subfields {
			v, ok := pair[code]
			if !ok {
				continue
			}
			if fn != nil {
				v = fn(v)
			}
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// ID returns field 001.
func (d *MARCDriver) ID() string {
	if id := strings.TrimSpace(d.controlField("001")); id != "" {
		return id
	}
	return d.originID
}

// Serialize returns the MARC-in-JSON payload for database storage.
func (d *MARCDriver) Serialize() ([]byte, error) {
	out, err := json.Marshal(d.record)
	if err != nil {
		return nil, fmt.Errorf("serializing MARC record: %w", err)
	}
	return out, nil
}

// ToExportXML renders the record as MARCXML.
func (d *MARCDriver) ToExportXML() ([]byte, error) {
	type xmlSubfield struct {
		Code  string `xml:"code,attr"`
		Value string `xml:",chardata"`
	}
	type xmlDataField struct {
		Tag       string        `xml:"tag,attr"`
		Ind1      string        `xml:"ind1,attr"`
		Ind2      string        `xml:"ind2,attr"`
		Subfields []xmlSubfield `xml:"subfield"`
	}
	type xmlControlField struct {
		Tag   string `xml:"tag,attr"`
		Value string `xml:",chardata"`
	}
	type xmlRecord struct {
		XMLName       xml.Name          `xml:"record"`
		Leader        string            `xml:"leader"`
		ControlFields []xmlControlField `xml:"controlfield"`
		DataFields    []xmlDataField    `xml:"datafield"`
	}

	doc := xmlRecord{Leader: d.record.Leader}
	for _, pair := range d.record.Fields {
		for tag, raw := range pair {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				doc.ControlFields = append(doc.ControlFields, xmlControlField{Tag: tag, Value: s})
				continue
			}
			var f marcDataField
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			xf := xmlDataField{Tag: tag, Ind1: f.Ind1, Ind2: f.Ind2}
			for _, sp := range f.Subfields {
				for code, v := range sp {
					xf.Subfields = append(xf.Subfields, xmlSubfield{Code: code, Value: v})
				}
			}
			doc.DataFields = append(doc.DataFields, xf)
		}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling MARCXML: %w", err)
	}
	return out, nil
}

// Normalize checks publication date fields and records warnings for
// unparseable values.
func (d *MARCDriver) Normalize() {
	for _, tag := range []string{"260", "264"} {
		for _, f := range d.dataFields(tag) {
			if v := subfield(f, "c"); v != "" && ExtractYear(v) == "" {
				d.StoreWarning(fmt.Sprintf("unparseable publication date: %s", v))
			}
		}
	}
}

// Title returns 245 $a and $b. With forFiling, the number of non-filing
// characters declared in indicator 2 is stripped.
func (d *MARCDriver) Title(forFiling bool) string {
	fields := d.dataFields("245")
	if len(fields) == 0 {
		return ""
	}
	f := fields[0]
	title := subfield(f, "a")
	if b := subfield(f, "b"); b != "" {
		title = strings.TrimRight(title, " /:;,") + " : " + b
	}
	title = strings.TrimRight(title, " /")
	if forFiling {
		if n, err := strconv.Atoi(strings.TrimSpace(f.Ind2)); err == nil && n > 0 {
			r := []rune(title)
			if n < len(r) {
				title = strings.TrimSpace(string(r[n:]))
			}
		}
	}
	return title
}

// FullTitle returns 245 $a$b$n$p for dedup comparison.
func (d *MARCDriver) FullTitle() string {
	fields := d.dataFields("245")
	if len(fields) == 0 {
		return ""
	}
	var segments []string
	for _, code := range []string{"a", "b", "n", "p"} {
		if v := subfield(fields[0], code); v != "" {
			segments = append(segments, strings.TrimRight(v, " /:;,"))
		}
	}
	return strings.Join(segments, " ")
}

// MainAuthor returns 100 $a.
func (d *MARCDriver) MainAuthor() string {
	fields := d.dataFields("100")
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(subfield(fields[0], "a"), " ,")
}

// FormatClass maps leader type-of-record and bibliographic level to a
// predefined format class.
func (d *MARCDriver) FormatClass() string {
	if len(d.record.Leader) < 8 {
		return "Other"
	}
	typeOf := d.record.Leader[6]
	level := d.record.Leader[7]
	switch {
	case typeOf == 'a' && level == 'm':
		return "Book"
	case typeOf == 'a' && level == 's':
		return "Journal"
	case typeOf == 'a' && (level == 'a' || level == 'b'):
		return "Article"
	default:
		return "Other"
	}
}

// UniqueIDs returns 035 $a system control numbers with whitespace removed.
func (d *MARCDriver) UniqueIDs() []string {
	return d.subfieldValues("035", "a", func(s string) string {
		return strings.ReplaceAll(s, " ", "")
	})
}

// ISBNs returns valid 020 $a values normalized to 13-digit dash-free form.
func (d *MARCDriver) ISBNs() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, f := range d.dataFields("020") {
		raw := subfield(f, "a")
		if raw == "" {
			continue
		}
		// Take only the leading token: 020$a often carries qualifiers like
		// "9510108057 (nid.)".
		raw = strings.Fields(raw)[0]
		isbn := NormalizeISBN(raw)
		if isbn == "" {
			d.StoreWarning(fmt.Sprintf("invalid ISBN: %s", raw))
			continue
		}
		if _, ok := seen[isbn]; ok {
			continue
		}
		seen[isbn] = struct{}{}
		out = append(out, isbn)
	}
	return out
}

// ISSNs returns valid 022 $a values.
func (d *MARCDriver) ISSNs() []string {
	return d.subfieldValues("022", "a", NormalizeISSN)
}

// SeriesISSN returns 490 $x, falling back to 830 $x.
func (d *MARCDriver) SeriesISSN() string {
	for _, tag := range []string{"490", "830"} {
		for _, f := range d.dataFields(tag) {
			if v := NormalizeISSN(subfield(f, "x")); v != "" {
				return v
			}
		}
	}
	return ""
}

// SeriesNumbering returns 490 $v, falling back to 830 $v.
func (d *MARCDriver) SeriesNumbering() string {
	for _, tag := range []string{"490", "830"} {
		for _, f := range d.dataFields(tag) {
			if v := subfield(f, "v"); v != "" {
				return v
			}
		}
	}
	return ""
}

// PublicationYear returns the four-digit year from 260/264 $c, falling back
// to 008 date one.
func (d *MARCDriver) PublicationYear() string {
	for _, tag := range []string{"260", "264"} {
		for _, f := range d.dataFields(tag) {
			if year := ExtractYear(subfield(f, "c")); year != "" {
				return year
			}
		}
	}
	if f008 := d.controlField("008"); len(f008) >= 11 {
		if year := ExtractYear(f008[7:11]); year != "" {
			return year
		}
	}
	return ""
}

// PageCount extracts the numeric page count from 300 $a.
func (d *MARCDriver) PageCount() string {
	for _, f := range d.dataFields("300") {
		if n := ExtractDigits(subfield(f, "a")); n != "" {
			return n
		}
	}
	return ""
}

// AccessRestrictions reports "restricted" when a 506 access note is present.
func (d *MARCDriver) AccessRestrictions() string {
	for _, f := range d.dataFields("506") {
		if subfield(f, "a") != "" {
			return "restricted"
		}
	}
	return ""
}

// IsComponentPart reports whether the leader bibliographic level marks a
// component part or a 773 host item link is present.
func (d *MARCDriver) IsComponentPart() bool {
	if len(d.record.Leader) >= 8 {
		switch d.record.Leader[7] {
		case 'a', 'b', 'd':
			return true
		}
	}
	return len(d.dataFields("773")) > 0
}

// HostRecordIDs returns 773 $w control numbers with any organization prefix
// stripped.
func (d *MARCDriver) HostRecordIDs() []string {
	return d.subfieldValues("773", "w", func(s string) string {
		return sourcePrefixRegexp.ReplaceAllString(strings.TrimSpace(s), "")
	})
}

// host773 returns the first 773 field, if any.
func (d *MARCDriver) host773() (marcDataField, bool) {
	fields := d.dataFields("773")
	if len(fields) == 0 {
		return marcDataField{}, false
	}
	return fields[0], true
}

// ContainerTitle returns 773 $t.
func (d *MARCDriver) ContainerTitle() string {
	if f, ok := d.host773(); ok {
		return subfield(f, "t")
	}
	return ""
}

// ContainerReference returns 773 $g.
func (d *MARCDriver) ContainerReference() string {
	if f, ok := d.host773(); ok {
		return subfield(f, "g")
	}
	return ""
}

// enumeration parses 773 $q ("volume:issue<startpage").
func (d *MARCDriver) enumeration() (volume, issue, startPage string) {
	f, ok := d.host773()
	if !ok {
		return "", "", ""
	}
	q := subfield(f, "q")
	if q == "" {
		return "", "", ""
	}
	m := enumerationRegexp.FindStringSubmatch(q)
	if m == nil {
		return "", "", ""
	}
	return m[1], m[2], m[3]
}

// Volume returns the volume containing this component part.
func (d *MARCDriver) Volume() string {
	v, _, _ := d.enumeration()
	return v
}

// Issue returns the issue containing this component part.
func (d *MARCDriver) Issue() string {
	_, i, _ := d.enumeration()
	return i
}

// StartPage returns the start page of this component part in its host.
func (d *MARCDriver) StartPage() string {
	_, _, p := d.enumeration()
	return p
}

// MergeComponentParts stores part attributes for the export and search
// representations.
func (d *MARCDriver) MergeComponentParts(parts []domain.Attributes) {
	d.parts = append(d.parts, parts...)
}

// SearchFields returns the driver-level index fields; provenance and date
// range fields are added by the search-field projector.
func (d *MARCDriver) SearchFields() map[string]any {
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
	if f008 := d.controlField("008"); len(f008) >= 38 {
		if lang := strings.TrimSpace(f008[35:38]); lang != "" && lang != "|||" {
			fields["language"] = []string{lang}
		}
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
	if d.IsComponentPart() {
		if ct := d.ContainerTitle(); ct != "" {
			fields["container_title"] = ct
		}
		if cr := d.ContainerReference(); cr != "" {
			fields["container_reference"] = cr
		}
		if v := d.Volume(); v != "" {
			fields["container_volume"] = v
		}
		if i := d.Issue(); i != "" {
			fields["container_issue"] = i
		}
		if p := d.StartPage(); p != "" {
			fields["container_start_page"] = p
		}
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
