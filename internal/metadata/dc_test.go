package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlibhub/recordman/internal/domain"
)

const dcSample = `<oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"
    xmlns:dc="http://purl.org/dc/elements/1.1/"
    xmlns:dcterms="http://purl.org/dc/terms/">
  <dc:identifier>oai:example.org:rec-1</dc:identifier>
  <dc:identifier>URN:ISBN:978-0-13-468599-1</dc:identifier>
  <dc:title>The Art of Computer Programming</dc:title>
  <dc:creator>Knuth, Donald E.</dc:creator>
  <dc:date>1997-01-15</dc:date>
  <dc:language>eng</dc:language>
  <dc:language>fin</dc:language>
  <dc:type>Book</dc:type>
  <dc:format>xx, 650 p.</dc:format>
  <dc:rights>Access restricted to subscribers</dc:rights>
</oai_dc:dc>`

func newDCDriver(t *testing.T, originID string, raw string, params DriverParams) Driver {
	t.Helper()
	d, err := NewDublinCoreDriver("testsrc", originID, []byte(raw), params)
	require.NoError(t, err)
	return d
}

func TestDublinCoreBasicAttributes(t *testing.T) {
	t.Parallel()

	d := newDCDriver(t, "oai:example.org:rec-1", dcSample, nil)
	d.Normalize()

	assert.Equal(t, "oai:example.org:rec-1", d.ID())
	assert.Equal(t, "", d.LinkingID()) // empty means "same as ID"
	assert.Equal(t, "The Art of Computer Programming", d.Title(false))
	assert.Equal(t, "Art of Computer Programming", d.Title(true))
	assert.Equal(t, "Knuth, Donald E.", d.MainAuthor())
	assert.Equal(t, "Book", d.FormatClass())
	assert.Equal(t, []string{"9780134685991"}, d.ISBNs())
	assert.Equal(t, "1997", d.PublicationYear())
	assert.Equal(t, "650", d.PageCount())
	assert.Equal(t, "restricted", d.AccessRestrictions())
	assert.False(t, d.IsComponentPart())
	assert.Empty(t, d.HostRecordIDs())
	assert.Empty(t, d.Warnings())
}

func TestDublinCoreIDFallsBackToIdentifier(t *testing.T) {
	t.Parallel()

	d := newDCDriver(t, "", dcSample, nil)
	assert.Equal(t, "oai:example.org:rec-1", d.ID())
}

func TestDublinCoreComponentPart(t *testing.T) {
	t.Parallel()

	raw := `<dc xmlns:dcterms="http://purl.org/dc/terms/">
  <identifier>part-1</identifier>
  <title>Chapter Three</title>
  <dcterms:isPartOf>host-link-9</dcterms:isPartOf>
</dc>`
	d := newDCDriver(t, "part-1", raw, nil)

	assert.True(t, d.IsComponentPart())
	assert.Equal(t, []string{"host-link-9"}, d.HostRecordIDs())
}

func TestDublinCoreInvalidDateWarning(t *testing.T) {
	t.Parallel()

	raw := `<dc>
  <identifier>rec-2</identifier>
  <title>Undated Work</title>
  <date>sometime in the past</date>
</dc>`
	d := newDCDriver(t, "rec-2", raw, nil)
	d.Normalize()
	d.Normalize() // warnings are de-duplicated across repeated passes

	assert.Equal(t, []string{"unparseable date: sometime in the past"}, d.Warnings())
	assert.Equal(t, "", d.PublicationYear())
}

func TestDublinCoreUnparseablePayload(t *testing.T) {
	t.Parallel()

	_, err := NewDublinCoreDriver("testsrc", "x", []byte("<broken"), nil)
	assert.Error(t, err)
}

func TestDublinCoreSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	d := newDCDriver(t, "oai:example.org:rec-1", dcSample, nil)
	out, err := d.Serialize()
	require.NoError(t, err)
	assert.Equal(t, []byte(dcSample), out)
}

func TestDublinCoreExportXMLIncludesMergedParts(t *testing.T) {
	t.Parallel()

	d := newDCDriver(t, "oai:example.org:rec-1", dcSample, nil)
	d.MergeComponentParts([]domain.Attributes{
		{Title: "Sorting and Searching", StartPage: "73"},
	})

	out, err := d.ToExportXML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "Sorting and Searching")
	assert.Contains(t, string(out), "<startPage>73</startPage>")

	fields := d.SearchFields()
	assert.Equal(t, []string{"Sorting and Searching"}, fields["contents"])
}

func TestDublinCoreCanonicalize(t *testing.T) {
	t.Parallel()

	d := newDCDriver(t, "oai:example.org:rec-1", dcSample, nil)
	rec, err := Canonicalize("testsrc", domain.FormatDublinCore, []byte(dcSample), d)
	require.NoError(t, err)

	assert.Equal(t, "testsrc", rec.SourceID)
	assert.Equal(t, "oai:example.org:rec-1", rec.RecordID)
	assert.Equal(t, "oai:example.org:rec-1", rec.EffectiveLinkingID())
	assert.Equal(t, domain.StateNormalized, rec.State)
	assert.Equal(t, "The Art of Computer Programming", rec.Attributes.Title)
	assert.Equal(t, []string{"9780134685991"}, rec.Attributes.ISBNs)

	// Canonicalization is deterministic: a second pass over the same payload
	// yields identical attributes.
	d2 := newDCDriver(t, "oai:example.org:rec-1", dcSample, nil)
	rec2, err := Canonicalize("testsrc", domain.FormatDublinCore, []byte(dcSample), d2)
	require.NoError(t, err)
	assert.Equal(t, rec.Attributes, rec2.Attributes)
	assert.Equal(t, rec.Warnings, rec2.Warnings)
}
