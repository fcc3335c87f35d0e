package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlibhub/recordman/internal/config"
	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/index"
	"github.com/openlibhub/recordman/internal/metadata"
	"github.com/openlibhub/recordman/internal/store"
)

// memStore is an in-memory store.RecordStore for controller tests.
type memStore struct {
	records map[domain.RecordKey]*domain.Record
	keys    map[domain.RecordKey]dedup.Keys
	groups  map[string][]domain.RecordKey
}

var _ store.RecordStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		records: make(map[domain.RecordKey]*domain.Record),
		keys:    make(map[domain.RecordKey]dedup.Keys),
		groups:  make(map[string][]domain.RecordKey),
	}
}

func cloneRecord(rec *domain.Record) *domain.Record {
	c := *rec
	c.HostRecordIDs = append([]string(nil), rec.HostRecordIDs...)
	c.Warnings = append([]string(nil), rec.Warnings...)
	return &c
}

func (s *memStore) Save(ctx context.Context, rec *domain.Record, keys dedup.Keys) error {
	s.records[rec.Key()] = cloneRecord(rec)
	s.keys[rec.Key()] = keys
	return nil
}

func (s *memStore) LoadByID(ctx context.Context, sourceID, recordID string) (*domain.Record, error) {
	rec, ok := s.records[domain.RecordKey{SourceID: sourceID, RecordID: recordID}]
	if !ok {
		return nil, domain.NewNotFoundError("record", sourceID+"."+recordID)
	}
	return cloneRecord(rec), nil
}

func (s *memStore) FindByIdentifierKey(ctx context.Context, key string) ([]*domain.Record, error) {
	var out []*domain.Record
	for k, keys := range s.keys {
		rec := s.records[k]
		if rec == nil || rec.Deleted {
			continue
		}
		for _, id := range keys.Identifier {
			if id == key {
				out = append(out, cloneRecord(rec))
				break
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memStore) FindByFuzzyKey(ctx context.Context, key string) ([]*domain.Record, error) {
	var out []*domain.Record
	for k, keys := range s.keys {
		rec := s.records[k]
		if rec == nil || rec.Deleted {
			continue
		}
		if keys.Fuzzy != "" && keys.Fuzzy == key {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memStore) AssignGroup(ctx context.Context, groupID string, members []domain.RecordKey) error {
	s.groups[groupID] = append([]domain.RecordKey(nil), members...)
	for _, m := range members {
		if rec, ok := s.records[m]; ok {
			rec.DedupGroupID = groupID
		}
	}
	return nil
}

func (s *memStore) DissolveGroup(ctx context.Context, groupID string) error {
	for _, m := range s.groups[groupID] {
		if rec, ok := s.records[m]; ok && rec.DedupGroupID == groupID {
			rec.DedupGroupID = ""
		}
	}
	delete(s.groups, groupID)
	return nil
}

func (s *memStore) GroupMembers(ctx context.Context, groupID string) ([]*domain.Record, error) {
	var out []*domain.Record
	for _, m := range s.groups[groupID] {
		if rec, ok := s.records[m]; ok {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memStore) ListBySource(ctx context.Context, sourceID string) ([]*domain.Record, error) {
	var out []*domain.Record
	for _, rec := range s.records {
		if rec.SourceID == sourceID {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memStore) ListByState(ctx context.Context, sourceID string, state domain.RecordState) ([]*domain.Record, error) {
	var out []*domain.Record
	for _, rec := range s.records {
		if rec.SourceID == sourceID && rec.State == state && !rec.Deleted {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memStore) FindComponentParts(ctx context.Context, sourceID, hostLinkingID string) ([]*domain.Record, error) {
	var out []*domain.Record
	for _, rec := range s.records {
		if rec.SourceID != sourceID || !rec.IsComponentPart || rec.Deleted {
			continue
		}
		for _, h := range rec.HostRecordIDs {
			if h == hostLinkingID {
				out = append(out, cloneRecord(rec))
				break
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memStore) MarkDeleted(ctx context.Context, key domain.RecordKey) error {
	rec, ok := s.records[key]
	if !ok {
		return domain.NewNotFoundError("record", key.String())
	}
	rec.Deleted = true
	s.keys[key] = dedup.Keys{}
	return nil
}

func (s *memStore) DeleteSource(ctx context.Context, sourceID string) (int64, error) {
	var count int64
	for k := range s.records {
		if k.SourceID != sourceID {
			continue
		}
		delete(s.records, k)
		delete(s.keys, k)
		count++
	}
	for id, members := range s.groups {
		var remaining []domain.RecordKey
		for _, m := range members {
			if m.SourceID != sourceID {
				remaining = append(remaining, m)
			}
		}
		s.groups[id] = remaining
	}
	return count, nil
}

func (s *memStore) MarkForUpdate(ctx context.Context, sourceID, recordID string) (int64, error) {
	var count int64
	for k, rec := range s.records {
		if k.SourceID != sourceID || rec.Deleted {
			continue
		}
		if recordID != "" && k.RecordID != recordID {
			continue
		}
		rec.State = domain.StateNew
		count++
	}
	return count, nil
}

func (s *memStore) Groups(ctx context.Context) ([]domain.DedupGroup, error) {
	ids := make([]string, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]domain.DedupGroup, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.DedupGroup{
			ID:      id,
			Members: append([]domain.RecordKey(nil), s.groups[id]...),
		})
	}
	return out, nil
}

func sortRecords(recs []*domain.Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Key().String() < recs[j].Key().String()
	})
}

// fakeIndexer captures index submissions.
type fakeIndexer struct {
	updated [][]index.Document
	deleted [][]string
	commits int
}

func (f *fakeIndexer) Update(ctx context.Context, docs []index.Document) error {
	f.updated = append(f.updated, docs)
	return nil
}

func (f *fakeIndexer) Delete(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids)
	return nil
}

func (f *fakeIndexer) Commit(ctx context.Context) error {
	f.commits++
	return nil
}

func (f *fakeIndexer) allDocs() []index.Document {
	var out []index.Document
	for _, batch := range f.updated {
		out = append(out, batch...)
	}
	return out
}

func testSources() map[string]config.SourceConfig {
	return map[string]config.SourceConfig{
		"doria": {IDPrefix: "doria", Format: "dc", Institution: "NatLib", Dedup: true, Index: true},
		"plain": {IDPrefix: "plain", Format: "dc"},
	}
}

func newTestController(t *testing.T) (*Controller, *memStore, *fakeIndexer) {
	t.Helper()
	st := newMemStore()
	idx := &fakeIndexer{}
	c := New(Params{
		Store:    st,
		Registry: metadata.DefaultRegistry(),
		Engine:   dedup.NewEngine(st, dedup.DefaultConfig(), zerolog.Nop()),
		Indexer:  idx,
		Logger:   zerolog.Nop(),
		Sources:  testSources(),
	})
	return c, st, idx
}

func dcPayload(id, title, creator, date, isbn string) []byte {
	var b strings.Builder
	b.WriteString("<record>")
	fmt.Fprintf(&b, "<identifier>%s</identifier>", id)
	if isbn != "" {
		fmt.Fprintf(&b, "<identifier>ISBN %s</identifier>", isbn)
	}
	fmt.Fprintf(&b, "<title>%s</title>", title)
	if creator != "" {
		fmt.Fprintf(&b, "<creator>%s</creator>", creator)
	}
	if date != "" {
		fmt.Fprintf(&b, "<date>%s</date>", date)
	}
	b.WriteString("<language>fin</language><language>swe</language>")
	b.WriteString("</record>")
	return []byte(b.String())
}

func seedRecord(t *testing.T, st *memStore, sourceID, recordID string, raw []byte, state domain.RecordState) *domain.Record {
	t.Helper()
	driver, err := metadata.NewDublinCoreDriver(sourceID, recordID, raw, nil)
	require.NoError(t, err)
	rec, err := metadata.Canonicalize(sourceID, domain.FormatDublinCore, raw, driver)
	require.NoError(t, err)
	rec.State = state
	keys := dedup.ExtractKeys(rec.Attributes)
	if rec.IsComponentPart {
		keys = dedup.Keys{}
	}
	require.NoError(t, st.Save(context.Background(), rec, keys))
	return rec
}

func TestRenormalizeRefreshesAttributes(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	raw := dcPayload("1", "A Corrected Title", "Lönnrot, Elias", "1849", "978-0-13-468599-1")

	// Stored attributes are stale relative to the raw payload.
	stale := &domain.Record{
		SourceID:    "doria",
		RecordID:    "1",
		Format:      domain.FormatDublinCore,
		RawMetadata: raw,
		State:       domain.StateIndexed,
		Attributes:  domain.Attributes{Title: "Old Title"},
	}
	require.NoError(t, st.Save(context.Background(), stale, dedup.Keys{}))

	result, err := c.Renormalize(context.Background(), "doria", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Failed)

	got, err := st.LoadByID(context.Background(), "doria", "1")
	require.NoError(t, err)
	assert.Equal(t, "A Corrected Title", got.Attributes.Title)
	assert.Equal(t, "1849", got.Attributes.PublicationYear)
	assert.Equal(t, domain.StateNormalized, got.State)
	assert.Contains(t, st.keys[got.Key()].Identifier, "isbn:9780134685991")
}

func TestRenormalizeUnparseablePayload(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	bad := &domain.Record{
		SourceID:    "doria",
		RecordID:    "bad",
		Format:      domain.FormatDublinCore,
		RawMetadata: []byte("no xml here"),
		State:       domain.StateNew,
	}
	require.NoError(t, st.Save(context.Background(), bad, dedup.Keys{}))

	result, err := c.Renormalize(context.Background(), "doria", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	got, err := st.LoadByID(context.Background(), "doria", "bad")
	require.NoError(t, err)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "normalization failed")
}

func TestRenormalizeUnknownSource(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	_, err := c.Renormalize(context.Background(), "nope", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeduplicateGroupsSharedISBN(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "Lönnrot, Elias", "1849", "978-0-13-468599-1"), domain.StateNormalized)
	seedRecord(t, st, "doria", "2",
		dcPayload("2", "Kalevala: The Finnish Epic", "Lönnrot, Elias", "1849", "9780134685991"), domain.StateNormalized)

	result, err := c.Deduplicate(context.Background(), "doria", DeduplicateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Matched)

	require.Len(t, st.groups, 1)
	members := st.groups["doria.1"]
	assert.Len(t, members, 2)

	got, err := st.LoadByID(context.Background(), "doria", "2")
	require.NoError(t, err)
	assert.Equal(t, "doria.1", got.DedupGroupID)
	assert.Equal(t, domain.StateMatched, got.State)
}

func TestDeduplicateMarkOnly(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "Lönnrot, Elias", "1849", "978-0-13-468599-1"), domain.StateNormalized)
	seedRecord(t, st, "doria", "2",
		dcPayload("2", "Kalevala", "Lönnrot, Elias", "1849", "9780134685991"), domain.StateNormalized)

	result, err := c.Deduplicate(context.Background(), "doria", DeduplicateOptions{MarkOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Empty(t, st.groups)
}

func TestDeduplicateRequiresEnabledSource(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	_, err := c.Deduplicate(context.Background(), "plain", DeduplicateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIndexUpdateProjectsAndDeletes(t *testing.T) {
	t.Parallel()

	c, st, idx := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "Lönnrot, Elias", "1849", ""), domain.StateUnmatched)
	gone := seedRecord(t, st, "doria", "2",
		dcPayload("2", "Gone", "", "", ""), domain.StateIndexed)
	require.NoError(t, st.MarkDeleted(context.Background(), gone.Key()))

	result, err := c.IndexUpdate(context.Background(), IndexUpdateOptions{SourceID: "doria"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, 1, idx.commits)

	docs := idx.allDocs()
	require.Len(t, docs, 1)
	assert.Equal(t, "doria.1", docs[0].ID())
	assert.Equal(t, "fin", docs[0]["language"])
	assert.Equal(t, "1849", docs[0]["main_date_str"])

	require.Len(t, idx.deleted, 1)
	assert.Equal(t, []string{"doria.2"}, idx.deleted[0])

	got, err := st.LoadByID(context.Background(), "doria", "1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateIndexed, got.State)
}

func TestIndexUpdateNoCommit(t *testing.T) {
	t.Parallel()

	c, st, idx := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "", "", ""), domain.StateUnmatched)

	_, err := c.IndexUpdate(context.Background(), IndexUpdateOptions{SourceID: "doria", NoCommit: true})
	require.NoError(t, err)
	assert.Zero(t, idx.commits)
}

func TestIndexUpdateMergesComponentParts(t *testing.T) {
	t.Parallel()

	c, st, idx := newTestController(t)
	seedRecord(t, st, "doria", "host",
		dcPayload("host", "Collected Works", "Lönnrot, Elias", "1849", ""), domain.StateUnmatched)

	partRaw := []byte(`<record><identifier>part1</identifier><title>First Poem</title>` +
		`<isPartOf>host</isPartOf></record>`)
	seedRecord(t, st, "doria", "part1", partRaw, domain.StateUnmatched)

	result, err := c.IndexUpdate(context.Background(), IndexUpdateOptions{SourceID: "doria"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)

	var hostDoc index.Document
	for _, doc := range idx.allDocs() {
		if doc.ID() == "doria.host" {
			hostDoc = doc
		}
	}
	require.NotNil(t, hostDoc)
	assert.Equal(t, []string{"First Poem"}, hostDoc["contents"])
}

func TestIndexUpdateWarnsOnDanglingPart(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	partRaw := []byte(`<record><identifier>orphan</identifier><title>Orphan Article</title>` +
		`<isPartOf>missing-host</isPartOf></record>`)
	seedRecord(t, st, "doria", "orphan", partRaw, domain.StateUnmatched)

	result, err := c.IndexUpdate(context.Background(), IndexUpdateOptions{SourceID: "doria"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)

	got, err := st.LoadByID(context.Background(), "doria", "orphan")
	require.NoError(t, err)
	assert.Contains(t, got.Warnings, "component part has no resolvable host record")
}

func TestIndexUpdateRequiresEnabledSource(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	_, err := c.IndexUpdate(context.Background(), IndexUpdateOptions{SourceID: "plain"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIndexUpdateAllSourcesSkipsDisabled(t *testing.T) {
	t.Parallel()

	c, st, idx := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "", "", ""), domain.StateUnmatched)
	seedRecord(t, st, "plain", "1",
		dcPayload("1", "Not Indexed", "", "", ""), domain.StateUnmatched)

	result, err := c.IndexUpdate(context.Background(), IndexUpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	require.Len(t, idx.allDocs(), 1)
	assert.Equal(t, "doria.1", idx.allDocs()[0].ID())
}

func TestDump(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "Lönnrot, Elias", "1849", ""), domain.StateUnmatched)

	out, err := c.Dump(context.Background(), "doria", "1")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>Kalevala</title>")
}

func TestMarkDeletedDissolvesTwoMemberGroup(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "Lönnrot, Elias", "1849", "978-0-13-468599-1"), domain.StateNormalized)
	seedRecord(t, st, "doria", "2",
		dcPayload("2", "Kalevala", "Lönnrot, Elias", "1849", "9780134685991"), domain.StateNormalized)

	_, err := c.Deduplicate(context.Background(), "doria", DeduplicateOptions{})
	require.NoError(t, err)
	require.Len(t, st.groups, 1)

	require.NoError(t, c.MarkDeleted(context.Background(), "doria", "1"))

	assert.Empty(t, st.groups)
	got, err := st.LoadByID(context.Background(), "doria", "1")
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	other, err := st.LoadByID(context.Background(), "doria", "2")
	require.NoError(t, err)
	assert.Empty(t, other.DedupGroupID)
}

func TestDeleteSourceRefusedWhenDedupEnabled(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "", "", ""), domain.StateUnmatched)

	_, err := c.DeleteSource(context.Background(), "doria", false)
	assert.ErrorIs(t, err, domain.ErrDedupEnabled)

	deleted, err := c.DeleteSource(context.Background(), "doria", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, st.records)
}

func TestMarkForUpdate(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	seedRecord(t, st, "doria", "1",
		dcPayload("1", "Kalevala", "", "", ""), domain.StateIndexed)
	seedRecord(t, st, "doria", "2",
		dcPayload("2", "Other", "", "", ""), domain.StateIndexed)

	marked, err := c.MarkForUpdate(context.Background(), "doria", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	got, err := st.LoadByID(context.Background(), "doria", "1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, got.State)

	_, err = c.MarkForUpdate(context.Background(), "doria", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckDedupRepairsGroups(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	a := seedRecord(t, st, "doria", "a",
		dcPayload("a", "Kalevala", "", "", ""), domain.StateMatched)
	b := seedRecord(t, st, "doria", "b",
		dcPayload("b", "Kalevala", "", "", ""), domain.StateMatched)
	lone := seedRecord(t, st, "doria", "z",
		dcPayload("z", "Alone", "", "", ""), domain.StateMatched)

	// A healthy pair filed under a stale, non-canonical id and a singleton
	// group left behind by a removed member.
	require.NoError(t, st.AssignGroup(context.Background(), "doria.b", []domain.RecordKey{a.Key(), b.Key()}))
	require.NoError(t, st.AssignGroup(context.Background(), "doria.z", []domain.RecordKey{lone.Key()}))

	result, err := c.CheckDedup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Groups)
	assert.Equal(t, 1, result.Dissolved)
	assert.Equal(t, 1, result.Reassigned)

	require.Len(t, st.groups, 1)
	assert.Len(t, st.groups["doria.a"], 2)
	gotLone, err := st.LoadByID(context.Background(), "doria", "z")
	require.NoError(t, err)
	assert.Empty(t, gotLone.DedupGroupID)
}

func TestHostRelinkRefreshesHostLinks(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	seedRecord(t, st, "doria", "host",
		dcPayload("host", "Collected Works", "Lönnrot, Elias", "1849", ""), domain.StateUnmatched)

	partRaw := []byte(`<record><identifier>part1</identifier><title>First Poem</title>` +
		`<isPartOf>host</isPartOf></record>`)
	part := seedRecord(t, st, "doria", "part1", partRaw, domain.StateUnmatched)

	// The stored links predate a host identifier correction.
	part.HostRecordIDs = []string{"stale-host"}
	require.NoError(t, st.Save(context.Background(), part, dedup.Keys{}))

	result, err := c.HostRelink(context.Background(), "doria", "part1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.HostLinks)
	assert.Equal(t, 1, result.Resolved)

	got, err := st.LoadByID(context.Background(), "doria", "part1")
	require.NoError(t, err)
	assert.Equal(t, []string{"host"}, got.HostRecordIDs)
	assert.True(t, got.IsComponentPart)
	assert.Empty(t, got.Warnings)
}

func TestHostRelinkWarnsOnDanglingHost(t *testing.T) {
	t.Parallel()

	c, st, _ := newTestController(t)
	partRaw := []byte(`<record><identifier>orphan</identifier><title>Orphan Article</title>` +
		`<isPartOf>missing-host</isPartOf></record>`)
	seedRecord(t, st, "doria", "orphan", partRaw, domain.StateUnmatched)

	result, err := c.HostRelink(context.Background(), "doria", "orphan")
	require.NoError(t, err)
	assert.Equal(t, 1, result.HostLinks)
	assert.Equal(t, 0, result.Resolved)

	got, err := st.LoadByID(context.Background(), "doria", "orphan")
	require.NoError(t, err)
	assert.Contains(t, got.Warnings, "component part has no resolvable host record")
}

func TestHostRelinkUnknownRecord(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t)
	_, err := c.HostRelink(context.Background(), "doria", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
