package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
)

// mockTxRunner drives pgxmock's transaction expectations through the
// TxRunner interface.
type mockTxRunner struct {
	pool pgxmock.PgxPoolIface
}

func (m mockTxRunner) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func newMockStore(t *testing.T) (*PgRecordStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgRecordStore(mock, mockTxRunner{pool: mock}), mock
}

func testRecord() *domain.Record {
	return &domain.Record{
		SourceID:    "helka",
		RecordID:    "12345",
		Format:      domain.FormatMARC,
		RawMetadata: []byte(`{"leader":""}`),
		State:       domain.StateKeyed,
		Attributes: domain.Attributes{
			Title:      "The Art of Computer Programming",
			MainAuthor: "Knuth, Donald E.",
			ISBNs:      []string{"9780134685991"},
		},
	}
}

// recordRow builds a full scan row for the given record.
func recordRow(t *testing.T, rec *domain.Record) *pgxmock.Rows {
	t.Helper()
	attrsJSON, err := json.Marshal(rec.Attributes)
	require.NoError(t, err)

	var groupID *string
	if rec.DedupGroupID != "" {
		groupID = &rec.DedupGroupID
	}
	now := time.Now().UTC()

	return pgxmock.NewRows([]string{
		"source_id", "record_id", "linking_id", "format", "raw_metadata",
		"is_component_part", "host_record_ids", "warnings", "attributes", "state",
		"dedup_group_id", "deleted", "created_at", "updated_at",
	}).AddRow(
		rec.SourceID, rec.RecordID, rec.LinkingID, rec.Format, rec.RawMetadata,
		rec.IsComponentPart, []string{}, []string{}, attrsJSON, rec.State,
		groupID, rec.Deleted, now, now,
	)
}

func TestSaveWritesRecordAndKeysAtomically(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := testRecord()
	keys := dedup.ExtractKeys(rec.Attributes)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO records").
		WithArgs(
			rec.SourceID, rec.RecordID, rec.LinkingID, rec.Format, rec.RawMetadata,
			rec.IsComponentPart, []string{}, []string{}, pgxmock.AnyArg(), rec.State,
			(*string)(nil), rec.Deleted,
		).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("DELETE FROM record_keys").
		WithArgs(rec.SourceID, rec.RecordID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO record_keys").
		WithArgs(rec.SourceID, rec.RecordID, keyKindIdentifier, "isbn:9780134685991").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO record_keys").
		WithArgs(rec.SourceID, rec.RecordID, keyKindFuzzy, keys.Fuzzy).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), rec, keys))
	assert.Equal(t, now, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveValidatesRecord(t *testing.T) {
	t.Parallel()

	s, _ := newMockStore(t)

	err := s.Save(context.Background(), nil, dedup.Keys{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	err = s.Save(context.Background(), &domain.Record{SourceID: "x"}, dedup.Keys{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestLoadByID(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := testRecord()

	mock.ExpectQuery("SELECT (.+) FROM records WHERE source_id").
		WithArgs("helka", "12345").
		WillReturnRows(recordRow(t, rec))

	got, err := s.LoadByID(context.Background(), "helka", "12345")
	require.NoError(t, err)
	assert.Equal(t, rec.Key(), got.Key())
	assert.Equal(t, rec.Attributes.Title, got.Attributes.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadByIDNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM records WHERE source_id").
		WithArgs("helka", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadByID(context.Background(), "helka", "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIdentifierKey(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := testRecord()

	mock.ExpectQuery("SELECT (.+) INNER JOIN record_keys").
		WithArgs(keyKindIdentifier, "isbn:9780134685991").
		WillReturnRows(recordRow(t, rec))

	got, err := s.FindByIdentifierKey(context.Background(), "isbn:9780134685991")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.Key(), got[0].Key())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignGroup(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	members := []domain.RecordKey{
		{SourceID: "helka", RecordID: "1"},
		{SourceID: "viola", RecordID: "2"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM dedup_groups WHERE group_id").
		WithArgs("helka.1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	for _, m := range members {
		mock.ExpectExec("INSERT INTO dedup_groups").
			WithArgs("helka.1", m.SourceID, m.RecordID).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("UPDATE records SET dedup_group_id").
			WithArgs("helka.1", m.SourceID, m.RecordID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.AssignGroup(context.Background(), "helka.1", members))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDissolveGroup(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE records SET dedup_group_id = NULL").
		WithArgs("helka.1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec("DELETE FROM dedup_groups WHERE group_id").
		WithArgs("helka.1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	require.NoError(t, s.DissolveGroup(context.Background(), "helka.1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupsAssemblesMembers(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT group_id, source_id, record_id, created_at").
		WillReturnRows(pgxmock.NewRows([]string{"group_id", "source_id", "record_id", "created_at"}).
			AddRow("helka.1", "helka", "1", now).
			AddRow("helka.1", "viola", "2", now).
			AddRow("viola.9", "viola", "9", now).
			AddRow("viola.9", "zz", "3", now))

	groups, err := s.Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "helka.1", groups[0].ID)
	assert.Len(t, groups[0].Members, 2)
	assert.Equal(t, "viola.9", groups[1].ID)
	assert.Len(t, groups[1].Members, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeleted(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE records SET deleted = TRUE").
		WithArgs("helka", "12345").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM record_keys").
		WithArgs("helka", "12345").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	err := s.MarkDeleted(context.Background(), domain.RecordKey{SourceID: "helka", RecordID: "12345"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeletedNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE records SET deleted = TRUE").
		WithArgs("helka", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.MarkDeleted(context.Background(), domain.RecordKey{SourceID: "helka", RecordID: "missing"})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSource(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM dedup_groups WHERE source_id").
		WithArgs("helka").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("DELETE FROM records WHERE source_id").
		WithArgs("helka").
		WillReturnResult(pgxmock.NewResult("DELETE", 42))
	mock.ExpectCommit()

	deleted, err := s.DeleteSource(context.Background(), "helka")
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkForUpdate(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE records SET state").
		WithArgs(domain.StateNew, "helka").
		WillReturnResult(pgxmock.NewResult("UPDATE", 10))

	marked, err := s.MarkForUpdate(context.Background(), "helka", "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), marked)

	mock.ExpectExec("UPDATE records SET state").
		WithArgs(domain.StateNew, "helka", "12345").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	marked, err = s.MarkForUpdate(context.Background(), "helka", "12345")
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)
	assert.NoError(t, mock.ExpectationsWereMet())
}
