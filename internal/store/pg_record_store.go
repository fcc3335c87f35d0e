package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
)

// Compile-time interface verification.
var _ RecordStore = (*PgRecordStore)(nil)

// Key kinds in the record_keys table.
const (
	keyKindIdentifier = "identifier"
	keyKindFuzzy      = "fuzzy"
)

// recordColumns is the canonical column list for record scans.
const recordColumns = `source_id, record_id, linking_id, format, raw_metadata,
		is_component_part, host_record_ids, warnings, attributes, state,
		dedup_group_id, deleted, created_at, updated_at`

// PgRecordStore is the PostgreSQL implementation of RecordStore.
type PgRecordStore struct {
	db DBTX
	tx TxRunner
}

// NewPgRecordStore creates a new PostgreSQL record store. *database.DB
// satisfies both parameters.
func NewPgRecordStore(db DBTX, tx TxRunner) *PgRecordStore {
	return &PgRecordStore{db: db, tx: tx}
}

// Save upserts the record and replaces its comparison keys in one
// transaction, so a record is never visible with stale keys.
func (s *PgRecordStore) Save(ctx context.Context, rec *domain.Record, keys dedup.Keys) error {
	if rec == nil {
		return domain.NewValidationError("record", "record cannot be nil")
	}
	if rec.SourceID == "" || rec.RecordID == "" {
		return domain.NewValidationError("record", "source and record id are required")
	}

	attrsJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("marshaling attributes for %s: %w", rec.Key(), err)
	}

	return s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO records (
				source_id, record_id, linking_id, format, raw_metadata,
				is_component_part, host_record_ids, warnings, attributes, state,
				dedup_group_id, deleted, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW()
			)
			ON CONFLICT (source_id, record_id) DO UPDATE SET
				linking_id = EXCLUDED.linking_id,
				format = EXCLUDED.format,
				raw_metadata = EXCLUDED.raw_metadata,
				is_component_part = EXCLUDED.is_component_part,
				host_record_ids = EXCLUDED.host_record_ids,
				warnings = EXCLUDED.warnings,
				attributes = EXCLUDED.attributes,
				state = EXCLUDED.state,
				dedup_group_id = EXCLUDED.dedup_group_id,
				deleted = EXCLUDED.deleted,
				updated_at = NOW()
			RETURNING created_at, updated_at`

		err := tx.QueryRow(ctx, query,
			rec.SourceID,
			rec.RecordID,
			rec.LinkingID,
			rec.Format,
			rec.RawMetadata,
			rec.IsComponentPart,
			textArray(rec.HostRecordIDs),
			textArray(rec.Warnings),
			attrsJSON,
			rec.State,
			nullable(rec.DedupGroupID),
			rec.Deleted,
		).Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upserting record %s: %w", rec.Key(), err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM record_keys WHERE source_id = $1 AND record_id = $2`,
			rec.SourceID, rec.RecordID); err != nil {
			return fmt.Errorf("clearing keys for %s: %w", rec.Key(), err)
		}

		insertKey := `
			INSERT INTO record_keys (source_id, record_id, key_kind, key_value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`
		for _, key := range keys.Identifier {
			if _, err := tx.Exec(ctx, insertKey, rec.SourceID, rec.RecordID, keyKindIdentifier, key); err != nil {
				return fmt.Errorf("inserting identifier key for %s: %w", rec.Key(), err)
			}
		}
		if keys.Fuzzy != "" {
			if _, err := tx.Exec(ctx, insertKey, rec.SourceID, rec.RecordID, keyKindFuzzy, keys.Fuzzy); err != nil {
				return fmt.Errorf("inserting fuzzy key for %s: %w", rec.Key(), err)
			}
		}
		return nil
	})
}

// LoadByID loads one record by its source and record id.
func (s *PgRecordStore) LoadByID(ctx context.Context, sourceID, recordID string) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE source_id = $1 AND record_id = $2`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, sourceID, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("record", sourceID+"."+recordID)
		}
		return nil, fmt.Errorf("loading record %s.%s: %w", sourceID, recordID, err)
	}
	return rec, nil
}

// FindByIdentifierKey returns all live records sharing one identifier key.
func (s *PgRecordStore) FindByIdentifierKey(ctx context.Context, key string) ([]*domain.Record, error) {
	return s.findByKey(ctx, keyKindIdentifier, key)
}

// FindByFuzzyKey returns all live records sharing one fuzzy lookup key.
func (s *PgRecordStore) FindByFuzzyKey(ctx context.Context, key string) ([]*domain.Record, error) {
	return s.findByKey(ctx, keyKindFuzzy, key)
}

func (s *PgRecordStore) findByKey(ctx context.Context, kind, key string) ([]*domain.Record, error) {
	query := `
		SELECT ` + recordColumnsPrefixed + `
		FROM records r
		INNER JOIN record_keys k ON r.source_id = k.source_id AND r.record_id = k.record_id
		WHERE k.key_kind = $1 AND k.key_value = $2 AND NOT r.deleted
		ORDER BY r.source_id, r.record_id`

	rows, err := s.db.Query(ctx, query, kind, key)
	if err != nil {
		return nil, fmt.Errorf("querying %s key %q: %w", kind, key, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListBySource returns all records of one source, deleted ones included.
func (s *PgRecordStore) ListBySource(ctx context.Context, sourceID string) ([]*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE source_id = $1 ORDER BY record_id`

	rows, err := s.db.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing records for source %s: %w", sourceID, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListByState returns all non-deleted records of one source in the given state.
func (s *PgRecordStore) ListByState(ctx context.Context, sourceID string, state domain.RecordState) ([]*domain.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM records
		WHERE source_id = $1 AND state = $2 AND NOT deleted
		ORDER BY record_id`

	rows, err := s.db.Query(ctx, query, sourceID, state)
	if err != nil {
		return nil, fmt.Errorf("listing %s records for source %s: %w", state, sourceID, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// FindComponentParts returns the live component parts linked to a host.
func (s *PgRecordStore) FindComponentParts(ctx context.Context, sourceID, hostLinkingID string) ([]*domain.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM records
		WHERE source_id = $1 AND is_component_part AND $2 = ANY(host_record_ids) AND NOT deleted
		ORDER BY record_id`

	rows, err := s.db.Query(ctx, query, sourceID, hostLinkingID)
	if err != nil {
		return nil, fmt.Errorf("finding parts of %s.%s: %w", sourceID, hostLinkingID, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// AssignGroup writes the group membership and each member's group reference
// in one transaction.
func (s *PgRecordStore) AssignGroup(ctx context.Context, groupID string, members []domain.RecordKey) error {
	if groupID == "" {
		return domain.NewValidationError("group_id", "group id is required")
	}

	return s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dedup_groups WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("clearing group %s: %w", groupID, err)
		}
		for _, m := range members {
			if _, err := tx.Exec(ctx,
				`INSERT INTO dedup_groups (group_id, source_id, record_id) VALUES ($1, $2, $3)`,
				groupID, m.SourceID, m.RecordID); err != nil {
				return fmt.Errorf("adding %s to group %s: %w", m, groupID, err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE records SET dedup_group_id = $1, updated_at = NOW()
				 WHERE source_id = $2 AND record_id = $3`,
				groupID, m.SourceID, m.RecordID); err != nil {
				return fmt.Errorf("updating group reference of %s: %w", m, err)
			}
		}
		return nil
	})
}

// DissolveGroup removes a group and clears the group reference on its members.
func (s *PgRecordStore) DissolveGroup(ctx context.Context, groupID string) error {
	return s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE records SET dedup_group_id = NULL, updated_at = NOW() WHERE dedup_group_id = $1`,
			groupID); err != nil {
			return fmt.Errorf("clearing group references for %s: %w", groupID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dedup_groups WHERE group_id = $1`, groupID); err != nil {
			return fmt.Errorf("deleting group %s: %w", groupID, err)
		}
		return nil
	})
}

// GroupMembers returns the current members of a group.
func (s *PgRecordStore) GroupMembers(ctx context.Context, groupID string) ([]*domain.Record, error) {
	query := `
		SELECT ` + recordColumnsPrefixed + `
		FROM records r
		INNER JOIN dedup_groups g ON r.source_id = g.source_id AND r.record_id = g.record_id
		WHERE g.group_id = $1
		ORDER BY r.source_id, r.record_id`

	rows, err := s.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading members of group %s: %w", groupID, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Groups returns all deduplication groups with their members.
func (s *PgRecordStore) Groups(ctx context.Context) ([]domain.DedupGroup, error) {
	query := `
		SELECT group_id, source_id, record_id, created_at
		FROM dedup_groups
		ORDER BY group_id, source_id, record_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.DedupGroup
	for rows.Next() {
		var (
			groupID   string
			member    domain.RecordKey
			createdAt time.Time
		)
		if err := rows.Scan(&groupID, &member.SourceID, &member.RecordID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning group row: %w", err)
		}
		if len(groups) == 0 || groups[len(groups)-1].ID != groupID {
			groups = append(groups, domain.DedupGroup{ID: groupID, CreatedAt: createdAt})
		}
		g := &groups[len(groups)-1]
		g.Members = append(g.Members, member)
		if createdAt.Before(g.CreatedAt) {
			g.CreatedAt = createdAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	return groups, nil
}

// MarkDeleted flags a record as deleted and drops its comparison keys.
func (s *PgRecordStore) MarkDeleted(ctx context.Context, key domain.RecordKey) error {
	return s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE records SET deleted = TRUE, updated_at = NOW()
			 WHERE source_id = $1 AND record_id = $2`,
			key.SourceID, key.RecordID)
		if err != nil {
			return fmt.Errorf("marking %s deleted: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.NewNotFoundError("record", key.String())
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM record_keys WHERE source_id = $1 AND record_id = $2`,
			key.SourceID, key.RecordID); err != nil {
			return fmt.Errorf("clearing keys for %s: %w", key, err)
		}
		return nil
	})
}

// DeleteSource removes all records of a source and their group memberships.
func (s *PgRecordStore) DeleteSource(ctx context.Context, sourceID string) (int64, error) {
	var deleted int64
	err := s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM dedup_groups WHERE source_id = $1`, sourceID); err != nil {
			return fmt.Errorf("clearing group memberships for source %s: %w", sourceID, err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM records WHERE source_id = $1`, sourceID)
		if err != nil {
			return fmt.Errorf("deleting records for source %s: %w", sourceID, err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

// MarkForUpdate resets records to the new state for re-processing.
func (s *PgRecordStore) MarkForUpdate(ctx context.Context, sourceID, recordID string) (int64, error) {
	query := `UPDATE records SET state = $1, updated_at = NOW()
		WHERE source_id = $2 AND NOT deleted`
	args := []interface{}{domain.StateNew, sourceID}
	if recordID != "" {
		query += ` AND record_id = $3`
		args = append(args, recordID)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("marking source %s for update: %w", sourceID, err)
	}
	return tag.RowsAffected(), nil
}

// recordColumnsPrefixed is recordColumns qualified with the "r" alias for
// joins.
const recordColumnsPrefixed = `r.source_id, r.record_id, r.linking_id, r.format, r.raw_metadata,
		r.is_component_part, r.host_record_ids, r.warnings, r.attributes, r.state,
		r.dedup_group_id, r.deleted, r.created_at, r.updated_at`

// recordScanDest holds the destination values for scanning a record row.
type recordScanDest struct {
	rec       domain.Record
	attrsJSON []byte
	groupID   *string
}

func (d *recordScanDest) destinations() []interface{} {
	return []interface{}{
		&d.rec.SourceID, &d.rec.RecordID, &d.rec.LinkingID, &d.rec.Format, &d.rec.RawMetadata,
		&d.rec.IsComponentPart, &d.rec.HostRecordIDs, &d.rec.Warnings, &d.attrsJSON, &d.rec.State,
		&d.groupID, &d.rec.Deleted, &d.rec.CreatedAt, &d.rec.UpdatedAt,
	}
}

func (d *recordScanDest) finalize() (*domain.Record, error) {
	if len(d.attrsJSON) > 0 {
		if err := json.Unmarshal(d.attrsJSON, &d.rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes: %w", err)
		}
	}
	if d.groupID != nil {
		d.rec.DedupGroupID = *d.groupID
	}
	return &d.rec, nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var dest recordScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

func collectRecords(rows pgx.Rows) ([]*domain.Record, error) {
	var records []*domain.Record
	for rows.Next() {
		var dest recordScanDest
		if err := rows.Scan(dest.destinations()...); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec, err := dest.finalize()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// nullable maps "" to NULL for nullable text columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// textArray never passes a nil slice so text[] columns stay non-null.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
