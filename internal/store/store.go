// Package store provides the PostgreSQL document store for canonical records,
// their comparison keys and deduplication groups.
//
// Repositories follow the DBTX constructor pattern: they accept any value
// satisfying DBTX, so the same implementation works against a connection pool,
// a transaction or a mock. Operations that must write several tables together
// additionally need a TxRunner; *database.DB satisfies both.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/openlibhub/recordman/internal/database"
	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
)

// DBTX is the database interface supporting both pool and transaction
// contexts.
type DBTX = database.DBTX

// TxRunner executes a function within a database transaction, rolling back on
// error and committing on success.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// RecordStore is the full document-store surface consumed by the controller.
// It includes the candidate-lookup and group operations the deduplication
// engine needs plus batch operations for the maintenance commands.
type RecordStore interface {
	dedup.Store

	// ListBySource returns all records of one source, ordered by record id.
	// Deleted records are included so callers can propagate deletions.
	ListBySource(ctx context.Context, sourceID string) ([]*domain.Record, error)

	// ListByState returns all non-deleted records of one source in the given
	// state, ordered by record id.
	ListByState(ctx context.Context, sourceID string, state domain.RecordState) ([]*domain.Record, error)

	// FindComponentParts returns the non-deleted component parts of one
	// source whose host link matches the given linking id.
	FindComponentParts(ctx context.Context, sourceID, hostLinkingID string) ([]*domain.Record, error)

	// MarkDeleted flags a record as deleted and removes its comparison keys
	// so it stops surfacing as a dedup candidate.
	MarkDeleted(ctx context.Context, key domain.RecordKey) error

	// DeleteSource removes all records of a source and their group
	// memberships. Returns the number of records removed.
	DeleteSource(ctx context.Context, sourceID string) (int64, error)

	// MarkForUpdate resets records of a source to the new state so the next
	// pass re-normalizes and re-matches them. With recordID set only that
	// record is marked. Returns the number of records marked.
	MarkForUpdate(ctx context.Context, sourceID, recordID string) (int64, error)

	// Groups returns all deduplication groups with their current members.
	Groups(ctx context.Context) ([]domain.DedupGroup, error)
}
