package controller

import (
	"context"
	"fmt"

	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/events"
	"github.com/openlibhub/recordman/internal/observability"
)

// DeduplicateOptions selects which records a deduplication run covers.
type DeduplicateOptions struct {
	// RecordID limits the run to one record.
	RecordID string

	// All forces re-evaluation of every record of the source, including those
	// already matched or indexed. Without it only freshly normalized records
	// are processed.
	All bool

	// MarkOnly runs matching without creating or modifying groups; would-be
	// assignments are reported but not written.
	MarkOnly bool
}

// DeduplicateResult summarizes one deduplication run.
type DeduplicateResult struct {
	Processed int
	Matched   int
	Conflicts int
}

// Deduplicate runs the matching engine over a source's records and maintains
// group assignments. Deduplication must be enabled for the source.
func (c *Controller) Deduplicate(ctx context.Context, sourceID string, opts DeduplicateOptions) (*DeduplicateResult, error) {
	cfg, err := c.sourceConfig(sourceID)
	if err != nil {
		return nil, err
	}
	if !cfg.Dedup {
		return nil, fmt.Errorf("deduplication is not enabled for source %q: %w", sourceID, domain.ErrInvalidInput)
	}
	logger := observability.WithOperationContext(
		observability.WithSourceContext(c.logger, sourceID, cfg.Format), "deduplicate")

	records, err := c.selectDedupRecords(ctx, sourceID, opts)
	if err != nil {
		return nil, err
	}

	result := &DeduplicateResult{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rec.Deleted {
			continue
		}

		before := len(rec.Warnings)
		res, err := c.engine.Process(ctx, rec, opts.MarkOnly)
		if err != nil {
			return result, fmt.Errorf("deduplicating %s: %w", rec.Key(), err)
		}
		result.Processed++
		result.Conflicts += len(res.Conflicts)
		c.recordWarnings(sourceID, before, len(rec.Warnings))

		if c.metrics != nil {
			c.metrics.RecordDedupProcessed(sourceID)
			c.metrics.RecordDedupConflicts(len(res.Conflicts))
		}
		if !res.Matched() {
			continue
		}
		result.Matched++
		if c.metrics != nil {
			c.metrics.RecordDedupMatch(string(res.Kind))
		}
		if opts.MarkOnly {
			logger.Info().
				Str("record_id", rec.RecordID).
				Str("group", res.GroupID).
				Str("kind", string(res.Kind)).
				Msg("record would join group")
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordGroupAssigned(len(res.MatchedWith) + 1)
		}
		c.publish(ctx, events.NewGroupAssigned(rec.SourceID, rec.RecordID, res.GroupID))
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("matched", result.Matched).
		Int("conflicts", result.Conflicts).
		Bool("mark_only", opts.MarkOnly).
		Msg("deduplication finished")
	return result, nil
}

// selectDedupRecords loads the working set for a deduplication run.
func (c *Controller) selectDedupRecords(ctx context.Context, sourceID string, opts DeduplicateOptions) ([]*domain.Record, error) {
	if opts.RecordID != "" {
		rec, err := c.store.LoadByID(ctx, sourceID, opts.RecordID)
		if err != nil {
			return nil, err
		}
		return []*domain.Record{rec}, nil
	}
	if opts.All {
		return c.store.ListBySource(ctx, sourceID)
	}
	return c.store.ListByState(ctx, sourceID, domain.StateNormalized)
}
