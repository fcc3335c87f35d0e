package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/events"
	"github.com/openlibhub/recordman/internal/metadata"
	"github.com/openlibhub/recordman/internal/observability"
)

// RenormalizeResult summarizes one renormalization run.
type RenormalizeResult struct {
	Processed int
	Failed    int
}

// Renormalize re-parses the raw metadata of a source's records with the
// current driver and saves the refreshed canonical attributes and comparison
// keys. With recordID set only that record is processed.
//
// A payload the driver cannot parse is a data-quality problem: the stored
// record gets a warning and the run continues. A driver-contract violation
// aborts the run.
func (c *Controller) Renormalize(ctx context.Context, sourceID, recordID string) (*RenormalizeResult, error) {
	cfg, err := c.sourceConfig(sourceID)
	if err != nil {
		return nil, err
	}
	params := metadata.DriverParams(cfg.DriverParams)
	logger := observability.WithOperationContext(
		observability.WithSourceContext(c.logger, sourceID, cfg.Format), "renormalize")

	records, err := c.selectRecords(ctx, sourceID, recordID)
	if err != nil {
		return nil, err
	}

	result := &RenormalizeResult{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rec.Deleted {
			continue
		}

		fresh, err := c.renormalizeOne(ctx, rec, params)
		if err != nil {
			// Contract violations and missing drivers are configuration
			// defects, not data problems; they abort the run.
			if errors.Is(err, domain.ErrDriverContract) || errors.Is(err, domain.ErrUnknownFormat) {
				return result, err
			}
			result.Failed++
			logger.Warn().Err(err).Str("record_id", rec.RecordID).Msg("renormalization failed")
			continue
		}
		result.Processed++
		c.publish(ctx, events.NewRecordChanged(fresh.SourceID, fresh.RecordID))
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Msg("renormalization finished")
	return result, nil
}

// renormalizeOne re-parses one record in place. Parse failures are recorded as
// a warning on the stored record before the error is returned.
func (c *Controller) renormalizeOne(ctx context.Context, rec *domain.Record, params metadata.DriverParams) (*domain.Record, error) {
	driver, err := c.driverFor(rec, params)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownFormat) || errors.Is(err, domain.ErrDriverContract) {
			return nil, err
		}
		c.markNormalizationFailure(ctx, rec, err)
		return nil, fmt.Errorf("parsing record %s: %w", rec.Key(), err)
	}

	fresh, err := metadata.Canonicalize(rec.SourceID, rec.Format, rec.RawMetadata, driver)
	if err != nil {
		return nil, err
	}

	// Identity established at harvest time wins over what the driver found in
	// the payload; dedup state survives until the next deduplicate pass.
	fresh.RecordID = rec.RecordID
	fresh.DedupGroupID = rec.DedupGroupID
	fresh.CreatedAt = rec.CreatedAt

	keys := dedup.ExtractKeys(fresh.Attributes)
	if fresh.IsComponentPart {
		keys = dedup.Keys{}
	}
	if err := c.store.Save(ctx, fresh, keys); err != nil {
		return nil, fmt.Errorf("saving record %s: %w", fresh.Key(), err)
	}

	if c.metrics != nil {
		c.metrics.RecordNormalized(fresh.SourceID, string(fresh.Format))
		c.metrics.RecordWarningsAdded(fresh.SourceID, len(fresh.Warnings))
	}
	return fresh, nil
}

// markNormalizationFailure attaches a parse-failure warning to the stored
// record so the problem is visible to operators.
func (c *Controller) markNormalizationFailure(ctx context.Context, rec *domain.Record, cause error) {
	before := len(rec.Warnings)
	rec.AddWarning(fmt.Sprintf("normalization failed: %v", cause))
	c.recordWarnings(rec.SourceID, before, len(rec.Warnings))
	if c.metrics != nil {
		c.metrics.RecordNormalizationFailed(rec.SourceID, string(rec.Format))
	}

	keys := dedup.ExtractKeys(rec.Attributes)
	if rec.IsComponentPart {
		keys = dedup.Keys{}
	}
	if err := c.store.Save(ctx, rec, keys); err != nil {
		c.logger.Error().Err(err).Str("record", rec.Key().String()).Msg("saving warning failed")
	}
}

// selectRecords loads the working set for an operation: one record when
// recordID is set, otherwise all records of the source.
func (c *Controller) selectRecords(ctx context.Context, sourceID, recordID string) ([]*domain.Record, error) {
	if recordID != "" {
		rec, err := c.store.LoadByID(ctx, sourceID, recordID)
		if err != nil {
			return nil, err
		}
		return []*domain.Record{rec}, nil
	}
	return c.store.ListBySource(ctx, sourceID)
}
