package controller

import (
	"context"
	"fmt"
	"sort"

	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/index"
	"github.com/openlibhub/recordman/internal/metadata"
	"github.com/openlibhub/recordman/internal/observability"
)

// IndexUpdateOptions selects which records an index update covers.
type IndexUpdateOptions struct {
	// SourceID limits the update to one source. Empty updates every source
	// with indexing enabled.
	SourceID string

	// RecordID limits the update to one record; requires SourceID.
	RecordID string

	// NoCommit suppresses the explicit commit at the end of the run, leaving
	// visibility to Solr's autocommit or a configured commitWithin window.
	NoCommit bool
}

// IndexUpdateResult summarizes one index update run.
type IndexUpdateResult struct {
	Indexed int
	Deleted int
	Failed  int
}

// IndexUpdate projects records into search documents and submits them to the
// index. Deleted records are removed from the index. Component parts are
// folded into their host's document and also indexed as their own documents;
// a part whose host links resolve to nothing gets a warning and is indexed
// standalone.
func (c *Controller) IndexUpdate(ctx context.Context, opts IndexUpdateOptions) (*IndexUpdateResult, error) {
	sourceIDs, err := c.indexSources(opts.SourceID)
	if err != nil {
		return nil, err
	}

	result := &IndexUpdateResult{}
	for _, sourceID := range sourceIDs {
		if err := c.indexSource(ctx, sourceID, opts.RecordID, result); err != nil {
			return result, err
		}
	}

	if !opts.NoCommit {
		if err := c.indexer.Commit(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// indexSources resolves the set of sources an index update covers, sorted for
// deterministic processing order.
func (c *Controller) indexSources(sourceID string) ([]string, error) {
	if sourceID != "" {
		cfg, err := c.sourceConfig(sourceID)
		if err != nil {
			return nil, err
		}
		if !cfg.Index {
			return nil, fmt.Errorf("indexing is not enabled for source %q: %w", sourceID, domain.ErrInvalidInput)
		}
		return []string{sourceID}, nil
	}

	var ids []string
	for id, cfg := range c.sources {
		if cfg.Index {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// indexSource projects and submits one source's records.
func (c *Controller) indexSource(ctx context.Context, sourceID, recordID string, result *IndexUpdateResult) error {
	cfg, err := c.sourceConfig(sourceID)
	if err != nil {
		return err
	}
	params := metadata.DriverParams(cfg.DriverParams)
	src := c.sourceInfo(sourceID, cfg)
	logger := observability.WithOperationContext(
		observability.WithSourceContext(c.logger, sourceID, cfg.Format), "index-update")

	records, err := c.selectRecords(ctx, sourceID, recordID)
	if err != nil {
		return err
	}

	// Host/part links resolve within the source via linking ids.
	byLinkingID := make(map[string]*domain.Record, len(records))
	for _, rec := range records {
		if !rec.Deleted {
			byLinkingID[rec.EffectiveLinkingID()] = rec
		}
	}

	var docs []index.Document
	var deletions []string
	var indexed []*domain.Record
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Deleted {
			deletions = append(deletions, src.DocumentID(rec.RecordID))
			continue
		}

		doc, err := c.projectRecord(ctx, src, rec, params, byLinkingID)
		if err != nil {
			result.Failed++
			if c.metrics != nil {
				c.metrics.RecordDocumentsIndexFailed(sourceID, 1)
			}
			logger.Warn().Err(err).Str("record_id", rec.RecordID).Msg("projection failed")
			continue
		}
		docs = append(docs, doc)
		indexed = append(indexed, rec)
	}

	if len(docs) > 0 {
		if err := c.indexer.Update(ctx, docs); err != nil {
			return fmt.Errorf("updating index for source %s: %w", sourceID, err)
		}
		for _, rec := range indexed {
			rec.State = domain.StateIndexed
			keys := dedup.ExtractKeys(rec.Attributes)
			if rec.IsComponentPart {
				keys = dedup.Keys{}
			}
			if err := c.store.Save(ctx, rec, keys); err != nil {
				return fmt.Errorf("saving indexed state of %s: %w", rec.Key(), err)
			}
		}
		result.Indexed += len(docs)
		if c.metrics != nil {
			c.metrics.RecordDocumentsIndexed(sourceID, len(docs))
			c.metrics.RecordIndexBatch()
		}
	}
	if len(deletions) > 0 {
		if err := c.indexer.Delete(ctx, deletions); err != nil {
			return fmt.Errorf("deleting from index for source %s: %w", sourceID, err)
		}
		result.Deleted += len(deletions)
	}

	logger.Info().
		Int("indexed", len(docs)).
		Int("deleted", len(deletions)).
		Msg("index update finished")
	return nil
}

// projectRecord parses one record, folds in its component parts and projects
// the search document.
func (c *Controller) projectRecord(ctx context.Context, src index.SourceInfo, rec *domain.Record, params metadata.DriverParams, byLinkingID map[string]*domain.Record) (index.Document, error) {
	driver, err := c.driverFor(rec, params)
	if err != nil {
		return nil, err
	}

	if rec.IsComponentPart {
		c.checkHostLinks(ctx, rec, byLinkingID)
	} else {
		parts, err := c.store.FindComponentParts(ctx, rec.SourceID, rec.EffectiveLinkingID())
		if err != nil {
			return nil, fmt.Errorf("loading component parts of %s: %w", rec.Key(), err)
		}
		metadata.MergeComponentParts(driver, parts)
	}

	return index.Project(src, rec, driver.SearchFields()), nil
}

// checkHostLinks warns about component parts whose host links all dangle. The
// part still gets its own standalone document.
func (c *Controller) checkHostLinks(ctx context.Context, rec *domain.Record, byLinkingID map[string]*domain.Record) {
	resolved := false
	for _, hostID := range rec.HostRecordIDs {
		if _, ok := byLinkingID[hostID]; ok {
			resolved = true
			break
		}
	}
	if resolved || len(rec.HostRecordIDs) == 0 {
		return
	}

	before := len(rec.Warnings)
	rec.AddWarning("component part has no resolvable host record")
	c.recordWarnings(rec.SourceID, before, len(rec.Warnings))
	if err := c.store.Save(ctx, rec, dedup.Keys{}); err != nil {
		c.logger.Error().Err(err).Str("record", rec.Key().String()).Msg("saving warning failed")
	}
}
