package controller

import (
	"context"
	"fmt"

	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/events"
	"github.com/openlibhub/recordman/internal/metadata"
)

// Dump exports one record as XML, with its component parts folded in.
func (c *Controller) Dump(ctx context.Context, sourceID, recordID string) ([]byte, error) {
	cfg, err := c.sourceConfig(sourceID)
	if err != nil {
		return nil, err
	}
	rec, err := c.store.LoadByID(ctx, sourceID, recordID)
	if err != nil {
		return nil, err
	}

	driver, err := c.driverFor(rec, metadata.DriverParams(cfg.DriverParams))
	if err != nil {
		return nil, fmt.Errorf("parsing record %s: %w", rec.Key(), err)
	}
	if !rec.IsComponentPart {
		parts, err := c.store.FindComponentParts(ctx, sourceID, rec.EffectiveLinkingID())
		if err != nil {
			return nil, fmt.Errorf("loading component parts of %s: %w", rec.Key(), err)
		}
		metadata.MergeComponentParts(driver, parts)
	}
	return driver.ToExportXML()
}

// MarkDeleted flags a record as deleted, detaches it from its dedup group and
// removes its comparison keys. The record stays in the store so the next index
// update can remove its document.
func (c *Controller) MarkDeleted(ctx context.Context, sourceID, recordID string) error {
	rec, err := c.store.LoadByID(ctx, sourceID, recordID)
	if err != nil {
		return err
	}
	if err := c.engine.RemoveFromGroup(ctx, rec); err != nil {
		return fmt.Errorf("detaching %s from its group: %w", rec.Key(), err)
	}
	if err := c.store.MarkDeleted(ctx, rec.Key()); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordDeleted(sourceID)
	}
	c.publish(ctx, events.NewRecordDeleted(sourceID, recordID))
	return nil
}

// DeleteSource removes all records of a source. When deduplication is enabled
// for the source the operation is refused unless forced, because deletion
// silently shrinks groups shared with other sources.
func (c *Controller) DeleteSource(ctx context.Context, sourceID string, force bool) (int64, error) {
	cfg, err := c.sourceConfig(sourceID)
	if err != nil {
		return 0, err
	}
	if cfg.Dedup && !force {
		return 0, fmt.Errorf("refusing to delete source %q: %w (use force to override)", sourceID, domain.ErrDedupEnabled)
	}

	deleted, err := c.store.DeleteSource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	c.logger.Info().
		Str("source_id", sourceID).
		Int64("deleted", deleted).
		Msg("source deleted")
	c.publish(ctx, events.NewSourceDeleted(sourceID))
	return deleted, nil
}

// MarkForUpdate resets records of a source to the new state so the next
// renormalize and deduplicate passes re-evaluate them. With recordID set only
// that record is marked. Returns the number of records marked.
func (c *Controller) MarkForUpdate(ctx context.Context, sourceID, recordID string) (int64, error) {
	if _, err := c.sourceConfig(sourceID); err != nil {
		return 0, err
	}
	marked, err := c.store.MarkForUpdate(ctx, sourceID, recordID)
	if err != nil {
		return 0, err
	}
	if marked == 0 && recordID != "" {
		return 0, domain.NewNotFoundError("record", sourceID+"."+recordID)
	}
	return marked, nil
}

// CheckDedupResult summarizes one consistency check over all groups.
type CheckDedupResult struct {
	Groups     int
	Dissolved  int
	Reassigned int
}

// CheckDedup scans all deduplication groups and repairs inconsistencies:
// groups below two members are dissolved and groups whose id is no longer the
// canonical id of their members are reassigned.
func (c *Controller) CheckDedup(ctx context.Context) (*CheckDedupResult, error) {
	groups, err := c.store.Groups(ctx)
	if err != nil {
		return nil, err
	}

	result := &CheckDedupResult{Groups: len(groups)}
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if len(g.Members) < 2 {
			if err := c.store.DissolveGroup(ctx, g.ID); err != nil {
				return result, fmt.Errorf("dissolving group %s: %w", g.ID, err)
			}
			result.Dissolved++
			if c.metrics != nil {
				c.metrics.RecordGroupDissolved()
			}
			c.publish(ctx, events.NewGroupDissolved(g.ID))
			continue
		}

		if canonical := domain.CanonicalGroupID(g.Members); canonical != g.ID {
			if err := c.store.DissolveGroup(ctx, g.ID); err != nil {
				return result, fmt.Errorf("dissolving group %s: %w", g.ID, err)
			}
			if err := c.store.AssignGroup(ctx, canonical, g.Members); err != nil {
				return result, fmt.Errorf("assigning group %s: %w", canonical, err)
			}
			result.Reassigned++
		}
	}

	c.logger.Info().
		Int("groups", result.Groups).
		Int("dissolved", result.Dissolved).
		Int("reassigned", result.Reassigned).
		Msg("dedup check finished")
	return result, nil
}
