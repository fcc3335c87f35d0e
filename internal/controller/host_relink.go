package controller

import (
	"context"
	"fmt"

	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/events"
	"github.com/openlibhub/recordman/internal/metadata"
	"github.com/openlibhub/recordman/internal/observability"
)

// HostRelinkResult summarizes one host-relink run.
type HostRelinkResult struct {
	// HostLinks is the number of host links the driver extracted.
	HostLinks int

	// Resolved is how many of those links point at a live record of the
	// same source.
	Resolved int
}

// HostRelink re-resolves one record's host links from its raw metadata and
// saves them, e.g. after a host record's identifier was corrected. Unlike a
// full renormalize it touches only the link fields, so canonical attributes
// and dedup state stay as they are. A component part whose refreshed links
// still resolve to nothing gets a warning.
func (c *Controller) HostRelink(ctx context.Context, sourceID, recordID string) (*HostRelinkResult, error) {
	cfg, err := c.sourceConfig(sourceID)
	if err != nil {
		return nil, err
	}
	rec, err := c.store.LoadByID(ctx, sourceID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, fmt.Errorf("record %s is deleted: %w", rec.Key(), domain.ErrInvalidInput)
	}

	driver, err := c.driverFor(rec, metadata.DriverParams(cfg.DriverParams))
	if err != nil {
		return nil, fmt.Errorf("parsing record %s: %w", rec.Key(), err)
	}
	rec.LinkingID = driver.LinkingID()
	rec.IsComponentPart = driver.IsComponentPart()
	rec.HostRecordIDs = driver.HostRecordIDs()

	result := &HostRelinkResult{HostLinks: len(rec.HostRecordIDs)}
	if rec.IsComponentPart && len(rec.HostRecordIDs) > 0 {
		result.Resolved, err = c.resolveHostLinks(ctx, rec)
		if err != nil {
			return nil, err
		}
		if result.Resolved == 0 {
			before := len(rec.Warnings)
			rec.AddWarning("component part has no resolvable host record")
			c.recordWarnings(sourceID, before, len(rec.Warnings))
		}
	}

	keys := dedup.ExtractKeys(rec.Attributes)
	if rec.IsComponentPart {
		keys = dedup.Keys{}
	}
	if err := c.store.Save(ctx, rec, keys); err != nil {
		return nil, fmt.Errorf("saving record %s: %w", rec.Key(), err)
	}
	c.publish(ctx, events.NewRecordChanged(sourceID, recordID))

	logger := observability.WithRecordContext(c.logger, sourceID, recordID)
	logger.Info().
		Int("host_links", result.HostLinks).
		Int("resolved", result.Resolved).
		Msg("host links refreshed")
	return result, nil
}

// resolveHostLinks counts how many of the record's host links match the
// linking id of a live record in the same source.
func (c *Controller) resolveHostLinks(ctx context.Context, rec *domain.Record) (int, error) {
	siblings, err := c.store.ListBySource(ctx, rec.SourceID)
	if err != nil {
		return 0, err
	}
	byLinkingID := make(map[string]struct{}, len(siblings))
	for _, other := range siblings {
		if !other.Deleted && other.Key() != rec.Key() {
			byLinkingID[other.EffectiveLinkingID()] = struct{}{}
		}
	}

	resolved := 0
	for _, hostID := range rec.HostRecordIDs {
		if _, ok := byLinkingID[hostID]; ok {
			resolved++
		}
	}
	return resolved, nil
}
