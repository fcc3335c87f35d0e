// Package controller orchestrates the batch operations of the record
// manager: it decides which records flow through normalization, the
// deduplication engine and the search-field projector, and talks to the
// document store, the search index and the change-event publisher.
package controller

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openlibhub/recordman/internal/config"
	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/domain"
	"github.com/openlibhub/recordman/internal/events"
	"github.com/openlibhub/recordman/internal/index"
	"github.com/openlibhub/recordman/internal/metadata"
	"github.com/openlibhub/recordman/internal/observability"
	"github.com/openlibhub/recordman/internal/store"
)

// Indexer is the search-index surface the controller writes to.
// *index.SolrClient satisfies it.
type Indexer interface {
	Update(ctx context.Context, docs []index.Document) error
	Delete(ctx context.Context, ids []string) error
	Commit(ctx context.Context) error
}

// Params bundles the controller's dependencies.
type Params struct {
	Store     store.RecordStore
	Registry  *metadata.Registry
	Engine    *dedup.Engine
	Indexer   Indexer
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
	Sources   map[string]config.SourceConfig
}

// Controller runs the operations invoked from the command line. Operations
// process records per source, sequentially; concurrent invocations are
// excluded by the caller's run lock.
type Controller struct {
	store     store.RecordStore
	registry  *metadata.Registry
	engine    *dedup.Engine
	indexer   Indexer
	publisher events.Publisher
	metrics   *observability.Metrics
	logger    zerolog.Logger
	sources   map[string]config.SourceConfig
}

// New creates a controller. Publisher may be nil, in which case events are
// discarded.
func New(p Params) *Controller {
	if p.Publisher == nil {
		p.Publisher = events.NopPublisher{}
	}
	return &Controller{
		store:     p.Store,
		registry:  p.Registry,
		engine:    p.Engine,
		indexer:   p.Indexer,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		logger:    p.Logger.With().Str("component", "controller").Logger(),
		sources:   p.Sources,
	}
}

// sourceConfig resolves the configuration of one source.
func (c *Controller) sourceConfig(sourceID string) (config.SourceConfig, error) {
	cfg, ok := c.sources[sourceID]
	if !ok {
		return config.SourceConfig{}, fmt.Errorf("source %q is not configured: %w", sourceID, domain.ErrInvalidInput)
	}
	return cfg, nil
}

// sourceInfo builds the projection settings for one source.
func (c *Controller) sourceInfo(sourceID string, cfg config.SourceConfig) index.SourceInfo {
	return index.SourceInfo{
		SourceID:    sourceID,
		IDPrefix:    cfg.IDPrefix,
		Institution: cfg.Institution,
	}
}

// driverFor parses one record's raw metadata with the driver registered for
// its format.
func (c *Controller) driverFor(rec *domain.Record, params metadata.DriverParams) (metadata.Driver, error) {
	return c.registry.Driver(rec.Format, rec.SourceID, rec.RecordID, rec.RawMetadata, params)
}

// publish sends change events, logging instead of failing the operation when
// the event feed is unavailable.
func (c *Controller) publish(ctx context.Context, evts ...events.Event) {
	if err := c.publisher.Publish(ctx, evts...); err != nil {
		c.logger.Error().Err(err).Msg("publishing change events failed")
	}
}

// recordWarnings forwards newly attached warnings to metrics.
func (c *Controller) recordWarnings(sourceID string, before, after int) {
	if c.metrics != nil && after > before {
		c.metrics.RecordWarningsAdded(sourceID, after-before)
	}
}
