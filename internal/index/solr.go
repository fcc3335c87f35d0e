package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openlibhub/recordman/internal/observability"
)

// Solr update operations, used as metric labels.
const (
	opUpdate = "update"
	opDelete = "delete"
	opCommit = "commit"
)

// SolrClientConfig configures the Solr update client.
type SolrClientConfig struct {
	// URL is the Solr core base URL, e.g. http://localhost:8983/solr/biblio.
	URL string

	// Timeout is the request timeout for update operations.
	Timeout time.Duration

	// RateLimit is the maximum update requests per second.
	RateLimit float64

	// BatchSize is the number of documents sent per update request.
	BatchSize int

	// CommitWithin asks Solr to commit within this window. Zero means the
	// caller decides when to commit explicitly.
	CommitWithin time.Duration
}

// SolrClient submits documents to a Solr core over its JSON update API.
// Requests are rate limited and documents are sent in batches. It is safe
// for concurrent use.
type SolrClient struct {
	config  SolrClientConfig
	client  *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewSolrClient creates a Solr update client. metrics may be nil.
func NewSolrClient(cfg SolrClientConfig, metrics *observability.Metrics, logger zerolog.Logger) *SolrClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}

	return &SolrClient{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		metrics: metrics,
		logger:  logger.With().Str("component", "solr_client").Logger(),
	}
}

// Update sends documents to the index in batches of the configured size.
func (c *SolrClient) Update(ctx context.Context, docs []Document) error {
	for start := 0; start < len(docs); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		body, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("marshal update batch: %w", err)
		}
		if err := c.post(ctx, opUpdate, c.updateURL("/update/json/docs"), body); err != nil {
			return fmt.Errorf("update batch of %d documents: %w", len(batch), err)
		}

		c.logger.Debug().
			Int("documents", len(batch)).
			Msg("submitted index batch")
	}
	return nil
}

// Delete removes the documents with the given ids from the index.
func (c *SolrClient) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{"delete": ids})
	if err != nil {
		return fmt.Errorf("marshal delete request: %w", err)
	}
	if err := c.post(ctx, opDelete, c.updateURL("/update"), body); err != nil {
		return fmt.Errorf("delete %d documents: %w", len(ids), err)
	}
	return nil
}

// Commit issues an explicit commit, making pending updates visible.
func (c *SolrClient) Commit(ctx context.Context) error {
	body := []byte(`{"commit":{}}`)
	if err := c.post(ctx, opCommit, c.config.URL+"/update", body); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// updateURL builds an update endpoint URL, adding commitWithin when
// configured.
func (c *SolrClient) updateURL(path string) string {
	url := c.config.URL + path
	if c.config.CommitWithin > 0 {
		url = fmt.Sprintf("%s?commitWithin=%d", url, c.config.CommitWithin.Milliseconds())
	}
	return url
}

// post performs one rate-limited JSON POST and verifies the response status.
func (c *SolrClient) post(ctx context.Context, operation, url string, body []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		c.recordFailure(operation)
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if c.metrics != nil {
		c.metrics.RecordSolrRequest(operation, duration)
	}

	if resp.StatusCode != http.StatusOK {
		c.recordFailure(operation)
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("solr returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func (c *SolrClient) recordFailure(operation string) {
	if c.metrics != nil {
		c.metrics.RecordSolrRequestFailed(operation)
	}
}
