package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the record manager.
// Metrics are organized by subsystem: normalization, deduplication,
// indexing, and Solr transport. All counters and histograms are registered
// via promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// RecordsNormalized counts records canonicalized successfully, labeled by source and format.
	RecordsNormalized *prometheus.CounterVec

	// NormalizationFailures counts records whose metadata could not be parsed, labeled by source and format.
	NormalizationFailures *prometheus.CounterVec

	// RecordWarnings counts warnings attached to records during processing, labeled by source.
	RecordWarnings *prometheus.CounterVec

	// RecordsDeleted counts records marked deleted, labeled by source.
	RecordsDeleted *prometheus.CounterVec

	// DedupProcessed counts records run through the deduplication engine, labeled by source.
	DedupProcessed *prometheus.CounterVec

	// DedupMatches counts accepted duplicate matches, labeled by match kind ("identifier", "fuzzy").
	DedupMatches *prometheus.CounterVec

	// DedupConflicts counts identifier matches rejected on conflicting evidence.
	DedupConflicts prometheus.Counter

	// DedupGroupsAssigned counts group assignments written by the engine.
	DedupGroupsAssigned prometheus.Counter

	// DedupGroupsDissolved counts groups dissolved after falling below two members.
	DedupGroupsDissolved prometheus.Counter

	// DedupGroupSize observes the member count of groups at assignment time.
	DedupGroupSize prometheus.Histogram

	// DocumentsIndexed counts documents sent to the search index, labeled by source.
	DocumentsIndexed *prometheus.CounterVec

	// DocumentsIndexFailed counts documents that failed projection or submission, labeled by source.
	DocumentsIndexFailed *prometheus.CounterVec

	// IndexBatches counts index update batches submitted.
	IndexBatches prometheus.Counter

	// SolrRequestsTotal counts HTTP requests to Solr, labeled by operation ("update", "delete", "commit").
	SolrRequestsTotal *prometheus.CounterVec

	// SolrRequestsFailed counts failed HTTP requests to Solr, labeled by operation.
	SolrRequestsFailed *prometheus.CounterVec

	// SolrRequestDuration observes Solr request duration in seconds, labeled by operation.
	SolrRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Normalization
		RecordsNormalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_normalized_total",
			Help:      "Total number of records normalized by source and format",
		}, []string{"source", "format"}),
		NormalizationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalization_failures_total",
			Help:      "Total number of records that failed normalization by source and format",
		}, []string{"source", "format"}),
		RecordWarnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_warnings_total",
			Help:      "Total number of warnings attached to records by source",
		}, []string{"source"}),
		RecordsDeleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_deleted_total",
			Help:      "Total number of records marked deleted by source",
		}, []string{"source"}),

		// Deduplication
		DedupProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_processed_total",
			Help:      "Total number of records run through deduplication by source",
		}, []string{"source"}),
		DedupMatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_matches_total",
			Help:      "Total number of accepted duplicate matches by kind",
		}, []string{"kind"}),
		DedupConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_conflicts_total",
			Help:      "Total number of identifier matches rejected on conflicting evidence",
		}),
		DedupGroupsAssigned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_groups_assigned_total",
			Help:      "Total number of duplicate group assignments written",
		}),
		DedupGroupsDissolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_groups_dissolved_total",
			Help:      "Total number of duplicate groups dissolved",
		}),
		DedupGroupSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dedup_group_size",
			Help:      "Member count of duplicate groups at assignment time",
			Buckets:   []float64{2, 3, 4, 5, 10, 20, 50},
		}),

		// Indexing
		DocumentsIndexed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of documents sent to the search index by source",
		}, []string{"source"}),
		DocumentsIndexFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_index_failed_total",
			Help:      "Total number of documents that failed indexing by source",
		}, []string{"source"}),
		IndexBatches: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_batches_total",
			Help:      "Total number of index update batches submitted",
		}),

		// Solr transport
		SolrRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solr_requests_total",
			Help:      "Total number of requests to Solr by operation",
		}, []string{"operation"}),
		SolrRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solr_requests_failed_total",
			Help:      "Total number of failed requests to Solr by operation",
		}, []string{"operation"}),
		SolrRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solr_request_duration_seconds",
			Help:      "Duration of Solr requests in seconds by operation",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

// RecordNormalized records a successfully normalized record.
func (m *Metrics) RecordNormalized(source, format string) {
	m.RecordsNormalized.WithLabelValues(source, format).Inc()
}

// RecordNormalizationFailed records a record that failed normalization.
func (m *Metrics) RecordNormalizationFailed(source, format string) {
	m.NormalizationFailures.WithLabelValues(source, format).Inc()
}

// RecordWarningsAdded records warnings attached to a record.
func (m *Metrics) RecordWarningsAdded(source string, count int) {
	if count > 0 {
		m.RecordWarnings.WithLabelValues(source).Add(float64(count))
	}
}

// RecordDeleted records a record marked deleted.
func (m *Metrics) RecordDeleted(source string) {
	m.RecordsDeleted.WithLabelValues(source).Inc()
}

// RecordDedupProcessed records a record run through deduplication.
func (m *Metrics) RecordDedupProcessed(source string) {
	m.DedupProcessed.WithLabelValues(source).Inc()
}

// RecordDedupMatch records an accepted duplicate match.
func (m *Metrics) RecordDedupMatch(kind string) {
	m.DedupMatches.WithLabelValues(kind).Inc()
}

// RecordDedupConflicts records identifier matches rejected on conflicts.
func (m *Metrics) RecordDedupConflicts(count int) {
	if count > 0 {
		m.DedupConflicts.Add(float64(count))
	}
}

// RecordGroupAssigned records a group assignment and its size.
func (m *Metrics) RecordGroupAssigned(memberCount int) {
	m.DedupGroupsAssigned.Inc()
	m.DedupGroupSize.Observe(float64(memberCount))
}

// RecordGroupDissolved records a dissolved group.
func (m *Metrics) RecordGroupDissolved() {
	m.DedupGroupsDissolved.Inc()
}

// RecordDocumentsIndexed records documents sent to the index.
func (m *Metrics) RecordDocumentsIndexed(source string, count int) {
	m.DocumentsIndexed.WithLabelValues(source).Add(float64(count))
}

// RecordDocumentsIndexFailed records documents that failed indexing.
func (m *Metrics) RecordDocumentsIndexFailed(source string, count int) {
	m.DocumentsIndexFailed.WithLabelValues(source).Add(float64(count))
}

// RecordIndexBatch records a submitted index batch.
func (m *Metrics) RecordIndexBatch() {
	m.IndexBatches.Inc()
}

// RecordSolrRequest records a Solr request.
func (m *Metrics) RecordSolrRequest(operation string, durationSeconds float64) {
	m.SolrRequestsTotal.WithLabelValues(operation).Inc()
	m.SolrRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordSolrRequestFailed records a failed Solr request.
func (m *Metrics) RecordSolrRequestFailed(operation string) {
	m.SolrRequestsFailed.WithLabelValues(operation).Inc()
}
