package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	Path      string `json:"path" yaml:"path"`
}

// Collector manages all metrics for a service
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	// Common metrics
	ErrorsTotal *prometheus.CounterVec

	// System metrics
	StartTime prometheus.Gauge

	// Pipeline metrics
	EventsReceived    *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	DuplicateEvents   *prometheus.CounterVec
	EventsProcessed   *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	EventsInFlight    prometheus.Gauge
	AssessmentsTotal  *prometheus.CounterVec
	RiskLevelObserved *prometheus.HistogramVec
	QualityScore      prometheus.Histogram
	SinkRetries       *prometheus.CounterVec

	// Database metrics
	DatabaseQueries  *prometheus.CounterVec
	DatabaseDuration *prometheus.HistogramVec

	// Cache metrics
	CacheOperations *prometheus.CounterVec
	CacheHitRatio   *prometheus.GaugeVec

	// Message queue metrics
	MessagesSent      *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessageProcessing *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		namespace: namespace,
		registry:  registry,
	}

	c.initializeMetrics()
	c.registerMetrics()

	return c
}

// initializeMetrics initializes all metrics
func (c *Collector) initializeMetrics() {
	c.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"error_type", "component"},
	)

	c.StartTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "start_time_seconds",
			Help:      "Service start time in Unix seconds",
		},
	)

	// Pipeline metrics
	c.EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "pipeline_events_received_total",
			Help:      "Total number of raw events received by the pipeline",
		},
		[]string{"event_type", "source"},
	)

	c.EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "pipeline_events_dropped_total",
			Help:      "Total number of events dropped, by stage and reason",
		},
		[]string{"stage", "reason"},
	)

	c.DuplicateEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "pipeline_duplicate_events_total",
			Help:      "Total number of duplicate events suppressed, by match level",
		},
		[]string{"match_reason"},
	)

	c.EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "pipeline_events_processed_total",
			Help:      "Total number of events that completed the pipeline",
		},
		[]string{"event_type", "status"},
	)

	c.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	c.EventsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "pipeline_events_in_flight",
			Help:      "Number of events currently being processed",
		},
	)

	c.AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "risk_assessments_total",
			Help:      "Total number of risk assessments emitted",
		},
		[]string{"region", "sector", "category"},
	)

	c.RiskLevelObserved = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "risk_level",
			Help:      "Distribution of emitted risk levels",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"event_type"},
	)

	c.QualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "event_quality_score",
			Help:      "Distribution of event validation quality scores",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	c.SinkRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "sink_retries_total",
			Help:      "Total number of sink write retries",
		},
		[]string{"sink"},
	)

	// Database metrics
	c.DatabaseQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "database_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"operation", "table", "status"},
	)

	c.DatabaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "database_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		},
		[]string{"operation", "table"},
	)

	// Cache metrics
	c.CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "result"},
	)

	c.CacheHitRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "cache_hit_ratio",
			Help:      "Cache hit ratio",
		},
		[]string{"cache"},
	)

	// Message queue metrics
	c.MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent",
		},
		[]string{"topic", "status"},
	)

	c.MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		},
		[]string{"topic", "status"},
	)

	c.MessageProcessing = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "message_processing_duration_seconds",
			Help:      "Message processing duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"topic", "consumer_group"},
	)
}

// registerMetrics registers all metrics with the registry
func (c *Collector) registerMetrics() {
	c.registry.MustRegister(
		c.ErrorsTotal,
		c.StartTime,
		c.EventsReceived,
		c.EventsDropped,
		c.DuplicateEvents,
		c.EventsProcessed,
		c.StageDuration,
		c.EventsInFlight,
		c.AssessmentsTotal,
		c.RiskLevelObserved,
		c.QualityScore,
		c.SinkRetries,
		c.DatabaseQueries,
		c.DatabaseDuration,
		c.CacheOperations,
		c.CacheHitRatio,
		c.MessagesSent,
		c.MessagesReceived,
		c.MessageProcessing,
	)

	c.StartTime.SetToCurrentTime()
}

// RecordError records error metrics
func (c *Collector) RecordError(errorType, component string) {
	c.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordEventReceived records an ingested raw event
func (c *Collector) RecordEventReceived(eventType, source string) {
	c.EventsReceived.WithLabelValues(eventType, source).Inc()
}

// RecordEventDropped records a pipeline drop with its stage and reason
func (c *Collector) RecordEventDropped(stage, reason string) {
	c.EventsDropped.WithLabelValues(stage, reason).Inc()
}

// RecordDuplicate records a suppressed duplicate by match level
func (c *Collector) RecordDuplicate(matchReason string) {
	c.DuplicateEvents.WithLabelValues(matchReason).Inc()
}

// RecordEventProcessed records a completed pipeline run
func (c *Collector) RecordEventProcessed(eventType, status string) {
	c.EventsProcessed.WithLabelValues(eventType, status).Inc()
}

// RecordStageDuration records the duration of one pipeline stage
func (c *Collector) RecordStageDuration(stage string, duration time.Duration) {
	c.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordEventInFlight adjusts the in-flight event gauge
func (c *Collector) RecordEventInFlight(delta float64) {
	c.EventsInFlight.Add(delta)
}

// RecordAssessment records an emitted risk assessment
func (c *Collector) RecordAssessment(region, sector, category string, riskLevel float64, eventType string) {
	c.AssessmentsTotal.WithLabelValues(region, sector, category).Inc()
	c.RiskLevelObserved.WithLabelValues(eventType).Observe(riskLevel)
}

// RecordQualityScore records a validation quality score
func (c *Collector) RecordQualityScore(score float64) {
	c.QualityScore.Observe(score)
}

// RecordSinkRetry records a retried sink write
func (c *Collector) RecordSinkRetry(sink string) {
	c.SinkRetries.WithLabelValues(sink).Inc()
}

// RecordDatabaseQuery records database query metrics
func (c *Collector) RecordDatabaseQuery(operation, table, status string, duration time.Duration) {
	c.DatabaseQueries.WithLabelValues(operation, table, status).Inc()
	c.DatabaseDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCacheOperation records cache operation metrics
func (c *Collector) RecordCacheOperation(operation, result string) {
	c.CacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordCacheHitRatio records cache hit ratio metrics
func (c *Collector) RecordCacheHitRatio(cacheName string, ratio float64) {
	c.CacheHitRatio.WithLabelValues(cacheName).Set(ratio)
}

// RecordMessageSent records message sent metrics
func (c *Collector) RecordMessageSent(topic, status string) {
	c.MessagesSent.WithLabelValues(topic, status).Inc()
}

// RecordMessageReceived records message received metrics
func (c *Collector) RecordMessageReceived(topic, status string) {
	c.MessagesReceived.WithLabelValues(topic, status).Inc()
}

// RecordMessageProcessing records message processing metrics
func (c *Collector) RecordMessageProcessing(topic, consumerGroup string, duration time.Duration) {
	c.MessageProcessing.WithLabelValues(topic, consumerGroup).Observe(duration.Seconds())
}

// GetRegistry returns the metrics registry
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// CreateHandler creates an HTTP handler for metrics
func (c *Collector) CreateHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Server represents a metrics server
type Server struct {
	config    Config
	collector *Collector
	server    *http.Server
}

// NewServer creates a new metrics server
func NewServer(config Config, collector *Collector) *Server {
	if !config.Enabled {
		return &Server{config: config}
	}

	mux := http.NewServeMux()
	mux.Handle(config.Path, collector.CreateHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return &Server{
		config:    config,
		collector: collector,
		server:    server,
	}
}

// Start starts the metrics server
func (s *Server) Start() error {
	if !s.config.Enabled || s.server == nil {
		return nil
	}

	return s.server.ListenAndServe()
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}

// Timer helps measure operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed duration
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration observes duration on a histogram
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}
