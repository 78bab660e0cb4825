package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chainwatch/platform/shared/common"
)

// Config represents the configuration for the risk pipeline service
type Config struct {
	// Service configuration
	Service ServiceConfig `mapstructure:"service"`

	// Server configuration (health and metrics endpoints)
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Cache configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Message queue configuration
	MessageQueue MessageQueueConfig `mapstructure:"messagequeue"`

	// Pipeline configuration
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Validation configuration
	Validation ValidationConfig `mapstructure:"validation"`

	// Deduplication configuration
	Dedup DedupConfig `mapstructure:"dedup"`

	// Risk scoring configuration
	Scoring ScoringConfig `mapstructure:"scoring"`

	// Logging configuration
	Logging common.LoggingConfig `mapstructure:"logging"`

	// Metrics configuration
	Metrics common.MetricsConfig `mapstructure:"metrics"`
}

// ServiceConfig contains service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	InstanceID  string `mapstructure:"instance_id"`
}

// ServerConfig contains HTTP server configuration for the operational surface
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	PostgreSQL common.PostgreSQLConfig `mapstructure:"postgresql"`
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	Redis common.RedisConfig `mapstructure:"redis"`

	// AssessmentTTL bounds how long scored assessments stay readable from
	// the cache.
	AssessmentTTL time.Duration `mapstructure:"assessment_ttl"`

	// Serialization selects the cache value codec: "json" or "msgpack".
	Serialization string `mapstructure:"serialization"`

	// Compression enables LZ4 compression of cached values.
	Compression bool `mapstructure:"compression"`
}

// MessageQueueConfig contains message queue configuration
type MessageQueueConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig contains Kafka-specific configuration for the pipeline
type KafkaConfig struct {
	common.KafkaConfig `mapstructure:",squash"`

	ConsumerGroup  string        `mapstructure:"consumer_group"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	FetchMinBytes  int           `mapstructure:"fetch_min_bytes"`
	FetchMaxBytes  int           `mapstructure:"fetch_max_bytes"`
	FetchMaxWait   time.Duration `mapstructure:"fetch_max_wait"`

	InputTopic      string `mapstructure:"input_topic"`
	OutputTopic     string `mapstructure:"output_topic"`
	DeadLetterTopic string `mapstructure:"dead_letter_topic"`
}

// PipelineConfig contains orchestration configuration
type PipelineConfig struct {
	WorkerCount       int           `mapstructure:"worker_count"`
	QueueSize         int           `mapstructure:"queue_size"`
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`

	// Sink retry policy
	SinkMaxRetries  int           `mapstructure:"sink_max_retries"`
	SinkRetryBase   time.Duration `mapstructure:"sink_retry_base"`
	SinkRetryMax    time.Duration `mapstructure:"sink_retry_max"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`

	// Intake rate limiting
	IntakeRateLimit float64 `mapstructure:"intake_rate_limit"`
	IntakeBurst     int     `mapstructure:"intake_burst"`

	// MinIntakeSeverity drops obviously irrelevant events before validation
	// when set above zero.
	MinIntakeSeverity float64 `mapstructure:"min_intake_severity"`

	// SummaryRefreshInterval is the cadence of the background summary and
	// portfolio recomputation.
	SummaryRefreshInterval time.Duration `mapstructure:"summary_refresh_interval"`
}

// ValidationConfig contains validation configuration
type ValidationConfig struct {
	// MinQualityScore is the acceptance floor for the aggregate quality score
	MinQualityScore float64 `mapstructure:"min_quality_score"`

	MinTitleLength       int `mapstructure:"min_title_length"`
	MinDescriptionLength int `mapstructure:"min_description_length"`
}

// DedupConfig contains duplicate detection configuration
type DedupConfig struct {
	// Backend selects the signature store: "memory" or "redis"
	Backend string `mapstructure:"backend"`

	// Retention bounds how long signatures are held before cleanup
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// FuzzyTokenCount is the number of significant tokens in the fuzzy
	// signature.
	FuzzyTokenCount int `mapstructure:"fuzzy_token_count"`
}

// ScoringConfig contains the risk engine weight tables. Every table ships a
// compiled-in default; configuration overrides replace the whole table.
type ScoringConfig struct {
	// SignificanceThreshold is the floor below which assessments are dropped
	SignificanceThreshold float64 `mapstructure:"significance_threshold"`

	// MaxAssessments caps the assessments emitted per scoring pass
	MaxAssessments int `mapstructure:"max_assessments"`

	// EventTypeMultipliers scales base severity per event type
	EventTypeMultipliers map[string]float64 `mapstructure:"event_type_multipliers"`

	// RegionWeights captures the supply-chain criticality of known regions
	RegionWeights map[string]float64 `mapstructure:"region_weights"`

	// UnknownRegionWeight applies when a region has no configured weight
	UnknownRegionWeight float64 `mapstructure:"unknown_region_weight"`

	// SectorVulnerabilities captures each sector's baseline fragility
	SectorVulnerabilities map[string]float64 `mapstructure:"sector_vulnerabilities"`

	// DefaultSectorVulnerability applies to unlisted sectors
	DefaultSectorVulnerability float64 `mapstructure:"default_sector_vulnerability"`

	// SectorTypeAdjustments tunes sector sensitivity per event type, keyed
	// "sector:event_type".
	SectorTypeAdjustments map[string]float64 `mapstructure:"sector_type_adjustments"`

	// DefaultSectors substitutes for events with no impact sectors
	DefaultSectors []string `mapstructure:"default_sectors"`

	// RegionConnections lists supply-chain-adjacent regions per region
	RegionConnections map[string][]string `mapstructure:"region_connections"`

	// IndirectImpactFactor scales risk propagated to connected regions
	IndirectImpactFactor float64 `mapstructure:"indirect_impact_factor"`

	// IndirectImpactCap bounds propagated risk
	IndirectImpactCap float64 `mapstructure:"indirect_impact_cap"`

	// DirectImpactBoost amplifies assessments for the event's own region
	DirectImpactBoost float64 `mapstructure:"direct_impact_boost"`

	// Factor annotation thresholds
	RegionalFactorThreshold    float64 `mapstructure:"regional_factor_threshold"`
	SectoralFactorThreshold    float64 `mapstructure:"sectoral_factor_threshold"`
	InteractionFactorThreshold float64 `mapstructure:"interaction_factor_threshold"`

	// Recommendation tier thresholds
	UrgentRecommendationLevel   float64 `mapstructure:"urgent_recommendation_level"`
	ElevatedRecommendationLevel float64 `mapstructure:"elevated_recommendation_level"`
	MaxRecommendations          int     `mapstructure:"max_recommendations"`

	// Business exposure thresholds
	SupplierConcentrationMin  int     `mapstructure:"supplier_concentration_min"`
	SupplierConcentrationLow  int     `mapstructure:"supplier_concentration_low"`
	RegionalConcentrationStep float64 `mapstructure:"regional_concentration_step"`
	RegionalConcentrationCap  float64 `mapstructure:"regional_concentration_cap"`
	HighRiskRegionWeightFloor float64 `mapstructure:"high_risk_region_weight_floor"`

	// RecentEventWindow bounds the events considered for business scoring
	RecentEventWindow time.Duration `mapstructure:"recent_event_window"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("risk-pipeline")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/chainwatch")

	common.SetBaseDefaults(v)
	setDefaults(v)

	v.SetEnvPrefix("CHAINWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	common.BindBaseEnvironment(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus environment carry
		// the service.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults registers pipeline-specific defaults
func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "risk-pipeline")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("cache.assessment_ttl", 30*time.Minute)
	v.SetDefault("cache.serialization", "msgpack")
	v.SetDefault("cache.compression", true)

	v.SetDefault("messagequeue.kafka.consumer_group", "risk-pipeline-group")
	v.SetDefault("messagequeue.kafka.commit_interval", time.Second)
	v.SetDefault("messagequeue.kafka.fetch_min_bytes", 1)
	v.SetDefault("messagequeue.kafka.fetch_max_bytes", 10<<20)
	v.SetDefault("messagequeue.kafka.fetch_max_wait", 500*time.Millisecond)
	v.SetDefault("messagequeue.kafka.input_topic", "supply-chain-events")
	v.SetDefault("messagequeue.kafka.output_topic", "risk-assessments")
	v.SetDefault("messagequeue.kafka.dead_letter_topic", "supply-chain-events-dlq")

	v.SetDefault("pipeline.worker_count", 8)
	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.processing_timeout", 30*time.Second)
	v.SetDefault("pipeline.sink_max_retries", 3)
	v.SetDefault("pipeline.sink_retry_base", 100*time.Millisecond)
	v.SetDefault("pipeline.sink_retry_max", 5*time.Second)
	v.SetDefault("pipeline.breaker_failures", uint32(5))
	v.SetDefault("pipeline.breaker_timeout", 30*time.Second)
	v.SetDefault("pipeline.intake_rate_limit", 500.0)
	v.SetDefault("pipeline.intake_burst", 100)
	v.SetDefault("pipeline.min_intake_severity", 0.0)
	v.SetDefault("pipeline.summary_refresh_interval", 5*time.Minute)

	v.SetDefault("validation.min_quality_score", 0.3)
	v.SetDefault("validation.min_title_length", 10)
	v.SetDefault("validation.min_description_length", 20)

	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.retention", 24*time.Hour)
	v.SetDefault("dedup.cleanup_interval", 15*time.Minute)
	v.SetDefault("dedup.fuzzy_token_count", 10)

	v.SetDefault("scoring.significance_threshold", 0.3)
	v.SetDefault("scoring.max_assessments", 20)
	v.SetDefault("scoring.unknown_region_weight", 0.45)
	v.SetDefault("scoring.default_sector_vulnerability", 0.5)
	v.SetDefault("scoring.indirect_impact_factor", 0.6)
	v.SetDefault("scoring.indirect_impact_cap", 0.8)
	v.SetDefault("scoring.direct_impact_boost", 1.1)
	v.SetDefault("scoring.regional_factor_threshold", 0.6)
	v.SetDefault("scoring.sectoral_factor_threshold", 0.6)
	v.SetDefault("scoring.interaction_factor_threshold", 0.5)
	v.SetDefault("scoring.urgent_recommendation_level", 0.7)
	v.SetDefault("scoring.elevated_recommendation_level", 0.5)
	v.SetDefault("scoring.max_recommendations", 5)
	v.SetDefault("scoring.supplier_concentration_min", 3)
	v.SetDefault("scoring.supplier_concentration_low", 5)
	v.SetDefault("scoring.regional_concentration_step", 0.2)
	v.SetDefault("scoring.regional_concentration_cap", 0.8)
	v.SetDefault("scoring.high_risk_region_weight_floor", 0.7)
	v.SetDefault("scoring.recent_event_window", 7*24*time.Hour)
}

// DefaultEventTypeMultipliers returns the compiled-in event type table
func DefaultEventTypeMultipliers() map[string]float64 {
	return map[string]float64{
		"news":         1.0,
		"weather":      1.2,
		"economic":     1.1,
		"geopolitical": 1.3,
	}
}

// DefaultRegionWeights returns the compiled-in region criticality table
func DefaultRegionWeights() map[string]float64 {
	return map[string]float64{
		"China":          0.9,
		"Taiwan":         0.8,
		"South Korea":    0.7,
		"Japan":          0.7,
		"United States":  0.7,
		"Germany":        0.6,
		"Netherlands":    0.6,
		"Singapore":      0.7,
		"Vietnam":        0.6,
		"India":          0.6,
		"Mexico":         0.5,
		"United Kingdom": 0.5,
		"Global":         0.8,
	}
}

// DefaultSectorVulnerabilities returns the compiled-in sector fragility table
func DefaultSectorVulnerabilities() map[string]float64 {
	return map[string]float64{
		"electronics":     0.8,
		"semiconductors":  0.9,
		"automotive":      0.7,
		"energy":          0.8,
		"agriculture":     0.6,
		"pharmaceuticals": 0.7,
		"textiles":        0.5,
		"shipping":        0.8,
		"manufacturing":   0.7,
		"retail":          0.5,
	}
}

// DefaultSectorTypeAdjustments returns the compiled-in sector sensitivity
// table keyed "sector:event_type".
func DefaultSectorTypeAdjustments() map[string]float64 {
	return map[string]float64{
		"agriculture:weather":         1.3,
		"shipping:weather":            1.3,
		"energy:geopolitical":         1.3,
		"semiconductors:geopolitical": 1.3,
		"electronics:economic":        1.2,
		"automotive:economic":         1.2,
		"retail:economic":             1.2,
	}
}

// DefaultRegionConnections returns the compiled-in supply-chain adjacency map
func DefaultRegionConnections() map[string][]string {
	return map[string][]string{
		"China":         {"Taiwan", "Vietnam", "South Korea", "Japan"},
		"Taiwan":        {"China", "South Korea", "Japan"},
		"South Korea":   {"China", "Japan", "Taiwan"},
		"Japan":         {"China", "South Korea", "Taiwan"},
		"United States": {"Mexico", "China"},
		"Germany":       {"Netherlands", "United Kingdom"},
		"Netherlands":   {"Germany", "United Kingdom"},
		"Singapore":     {"Vietnam", "China"},
		"Global":        {"China", "United States", "Germany"},
	}
}

// ApplyScoringDefaults fills empty weight tables with the compiled-in
// defaults. Configured tables replace defaults wholesale, they are not merged.
func (c *Config) ApplyScoringDefaults() {
	if len(c.Scoring.EventTypeMultipliers) == 0 {
		c.Scoring.EventTypeMultipliers = DefaultEventTypeMultipliers()
	}
	if len(c.Scoring.RegionWeights) == 0 {
		c.Scoring.RegionWeights = DefaultRegionWeights()
	}
	if len(c.Scoring.SectorVulnerabilities) == 0 {
		c.Scoring.SectorVulnerabilities = DefaultSectorVulnerabilities()
	}
	if len(c.Scoring.SectorTypeAdjustments) == 0 {
		c.Scoring.SectorTypeAdjustments = DefaultSectorTypeAdjustments()
	}
	if len(c.Scoring.RegionConnections) == 0 {
		c.Scoring.RegionConnections = DefaultRegionConnections()
	}
	if len(c.Scoring.DefaultSectors) == 0 {
		c.Scoring.DefaultSectors = []string{"manufacturing", "shipping"}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}

	if c.Pipeline.ProcessingTimeout <= 0 {
		return fmt.Errorf("processing timeout must be positive")
	}

	if c.Validation.MinQualityScore < 0 || c.Validation.MinQualityScore > 1 {
		return fmt.Errorf("min quality score must be within [0,1]: %f", c.Validation.MinQualityScore)
	}

	switch c.Dedup.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown dedup backend: %q", c.Dedup.Backend)
	}

	if c.Dedup.Retention <= 0 {
		return fmt.Errorf("dedup retention must be positive")
	}

	switch c.Cache.Serialization {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown cache serialization: %q", c.Cache.Serialization)
	}

	if c.Scoring.SignificanceThreshold < 0 || c.Scoring.SignificanceThreshold > 1 {
		return fmt.Errorf("significance threshold must be within [0,1]: %f", c.Scoring.SignificanceThreshold)
	}

	if c.MessageQueue.Kafka.InputTopic == "" {
		return fmt.Errorf("kafka input topic is required")
	}

	return nil
}
