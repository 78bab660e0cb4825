package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/shared/common"
)

const (
	assessmentKeyPrefix = "chainwatch:assessments:"
	summaryKey          = "chainwatch:risk_summary"
	signatureKeyPrefix  = "chainwatch:signatures:"

	// compressionMarker prefixes LZ4-compressed payloads so reads can
	// distinguish them from plain ones.
	compressionMarker = byte(0x04)
	plainMarker       = byte(0x00)
)

// RedisCacheConfig contains Redis cache behavior settings
type RedisCacheConfig struct {
	// Serialization selects the value codec: "json" or "msgpack"
	Serialization string

	// Compression enables LZ4 compression of serialized values
	Compression bool
}

// RedisAssessmentCache is the short-TTL read-side assessment cache keyed by
// region:sector.
type RedisAssessmentCache struct {
	client  redis.UniversalClient
	config  RedisCacheConfig
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewRedisAssessmentCache creates a new Redis-backed assessment cache
func NewRedisAssessmentCache(client redis.UniversalClient, config RedisCacheConfig, logger *logging.Logger, collector *metrics.Collector) *RedisAssessmentCache {
	if config.Serialization == "" {
		config.Serialization = "json"
	}

	return &RedisAssessmentCache{
		client:  client,
		config:  config,
		logger:  logger.WithComponent("redis-cache"),
		metrics: collector,
	}
}

// SetAssessments caches assessments grouped under their region:sector keys
func (c *RedisAssessmentCache) SetAssessments(ctx context.Context, assessments []*entity.RiskAssessment, ttl time.Duration) error {
	grouped := make(map[string][]*entity.RiskAssessment)
	for _, a := range assessments {
		grouped[a.CacheKey()] = append(grouped[a.CacheKey()], a)
	}

	pipe := c.client.Pipeline()
	for key, group := range grouped {
		payload, err := c.encode(group)
		if err != nil {
			return common.WrapError(err, common.ErrCodeCacheFailure, "failed to encode assessments")
		}
		pipe.Set(ctx, assessmentKeyPrefix+key, payload, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.metrics.RecordCacheOperation("set", "error")
		return common.WrapError(err, common.ErrCodeCacheFailure, "failed to cache assessments")
	}

	c.metrics.RecordCacheOperation("set", "success")
	return nil
}

// GetAssessments returns the cached assessments for a region:sector pair, or
// nil on a miss.
func (c *RedisAssessmentCache) GetAssessments(ctx context.Context, region, sector string) ([]*entity.RiskAssessment, error) {
	payload, err := c.client.Get(ctx, assessmentKeyPrefix+region+":"+sector).Bytes()
	if err == redis.Nil {
		c.metrics.RecordCacheOperation("get", "miss")
		return nil, nil
	}
	if err != nil {
		c.metrics.RecordCacheOperation("get", "error")
		return nil, common.WrapError(err, common.ErrCodeCacheFailure, "failed to read assessment cache")
	}

	var assessments []*entity.RiskAssessment
	if err := c.decode(payload, &assessments); err != nil {
		c.metrics.RecordCacheOperation("get", "error")
		return nil, common.WrapError(err, common.ErrCodeCacheFailure, "failed to decode cached assessments")
	}

	c.metrics.RecordCacheOperation("get", "hit")
	return assessments, nil
}

// SetSummary caches the aggregate risk summary
func (c *RedisAssessmentCache) SetSummary(ctx context.Context, summary *entity.RiskSummary, ttl time.Duration) error {
	payload, err := c.encode(summary)
	if err != nil {
		return common.WrapError(err, common.ErrCodeCacheFailure, "failed to encode summary")
	}

	if err := c.client.Set(ctx, summaryKey, payload, ttl).Err(); err != nil {
		c.metrics.RecordCacheOperation("set", "error")
		return common.WrapError(err, common.ErrCodeCacheFailure, "failed to cache summary")
	}

	c.metrics.RecordCacheOperation("set", "success")
	return nil
}

// GetSummary returns the cached risk summary, or nil on a miss
func (c *RedisAssessmentCache) GetSummary(ctx context.Context) (*entity.RiskSummary, error) {
	payload, err := c.client.Get(ctx, summaryKey).Bytes()
	if err == redis.Nil {
		c.metrics.RecordCacheOperation("get", "miss")
		return nil, nil
	}
	if err != nil {
		c.metrics.RecordCacheOperation("get", "error")
		return nil, common.WrapError(err, common.ErrCodeCacheFailure, "failed to read summary cache")
	}

	summary := &entity.RiskSummary{}
	if err := c.decode(payload, summary); err != nil {
		return nil, common.WrapError(err, common.ErrCodeCacheFailure, "failed to decode cached summary")
	}

	c.metrics.RecordCacheOperation("get", "hit")
	return summary, nil
}

// encode serializes and optionally compresses a value
func (c *RedisAssessmentCache) encode(value interface{}) ([]byte, error) {
	var raw []byte
	var err error

	switch c.config.Serialization {
	case "msgpack":
		raw, err = msgpack.Marshal(value)
	default:
		raw, err = json.Marshal(value)
	}
	if err != nil {
		return nil, err
	}

	if !c.config.Compression {
		return append([]byte{plainMarker}, raw...), nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(raw, compressed)
	if err != nil || n == 0 || n >= len(raw) {
		// Incompressible payloads are stored plain
		return append([]byte{plainMarker}, raw...), nil
	}

	// Layout: marker, 4-byte original length, compressed block
	out := make([]byte, 0, n+5)
	out = append(out, compressionMarker,
		byte(len(raw)), byte(len(raw)>>8), byte(len(raw)>>16), byte(len(raw)>>24))
	return append(out, compressed[:n]...), nil
}

// decode decompresses and deserializes a cached payload
func (c *RedisAssessmentCache) decode(payload []byte, target interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty cache payload")
	}

	raw := payload[1:]
	if payload[0] == compressionMarker {
		if len(raw) < 4 {
			return fmt.Errorf("truncated compressed payload")
		}
		size := int(raw[0]) | int(raw[1])<<8 | int(raw[2])<<16 | int(raw[3])<<24
		decompressed := make([]byte, size)
		n, err := lz4.UncompressBlock(raw[4:], decompressed)
		if err != nil {
			return err
		}
		raw = decompressed[:n]
	}

	switch c.config.Serialization {
	case "msgpack":
		return msgpack.Unmarshal(raw, target)
	default:
		return json.Unmarshal(raw, target)
	}
}

// RedisSignatureStore is the Redis-backed signature store backend. Signatures
// survive process restarts and are shared across pipeline replicas; expiry is
// delegated to Redis TTLs.
type RedisSignatureStore struct {
	client    redis.UniversalClient
	retention time.Duration
	logger    *logging.Logger
}

// NewRedisSignatureStore creates a new Redis-backed signature store
func NewRedisSignatureStore(client redis.UniversalClient, retention time.Duration, logger *logging.Logger) *RedisSignatureStore {
	return &RedisSignatureStore{
		client:    client,
		retention: retention,
		logger:    logger.WithComponent("redis-signatures"),
	}
}

// CheckAndInsert records the signature if absent. SET NX makes the check and
// insert a single atomic operation on the Redis side.
func (s *RedisSignatureStore) CheckAndInsert(ctx context.Context, signature string, seenAt time.Time) (bool, error) {
	inserted, err := s.client.SetNX(ctx, signatureKeyPrefix+signature, seenAt.Unix(), s.retention).Result()
	if err != nil {
		return false, common.WrapError(err, common.ErrCodeCacheFailure, "signature insert failed")
	}
	return inserted, nil
}

// Contains reports whether the signature is currently known
func (s *RedisSignatureStore) Contains(ctx context.Context, signature string) (bool, error) {
	n, err := s.client.Exists(ctx, signatureKeyPrefix+signature).Result()
	if err != nil {
		return false, common.WrapError(err, common.ErrCodeCacheFailure, "signature lookup failed")
	}
	return n > 0, nil
}

// Remove deletes the given signatures
func (s *RedisSignatureStore) Remove(ctx context.Context, signatures ...string) error {
	if len(signatures) == 0 {
		return nil
	}

	keys := make([]string, len(signatures))
	for i, sig := range signatures {
		keys[i] = signatureKeyPrefix + sig
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return common.WrapError(err, common.ErrCodeCacheFailure, "signature delete failed")
	}
	return nil
}

// Cleanup is a no-op for the Redis backend; per-key TTLs already bound
// retention.
func (s *RedisSignatureStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
}

// Len returns the approximate number of stored signatures
func (s *RedisSignatureStore) Len(ctx context.Context) (int, error) {
	var count int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, signatureKeyPrefix+"*", 1000).Result()
		if err != nil {
			return 0, common.WrapError(err, common.ErrCodeCacheFailure, "signature scan failed")
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
