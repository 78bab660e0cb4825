package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/services/risk-pipeline/usecase"
)

// KafkaConsumer consumes raw events from the intake topic and feeds the
// pipeline worker pool. Delivery is at-least-once; the duplicate detector is
// the defense against redelivered events reaching the risk engine twice.
type KafkaConsumer struct {
	reader    *kafka.Reader
	dlqWriter *kafka.Writer
	limiter   *rate.Limiter
	pool      *usecase.Pool

	inputTopic string
	logger     *logging.Logger
	metrics    *metrics.Collector
}

// NewKafkaConsumer creates a new intake consumer
func NewKafkaConsumer(cfg config.KafkaConfig, pipelineCfg config.PipelineConfig, pool *usecase.Pool, logger *logging.Logger, collector *metrics.Collector) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.InputTopic,
		MinBytes:       cfg.FetchMinBytes,
		MaxBytes:       cfg.FetchMaxBytes,
		MaxWait:        cfg.FetchMaxWait,
		CommitInterval: cfg.CommitInterval,
	})

	var dlqWriter *kafka.Writer
	if cfg.DeadLetterTopic != "" {
		dlqWriter = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DeadLetterTopic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		}
	}

	limit := rate.Limit(pipelineCfg.IntakeRateLimit)
	if pipelineCfg.IntakeRateLimit <= 0 {
		limit = rate.Inf
	}
	burst := pipelineCfg.IntakeBurst
	if burst <= 0 {
		burst = 1
	}

	return &KafkaConsumer{
		reader:     reader,
		dlqWriter:  dlqWriter,
		limiter:    rate.NewLimiter(limit, burst),
		pool:       pool,
		inputTopic: cfg.InputTopic,
		logger:     logger.WithComponent("kafka-consumer"),
		metrics:    collector,
	}
}

// Run consumes messages until the context is cancelled. Messages that fail
// to decode go to the dead-letter topic; decodable events are handed to the
// worker pool with intake rate limiting applied.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.metrics.RecordMessageReceived(c.inputTopic, "error")
			c.logger.WithError(err).Error("Failed to fetch message")
			continue
		}
		c.metrics.RecordMessageReceived(c.inputTopic, "success")

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		raw := &entity.RawEvent{}
		if err := json.Unmarshal(msg.Value, raw); err != nil {
			c.logger.WithError(err).Warn("Undecodable event sent to dead letter",
				logging.Int64("offset", msg.Offset),
			)
			c.sendToDeadLetter(ctx, msg, err)
			c.commit(ctx, msg)
			continue
		}
		raw.ReceivedAt = time.Now().UTC()

		if err := c.pool.Submit(ctx, raw); err != nil {
			// Shutdown while blocked on a full queue; the uncommitted
			// message will be redelivered.
			return err
		}

		c.commit(ctx, msg)
		c.metrics.RecordMessageProcessing(c.inputTopic, c.reader.Config().GroupID, time.Since(start))
	}
}

// commit acknowledges a message; failures are logged, and the resulting
// redelivery is absorbed by the duplicate detector.
func (c *KafkaConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.WithError(err).Warn("Failed to commit offset",
			logging.Int64("offset", msg.Offset),
		)
	}
}

// sendToDeadLetter forwards an unprocessable message with the decode error
// attached in headers.
func (c *KafkaConsumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlqWriter == nil {
		return
	}

	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers, kafka.Header{
			Key:   "x-dead-letter-reason",
			Value: []byte(cause.Error()),
		}),
	}

	if err := c.dlqWriter.WriteMessages(ctx, dlqMsg); err != nil {
		c.metrics.RecordMessageSent(c.dlqWriter.Topic, "error")
		c.logger.WithError(err).Error("Failed to write dead letter")
		return
	}
	c.metrics.RecordMessageSent(c.dlqWriter.Topic, "success")
}

// Close releases the consumer's connections
func (c *KafkaConsumer) Close() error {
	if c.dlqWriter != nil {
		_ = c.dlqWriter.Close()
	}
	return c.reader.Close()
}
