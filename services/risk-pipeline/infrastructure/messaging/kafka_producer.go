package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/shared/common"
	"github.com/chainwatch/platform/shared/types"
)

// AssessmentMessage is the wire shape published for downstream alert fan-out
type AssessmentMessage struct {
	EventID     types.EventID            `json:"event_id"`
	Assessments []*entity.RiskAssessment `json:"assessments"`
	Timestamp   time.Time                `json:"timestamp"`
}

// KafkaAssessmentPublisher publishes scored events to the output topic
type KafkaAssessmentPublisher struct {
	writer  *kafka.Writer
	topic   string
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewKafkaAssessmentPublisher creates a new assessment publisher
func NewKafkaAssessmentPublisher(cfg config.KafkaConfig, logger *logging.Logger, collector *metrics.Collector) *KafkaAssessmentPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OutputTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}

	return &KafkaAssessmentPublisher{
		writer:  writer,
		topic:   cfg.OutputTopic,
		logger:  logger.WithComponent("kafka-publisher"),
		metrics: collector,
	}
}

// PublishAssessments emits one message per event, keyed by event ID so all
// assessments for an event land on the same partition.
func (p *KafkaAssessmentPublisher) PublishAssessments(ctx context.Context, eventID types.EventID, assessments []*entity.RiskAssessment) error {
	payload, err := json.Marshal(AssessmentMessage{
		EventID:     eventID,
		Assessments: assessments,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return common.WrapError(err, common.ErrCodePublishFailure, "failed to encode assessment message")
	}

	msg := kafka.Message{
		Key:   []byte(eventID.String()),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordMessageSent(p.topic, "error")
		return common.WrapError(err, common.ErrCodePublishFailure, "failed to publish assessments")
	}

	p.metrics.RecordMessageSent(p.topic, "success")
	return nil
}

// Close flushes and releases the producer
func (p *KafkaAssessmentPublisher) Close() error {
	return p.writer.Close()
}
