package usecase

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/repository"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/service"
	"github.com/chainwatch/platform/shared/common"
)

// ProcessEventUseCase orchestrates the pipeline for one raw event:
// validate, deduplicate, normalize, score, then persist, cache, and publish.
// Each stage can short-circuit; only surviving events reach the risk engine.
type ProcessEventUseCase struct {
	config config.PipelineConfig

	validator  service.EventValidator
	dedup      service.DuplicateDetector
	normalizer service.EventNormalizer
	engine     service.RiskEngine

	eventRepo      repository.EventRepository
	assessmentRepo repository.AssessmentRepository
	cache          repository.AssessmentCache
	publisher      repository.AssessmentPublisher

	cacheTTL time.Duration

	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
	metrics *metrics.Collector
}

// ProcessResult captures the outcome of one pipeline run
type ProcessResult struct {
	Event       *entity.ProcessedEvent
	Assessments []*entity.RiskAssessment

	// Dropped is set when the event was rejected or discarded before
	// scoring; DropStage and DropReason identify where and why.
	Dropped    bool
	DropStage  string
	DropReason string
}

// NewProcessEventUseCase creates a new pipeline orchestrator
func NewProcessEventUseCase(
	cfg config.PipelineConfig,
	cacheTTL time.Duration,
	validator service.EventValidator,
	dedup service.DuplicateDetector,
	normalizer service.EventNormalizer,
	engine service.RiskEngine,
	eventRepo repository.EventRepository,
	assessmentRepo repository.AssessmentRepository,
	cache repository.AssessmentCache,
	publisher repository.AssessmentPublisher,
	logger *logging.Logger,
	collector *metrics.Collector,
) *ProcessEventUseCase {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "assessment-sink",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	})

	return &ProcessEventUseCase{
		config:         cfg,
		validator:      validator,
		dedup:          dedup,
		normalizer:     normalizer,
		engine:         engine,
		eventRepo:      eventRepo,
		assessmentRepo: assessmentRepo,
		cache:          cache,
		publisher:      publisher,
		cacheTTL:       cacheTTL,
		breaker:        breaker,
		logger:         logger.WithComponent("pipeline"),
		metrics:        collector,
	}
}

// Execute runs the full pipeline for one raw event. Validation and duplicate
// drops are definitive and return a dropped result, not an error; sink
// failures return an error with the processed flag left unset so the event
// can be redelivered.
func (uc *ProcessEventUseCase) Execute(ctx context.Context, raw *entity.RawEvent) (*ProcessResult, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.config.ProcessingTimeout)
	defer cancel()

	uc.metrics.RecordEventReceived(raw.EventType, raw.Source)
	uc.metrics.RecordEventInFlight(1)
	defer uc.metrics.RecordEventInFlight(-1)

	if min := uc.config.MinIntakeSeverity; min > 0 && raw.SeverityOrDefault() < min {
		return uc.drop(nil, "intake", "below_min_severity"), nil
	}

	// Validate
	timer := metrics.NewTimer()
	result := uc.validator.Validate(ctx, raw)
	uc.metrics.RecordStageDuration("validate", timer.Duration())

	if !result.IsValid {
		reason := "low_quality"
		if len(result.Errors) > 0 {
			reason = result.Errors[0]
		}
		return uc.drop(nil, "validation", reason), nil
	}

	event := entity.NewProcessedEvent(raw)
	event.QualityScore = result.QualityScore
	event.DataQualityScore = result.QualityScore
	for _, w := range result.Warnings {
		event.AddWarning(w)
	}
	event.SetStatus(entity.EventStatusValidated)

	log := uc.logger.WithContext(ctx).WithEvent(event.ID)

	// Deduplicate. The signature registration here is the sole defense
	// against duplicate scoring on at-least-once redelivery, so it must
	// complete before the risk engine runs.
	timer = metrics.NewTimer()
	reason, err := uc.dedup.Check(ctx, event)
	uc.metrics.RecordStageDuration("dedup", timer.Duration())
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeCacheFailure, "duplicate check failed")
	}
	if reason != entity.DuplicateReasonNone {
		log.LogDuplicate(string(reason))
		event.SetStatus(entity.EventStatusDiscarded)
		return uc.drop(event, "dedup", string(reason)), nil
	}

	// Captured before normalization mutates the fields they hash over, so a
	// downstream failure can roll back exactly what was registered.
	exact, content, fuzzy := uc.dedup.Signatures(event)

	// Normalize
	timer = metrics.NewTimer()
	if err := uc.normalizer.Normalize(ctx, event); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "normalization failed")
	}
	uc.metrics.RecordStageDuration("normalize", timer.Duration())

	// Score
	timer = metrics.NewTimer()
	assessments, err := uc.engine.AssessEvent(ctx, event)
	uc.metrics.RecordStageDuration("score", timer.Duration())
	if err != nil {
		event.SetStatus(entity.EventStatusFailed)
		uc.releaseSignatures(ctx, log, exact, content, fuzzy)
		return nil, err
	}
	event.SetStatus(entity.EventStatusScored)

	// Sink: persist, cache, publish. Retried with backoff behind a breaker;
	// on exhaustion the processed flag stays unset and the signatures are
	// released so the redelivered event can be reprocessed.
	if err := uc.sink(ctx, event, assessments); err != nil {
		event.SetStatus(entity.EventStatusFailed)
		uc.releaseSignatures(ctx, log, exact, content, fuzzy)
		uc.metrics.RecordEventProcessed(string(event.EventType), "sink_failed")
		return nil, err
	}
	event.SetStatus(entity.EventStatusPublished)

	if !event.TryMarkProcessed() {
		// Another run already claimed this event; nothing further to do.
		log.Warn("Event already marked processed")
		return &ProcessResult{Event: event, Assessments: assessments}, nil
	}
	if _, err := uc.eventRepo.MarkProcessed(ctx, event.ID); err != nil {
		log.WithError(err).Warn("Failed to persist processed flag")
	}

	for _, a := range assessments {
		log.LogRiskAssessment(a.Region, a.Sector, a.RiskLevel)
	}
	uc.metrics.RecordEventProcessed(string(event.EventType), "processed")
	log.Info("Event processed",
		logging.Int("assessments", len(assessments)),
		logging.Float64("quality_score", event.QualityScore),
	)

	return &ProcessResult{Event: event, Assessments: assessments}, nil
}

// releaseSignatures frees the event's dedup signatures after a downstream
// failure. It runs on a detached context because the failure may be the
// processing deadline itself expiring.
func (uc *ProcessEventUseCase) releaseSignatures(ctx context.Context, log *logging.Logger, signatures ...string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := uc.dedup.Release(releaseCtx, signatures...); err != nil {
		log.WithError(err).Warn("Failed to release dedup signatures")
	}
}

// drop finalizes a rejected or discarded event
func (uc *ProcessEventUseCase) drop(event *entity.ProcessedEvent, stage, reason string) *ProcessResult {
	uc.logger.LogEventDrop(stage, reason)
	uc.metrics.RecordEventDropped(stage, reason)

	if event != nil && !event.Status.IsTerminal() {
		event.SetStatus(entity.EventStatusRejected)
	}

	return &ProcessResult{
		Event:      event,
		Dropped:    true,
		DropStage:  stage,
		DropReason: reason,
	}
}

// sink writes the event and its assessments to storage, cache, and the
// publish topic. The store write is the commit point; cache and publish
// failures after it are retried as one unit.
func (uc *ProcessEventUseCase) sink(ctx context.Context, event *entity.ProcessedEvent, assessments []*entity.RiskAssessment) error {
	if err := uc.withRetry(ctx, "store", func() error {
		if err := uc.eventRepo.Create(ctx, event); err != nil {
			return err
		}
		if len(assessments) == 0 {
			return nil
		}
		return uc.assessmentRepo.CreateBatch(ctx, assessments)
	}); err != nil {
		return common.ErrSinkFailure("store", err)
	}

	if len(assessments) == 0 {
		return nil
	}

	if err := uc.withRetry(ctx, "cache", func() error {
		return uc.cache.SetAssessments(ctx, assessments, uc.cacheTTL)
	}); err != nil {
		// Cache is read-side acceleration only; degrade without failing
		// the event.
		uc.logger.WithEvent(event.ID).WithError(err).Warn("Assessment cache write failed")
	}

	if err := uc.withRetry(ctx, "publish", func() error {
		return uc.publisher.PublishAssessments(ctx, event.ID, assessments)
	}); err != nil {
		return common.ErrSinkFailure("publish", err)
	}

	return nil
}

// withRetry runs op through the circuit breaker with bounded exponential
// backoff.
func (uc *ProcessEventUseCase) withRetry(ctx context.Context, sink string, op func() error) error {
	backoff := uc.config.SinkRetryBase
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= uc.config.SinkMaxRetries; attempt++ {
		if attempt > 0 {
			uc.metrics.RecordSinkRetry(sink)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if max := uc.config.SinkRetryMax; max > 0 && backoff > max {
				backoff = max
			}
		}

		_, err := uc.breaker.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// The breaker is shedding load; waiting out the backoff is the
			// only useful response.
			continue
		}
	}
	return lastErr
}

// Pool runs a bounded set of workers consuming raw events from a queue.
// Each event's full pipeline run executes independently.
type Pool struct {
	uc     *ProcessEventUseCase
	queue  chan *entity.RawEvent
	logger *logging.Logger
}

// NewPool creates a worker pool over the use case
func NewPool(uc *ProcessEventUseCase) *Pool {
	size := uc.config.QueueSize
	if size <= 0 {
		size = 1024
	}

	return &Pool{
		uc:     uc,
		queue:  make(chan *entity.RawEvent, size),
		logger: uc.logger.WithComponent("worker-pool"),
	}
}

// Submit enqueues a raw event, blocking when the queue is full so intake
// backpressure propagates to the consumer.
func (p *Pool) Submit(ctx context.Context, raw *entity.RawEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- raw:
		return nil
	}
}

// Run processes queued events with the configured worker count until the
// context is cancelled. In-flight events finish or are cancelled with it;
// nothing durable exists for an event until its sink step commits, so
// partial progress is simply discarded.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.uc.config.WorkerCount)

	for {
		select {
		case <-ctx.Done():
			waitErr := g.Wait()
			if waitErr != nil && waitErr != context.Canceled {
				return waitErr
			}
			return ctx.Err()
		case raw := <-p.queue:
			g.Go(func() error {
				if _, err := p.uc.Execute(ctx, raw); err != nil {
					p.logger.WithError(err).Error("Pipeline run failed")
				}
				// Worker errors are logged, never fatal for the pool
				return nil
			})
		}
	}
}
