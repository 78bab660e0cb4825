package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/services/risk-pipeline/infrastructure/cache"
	"github.com/chainwatch/platform/services/risk-pipeline/infrastructure/service"
	"github.com/chainwatch/platform/shared/types"
)

// In-memory fakes for the sink collaborators

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]*entity.ProcessedEvent

	failCreates int
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*entity.ProcessedEvent)}
}

func (r *fakeEventRepo) Create(_ context.Context, event *entity.ProcessedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreates > 0 {
		r.failCreates--
		return errors.New("storage unavailable")
	}
	r.events[event.ID.String()] = event
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, eventID types.EventID) (*entity.ProcessedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID.String()]
	if !ok {
		return nil, errors.New("not found")
	}
	return event, nil
}

func (r *fakeEventRepo) UpdateStatus(_ context.Context, eventID types.EventID, status entity.EventStatus) error {
	return nil
}

func (r *fakeEventRepo) MarkProcessed(_ context.Context, eventID types.EventID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID.String()]
	if !ok {
		return false, errors.New("not found")
	}
	if event.Processed {
		return false, nil
	}
	event.Processed = true
	return true, nil
}

func (r *fakeEventRepo) GetRecent(_ context.Context, since time.Time, limit int) ([]*entity.ProcessedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.ProcessedEvent
	for _, event := range r.events {
		out = append(out, event)
	}
	return out, nil
}

func (r *fakeEventRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeAssessmentRepo struct {
	mu          sync.Mutex
	assessments []*entity.RiskAssessment
}

func (r *fakeAssessmentRepo) CreateBatch(_ context.Context, assessments []*entity.RiskAssessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assessments = append(r.assessments, assessments...)
	return nil
}

func (r *fakeAssessmentRepo) GetByEventID(_ context.Context, eventID types.EventID) ([]*entity.RiskAssessment, error) {
	return nil, nil
}

func (r *fakeAssessmentRepo) GetByRegionSector(_ context.Context, region, sector string, since time.Time, limit int) ([]*entity.RiskAssessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.RiskAssessment(nil), r.assessments...), nil
}

type fakeCache struct {
	mu       sync.Mutex
	sets     int
	failSets bool
	summary  *entity.RiskSummary
}

func (c *fakeCache) SetAssessments(_ context.Context, assessments []*entity.RiskAssessment, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSets {
		return errors.New("cache unavailable")
	}
	c.sets++
	return nil
}

func (c *fakeCache) GetAssessments(_ context.Context, region, sector string) ([]*entity.RiskAssessment, error) {
	return nil, nil
}

func (c *fakeCache) SetSummary(_ context.Context, summary *entity.RiskSummary, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSets {
		return errors.New("cache unavailable")
	}
	c.summary = summary
	return nil
}

func (c *fakeCache) GetSummary(_ context.Context) (*entity.RiskSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []types.EventID
	failures  int
}

func (p *fakePublisher) PublishAssessments(_ context.Context, eventID types.EventID, assessments []*entity.RiskAssessment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, eventID)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type pipelineFixture struct {
	uc        *ProcessEventUseCase
	events    *fakeEventRepo
	repo      *fakeAssessmentRepo
	cache     *fakeCache
	publisher *fakePublisher
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	logger := logging.NewNopLogger()
	collector := metrics.NewCollector("test")

	scoring := config.ScoringConfig{}
	cfg := &config.Config{Scoring: scoring}
	cfg.ApplyScoringDefaults()
	cfg.Scoring.SignificanceThreshold = 0.3
	cfg.Scoring.MaxAssessments = 20
	cfg.Scoring.UnknownRegionWeight = 0.45
	cfg.Scoring.DefaultSectorVulnerability = 0.5
	cfg.Scoring.IndirectImpactFactor = 0.6
	cfg.Scoring.IndirectImpactCap = 0.8
	cfg.Scoring.DirectImpactBoost = 1.1
	cfg.Scoring.RegionalFactorThreshold = 0.6
	cfg.Scoring.SectoralFactorThreshold = 0.6
	cfg.Scoring.InteractionFactorThreshold = 0.5
	cfg.Scoring.UrgentRecommendationLevel = 0.7
	cfg.Scoring.ElevatedRecommendationLevel = 0.5
	cfg.Scoring.MaxRecommendations = 5

	validator := service.NewValidationService(config.ValidationConfig{
		MinQualityScore:      0.3,
		MinTitleLength:       10,
		MinDescriptionLength: 20,
	}, logger, collector)
	dedup := service.NewDedupService(config.DedupConfig{
		Retention:       24 * time.Hour,
		FuzzyTokenCount: 10,
	}, cache.NewMemorySignatureStore(), logger, collector)
	normalizer := service.NewNormalizationService(logger)
	engine := service.NewRiskEngine(cfg.Scoring, logger, collector)

	events := newFakeEventRepo()
	repo := &fakeAssessmentRepo{}
	assessmentCache := &fakeCache{}
	publisher := &fakePublisher{}

	uc := NewProcessEventUseCase(
		config.PipelineConfig{
			WorkerCount:       4,
			QueueSize:         16,
			ProcessingTimeout: 5 * time.Second,
			SinkMaxRetries:    2,
			SinkRetryBase:     time.Millisecond,
			SinkRetryMax:      5 * time.Millisecond,
			BreakerFailures:   50,
			BreakerTimeout:    time.Second,
		},
		30*time.Minute,
		validator, dedup, normalizer, engine,
		events, repo, assessmentCache, publisher,
		logger, collector,
	)

	return &pipelineFixture{
		uc:        uc,
		events:    events,
		repo:      repo,
		cache:     assessmentCache,
		publisher: publisher,
	}
}

func pipelineRawEvent() *entity.RawEvent {
	severity := 0.9
	return &entity.RawEvent{
		Title:       "Geopolitical tensions disrupt semiconductor exports",
		Description: "Export controls announced today are expected to delay semiconductor shipments from the region for several weeks.",
		Source:      "test-feed",
		Location:    "China",
		Severity:    &severity,
		EventType:   "geopolitical",
		ImpactSectors: []string{
			"semiconductors",
		},
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestExecuteHappyPath(t *testing.T) {
	f := newPipelineFixture(t)

	result, err := f.uc.Execute(context.Background(), pipelineRawEvent())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.False(t, result.Dropped)

	assert.True(t, result.Event.Processed)
	assert.Equal(t, entity.EventStatusProcessed, result.Event.Status)
	assert.NotEmpty(t, result.Assessments)

	assert.Equal(t, 1, f.events.count())
	assert.Equal(t, 1, f.publisher.count())
	assert.Equal(t, 1, f.cache.sets)
}

func TestExecuteInvalidEventHaltsBeforeDedup(t *testing.T) {
	f := newPipelineFixture(t)

	raw := pipelineRawEvent()
	raw.Title = ""
	result, err := f.uc.Execute(context.Background(), raw)
	require.NoError(t, err)

	assert.True(t, result.Dropped)
	assert.Equal(t, "validation", result.DropStage)
	assert.Equal(t, 0, f.events.count())
	assert.Equal(t, 0, f.publisher.count())

	// The invalid event left no signatures behind, so a valid version of
	// the same content still passes dedup.
	result, err = f.uc.Execute(context.Background(), pipelineRawEvent())
	require.NoError(t, err)
	assert.False(t, result.Dropped)
}

func TestExecuteDuplicateSuppressed(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	first, err := f.uc.Execute(ctx, pipelineRawEvent())
	require.NoError(t, err)
	require.False(t, first.Dropped)

	second, err := f.uc.Execute(ctx, pipelineRawEvent())
	require.NoError(t, err)
	assert.True(t, second.Dropped)
	assert.Equal(t, "dedup", second.DropStage)
	assert.Equal(t, string(entity.DuplicateReasonExact), second.DropReason)

	// Exactly one processed event and one publish
	assert.Equal(t, 1, f.events.count())
	assert.Equal(t, 1, f.publisher.count())
}

func TestExecuteSinkFailureLeavesProcessedUnset(t *testing.T) {
	f := newPipelineFixture(t)
	f.publisher.failures = 10 // beyond the retry budget

	result, err := f.uc.Execute(context.Background(), pipelineRawEvent())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, f.publisher.count())
}

func TestExecuteSinkFailureAllowsRedelivery(t *testing.T) {
	f := newPipelineFixture(t)
	f.events.failCreates = 10 // beyond the retry budget

	result, err := f.uc.Execute(context.Background(), pipelineRawEvent())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, f.events.count())
	assert.Equal(t, 0, f.publisher.count())

	// The failed run released its signatures, so the redelivered copy is
	// processed instead of being discarded as a duplicate of it.
	f.events.failCreates = 0
	result, err = f.uc.Execute(context.Background(), pipelineRawEvent())
	require.NoError(t, err)
	require.False(t, result.Dropped)
	assert.True(t, result.Event.Processed)
	assert.Equal(t, 1, f.events.count())
	assert.Equal(t, 1, f.publisher.count())
}

func TestExecuteSinkRetrySucceeds(t *testing.T) {
	f := newPipelineFixture(t)
	f.publisher.failures = 1 // first attempt fails, retry succeeds

	result, err := f.uc.Execute(context.Background(), pipelineRawEvent())
	require.NoError(t, err)
	assert.True(t, result.Event.Processed)
	assert.Equal(t, 1, f.publisher.count())
}

func TestExecuteCacheFailureDegradesGracefully(t *testing.T) {
	f := newPipelineFixture(t)
	f.cache.failSets = true

	result, err := f.uc.Execute(context.Background(), pipelineRawEvent())
	require.NoError(t, err)
	assert.True(t, result.Event.Processed)
	assert.Equal(t, 1, f.publisher.count())
}

func TestPoolProcessesSubmittedEvents(t *testing.T) {
	f := newPipelineFixture(t)
	pool := NewPool(f.uc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pool.Run(ctx)
	}()

	severityA := 0.9
	severityB := 0.8
	require.NoError(t, pool.Submit(ctx, pipelineRawEvent()))
	require.NoError(t, pool.Submit(ctx, &entity.RawEvent{
		Title:       "Port workers announce strike at Rotterdam terminal",
		Description: "Union representatives confirmed industrial action starting next week, affecting container throughput.",
		Source:      "test-feed",
		Location:    "Rotterdam",
		Severity:    &severityA,
		EventType:   "news",
	}))
	require.NoError(t, pool.Submit(ctx, &entity.RawEvent{
		Title:       "Flooding closes key automotive supplier plants",
		Description: "Heavy rainfall has inundated several component factories, halting just-in-time deliveries to assembly lines.",
		Source:      "test-feed",
		Location:    "Germany",
		Severity:    &severityB,
		EventType:   "weather",
		ImpactSectors: []string{
			"automotive",
		},
	}))

	require.Eventually(t, func() bool {
		return f.events.count() == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTryMarkProcessedIsExactlyOnce(t *testing.T) {
	event := entity.NewProcessedEvent(pipelineRawEvent())

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- event.TryMarkProcessed()
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for win := range wins {
		if win {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.True(t, event.Processed)
}
