package usecase

import (
	"context"
	"time"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/repository"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/service"
	"github.com/chainwatch/platform/shared/types"
)

// maxRecentEvents bounds the events fetched for one business scoring pass
const maxRecentEvents = 500

// BusinessRiskUseCase computes business-specific aggregate risk by applying
// the same scoring primitives as event assessments with the profile's supply
// regions and industry substituted for generic region and sector.
type BusinessRiskUseCase struct {
	engine      service.RiskEngine
	profileRepo repository.ProfileRepository
	eventRepo   repository.EventRepository
	cache       repository.AssessmentCache

	window   time.Duration
	cacheTTL time.Duration
	logger   *logging.Logger
}

// NewBusinessRiskUseCase creates a new business risk use case
func NewBusinessRiskUseCase(
	engine service.RiskEngine,
	profileRepo repository.ProfileRepository,
	eventRepo repository.EventRepository,
	cache repository.AssessmentCache,
	window time.Duration,
	cacheTTL time.Duration,
	logger *logging.Logger,
) *BusinessRiskUseCase {
	return &BusinessRiskUseCase{
		engine:      engine,
		profileRepo: profileRepo,
		eventRepo:   eventRepo,
		cache:       cache,
		window:      window,
		cacheTTL:    cacheTTL,
		logger:      logger.WithComponent("business-risk"),
	}
}

// ComputeBusinessRisk scores one profile's exposure against recent events
func (uc *BusinessRiskUseCase) ComputeBusinessRisk(ctx context.Context, profileID types.ProfileID) (*entity.BusinessRiskReport, error) {
	profile, err := uc.profileRepo.GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}

	recent, err := uc.recentEvents(ctx)
	if err != nil {
		return nil, err
	}

	report, err := uc.engine.AssessBusiness(ctx, profile, recent)
	if err != nil {
		return nil, err
	}

	uc.logger.WithContext(ctx).Info("Business risk computed",
		logging.String("profile_id", profileID.String()),
		logging.Float64("overall_risk", report.OverallRiskLevel),
		logging.Int("individual_risks", len(report.IndividualRisks)),
	)
	return report, nil
}

// ComputePortfolioRisk aggregates risk across all registered profiles
func (uc *BusinessRiskUseCase) ComputePortfolioRisk(ctx context.Context) (*entity.PortfolioRisk, error) {
	recent, err := uc.recentEvents(ctx)
	if err != nil {
		return nil, err
	}

	var reports []*entity.BusinessRiskReport
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		profiles, err := uc.profileRepo.List(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(profiles) == 0 {
			break
		}

		for _, profile := range profiles {
			report, err := uc.engine.AssessBusiness(ctx, profile, recent)
			if err != nil {
				// One profile's failure must not sink the portfolio view
				uc.logger.WithError(err).Warn("Profile assessment failed",
					logging.String("profile_id", profile.ID.String()),
				)
				continue
			}
			reports = append(reports, report)
		}

		if len(profiles) < pageSize {
			break
		}
	}

	return uc.engine.AssessPortfolio(ctx, reports)
}

// recentEvents loads the scored events inside the scoring window
func (uc *BusinessRiskUseCase) recentEvents(ctx context.Context) ([]*entity.ProcessedEvent, error) {
	since := time.Now().UTC().Add(-uc.window)
	return uc.eventRepo.GetRecent(ctx, since, maxRecentEvents)
}

// SummaryUseCase produces the aggregate risk summary over recent assessments
type SummaryUseCase struct {
	engine         service.RiskEngine
	assessmentRepo repository.AssessmentRepository
	eventRepo      repository.EventRepository
	cache          repository.AssessmentCache

	window   time.Duration
	cacheTTL time.Duration
	logger   *logging.Logger
}

// NewSummaryUseCase creates a new summary use case
func NewSummaryUseCase(
	engine service.RiskEngine,
	assessmentRepo repository.AssessmentRepository,
	eventRepo repository.EventRepository,
	cache repository.AssessmentCache,
	window time.Duration,
	cacheTTL time.Duration,
	logger *logging.Logger,
) *SummaryUseCase {
	return &SummaryUseCase{
		engine:         engine,
		assessmentRepo: assessmentRepo,
		eventRepo:      eventRepo,
		cache:          cache,
		window:         window,
		cacheTTL:       cacheTTL,
		logger:         logger.WithComponent("summary"),
	}
}

// GetSummary returns the current risk summary, served from cache when fresh.
// Stored assessments are decayed by event age before aggregation so the
// summary reflects current relevance, not scoring-time levels.
func (uc *SummaryUseCase) GetSummary(ctx context.Context) (*entity.RiskSummary, error) {
	if cached, err := uc.cache.GetSummary(ctx); err == nil && cached != nil {
		return cached, nil
	}

	now := time.Now().UTC()
	since := now.Add(-uc.window)

	assessments, err := uc.assessmentRepo.GetByRegionSector(ctx, "", "", since, 0)
	if err != nil {
		return nil, err
	}

	ages := make(map[string]time.Duration)
	events, err := uc.eventRepo.GetRecent(ctx, since, maxRecentEvents)
	if err == nil {
		for _, event := range events {
			ages[event.ID.String()] = event.Age(now)
		}
	}

	current := uc.engine.ApplyTimeDecay(assessments, ages, now)
	summary := uc.engine.Summarize(current)

	if err := uc.cache.SetSummary(ctx, summary, uc.cacheTTL); err != nil {
		uc.logger.WithError(err).Warn("Summary cache write failed")
	}
	return summary, nil
}
