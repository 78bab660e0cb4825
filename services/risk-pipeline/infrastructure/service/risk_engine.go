package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/shared/common"
	"github.com/chainwatch/platform/shared/types"
)

// sectorRecommendations is boilerplate appended per affected sector
var sectorRecommendations = map[string]string{
	"electronics":     "Review electronics component inventory and qualify alternate suppliers",
	"semiconductors":  "Check wafer and chip allocation commitments with foundry partners",
	"automotive":      "Assess just-in-time delivery exposure for automotive parts",
	"energy":          "Review energy procurement contracts and hedging positions",
	"agriculture":     "Monitor commodity prices and secure forward contracts",
	"pharmaceuticals": "Verify active ingredient sourcing and regulatory stock requirements",
	"textiles":        "Evaluate alternate garment sourcing regions",
	"shipping":        "Review freight routing options and carrier capacity",
	"manufacturing":   "Audit production dependencies on the affected region",
	"retail":          "Adjust inventory planning for potential delivery delays",
}

// RiskEngine computes multi-factor risk assessments from normalized events.
// All weight tables are immutable after construction; scoring is
// deterministic given the tables and the clock.
type RiskEngine struct {
	config  config.ScoringConfig
	logger  *logging.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewRiskEngine creates a new risk engine
func NewRiskEngine(cfg config.ScoringConfig, logger *logging.Logger, collector *metrics.Collector) *RiskEngine {
	return &RiskEngine{
		config:  cfg,
		logger:  logger.WithComponent("risk-engine"),
		metrics: collector,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AssessEvent produces the supply-chain-wide assessments for one normalized
// event. A scoring failure in one (region, sector) combination is isolated;
// the other combinations still complete.
func (e *RiskEngine) AssessEvent(ctx context.Context, event *entity.ProcessedEvent) ([]*entity.RiskAssessment, error) {
	blended := e.blendedRisk(event)

	primary := event.PrimaryRegion()
	regions := e.targetRegions(primary)
	sectors := e.targetSectors(event)

	assessments := make([]*entity.RiskAssessment, 0, len(regions)*len(sectors))
	for _, region := range regions {
		direct := region == primary
		regionScore := e.regionScore(blended, region, direct)

		for _, sector := range sectors {
			assessment, err := e.scorePair(event, region, sector, regionScore, blended, direct)
			if err != nil {
				e.logger.WithError(err).Warn("Scoring combination failed",
					logging.String("region", region),
					logging.String("sector", sector),
				)
				continue
			}
			if assessment == nil {
				continue
			}
			assessments = append(assessments, assessment)
		}
	}

	sortByRisk(assessments)
	if max := e.config.MaxAssessments; max > 0 && len(assessments) > max {
		assessments = assessments[:max]
	}

	for _, a := range assessments {
		e.metrics.RecordAssessment(a.Region, a.Sector, string(a.RiskCategory), a.RiskLevel, string(event.EventType))
	}

	return assessments, nil
}

// blendedRisk combines base severity, event type, and location criticality
func (e *RiskEngine) blendedRisk(event *entity.ProcessedEvent) float64 {
	base := clamp01(event.Severity * e.typeMultiplier(event.EventType))
	locWeight := e.regionWeight(event.PrimaryRegion())
	return clamp01((base + locWeight) / 2)
}

// typeMultiplier looks up the event type multiplier, defaulting to 1.0
func (e *RiskEngine) typeMultiplier(eventType types.EventType) float64 {
	if m, ok := e.config.EventTypeMultipliers[string(eventType)]; ok {
		return m
	}
	return 1.0
}

// regionWeight looks up a region's supply-chain criticality; unknown regions
// take the configured mid default.
func (e *RiskEngine) regionWeight(region string) float64 {
	if w, ok := e.config.RegionWeights[region]; ok {
		return w
	}
	return e.config.UnknownRegionWeight
}

// targetRegions returns the event's own region plus its supply-chain
// connections, deduplicated with the primary first.
func (e *RiskEngine) targetRegions(primary string) []string {
	regions := []string{primary}
	seen := map[string]struct{}{primary: {}}

	for _, connected := range e.config.RegionConnections[primary] {
		if _, dup := seen[connected]; dup {
			continue
		}
		seen[connected] = struct{}{}
		regions = append(regions, connected)
	}
	return regions
}

// targetSectors returns the event's sectors, substituting the default set
// when none survived normalization.
func (e *RiskEngine) targetSectors(event *entity.ProcessedEvent) []string {
	if len(event.ImpactSectors) > 0 {
		return event.ImpactSectors
	}
	return e.config.DefaultSectors
}

// regionScore scales the blended risk for one target region. Direct regions
// keep the full score; connected regions are damped and capped, reflecting
// lower certainty of propagation.
func (e *RiskEngine) regionScore(blended float64, region string, direct bool) float64 {
	if direct {
		return blended
	}

	score := blended * e.config.IndirectImpactFactor
	if cap := e.config.IndirectImpactCap; score > cap {
		score = cap
	}
	return clamp01(score)
}

// sectorScore scales the blended risk by sector vulnerability and the
// sector-by-event-type adjustment.
func (e *RiskEngine) sectorScore(blended float64, sector string, eventType types.EventType) float64 {
	vulnerability, ok := e.config.SectorVulnerabilities[sector]
	if !ok {
		vulnerability = e.config.DefaultSectorVulnerability
	}

	score := blended * vulnerability
	if adj, ok := e.config.SectorTypeAdjustments[sector+":"+string(eventType)]; ok {
		score *= adj
	}
	return clamp01(score)
}

// scorePair computes one (region, sector) assessment, or nil when the pair
// falls below the significance threshold.
func (e *RiskEngine) scorePair(event *entity.ProcessedEvent, region, sector string, regionScore, blended float64, direct bool) (*entity.RiskAssessment, error) {
	if region == "" || sector == "" {
		return nil, common.ErrScoringFailed(region, sector, fmt.Errorf("blank region or sector"))
	}

	sectorScore := e.sectorScore(blended, sector, event.EventType)

	level := (regionScore + sectorScore) / 2
	if direct {
		level *= e.config.DirectImpactBoost
	}
	level = clamp01(level)

	if level < e.config.SignificanceThreshold {
		return nil, nil
	}

	assessment := &entity.RiskAssessment{
		ID:              types.NewAssessmentID(),
		Region:          region,
		Sector:          sector,
		RiskLevel:       level,
		RiskCategory:    types.CategorizeRisk(level),
		RiskFactors:     e.riskFactors(region, sector, regionScore, sectorScore),
		Recommendations: e.recommendations(level, sector),
		ConfidenceScore: e.confidence(event, direct),
		DirectImpact:    direct,
		EventID:         event.ID,
		CreatedAt:       e.now(),
	}
	return assessment, nil
}

// riskFactors annotates high regional exposure, high sectoral vulnerability,
// and the interaction effect when both dimensions are elevated.
func (e *RiskEngine) riskFactors(region, sector string, regionScore, sectorScore float64) []entity.RiskFactor {
	var factors []entity.RiskFactor

	if regionScore > e.config.RegionalFactorThreshold {
		factors = append(factors, entity.RiskFactor{
			Type:        entity.RiskFactorRegional,
			Description: fmt.Sprintf("High supply-chain exposure in %s", region),
			Severity:    severityBand(regionScore),
		})
	}

	if sectorScore > e.config.SectoralFactorThreshold {
		factors = append(factors, entity.RiskFactor{
			Type:        entity.RiskFactorSectoral,
			Description: fmt.Sprintf("Elevated vulnerability in the %s sector", sector),
			Severity:    severityBand(sectorScore),
		})
	}

	t := e.config.InteractionFactorThreshold
	if regionScore > t && sectorScore > t {
		factors = append(factors, entity.RiskFactor{
			Type:        entity.RiskFactorInteraction,
			Description: fmt.Sprintf("Combined regional and sectoral pressure on %s in %s", sector, region),
			Severity:    severityBand((regionScore + sectorScore) / 2),
		})
	}

	return factors
}

// recommendations produces the tiered action list plus sector boilerplate,
// truncated to the configured maximum.
func (e *RiskEngine) recommendations(level float64, sector string) []string {
	var recs []string

	switch {
	case level >= e.config.UrgentRecommendationLevel:
		recs = append(recs,
			"Immediate action: activate contingency sourcing for affected supply lines",
			"Notify procurement and logistics leads of elevated disruption risk",
		)
	case level >= e.config.ElevatedRecommendationLevel:
		recs = append(recs,
			"Monitor the situation and prepare alternate supplier options",
			"Review safety stock levels for affected categories",
		)
	default:
		recs = append(recs, "Continue routine monitoring of the affected region")
	}

	if boilerplate, ok := sectorRecommendations[sector]; ok {
		recs = append(recs, boilerplate)
	}

	if max := e.config.MaxRecommendations; max > 0 && len(recs) > max {
		recs = recs[:max]
	}
	return recs
}

// confidence estimates assessment confidence from event data quality and
// resolution; indirect propagation lowers it.
func (e *RiskEngine) confidence(event *entity.ProcessedEvent, direct bool) float64 {
	score := 0.5 + 0.2*event.QualityScore
	if event.Location.Resolved {
		score += 0.15
	}
	if len(event.ImpactSectors) > 0 {
		score += 0.15
	}
	if !direct {
		score *= 0.8
	}
	return clamp01(score)
}

// ApplyTimeDecay discounts risk levels by elapsed time since the triggering
// event, drops assessments below the significance threshold, and returns the
// survivors sorted by risk descending, capped at the configured maximum.
func (e *RiskEngine) ApplyTimeDecay(assessments []*entity.RiskAssessment, eventAges map[string]time.Duration, now time.Time) []*entity.RiskAssessment {
	decayed := make([]*entity.RiskAssessment, 0, len(assessments))

	for _, a := range assessments {
		age, ok := eventAges[a.EventID.String()]
		if !ok {
			age = now.Sub(a.CreatedAt)
		}

		copied := *a
		copied.RiskLevel = clamp01(a.RiskLevel * decayFactor(age))
		copied.RiskCategory = types.CategorizeRisk(copied.RiskLevel)

		if copied.RiskLevel < e.config.SignificanceThreshold {
			continue
		}
		decayed = append(decayed, &copied)
	}

	sortByRisk(decayed)
	if max := e.config.MaxAssessments; max > 0 && len(decayed) > max {
		decayed = decayed[:max]
	}
	return decayed
}

// decayFactor returns the bucketed decay multiplier for an event age
func decayFactor(age time.Duration) float64 {
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.8
	case age <= 28*24*time.Hour:
		return 0.6
	default:
		return 0.4
	}
}

// AssessBusiness scores a business profile's exposure against recent scored
// events using the same scoring primitives as event assessments.
func (e *RiskEngine) AssessBusiness(ctx context.Context, profile *entity.BusinessProfile, recent []*entity.ProcessedEvent) (*entity.BusinessRiskReport, error) {
	if profile == nil {
		return nil, common.ErrInvalidInput("profile")
	}

	now := e.now()
	supplyRegions := make(map[string]struct{}, len(profile.SupplyRegions))
	for _, region := range profile.SupplyRegions {
		supplyRegions[region] = struct{}{}
	}
	industry := canonicalSector(strings.ToLower(strings.TrimSpace(profile.Industry)))

	var individual []entity.BusinessEventRisk
	var eventComponent float64
	for _, event := range recent {
		risk, relevant := e.businessEventRisk(event, supplyRegions, industry, now)
		if !relevant {
			continue
		}
		individual = append(individual, risk)
		if risk.RiskLevel > eventComponent {
			eventComponent = risk.RiskLevel
		}
	}

	sort.Slice(individual, func(i, j int) bool {
		return individual[i].RiskLevel > individual[j].RiskLevel
	})

	factors := e.exposureFactors(profile)
	var exposure float64
	for _, f := range factors {
		exposure += f.Score
	}
	if len(factors) > 0 {
		exposure /= float64(len(factors))
	}

	overall := clamp01(0.6*eventComponent + 0.4*exposure)

	report := &entity.BusinessRiskReport{
		ProfileID:        profile.ID,
		BusinessName:     profile.BusinessName,
		Industry:         profile.Industry,
		OverallRiskLevel: overall,
		RiskCategory:     types.CategorizeRisk(overall),
		IndividualRisks:  individual,
		RiskFactors:      factors,
		Recommendations:  e.businessRecommendations(overall, factors),
		AssessedAt:       now,
	}
	return report, nil
}

// businessEventRisk scores one event against a profile. An event is relevant
// when its region is in the profile's supply regions (or Global), or its
// sectors include the profile's industry.
func (e *RiskEngine) businessEventRisk(event *entity.ProcessedEvent, supplyRegions map[string]struct{}, industry string, now time.Time) (entity.BusinessEventRisk, bool) {
	region := event.PrimaryRegion()

	_, regionHit := supplyRegions[region]
	if region == "Global" {
		regionHit = true
	}

	sectorHit := false
	for _, sector := range event.ImpactSectors {
		if sector == industry {
			sectorHit = true
			break
		}
	}

	if !regionHit && !sectorHit {
		return entity.BusinessEventRisk{}, false
	}

	level := e.blendedRisk(event)
	if sectorHit {
		level = e.sectorScore(level, industry, event.EventType)
		// Industry-matched events stay at least as risky as the blend
		if blended := e.blendedRisk(event) * 0.8; level < blended {
			level = blended
		}
	}
	level = clamp01(level * decayFactor(event.Age(now)))

	return entity.BusinessEventRisk{
		EventID:    event.ID,
		EventTitle: event.Title,
		RiskLevel:  level,
		Region:     region,
		Sectors:    event.ImpactSectors,
	}, true
}

// exposureFactors computes the profile's structural exposure independent of
// current events: supplier concentration and concentration in high-risk
// regions.
func (e *RiskEngine) exposureFactors(profile *entity.BusinessProfile) []entity.BusinessRiskFactor {
	var factors []entity.BusinessRiskFactor

	supplierCount := len(profile.KeySuppliers)
	var concentration float64
	switch {
	case supplierCount < e.config.SupplierConcentrationMin:
		concentration = 0.6
	case supplierCount < e.config.SupplierConcentrationLow:
		concentration = 0.3
	}
	if concentration > 0 {
		factors = append(factors, entity.BusinessRiskFactor{
			Type:        "supplier_concentration",
			Score:       concentration,
			Description: fmt.Sprintf("Only %d key suppliers on record", supplierCount),
			Items:       profile.KeySuppliers,
		})
	}

	var highRisk []string
	for _, region := range profile.SupplyRegions {
		if e.regionWeight(region) >= e.config.HighRiskRegionWeightFloor {
			highRisk = append(highRisk, region)
		}
	}
	if len(highRisk) > 0 {
		score := e.config.RegionalConcentrationStep * float64(len(highRisk))
		if cap := e.config.RegionalConcentrationCap; score > cap {
			score = cap
		}
		factors = append(factors, entity.BusinessRiskFactor{
			Type:        "regional_concentration",
			Score:       clamp01(score),
			Description: fmt.Sprintf("Supply regions include %d high-criticality regions", len(highRisk)),
			Items:       highRisk,
		})
	}

	return factors
}

// businessRecommendations produces the tiered business action list
func (e *RiskEngine) businessRecommendations(overall float64, factors []entity.BusinessRiskFactor) []string {
	var recs []string

	switch {
	case overall >= e.config.UrgentRecommendationLevel:
		recs = append(recs,
			"Immediate action: review exposure to active disruptions with procurement leadership",
			"Activate contingency plans for critical material sourcing",
		)
	case overall >= e.config.ElevatedRecommendationLevel:
		recs = append(recs,
			"Increase monitoring cadence for supply regions with active events",
			"Validate alternate supplier readiness",
		)
	default:
		recs = append(recs, "Maintain routine supply-chain monitoring")
	}

	for _, f := range factors {
		switch f.Type {
		case "supplier_concentration":
			recs = append(recs, "Diversify the supplier base to reduce single-source dependency")
		case "regional_concentration":
			recs = append(recs, "Evaluate sourcing alternatives outside high-criticality regions")
		}
	}

	if max := e.config.MaxRecommendations; max > 0 && len(recs) > max {
		recs = recs[:max]
	}
	return recs
}

// AssessPortfolio aggregates business reports into a portfolio view
func (e *RiskEngine) AssessPortfolio(ctx context.Context, reports []*entity.BusinessRiskReport) (*entity.PortfolioRisk, error) {
	portfolio := &entity.PortfolioRisk{
		RiskDistribution: make(map[string]float64),
		BusinessCount:    len(reports),
	}

	if len(reports) == 0 {
		return portfolio, nil
	}

	var total float64
	counts := make(map[string]int)
	for _, report := range reports {
		total += report.OverallRiskLevel
		counts[string(report.RiskCategory)]++
	}

	portfolio.OverallRisk = clamp01(total / float64(len(reports)))
	for category, count := range counts {
		portfolio.RiskDistribution[category] = float64(count) / float64(len(reports))
	}
	return portfolio, nil
}

// Summarize aggregates a batch of assessments for reporting
func (e *RiskEngine) Summarize(assessments []*entity.RiskAssessment) *entity.RiskSummary {
	summary := &entity.RiskSummary{
		TotalAssessments: len(assessments),
	}

	regionCounts := make(map[string]int)
	sectorCounts := make(map[string]int)
	for _, a := range assessments {
		switch a.RiskCategory {
		case types.RiskCategoryCritical, types.RiskCategoryHigh:
			summary.HighRiskCount++
		case types.RiskCategoryMedium:
			summary.MediumRiskCount++
		default:
			summary.LowRiskCount++
		}
		regionCounts[a.Region]++
		sectorCounts[a.Sector]++
	}

	summary.TopRiskRegions = topRegions(regionCounts, 5)
	summary.TopRiskSectors = topSectors(sectorCounts, 5)
	return summary
}

// topRegions returns the n most frequent regions, count descending with
// name as the tiebreak.
func topRegions(counts map[string]int, n int) []entity.RegionCount {
	out := make([]entity.RegionCount, 0, len(counts))
	for region, count := range counts {
		out = append(out, entity.RegionCount{Region: region, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Region < out[j].Region
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// topSectors returns the n most frequent sectors
func topSectors(counts map[string]int, n int) []entity.SectorCount {
	out := make([]entity.SectorCount, 0, len(counts))
	for sector, count := range counts {
		out = append(out, entity.SectorCount{Sector: sector, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sector < out[j].Sector
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// sortByRisk orders assessments by risk level descending, with region and
// sector as deterministic tiebreaks.
func sortByRisk(assessments []*entity.RiskAssessment) {
	sort.Slice(assessments, func(i, j int) bool {
		if assessments[i].RiskLevel != assessments[j].RiskLevel {
			return assessments[i].RiskLevel > assessments[j].RiskLevel
		}
		if assessments[i].Region != assessments[j].Region {
			return assessments[i].Region < assessments[j].Region
		}
		return assessments[i].Sector < assessments[j].Sector
	})
}
