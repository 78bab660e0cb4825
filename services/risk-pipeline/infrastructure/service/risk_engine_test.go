package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/shared/types"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		SignificanceThreshold:       0.3,
		MaxAssessments:              20,
		EventTypeMultipliers:        config.DefaultEventTypeMultipliers(),
		RegionWeights:               config.DefaultRegionWeights(),
		UnknownRegionWeight:         0.45,
		SectorVulnerabilities:       config.DefaultSectorVulnerabilities(),
		DefaultSectorVulnerability:  0.5,
		SectorTypeAdjustments:       config.DefaultSectorTypeAdjustments(),
		RegionConnections:           config.DefaultRegionConnections(),
		DefaultSectors:              []string{"manufacturing", "shipping"},
		IndirectImpactFactor:        0.6,
		IndirectImpactCap:           0.8,
		DirectImpactBoost:           1.1,
		RegionalFactorThreshold:     0.6,
		SectoralFactorThreshold:     0.6,
		InteractionFactorThreshold:  0.5,
		UrgentRecommendationLevel:   0.7,
		ElevatedRecommendationLevel: 0.5,
		MaxRecommendations:          5,
		SupplierConcentrationMin:    3,
		SupplierConcentrationLow:    5,
		RegionalConcentrationStep:   0.2,
		RegionalConcentrationCap:    0.8,
		HighRiskRegionWeightFloor:   0.7,
		RecentEventWindow:           7 * 24 * time.Hour,
	}
}

func newTestEngine() *RiskEngine {
	return NewRiskEngine(testScoringConfig(), logging.NewNopLogger(), metrics.NewCollector("test"))
}

func scoredEvent(severity float64, location, eventType string, sectors []string) *entity.ProcessedEvent {
	event := entity.NewProcessedEvent(&entity.RawEvent{
		Title:         "Test disruption event with sufficient title",
		Description:   "A long enough description of the disruption under assessment here.",
		Severity:      &severity,
		EventType:     eventType,
		ImpactSectors: sectors,
	})
	event.Location = entity.Location{Name: location, Resolved: location != ""}
	event.ImpactSectors = sectors
	event.QualityScore = 0.8
	event.Timestamp = time.Now().UTC()
	return event
}

func TestAssessEventHighSeverityDirectHit(t *testing.T) {
	e := newTestEngine()

	event := scoredEvent(0.9, "China", "geopolitical", []string{"electronics"})
	assessments, err := e.AssessEvent(context.Background(), event)
	require.NoError(t, err)
	require.NotEmpty(t, assessments)

	var direct *entity.RiskAssessment
	for _, a := range assessments {
		if a.Region == "China" && a.Sector == "electronics" {
			direct = a
		}
	}
	require.NotNil(t, direct, "expected an assessment for the direct region and sector")

	assert.Greater(t, direct.RiskLevel, 0.7)
	assert.True(t, direct.DirectImpact)

	urgent := false
	for _, rec := range direct.Recommendations {
		if len(rec) >= 16 && rec[:16] == "Immediate action" {
			urgent = true
		}
	}
	assert.True(t, urgent, "expected an immediate-action recommendation, got %v", direct.Recommendations)
}

func TestAssessEventLowSeverityNoiseFiltered(t *testing.T) {
	e := newTestEngine()

	event := scoredEvent(0.1, "Unknown Town", "news", nil)
	assessments, err := e.AssessEvent(context.Background(), event)
	require.NoError(t, err)

	assert.Empty(t, assessments)
}

func TestAssessEventSignificanceThreshold(t *testing.T) {
	e := newTestEngine()

	for _, severity := range []float64{0.1, 0.5, 0.9} {
		event := scoredEvent(severity, "China", "weather", []string{"agriculture", "shipping"})
		assessments, err := e.AssessEvent(context.Background(), event)
		require.NoError(t, err)

		for _, a := range assessments {
			assert.GreaterOrEqual(t, a.RiskLevel, 0.3)
		}
	}
}

func TestAssessEventConnectedRegionsDamped(t *testing.T) {
	e := newTestEngine()

	event := scoredEvent(0.9, "China", "geopolitical", []string{"electronics"})
	assessments, err := e.AssessEvent(context.Background(), event)
	require.NoError(t, err)

	byRegion := make(map[string]*entity.RiskAssessment)
	for _, a := range assessments {
		if a.Sector == "electronics" {
			byRegion[a.Region] = a
		}
	}

	require.Contains(t, byRegion, "China")
	require.Contains(t, byRegion, "Taiwan")
	require.Contains(t, byRegion, "South Korea")

	assert.Less(t, byRegion["Taiwan"].RiskLevel, byRegion["China"].RiskLevel)
	assert.Less(t, byRegion["South Korea"].RiskLevel, byRegion["China"].RiskLevel)
	assert.False(t, byRegion["Taiwan"].DirectImpact)
}

func TestAssessEventClampsExtremeInputs(t *testing.T) {
	e := newTestEngine()

	for _, severity := range []float64{-5, 0, 1, 100} {
		event := scoredEvent(severity, "China", "geopolitical", []string{"semiconductors"})
		event.Severity = severity
		assessments, err := e.AssessEvent(context.Background(), event)
		require.NoError(t, err)

		for _, a := range assessments {
			assert.GreaterOrEqual(t, a.RiskLevel, 0.0)
			assert.LessOrEqual(t, a.RiskLevel, 1.0)
			assert.GreaterOrEqual(t, a.ConfidenceScore, 0.0)
			assert.LessOrEqual(t, a.ConfidenceScore, 1.0)
		}
	}
}

func TestAssessEventDefaultSectorsWhenEmpty(t *testing.T) {
	e := newTestEngine()

	event := scoredEvent(0.9, "China", "geopolitical", nil)
	assessments, err := e.AssessEvent(context.Background(), event)
	require.NoError(t, err)
	require.NotEmpty(t, assessments)

	sectors := make(map[string]struct{})
	for _, a := range assessments {
		sectors[a.Sector] = struct{}{}
	}
	assert.Contains(t, sectors, "manufacturing")
	assert.Contains(t, sectors, "shipping")
}

func TestAssessEventBoundedOutput(t *testing.T) {
	e := newTestEngine()

	event := scoredEvent(1.0, "China", "geopolitical",
		[]string{"electronics", "semiconductors", "automotive", "energy", "shipping", "manufacturing", "retail", "textiles"})
	assessments, err := e.AssessEvent(context.Background(), event)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(assessments), 20)
	for i := 1; i < len(assessments); i++ {
		assert.GreaterOrEqual(t, assessments[i-1].RiskLevel, assessments[i].RiskLevel,
			"assessments must be sorted by risk descending")
	}
}

func TestRiskFactorsInteraction(t *testing.T) {
	e := newTestEngine()

	event := scoredEvent(1.0, "China", "geopolitical", []string{"semiconductors"})
	assessments, err := e.AssessEvent(context.Background(), event)
	require.NoError(t, err)
	require.NotEmpty(t, assessments)

	top := assessments[0]
	typesSeen := make(map[entity.RiskFactorType]bool)
	for _, f := range top.RiskFactors {
		typesSeen[f.Type] = true
	}

	assert.True(t, typesSeen[entity.RiskFactorRegional])
	assert.True(t, typesSeen[entity.RiskFactorSectoral])
	assert.True(t, typesSeen[entity.RiskFactorInteraction])
}

func TestApplyTimeDecayBuckets(t *testing.T) {
	e := newTestEngine()
	now := time.Now().UTC()

	mkAssessment := func(level float64) *entity.RiskAssessment {
		return &entity.RiskAssessment{
			ID:        types.NewAssessmentID(),
			Region:    "China",
			Sector:    "electronics",
			RiskLevel: level,
			EventID:   types.NewEventID(),
			CreatedAt: now,
		}
	}

	cases := []struct {
		age  time.Duration
		want float64
	}{
		{12 * time.Hour, 0.8},
		{3 * 24 * time.Hour, 0.64},
		{14 * 24 * time.Hour, 0.48},
		{60 * 24 * time.Hour, 0.32},
	}

	for _, tc := range cases {
		a := mkAssessment(0.8)
		ages := map[string]time.Duration{a.EventID.String(): tc.age}
		decayed := e.ApplyTimeDecay([]*entity.RiskAssessment{a}, ages, now)
		require.Len(t, decayed, 1, "age %v", tc.age)
		assert.InDelta(t, tc.want, decayed[0].RiskLevel, 1e-9)
	}
}

func TestApplyTimeDecayDropsBelowThreshold(t *testing.T) {
	e := newTestEngine()
	now := time.Now().UTC()

	a := &entity.RiskAssessment{
		ID:        types.NewAssessmentID(),
		RiskLevel: 0.5,
		EventID:   types.NewEventID(),
		CreatedAt: now,
	}
	ages := map[string]time.Duration{a.EventID.String(): 60 * 24 * time.Hour}

	decayed := e.ApplyTimeDecay([]*entity.RiskAssessment{a}, ages, now)
	assert.Empty(t, decayed, "0.5 decayed to 0.2 falls below the threshold")
}

func TestApplyTimeDecayDoesNotMutateInput(t *testing.T) {
	e := newTestEngine()
	now := time.Now().UTC()

	a := &entity.RiskAssessment{
		ID:        types.NewAssessmentID(),
		RiskLevel: 0.9,
		EventID:   types.NewEventID(),
		CreatedAt: now,
	}
	ages := map[string]time.Duration{a.EventID.String(): 3 * 24 * time.Hour}

	_ = e.ApplyTimeDecay([]*entity.RiskAssessment{a}, ages, now)
	assert.InDelta(t, 0.9, a.RiskLevel, 1e-9)
}

func TestAssessBusinessExposure(t *testing.T) {
	e := newTestEngine()

	profile := &entity.BusinessProfile{
		ID:            types.NewProfileID(),
		BusinessName:  "Acme Devices",
		Industry:      "electronics",
		SupplyRegions: []string{"China", "Taiwan"},
		KeySuppliers:  []string{"Shenzhen Components"},
		RiskTolerance: 0.5,
	}

	events := []*entity.ProcessedEvent{
		scoredEvent(0.9, "China", "geopolitical", []string{"electronics"}),
		scoredEvent(0.4, "Germany", "economic", []string{"automotive"}),
	}

	report, err := e.AssessBusiness(context.Background(), profile, events)
	require.NoError(t, err)

	// Only the China event is relevant to this profile
	require.Len(t, report.IndividualRisks, 1)
	assert.Equal(t, "China", report.IndividualRisks[0].Region)

	factorTypes := make(map[string]bool)
	for _, f := range report.RiskFactors {
		factorTypes[f.Type] = true
	}
	assert.True(t, factorTypes["supplier_concentration"], "one supplier should flag concentration")
	assert.True(t, factorTypes["regional_concentration"], "China and Taiwan are high-criticality regions")

	assert.Greater(t, report.OverallRiskLevel, 0.0)
	assert.LessOrEqual(t, report.OverallRiskLevel, 1.0)
	assert.NotEmpty(t, report.Recommendations)
}

func TestAssessBusinessNilProfile(t *testing.T) {
	e := newTestEngine()

	_, err := e.AssessBusiness(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestAssessPortfolio(t *testing.T) {
	e := newTestEngine()

	reports := []*entity.BusinessRiskReport{
		{OverallRiskLevel: 0.8, RiskCategory: types.RiskCategoryHigh},
		{OverallRiskLevel: 0.2, RiskCategory: types.RiskCategoryLow},
	}

	portfolio, err := e.AssessPortfolio(context.Background(), reports)
	require.NoError(t, err)

	assert.Equal(t, 2, portfolio.BusinessCount)
	assert.InDelta(t, 0.5, portfolio.OverallRisk, 1e-9)
	assert.InDelta(t, 0.5, portfolio.RiskDistribution["high"], 1e-9)
	assert.InDelta(t, 0.5, portfolio.RiskDistribution["low"], 1e-9)
}

func TestAssessPortfolioEmpty(t *testing.T) {
	e := newTestEngine()

	portfolio, err := e.AssessPortfolio(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, portfolio.BusinessCount)
	assert.Zero(t, portfolio.OverallRisk)
}

func TestSummarize(t *testing.T) {
	e := newTestEngine()

	assessments := []*entity.RiskAssessment{
		{Region: "China", Sector: "electronics", RiskLevel: 0.9, RiskCategory: types.RiskCategoryCritical},
		{Region: "China", Sector: "shipping", RiskLevel: 0.75, RiskCategory: types.RiskCategoryHigh},
		{Region: "Taiwan", Sector: "electronics", RiskLevel: 0.5, RiskCategory: types.RiskCategoryMedium},
		{Region: "Germany", Sector: "automotive", RiskLevel: 0.35, RiskCategory: types.RiskCategoryLow},
	}

	summary := e.Summarize(assessments)

	assert.Equal(t, 4, summary.TotalAssessments)
	assert.Equal(t, 2, summary.HighRiskCount)
	assert.Equal(t, 1, summary.MediumRiskCount)
	assert.Equal(t, 1, summary.LowRiskCount)

	require.NotEmpty(t, summary.TopRiskRegions)
	assert.Equal(t, "China", summary.TopRiskRegions[0].Region)
	assert.Equal(t, 2, summary.TopRiskRegions[0].Count)

	require.NotEmpty(t, summary.TopRiskSectors)
	assert.Equal(t, "electronics", summary.TopRiskSectors[0].Sector)
}
