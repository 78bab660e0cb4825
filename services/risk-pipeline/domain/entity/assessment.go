package entity

import (
	"time"

	"github.com/chainwatch/platform/shared/types"
)

// RiskFactorType classifies a contributing factor of an assessment
type RiskFactorType string

const (
	RiskFactorRegional    RiskFactorType = "regional"
	RiskFactorSectoral    RiskFactorType = "sectoral"
	RiskFactorInteraction RiskFactorType = "interaction"
)

// RiskFactor describes one structured contributor to a risk assessment
type RiskFactor struct {
	Type        RiskFactorType `json:"type"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
}

// RiskAssessment represents a scored (region, sector) risk estimate derived
// from a single processed event. It references the event but does not own it.
type RiskAssessment struct {
	ID     types.AssessmentID `json:"id" db:"id"`
	Region string             `json:"region" db:"region"`
	Sector string             `json:"sector" db:"sector"`

	RiskLevel       float64            `json:"risk_level" db:"risk_level"`
	RiskCategory    types.RiskCategory `json:"risk_category" db:"risk_category"`
	RiskFactors     []RiskFactor       `json:"risk_factors" db:"-"`
	Recommendations []string           `json:"recommendations" db:"-"`
	ConfidenceScore float64            `json:"confidence_score" db:"confidence_score"`

	// DirectImpact is true when the region is the event's primary location
	// rather than a supply-chain-connected one.
	DirectImpact bool `json:"direct_impact" db:"direct_impact"`

	EventID   types.EventID `json:"event_id" db:"event_id"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// CacheKey returns the short-TTL cache key for the assessment
func (a *RiskAssessment) CacheKey() string {
	return a.Region + ":" + a.Sector
}

// BusinessProfile describes a subscribed business for impact scoring. The
// pipeline reads profiles, it never mutates them; ownership stays with the
// profile service.
type BusinessProfile struct {
	ID                types.ProfileID `json:"id" db:"id"`
	BusinessName      string          `json:"business_name" db:"business_name"`
	Industry          string          `json:"industry" db:"industry"`
	SupplyRegions     []string        `json:"supply_regions" db:"-"`
	CriticalMaterials []string        `json:"critical_materials" db:"-"`
	KeySuppliers      []string        `json:"key_suppliers" db:"-"`
	RiskTolerance     float64         `json:"risk_tolerance" db:"risk_tolerance"`
}

// BusinessRiskFactor describes one exposure factor for a business
type BusinessRiskFactor struct {
	Type        string   `json:"type"`
	Score       float64  `json:"score"`
	Description string   `json:"description"`
	Items       []string `json:"items,omitempty"`
}

// BusinessEventRisk captures the effect of one recent event on a business
type BusinessEventRisk struct {
	EventID    types.EventID `json:"event_id"`
	EventTitle string        `json:"event_title"`
	RiskLevel  float64       `json:"risk_level"`
	Region     string        `json:"region"`
	Sectors    []string      `json:"sectors,omitempty"`
}

// BusinessRiskReport is the aggregate business-impact view computed from the
// same scoring primitives as event assessments.
type BusinessRiskReport struct {
	ProfileID        types.ProfileID      `json:"profile_id"`
	BusinessName     string               `json:"business_name"`
	Industry         string               `json:"industry"`
	OverallRiskLevel float64              `json:"overall_risk_level"`
	RiskCategory     types.RiskCategory   `json:"risk_category"`
	IndividualRisks  []BusinessEventRisk  `json:"individual_risks"`
	RiskFactors      []BusinessRiskFactor `json:"risk_factors"`
	Recommendations  []string             `json:"recommendations"`
	AssessedAt       time.Time            `json:"assessed_at"`
}

// RiskSummary aggregates a batch of assessments for reporting
type RiskSummary struct {
	TotalAssessments int           `json:"total_assessments"`
	HighRiskCount    int           `json:"high_risk_count"`
	MediumRiskCount  int           `json:"medium_risk_count"`
	LowRiskCount     int           `json:"low_risk_count"`
	TopRiskRegions   []RegionCount `json:"top_risk_regions"`
	TopRiskSectors   []SectorCount `json:"top_risk_sectors"`
}

// RegionCount pairs a region with its assessment count
type RegionCount struct {
	Region string `json:"region"`
	Count  int    `json:"count"`
}

// SectorCount pairs a sector with its assessment count
type SectorCount struct {
	Sector string `json:"sector"`
	Count  int    `json:"count"`
}

// PortfolioRisk aggregates risk across a set of business profiles
type PortfolioRisk struct {
	OverallRisk      float64            `json:"overall_risk"`
	RiskDistribution map[string]float64 `json:"risk_distribution"`
	BusinessCount    int                `json:"business_count"`
}
