package service

import (
	"context"
	"time"

	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
)

// EventValidator defines the interface for raw event validation
type EventValidator interface {
	// Validate checks a raw event's fields and computes its quality score.
	// It always returns a result; malformed input is reported through the
	// result, never as an error.
	Validate(ctx context.Context, raw *entity.RawEvent) *entity.ValidationResult
}

// DuplicateDetector defines the interface for multi-level duplicate detection
type DuplicateDetector interface {
	// Check computes the event's signatures and atomically registers them in
	// the shared signature store. A non-none reason means a prior event
	// already claimed one of the signatures and this event must be discarded.
	Check(ctx context.Context, event *entity.ProcessedEvent) (entity.DuplicateReason, error)

	// Signatures returns the exact, content, and fuzzy signatures for an
	// event without touching the store. Exposed for diagnostics and for
	// capturing the registered signatures before later stages mutate the
	// event.
	Signatures(event *entity.ProcessedEvent) (exact, content, fuzzy string)

	// Release removes previously registered signatures so a redelivered
	// copy of the event can pass the duplicate check again after a
	// downstream failure.
	Release(ctx context.Context, signatures ...string) error
}

// EventNormalizer defines the interface for best-effort field normalization
type EventNormalizer interface {
	// Normalize standardizes the event's location, sectors, text, severity,
	// and timestamp in place. It never rejects an event: unmappable values
	// are carried through with a warning on the event.
	Normalize(ctx context.Context, event *entity.ProcessedEvent) error
}

// RiskEngine defines the interface for risk scoring
type RiskEngine interface {
	// AssessEvent produces the supply-chain-wide assessments for one
	// normalized event: the direct region plus connected regions, crossed
	// with the affected sectors. Assessments below the significance
	// threshold are omitted.
	AssessEvent(ctx context.Context, event *entity.ProcessedEvent) ([]*entity.RiskAssessment, error)

	// AssessBusiness scores a business profile's exposure against recent
	// scored events.
	AssessBusiness(ctx context.Context, profile *entity.BusinessProfile, recent []*entity.ProcessedEvent) (*entity.BusinessRiskReport, error)

	// AssessPortfolio aggregates business reports into a portfolio view
	AssessPortfolio(ctx context.Context, reports []*entity.BusinessRiskReport) (*entity.PortfolioRisk, error)

	// Summarize aggregates a batch of assessments for reporting
	Summarize(assessments []*entity.RiskAssessment) *entity.RiskSummary

	// ApplyTimeDecay discounts risk levels by event age, drops assessments
	// that fall below the significance threshold, and returns the survivors
	// sorted by risk descending, capped at the configured maximum. Ages are
	// keyed by event ID; assessments without an age entry decay by their own
	// creation time.
	ApplyTimeDecay(assessments []*entity.RiskAssessment, eventAges map[string]time.Duration, now time.Time) []*entity.RiskAssessment
}
