package repository

import (
	"context"
	"time"

	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/shared/types"
)

// EventRepository defines the interface for processed-event persistence
type EventRepository interface {
	Create(ctx context.Context, event *entity.ProcessedEvent) error
	GetByID(ctx context.Context, eventID types.EventID) (*entity.ProcessedEvent, error)
	UpdateStatus(ctx context.Context, eventID types.EventID, status entity.EventStatus) error

	// MarkProcessed sets the processed flag only when it is still unset,
	// returning whether this call won the transition.
	MarkProcessed(ctx context.Context, eventID types.EventID) (bool, error)

	// GetRecent returns processed events within the window, newest first,
	// for business-impact scoring.
	GetRecent(ctx context.Context, since time.Time, limit int) ([]*entity.ProcessedEvent, error)
}

// AssessmentRepository defines the interface for risk-assessment persistence
type AssessmentRepository interface {
	CreateBatch(ctx context.Context, assessments []*entity.RiskAssessment) error
	GetByEventID(ctx context.Context, eventID types.EventID) ([]*entity.RiskAssessment, error)
	// GetByRegionSector filters by region and sector; an empty string
	// matches all values for that dimension, and limit <= 0 means no limit.
	GetByRegionSector(ctx context.Context, region, sector string, since time.Time, limit int) ([]*entity.RiskAssessment, error)
}

// ProfileRepository provides read-only access to business profiles; the
// pipeline never writes them.
type ProfileRepository interface {
	GetByID(ctx context.Context, profileID types.ProfileID) (*entity.BusinessProfile, error)
	List(ctx context.Context, limit, offset int) ([]*entity.BusinessProfile, error)
}

// SignatureStore is the shared duplicate-signature state. CheckAndInsert must
// be atomic per signature: when two concurrent events carry the same
// signature, exactly one caller observes inserted=true.
type SignatureStore interface {
	// CheckAndInsert records the signature if absent. Returns true when the
	// signature was newly inserted, false when it already existed.
	CheckAndInsert(ctx context.Context, signature string, seenAt time.Time) (bool, error)

	// Contains reports whether the signature is currently known, without
	// mutating the store.
	Contains(ctx context.Context, signature string) (bool, error)

	// Remove deletes signatures, used to roll back a partial multi-signature
	// insert when a later level matches.
	Remove(ctx context.Context, signatures ...string) error

	// Cleanup purges signatures older than the retention window and returns
	// the number removed. It must not block concurrent CheckAndInsert calls
	// beyond the per-signature critical section.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Len returns the current number of stored signatures, for metrics.
	Len(ctx context.Context) (int, error)
}

// AssessmentCache is the short-TTL read-side cache keyed by region:sector
type AssessmentCache interface {
	SetAssessments(ctx context.Context, assessments []*entity.RiskAssessment, ttl time.Duration) error
	GetAssessments(ctx context.Context, region, sector string) ([]*entity.RiskAssessment, error)
	SetSummary(ctx context.Context, summary *entity.RiskSummary, ttl time.Duration) error
	GetSummary(ctx context.Context) (*entity.RiskSummary, error)
}

// AssessmentPublisher delivers scored events to the downstream alerting
// fan-out.
type AssessmentPublisher interface {
	PublishAssessments(ctx context.Context, eventID types.EventID, assessments []*entity.RiskAssessment) error
}
