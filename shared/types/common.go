package types

import (
	"time"

	"github.com/google/uuid"
)

// EventID represents a unique processed-event identifier
type EventID uuid.UUID

// AssessmentID represents a unique risk-assessment identifier
type AssessmentID uuid.UUID

// ProfileID represents a unique business-profile identifier
type ProfileID uuid.UUID

// CorrelationID represents a unique request correlation identifier
type CorrelationID uuid.UUID

// String returns the string representation of EventID
func (e EventID) String() string {
	return uuid.UUID(e).String()
}

// String returns the string representation of AssessmentID
func (a AssessmentID) String() string {
	return uuid.UUID(a).String()
}

// String returns the string representation of ProfileID
func (p ProfileID) String() string {
	return uuid.UUID(p).String()
}

// String returns the string representation of CorrelationID
func (c CorrelationID) String() string {
	return uuid.UUID(c).String()
}

// NewEventID generates a new event ID
func NewEventID() EventID {
	return EventID(uuid.New())
}

// NewAssessmentID generates a new assessment ID
func NewAssessmentID() AssessmentID {
	return AssessmentID(uuid.New())
}

// NewProfileID generates a new profile ID
func NewProfileID() ProfileID {
	return ProfileID(uuid.New())
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New())
}

// ParseEventID parses an event ID from its string form
func ParseEventID(s string) (EventID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, err
	}
	return EventID(id), nil
}

// ParseAssessmentID parses an assessment ID from its string form
func ParseAssessmentID(s string) (AssessmentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return AssessmentID{}, err
	}
	return AssessmentID(id), nil
}

// ParseProfileID parses a profile ID from its string form
func ParseProfileID(s string) (ProfileID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ProfileID{}, err
	}
	return ProfileID(id), nil
}

// Text marshaling keeps the canonical UUID string form on the wire and in
// JSON, matching String().

// MarshalText implements encoding.TextMarshaler
func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *EventID) UnmarshalText(data []byte) error {
	id, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = id
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (a AssessmentID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *AssessmentID) UnmarshalText(data []byte) error {
	id, err := ParseAssessmentID(string(data))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (p ProfileID) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *ProfileID) UnmarshalText(data []byte) error {
	id, err := ParseProfileID(string(data))
	if err != nil {
		return err
	}
	*p = id
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (c CorrelationID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *CorrelationID) UnmarshalText(data []byte) error {
	id, err := uuid.Parse(string(data))
	if err != nil {
		return err
	}
	*c = CorrelationID(id)
	return nil
}

// EventType represents the class of an external supply-chain signal
type EventType string

const (
	EventTypeNews         EventType = "news"
	EventTypeWeather      EventType = "weather"
	EventTypeEconomic     EventType = "economic"
	EventTypeGeopolitical EventType = "geopolitical"
	EventTypeShipping     EventType = "shipping"
	EventTypeOther        EventType = "other"
)

// KnownEventTypes lists every recognized event type
var KnownEventTypes = []EventType{
	EventTypeNews,
	EventTypeWeather,
	EventTypeEconomic,
	EventTypeGeopolitical,
	EventTypeShipping,
	EventTypeOther,
}

// IsKnown reports whether the event type is one of the recognized types
func (t EventType) IsKnown() bool {
	for _, known := range KnownEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// NormalizeEventType maps an arbitrary type string onto a recognized type,
// falling back to EventTypeOther
func NormalizeEventType(s string) EventType {
	t := EventType(s)
	if t.IsKnown() {
		return t
	}
	return EventTypeOther
}

// RiskCategory buckets a risk level for reporting and alert routing
type RiskCategory string

const (
	RiskCategoryLow      RiskCategory = "low"
	RiskCategoryMedium   RiskCategory = "medium"
	RiskCategoryHigh     RiskCategory = "high"
	RiskCategoryCritical RiskCategory = "critical"
)

// CategorizeRisk maps a risk level in [0,1] to a category
func CategorizeRisk(level float64) RiskCategory {
	switch {
	case level >= 0.85:
		return RiskCategoryCritical
	case level > 0.7:
		return RiskCategoryHigh
	case level >= 0.4:
		return RiskCategoryMedium
	default:
		return RiskCategoryLow
	}
}

// RequestContext carries request-scoped correlation data through the pipeline
type RequestContext struct {
	CorrelationID CorrelationID `json:"correlation_id"`
	Source        string        `json:"source"`
	TraceID       string        `json:"trace_id,omitempty"`
	SpanID        string        `json:"span_id,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NewRequestContext creates a request context for a pipeline run
func NewRequestContext(source string) *RequestContext {
	return &RequestContext{
		CorrelationID: NewCorrelationID(),
		Source:        source,
		Timestamp:     time.Now().UTC(),
	}
}
