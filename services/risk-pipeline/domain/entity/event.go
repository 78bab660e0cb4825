package entity

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/chainwatch/platform/shared/types"
)

// RawEvent represents an unvalidated supply-chain signal as delivered by an
// external collector. Nothing in it is trusted: fields may be missing, blank,
// malformed, or out of range.
type RawEvent struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Source        string   `json:"source"`
	Location      string   `json:"location,omitempty"`
	Severity      *float64 `json:"severity,omitempty"`
	ImpactSectors []string `json:"impact_sectors,omitempty"`
	EventType     string   `json:"event_type"`
	PublishedAt   string   `json:"published_at,omitempty"`
	Timestamp     string   `json:"timestamp,omitempty"`
	URL           string   `json:"url,omitempty"`

	// ReceivedAt is stamped by the intake layer, not the producer.
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// DefaultSeverity is assumed when a collector omits the severity field.
const DefaultSeverity = 0.5

// SeverityOrDefault returns the event severity, substituting the default for
// missing values. The value is NOT clamped here; validation owns range checks.
func (e *RawEvent) SeverityOrDefault() float64 {
	if e.Severity == nil {
		return DefaultSeverity
	}
	return *e.Severity
}

// RawTimestamp returns whichever timestamp field the producer populated,
// preferring published_at.
func (e *RawEvent) RawTimestamp() string {
	if strings.TrimSpace(e.PublishedAt) != "" {
		return e.PublishedAt
	}
	return e.Timestamp
}

// EventStatus represents the processing status of an event
type EventStatus string

const (
	EventStatusReceived   EventStatus = "received"
	EventStatusValidated  EventStatus = "validated"
	EventStatusRejected   EventStatus = "rejected"
	EventStatusDiscarded  EventStatus = "discarded"
	EventStatusNormalized EventStatus = "normalized"
	EventStatusScored     EventStatus = "scored"
	EventStatusPublished  EventStatus = "published"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusFailed     EventStatus = "failed"
)

// IsTerminal reports whether the status ends the pipeline run for the event
func (s EventStatus) IsTerminal() bool {
	switch s {
	case EventStatusRejected, EventStatusDiscarded, EventStatusProcessed, EventStatusFailed:
		return true
	}
	return false
}

// Location represents a standardized location
type Location struct {
	Name        string      `json:"name" db:"location_name"`
	Country     string      `json:"country" db:"location_country"`
	Region      string      `json:"region" db:"location_region"`
	Coordinates Coordinates `json:"coordinates"`

	// Resolved is false when the input could not be matched against the
	// known-location tables and was carried through best-effort.
	Resolved bool `json:"resolved" db:"location_resolved"`
}

// Coordinates represents a lat/lon pair; zero values mean unresolved
type Coordinates struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
}

// IsZero reports whether the coordinates are unresolved
func (c Coordinates) IsZero() bool {
	return c.Latitude == 0 && c.Longitude == 0
}

// ProcessedEvent represents a RawEvent that has passed validation,
// deduplication, and normalization, and is ready for risk scoring.
type ProcessedEvent struct {
	ID types.EventID `json:"id" db:"id"`

	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Source      string          `json:"source" db:"source"`
	EventType   types.EventType `json:"event_type" db:"event_type"`
	URL         string          `json:"url,omitempty" db:"url"`

	Severity      float64  `json:"severity" db:"severity"`
	Location      Location `json:"location_standardized"`
	ImpactSectors []string `json:"impact_sectors" db:"-"`

	Timestamp time.Time `json:"timestamp" db:"event_timestamp"`

	// RawTimestampInput carries the producer's unparsed timestamp string
	// until normalization resolves it.
	RawTimestampInput string `json:"-" db:"-"`

	QualityScore     float64 `json:"quality_score" db:"quality_score"`
	DataQualityScore float64 `json:"data_quality_score" db:"data_quality_score"`

	// Warnings accumulated by validation and normalization; observability
	// signal only, never a drop reason on its own.
	Warnings []string `json:"warnings,omitempty" db:"-"`

	Status      EventStatus `json:"status" db:"status"`
	Processed   bool        `json:"processed" db:"processed"`
	ProcessedAt time.Time   `json:"processed_at,omitempty" db:"processed_at"`
	ReceivedAt  time.Time   `json:"received_at" db:"received_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`

	processedFlag atomic.Bool
}

// NewProcessedEvent creates a processed event shell for an accepted raw event
func NewProcessedEvent(raw *RawEvent) *ProcessedEvent {
	now := time.Now().UTC()

	receivedAt := raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	return &ProcessedEvent{
		ID:                types.NewEventID(),
		Title:             raw.Title,
		Description:       raw.Description,
		Source:            raw.Source,
		EventType:         types.NormalizeEventType(raw.EventType),
		URL:               raw.URL,
		Severity:          raw.SeverityOrDefault(),
		Location:          Location{Name: raw.Location},
		ImpactSectors:     append([]string(nil), raw.ImpactSectors...),
		RawTimestampInput: raw.RawTimestamp(),
		Status:            EventStatusReceived,
		ReceivedAt:        receivedAt,
		CreatedAt:         now,
	}
}

// SetStatus advances the event lifecycle
func (e *ProcessedEvent) SetStatus(status EventStatus) {
	e.Status = status
}

// TryMarkProcessed flips the processed flag exactly once. Returns false when
// another goroutine (or a redelivered run) already claimed the transition.
func (e *ProcessedEvent) TryMarkProcessed() bool {
	if !e.processedFlag.CompareAndSwap(false, true) {
		return false
	}

	e.Processed = true
	e.ProcessedAt = time.Now().UTC()
	e.Status = EventStatusProcessed
	return true
}

// HydrateProcessedFlag aligns the atomic guard with a persisted processed
// value after loading the event from storage.
func (e *ProcessedEvent) HydrateProcessedFlag() {
	e.processedFlag.Store(e.Processed)
}

// AddWarning records a non-fatal data quality warning
func (e *ProcessedEvent) AddWarning(warning string) {
	for _, w := range e.Warnings {
		if w == warning {
			return
		}
	}
	e.Warnings = append(e.Warnings, warning)
}

// PrimaryRegion returns the scoring region for the event: the standardized
// location name, or "Global" when unresolved and unnamed.
func (e *ProcessedEvent) PrimaryRegion() string {
	if e.Location.Name != "" {
		return e.Location.Name
	}
	return "Global"
}

// Age returns the elapsed time since the event's canonical timestamp
func (e *ProcessedEvent) Age(now time.Time) time.Duration {
	if e.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(e.Timestamp)
}

// ValidationResult represents the outcome of validating a raw event.
// Validation never fails with an error: it always produces a result, and the
// caller decides what to do with an invalid one.
type ValidationResult struct {
	IsValid      bool     `json:"is_valid"`
	QualityScore float64  `json:"quality_score"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// DuplicateReason identifies which signature level matched a prior event
type DuplicateReason string

const (
	DuplicateReasonNone    DuplicateReason = "none"
	DuplicateReasonExact   DuplicateReason = "exact"
	DuplicateReasonContent DuplicateReason = "content"
	DuplicateReasonFuzzy   DuplicateReason = "fuzzy"
)
