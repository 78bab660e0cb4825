package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
)

func newTestValidator() *ValidationService {
	return NewValidationService(config.ValidationConfig{
		MinQualityScore:      0.3,
		MinTitleLength:       10,
		MinDescriptionLength: 20,
	}, logging.NewNopLogger(), metrics.NewCollector("test"))
}

func severityPtr(v float64) *float64 {
	return &v
}

func goodRawEvent() *entity.RawEvent {
	return &entity.RawEvent{
		Title:       "Major port disruption halts container shipping in Shanghai",
		Description: "Severe congestion at the port of Shanghai has delayed container shipping schedules across East Asia. Freight forwarders report multi-day backlogs.",
		Source:      "test-feed",
		Location:    "Shanghai",
		Severity:    severityPtr(0.8),
		EventType:   "news",
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	v := newTestValidator()

	result := v.Validate(context.Background(), goodRawEvent())

	require.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.GreaterOrEqual(t, result.QualityScore, 0.3)
	assert.LessOrEqual(t, result.QualityScore, 1.0)
}

func TestValidateRejectsMissingTitle(t *testing.T) {
	v := newTestValidator()

	raw := goodRawEvent()
	raw.Title = ""
	result := v.Validate(context.Background(), raw)

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "title is required")
}

func TestValidateRejectsShortFields(t *testing.T) {
	v := newTestValidator()

	raw := goodRawEvent()
	raw.Title = "Too short"
	result := v.Validate(context.Background(), raw)
	assert.False(t, result.IsValid)

	raw = goodRawEvent()
	raw.Description = "Brief."
	result = v.Validate(context.Background(), raw)
	assert.False(t, result.IsValid)
}

func TestValidateRejectsSeverityOutOfRange(t *testing.T) {
	v := newTestValidator()

	for _, sev := range []float64{-0.1, 1.5, 100} {
		raw := goodRawEvent()
		raw.Severity = severityPtr(sev)
		result := v.Validate(context.Background(), raw)
		assert.False(t, result.IsValid, "severity %f should be rejected", sev)
	}
}

func TestValidateMissingSeverityIsWarningOnly(t *testing.T) {
	v := newTestValidator()

	raw := goodRawEvent()
	raw.Severity = nil
	result := v.Validate(context.Background(), raw)

	assert.True(t, result.IsValid)
	assert.Contains(t, result.Warnings, "severity missing, default assumed")
}

func TestValidateLongTitleWarnsButPasses(t *testing.T) {
	v := newTestValidator()

	raw := goodRawEvent()
	raw.Title = strings.Repeat("Port congestion ", 20)
	result := v.Validate(context.Background(), raw)

	assert.True(t, result.IsValid)
	assert.NotEmpty(t, result.Warnings)
}

func TestValidateSeverityInconsistencyWarnsOnly(t *testing.T) {
	v := newTestValidator()

	raw := goodRawEvent()
	raw.Severity = severityPtr(0.1)
	raw.Title = "Catastrophic factory shutdown cripples production"
	result := v.Validate(context.Background(), raw)

	assert.True(t, result.IsValid)
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "inconsistent") {
			found = true
		}
	}
	assert.True(t, found, "expected a consistency warning, got %v", result.Warnings)
}

func TestValidateTitleSymbolNoiseLosesContentBonus(t *testing.T) {
	v := newTestValidator()

	event := func(title string) *entity.RawEvent {
		return &entity.RawEvent{
			Title:       title,
			Description: "Forwarders report multi-day backlogs at the terminal.",
			Source:      "test-feed",
		}
	}

	cleanResult := v.Validate(context.Background(), event("Portside freight delays mounting"))
	noisyResult := v.Validate(context.Background(), event("Portside freight delays ##//##//"))

	// Only letters and digits count toward the title text ratio, so the
	// symbol-heavy variant misses the 0.05 content bonus.
	assert.InDelta(t, 0.05, cleanResult.QualityScore-noisyResult.QualityScore, 1e-9)
}

func TestValidateIsDeterministic(t *testing.T) {
	v := newTestValidator()
	raw := goodRawEvent()

	first := v.Validate(context.Background(), raw)
	second := v.Validate(context.Background(), raw)

	assert.Equal(t, first, second)
}

func TestValidateQualityScoreClamped(t *testing.T) {
	v := newTestValidator()

	raw := goodRawEvent()
	raw.ImpactSectors = []string{"electronics", "shipping", "automotive", "energy", "retail"}
	raw.URL = "https://example.com/report"
	result := v.Validate(context.Background(), raw)

	assert.LessOrEqual(t, result.QualityScore, 1.0)
	assert.GreaterOrEqual(t, result.QualityScore, 0.0)
}
