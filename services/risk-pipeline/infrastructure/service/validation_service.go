package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
)

// Field length limits. Overshoot is a warning, undershoot an error.
const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

// severityKeywords maps severity bands to lexicon entries used for the
// content-consistency cross-check.
var severityKeywords = map[string][]string{
	"high":   {"critical", "severe", "major", "catastrophic", "emergency", "crisis", "shutdown", "collapse"},
	"medium": {"significant", "moderate", "disruption", "delay", "shortage", "strike", "warning"},
	"low":    {"minor", "slight", "limited", "small", "routine", "update"},
}

// domainKeywords are supply-chain-relevant terms that raise title quality
var domainKeywords = []string{
	"supply", "chain", "port", "shipping", "factory", "production", "shortage",
	"disruption", "trade", "tariff", "logistics", "manufacturing", "export",
	"import", "strike", "embargo", "semiconductor", "freight",
}

// ValidationService checks raw events and computes their quality score
type ValidationService struct {
	config  config.ValidationConfig
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewValidationService creates a new validation service
func NewValidationService(cfg config.ValidationConfig, logger *logging.Logger, collector *metrics.Collector) *ValidationService {
	return &ValidationService{
		config:  cfg,
		logger:  logger.WithComponent("validator"),
		metrics: collector,
	}
}

// Validate checks a raw event's fields and computes its quality score. It is
// pure with respect to the event and always returns a result; malformed input
// shows up as errors in the result, never as a Go error.
func (s *ValidationService) Validate(ctx context.Context, raw *entity.RawEvent) *entity.ValidationResult {
	result := &entity.ValidationResult{}

	var quality float64
	quality += s.scoreTitle(raw, result)
	quality += s.scoreDescription(raw, result)
	quality += s.scoreSeverity(raw, result)
	quality += s.scoreLocation(raw, result)
	quality += s.scoreSectors(raw, result)
	s.checkURL(raw, result)

	result.QualityScore = clamp01(quality)
	result.IsValid = len(result.Errors) == 0 && result.QualityScore >= s.config.MinQualityScore

	if !result.IsValid {
		s.logger.Debug("Event failed validation",
			logging.Strings("errors", result.Errors),
			logging.Float64("quality_score", result.QualityScore),
		)
	}
	s.metrics.RecordQualityScore(result.QualityScore)

	return result
}

// scoreTitle contributes up to 0.2 for length appropriateness plus up to 0.15
// for content heuristics.
func (s *ValidationService) scoreTitle(raw *entity.RawEvent, result *entity.ValidationResult) float64 {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		result.Errors = append(result.Errors, "title is required")
		return 0
	}

	minLen := s.config.MinTitleLength
	if len(title) < minLen {
		result.Errors = append(result.Errors, fmt.Sprintf("title too short: %d chars, minimum %d", len(title), minLen))
		return 0
	}

	score := 0.2
	if len(title) > maxTitleLength {
		result.Warnings = append(result.Warnings, fmt.Sprintf("title exceeds %d chars", maxTitleLength))
		score = 0.15
	}

	// Content heuristics, each worth 0.05
	if alphanumericRatio(title) > 0.7 {
		score += 0.05
	}
	if r := []rune(title); len(r) > 0 && unicode.IsUpper(r[0]) {
		score += 0.05
	}
	if containsAnyKeyword(strings.ToLower(title), domainKeywords) {
		score += 0.05
	}

	return score
}

// scoreDescription contributes up to 0.3 for length plus up to 0.2 for
// richness.
func (s *ValidationService) scoreDescription(raw *entity.RawEvent, result *entity.ValidationResult) float64 {
	desc := strings.TrimSpace(raw.Description)
	if desc == "" {
		result.Errors = append(result.Errors, "description is required")
		return 0
	}

	minLen := s.config.MinDescriptionLength
	if len(desc) < minLen {
		result.Errors = append(result.Errors, fmt.Sprintf("description too short: %d chars, minimum %d", len(desc), minLen))
		return 0
	}

	score := 0.3
	if len(desc) > maxDescriptionLength {
		result.Warnings = append(result.Warnings, fmt.Sprintf("description exceeds %d chars", maxDescriptionLength))
		score = 0.25
	}

	// Richness bonuses: multi-sentence structure and word count
	if strings.Count(desc, ".")+strings.Count(desc, "!")+strings.Count(desc, "?") >= 2 {
		score += 0.1
	}
	if len(strings.Fields(desc)) >= 30 {
		score += 0.1
	}

	return score
}

// scoreSeverity contributes up to 0.2 base plus up to 0.1 for consistency
// with severity keywords found in the text.
func (s *ValidationService) scoreSeverity(raw *entity.RawEvent, result *entity.ValidationResult) float64 {
	if raw.Severity == nil {
		// Missing severity takes the default downstream; present-but-invalid
		// is the error case.
		result.Warnings = append(result.Warnings, "severity missing, default assumed")
		return 0.1
	}

	sev := *raw.Severity
	if sev < 0 || sev > 1 {
		result.Errors = append(result.Errors, fmt.Sprintf("severity out of range [0,1]: %f", sev))
		return 0
	}

	score := 0.2

	band := severityBand(sev)
	text := strings.ToLower(raw.Title + " " + raw.Description)

	// The expected band wins when the text signals several bands at once
	matched := ""
	if containsAnyKeyword(text, severityKeywords[band]) {
		matched = band
	} else {
		for _, candidate := range []string{"high", "medium", "low"} {
			if containsAnyKeyword(text, severityKeywords[candidate]) {
				matched = candidate
				break
			}
		}
	}

	switch {
	case matched == "":
		// No lexicon signal either way
		score += 0.05
	case matched == band:
		score += 0.1
	default:
		result.Warnings = append(result.Warnings, fmt.Sprintf("severity %0.2f inconsistent with %s-severity language", sev, matched))
	}

	return score
}

// scoreLocation contributes up to 0.1; location is optional
func (s *ValidationService) scoreLocation(raw *entity.RawEvent, result *entity.ValidationResult) float64 {
	loc := strings.TrimSpace(raw.Location)
	if loc == "" {
		return 0
	}

	if len(loc) < 2 || alphanumericRatio(loc) < 0.5 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("location looks implausible: %q", raw.Location))
		return 0.05
	}

	return 0.1
}

// scoreSectors contributes up to 0.15; sectors are optional
func (s *ValidationService) scoreSectors(raw *entity.RawEvent, result *entity.ValidationResult) float64 {
	if len(raw.ImpactSectors) == 0 {
		return 0
	}

	valid := 0
	for _, sector := range raw.ImpactSectors {
		if strings.TrimSpace(sector) != "" {
			valid++
		}
	}

	if valid == 0 {
		result.Warnings = append(result.Warnings, "impact_sectors contains only blank entries")
		return 0
	}

	if valid < len(raw.ImpactSectors) {
		result.Warnings = append(result.Warnings, "impact_sectors contains blank entries")
	}

	// 0.05 per populated sector up to the cap
	score := 0.05 * float64(valid)
	if score > 0.15 {
		score = 0.15
	}
	return score
}

// checkURL validates the optional url for plausibility; warnings only
func (s *ValidationService) checkURL(raw *entity.RawEvent, result *entity.ValidationResult) {
	url := strings.TrimSpace(raw.URL)
	if url == "" {
		return
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		result.Warnings = append(result.Warnings, fmt.Sprintf("url missing scheme: %q", raw.URL))
	}
}

// severityBand maps a numeric severity into the keyword lexicon bands
func severityBand(severity float64) string {
	switch {
	case severity >= 0.7:
		return "high"
	case severity >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

// alphanumericRatio returns the proportion of letter and digit runes in s.
// Whitespace and punctuation count toward the total only.
func alphanumericRatio(s string) float64 {
	if s == "" {
		return 0
	}

	total := 0
	alnum := 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}

	return float64(alnum) / float64(total)
}

// containsAnyKeyword reports whether text contains any of the keywords
func containsAnyKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// clamp01 bounds v to [0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
