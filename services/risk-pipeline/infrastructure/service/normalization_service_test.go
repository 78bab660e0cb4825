package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
)

func newTestNormalizer() *NormalizationService {
	n := NewNormalizationService(logging.NewNopLogger())
	n.now = func() time.Time {
		return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	}
	return n
}

func TestNormalizeResolvesLocationAlias(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{Location: "la"})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, "Los Angeles", event.Location.Name)
	assert.Equal(t, "United States", event.Location.Country)
	assert.True(t, event.Location.Resolved)
	assert.False(t, event.Location.Coordinates.IsZero())
}

func TestNormalizeResolvesCountryAlias(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{Location: "USA"})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, "United States", event.Location.Name)
	assert.True(t, event.Location.Resolved)
}

func TestNormalizeSubstringLocationMatch(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{Location: "port of shanghai"})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, "Shanghai", event.Location.Name)
	assert.Equal(t, "China", event.Location.Country)
}

func TestNormalizeUnknownLocationTitleCased(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{Location: "smallville district"})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, "Smallville District", event.Location.Name)
	assert.False(t, event.Location.Resolved)
	assert.NotEmpty(t, event.Warnings)
}

func TestNormalizeSectorsMapKeywords(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{
		ImpactSectors: []string{"Chips", "oil and gas", "chip makers", "handicrafts"},
	})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, []string{"electronics", "energy", "handicrafts"}, event.ImpactSectors)
}

func TestNormalizeSectorsDeduplicates(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{
		ImpactSectors: []string{"shipping", "freight", "Cargo"},
	})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, []string{"shipping"}, event.ImpactSectors)
}

func TestNormalizeTextCleanup(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{
		Title: "Govt  imposes\ttariffs on “imported”  goods",
	})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, `Government imposes tariffs on "imported" goods`, event.Title)
}

func TestNormalizeTimestampFormats(t *testing.T) {
	n := newTestNormalizer()

	cases := map[string]time.Time{
		"2026-08-20T10:30:00Z": time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		"2026-08-20 10:30:00":  time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		"2026-08-20":           time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		"20/08/2026":           time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}

	for input, want := range cases {
		event := entity.NewProcessedEvent(&entity.RawEvent{PublishedAt: input})
		require.NoError(t, n.Normalize(context.Background(), event))
		assert.True(t, event.Timestamp.Equal(want), "input %q gave %v", input, event.Timestamp)
	}
}

func TestNormalizeTimestampFallbackWarns(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{PublishedAt: "last Tuesday"})
	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC), event.Timestamp)
	assert.Contains(t, event.Warnings, "timestamp unparseable, processing time substituted")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newTestNormalizer()

	event := entity.NewProcessedEvent(&entity.RawEvent{
		Title:         "Typhoon  approaches “Taiwan” coast",
		Location:      "roc",
		ImpactSectors: []string{"chip", "Shipping"},
		PublishedAt:   "2026-08-20",
	})

	require.NoError(t, n.Normalize(context.Background(), event))

	title := event.Title
	location := event.Location
	sectors := append([]string(nil), event.ImpactSectors...)
	ts := event.Timestamp

	require.NoError(t, n.Normalize(context.Background(), event))

	assert.Equal(t, title, event.Title)
	assert.Equal(t, location, event.Location)
	assert.Equal(t, sectors, event.ImpactSectors)
	assert.True(t, ts.Equal(event.Timestamp))
}
