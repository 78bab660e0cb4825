package service

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
)

// locationEntry is one row of the known-location knowledge table
type locationEntry struct {
	Name        string
	Country     string
	Region      string
	Coordinates entity.Coordinates
}

// locationAliases maps common shorthand to canonical location names. Keys
// are lowercased.
var locationAliases = map[string]string{
	"la":        "Los Angeles",
	"l.a.":      "Los Angeles",
	"nyc":       "New York",
	"sf":        "San Francisco",
	"usa":       "United States",
	"us":        "United States",
	"u.s.":      "United States",
	"uk":        "United Kingdom",
	"u.k.":      "United Kingdom",
	"uae":       "United Arab Emirates",
	"prc":       "China",
	"roc":       "Taiwan",
	"sk":        "South Korea",
	"korea":     "South Korea",
	"holland":   "Netherlands",
	"worldwide": "Global",
	"global":    "Global",
}

// knownLocations is the hub/country knowledge table, keyed by lowercased
// canonical name.
var knownLocations = map[string]locationEntry{
	"los angeles":          {"Los Angeles", "United States", "North America", entity.Coordinates{Latitude: 34.0522, Longitude: -118.2437}},
	"new york":             {"New York", "United States", "North America", entity.Coordinates{Latitude: 40.7128, Longitude: -74.0060}},
	"san francisco":        {"San Francisco", "United States", "North America", entity.Coordinates{Latitude: 37.7749, Longitude: -122.4194}},
	"united states":        {"United States", "United States", "North America", entity.Coordinates{}},
	"mexico":               {"Mexico", "Mexico", "North America", entity.Coordinates{}},
	"shanghai":             {"Shanghai", "China", "East Asia", entity.Coordinates{Latitude: 31.2304, Longitude: 121.4737}},
	"shenzhen":             {"Shenzhen", "China", "East Asia", entity.Coordinates{Latitude: 22.5431, Longitude: 114.0579}},
	"china":                {"China", "China", "East Asia", entity.Coordinates{}},
	"taiwan":               {"Taiwan", "Taiwan", "East Asia", entity.Coordinates{Latitude: 23.6978, Longitude: 120.9605}},
	"taipei":               {"Taipei", "Taiwan", "East Asia", entity.Coordinates{Latitude: 25.0330, Longitude: 121.5654}},
	"south korea":          {"South Korea", "South Korea", "East Asia", entity.Coordinates{}},
	"seoul":                {"Seoul", "South Korea", "East Asia", entity.Coordinates{Latitude: 37.5665, Longitude: 126.9780}},
	"japan":                {"Japan", "Japan", "East Asia", entity.Coordinates{}},
	"tokyo":                {"Tokyo", "Japan", "East Asia", entity.Coordinates{Latitude: 35.6762, Longitude: 139.6503}},
	"singapore":            {"Singapore", "Singapore", "Southeast Asia", entity.Coordinates{Latitude: 1.3521, Longitude: 103.8198}},
	"vietnam":              {"Vietnam", "Vietnam", "Southeast Asia", entity.Coordinates{}},
	"india":                {"India", "India", "South Asia", entity.Coordinates{}},
	"germany":              {"Germany", "Germany", "Europe", entity.Coordinates{}},
	"rotterdam":            {"Rotterdam", "Netherlands", "Europe", entity.Coordinates{Latitude: 51.9244, Longitude: 4.4777}},
	"netherlands":          {"Netherlands", "Netherlands", "Europe", entity.Coordinates{}},
	"united kingdom":       {"United Kingdom", "United Kingdom", "Europe", entity.Coordinates{}},
	"london":               {"London", "United Kingdom", "Europe", entity.Coordinates{Latitude: 51.5074, Longitude: -0.1278}},
	"united arab emirates": {"United Arab Emirates", "United Arab Emirates", "Middle East", entity.Coordinates{}},
	"suez":                 {"Suez", "Egypt", "Middle East", entity.Coordinates{Latitude: 29.9668, Longitude: 32.5498}},
	"panama":               {"Panama", "Panama", "Central America", entity.Coordinates{Latitude: 8.9824, Longitude: -79.5199}},
	"global":               {"Global", "", "Global", entity.Coordinates{}},
}

// sectorKeywords maps free-text sector fragments to canonical sector tags.
// Longest fragments are matched first by the lookup loop.
var sectorKeywords = map[string]string{
	"semiconductor": "semiconductors",
	"chip":          "electronics",
	"electronic":    "electronics",
	"tech":          "electronics",
	"oil":           "energy",
	"gas":           "energy",
	"petroleum":     "energy",
	"power":         "energy",
	"car":           "automotive",
	"auto":          "automotive",
	"vehicle":       "automotive",
	"farm":          "agriculture",
	"crop":          "agriculture",
	"food":          "agriculture",
	"grain":         "agriculture",
	"pharma":        "pharmaceuticals",
	"drug":          "pharmaceuticals",
	"medic":         "pharmaceuticals",
	"textile":       "textiles",
	"garment":       "textiles",
	"clothing":      "textiles",
	"ship":          "shipping",
	"freight":       "shipping",
	"port":          "shipping",
	"cargo":         "shipping",
	"logistic":      "shipping",
	"factory":       "manufacturing",
	"industrial":    "manufacturing",
	"retail":        "retail",
	"consumer":      "retail",
}

// textAbbreviations expands common shorthand in event text
var textAbbreviations = map[string]string{
	"govt":   "government",
	"intl":   "international",
	"mfg":    "manufacturing",
	"approx": "approximately",
}

// timestampFormats is the ordered list of accepted timestamp layouts; the
// first successful parse wins.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
}

// NormalizationService standardizes event fields into canonical forms. It is
// total: unmappable values are carried through best-effort with a warning on
// the event, never rejected.
type NormalizationService struct {
	logger *logging.Logger
	now    func() time.Time
}

// NewNormalizationService creates a new normalization service
func NewNormalizationService(logger *logging.Logger) *NormalizationService {
	return &NormalizationService{
		logger: logger.WithComponent("normalizer"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Normalize standardizes the event in place. Already-canonical input is a
// fixed point: normalizing twice gives the same result.
func (s *NormalizationService) Normalize(ctx context.Context, event *entity.ProcessedEvent) error {
	event.Title = normalizeText(event.Title)
	event.Description = normalizeText(event.Description)

	s.normalizeLocation(event)
	s.normalizeSectors(event)
	s.normalizeTimestamp(event)

	// Severity arrives pre-validated but re-clamp anyway; the scorer trusts
	// this field.
	event.Severity = clamp01(event.Severity)

	event.SetStatus(entity.EventStatusNormalized)
	return nil
}

// normalizeLocation resolves the raw location through aliases, then the
// knowledge table, then substring matching, falling back to title case.
func (s *NormalizationService) normalizeLocation(event *entity.ProcessedEvent) {
	raw := strings.TrimSpace(event.Location.Name)
	if raw == "" {
		event.Location = entity.Location{}
		return
	}

	key := strings.ToLower(raw)
	if canonical, ok := locationAliases[key]; ok {
		key = strings.ToLower(canonical)
	}

	if entry, ok := knownLocations[key]; ok {
		event.Location = entity.Location{
			Name:        entry.Name,
			Country:     entry.Country,
			Region:      entry.Region,
			Coordinates: entry.Coordinates,
			Resolved:    true,
		}
		return
	}

	// Substring pass against the knowledge table, both directions
	for name, entry := range knownLocations {
		if strings.Contains(key, name) || strings.Contains(name, key) {
			event.Location = entity.Location{
				Name:        entry.Name,
				Country:     entry.Country,
				Region:      entry.Region,
				Coordinates: entry.Coordinates,
				Resolved:    true,
			}
			return
		}
	}

	titled := titleCase(raw)
	event.Location = entity.Location{Name: titled}
	event.AddWarning("location unresolved: " + titled)
	s.logger.LogNormalizationWarning("location", "unresolved, carried best-effort",
		logging.String("input", raw),
	)
}

// normalizeSectors maps each sector string to a canonical tag, keeping
// unresolved sectors lowercased. The result is deduplicated and preserves
// first-seen order.
func (s *NormalizationService) normalizeSectors(event *entity.ProcessedEvent) {
	if len(event.ImpactSectors) == 0 {
		return
	}

	seen := make(map[string]struct{})
	normalized := make([]string, 0, len(event.ImpactSectors))

	for _, raw := range event.ImpactSectors {
		sector := strings.ToLower(strings.TrimSpace(raw))
		if sector == "" {
			continue
		}

		canonical := canonicalSector(sector)
		if canonical == sector && !isCanonicalSector(sector) {
			event.AddWarning("sector unresolved: " + sector)
		}

		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}

	event.ImpactSectors = normalized
}

// canonicalSector maps a lowercased sector string via the keyword table,
// longest match first.
func canonicalSector(sector string) string {
	if isCanonicalSector(sector) {
		return sector
	}

	best := ""
	bestLen := 0
	for keyword, canonical := range sectorKeywords {
		if strings.Contains(sector, keyword) && len(keyword) > bestLen {
			best = canonical
			bestLen = len(keyword)
		}
	}

	if best != "" {
		return best
	}
	return sector
}

// isCanonicalSector reports whether the tag is already a canonical output
func isCanonicalSector(sector string) bool {
	for _, canonical := range sectorKeywords {
		if sector == canonical {
			return true
		}
	}
	return false
}

// normalizeTimestamp parses the raw timestamp against the accepted formats,
// falling back to the current instant with a warning.
func (s *NormalizationService) normalizeTimestamp(event *entity.ProcessedEvent) {
	if !event.Timestamp.IsZero() {
		event.Timestamp = event.Timestamp.UTC()
		return
	}

	raw := strings.TrimSpace(event.RawTimestampInput)
	event.RawTimestampInput = ""
	if raw != "" {
		for _, layout := range timestampFormats {
			if ts, err := time.Parse(layout, raw); err == nil {
				event.Timestamp = ts.UTC()
				return
			}
		}
	}

	event.Timestamp = s.now()
	event.AddWarning("timestamp unparseable, processing time substituted")
	s.logger.LogNormalizationWarning("timestamp", "fell back to processing instant",
		logging.String("input", raw),
	)
}

// normalizeText collapses whitespace, strips control characters, folds smart
// quotes, and expands known abbreviations.
func normalizeText(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '‘', '’':
			b.WriteRune('\'')
		case '“', '”':
			b.WriteRune('"')
		case '–', '—':
			b.WriteRune('-')
		default:
			if unicode.IsControl(r) {
				b.WriteRune(' ')
			} else {
				b.WriteRune(r)
			}
		}
	}

	words := strings.Fields(b.String())
	for i, word := range words {
		lower := strings.ToLower(strings.TrimRight(word, ".,;:"))
		if expanded, ok := textAbbreviations[lower]; ok {
			words[i] = matchCase(word, expanded)
		}
	}

	return strings.Join(words, " ")
}

// matchCase applies the original word's leading capitalization to the
// replacement.
func matchCase(original, replacement string) string {
	r := []rune(original)
	if len(r) > 0 && unicode.IsUpper(r[0]) {
		return titleCase(replacement)
	}
	return replacement
}

// titleCase capitalizes the first letter of each word
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, word := range words {
		r := []rune(word)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
