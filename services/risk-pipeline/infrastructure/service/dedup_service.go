package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/repository"
)

// stopwords excluded from fuzzy-signature token extraction
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"with": {}, "from": {}, "this": {}, "that": {}, "have": {}, "has": {},
	"was": {}, "were": {}, "been": {}, "will": {}, "would": {}, "could": {},
	"should": {}, "into": {}, "over": {}, "under": {}, "after": {},
	"before": {}, "about": {}, "their": {}, "there": {}, "which": {},
	"when": {}, "where": {}, "while": {}, "more": {}, "than": {}, "also": {},
	"said": {}, "says": {}, "amid": {}, "due": {},
}

// DedupService detects repeat events via three signature levels of
// decreasing strictness.
type DedupService struct {
	config  config.DedupConfig
	store   repository.SignatureStore
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewDedupService creates a new duplicate detection service
func NewDedupService(cfg config.DedupConfig, store repository.SignatureStore, logger *logging.Logger, collector *metrics.Collector) *DedupService {
	if cfg.FuzzyTokenCount <= 0 {
		cfg.FuzzyTokenCount = 10
	}

	return &DedupService{
		config:  cfg,
		store:   store,
		logger:  logger.WithComponent("dedup"),
		metrics: collector,
	}
}

// Check computes the event's signatures and registers them in the shared
// store. Signatures are checked strictest first; the first level that was
// already present wins, and any signatures inserted before the match are
// rolled back so the prior event keeps sole ownership.
func (s *DedupService) Check(ctx context.Context, event *entity.ProcessedEvent) (entity.DuplicateReason, error) {
	exact, content, fuzzy := s.Signatures(event)
	now := time.Now().UTC()

	levels := []struct {
		reason    entity.DuplicateReason
		signature string
	}{
		{entity.DuplicateReasonExact, exact},
		{entity.DuplicateReasonContent, content},
		{entity.DuplicateReasonFuzzy, fuzzy},
	}

	var inserted []string
	for _, level := range levels {
		fresh, err := s.store.CheckAndInsert(ctx, level.signature, now)
		if err != nil {
			if len(inserted) > 0 {
				_ = s.store.Remove(ctx, inserted...)
			}
			return entity.DuplicateReasonNone, err
		}

		if !fresh {
			if len(inserted) > 0 {
				if rmErr := s.store.Remove(ctx, inserted...); rmErr != nil {
					s.logger.WithError(rmErr).Warn("Failed to roll back partial signature insert")
				}
			}
			s.metrics.RecordDuplicate(string(level.reason))
			return level.reason, nil
		}

		inserted = append(inserted, level.signature)
	}

	return entity.DuplicateReasonNone, nil
}

// Signatures returns the exact, content, and fuzzy signatures for an event
func (s *DedupService) Signatures(event *entity.ProcessedEvent) (exact, content, fuzzy string) {
	exact = hashSignature("exact", event.Title+event.Description+event.Location.Name)

	normalized := normalizeWhitespace(strings.ToLower(event.Title + " " + event.Description))
	content = hashSignature("content", normalized)

	fuzzy = hashSignature("fuzzy", strings.Join(s.meaningfulTokens(normalized), " "))
	return exact, content, fuzzy
}

// meaningfulTokens extracts the sorted top-N significant tokens from
// normalized text. Tokens shorter than four characters and stopwords are
// excluded; ties resolve lexicographically so the signature is stable under
// reordering and punctuation changes.
func (s *DedupService) meaningfulTokens(normalized string) []string {
	seen := make(map[string]struct{})
	var tokens []string

	for _, raw := range strings.Fields(normalized) {
		token := strings.Trim(raw, ".,;:!?'\"()[]{}")
		if len(token) <= 3 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}

	sort.Strings(tokens)
	if len(tokens) > s.config.FuzzyTokenCount {
		tokens = tokens[:s.config.FuzzyTokenCount]
	}
	return tokens
}

// Release removes signatures registered by an earlier Check. The orchestrator
// calls it when scoring or the sink fails after dedup, so the redelivered
// event is not discarded as a duplicate of its own failed run.
func (s *DedupService) Release(ctx context.Context, signatures ...string) error {
	return s.store.Remove(ctx, signatures...)
}

// hashSignature returns the hex SHA-256 of the payload, namespaced by level
// so the three signature spaces never collide.
func hashSignature(level, payload string) string {
	sum := sha256.Sum256([]byte(level + "|" + payload))
	return hex.EncodeToString(sum[:])
}

// normalizeWhitespace collapses runs of whitespace to single spaces
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RunCleanup purges expired signatures on the configured cadence until the
// context is cancelled. It is meant to run as a background goroutine owned by
// the orchestrator.
func (s *DedupService) RunCleanup(ctx context.Context) {
	interval := s.config.CleanupInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.config.Retention)
			removed, err := s.store.Cleanup(ctx, cutoff)
			if err != nil {
				s.logger.WithError(err).Warn("Signature cleanup failed")
				continue
			}

			remaining, _ := s.store.Len(ctx)
			s.logger.Debug("Signature cleanup complete",
				logging.Int("removed", removed),
				logging.Int("remaining", remaining),
			)
		}
	}
}
