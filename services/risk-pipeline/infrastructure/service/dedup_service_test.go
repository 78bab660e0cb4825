package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/platform/pkg/logging"
	"github.com/chainwatch/platform/pkg/metrics"
	"github.com/chainwatch/platform/services/risk-pipeline/config"
	"github.com/chainwatch/platform/services/risk-pipeline/domain/entity"
	"github.com/chainwatch/platform/services/risk-pipeline/infrastructure/cache"
)

func newTestDedup() *DedupService {
	return NewDedupService(config.DedupConfig{
		Retention:       24 * time.Hour,
		FuzzyTokenCount: 10,
	}, cache.NewMemorySignatureStore(), logging.NewNopLogger(), metrics.NewCollector("test"))
}

func dedupEvent(title, description, location string) *entity.ProcessedEvent {
	return entity.NewProcessedEvent(&entity.RawEvent{
		Title:       title,
		Description: description,
		Location:    location,
	})
}

func TestCheckFirstEventPasses(t *testing.T) {
	d := newTestDedup()

	reason, err := d.Check(context.Background(), dedupEvent(
		"Typhoon closes Kaohsiung port",
		"Container operations suspended as the storm passes through southern Taiwan.",
		"Taiwan"))

	require.NoError(t, err)
	assert.Equal(t, entity.DuplicateReasonNone, reason)
}

func TestCheckExactResubmission(t *testing.T) {
	d := newTestDedup()
	ctx := context.Background()

	event := func() *entity.ProcessedEvent {
		return dedupEvent(
			"Typhoon closes Kaohsiung port",
			"Container operations suspended as the storm passes through southern Taiwan.",
			"Taiwan")
	}

	reason, err := d.Check(ctx, event())
	require.NoError(t, err)
	require.Equal(t, entity.DuplicateReasonNone, reason)

	reason, err = d.Check(ctx, event())
	require.NoError(t, err)
	assert.Equal(t, entity.DuplicateReasonExact, reason)
}

func TestCheckContentDuplicateIgnoresCaseAndSpacing(t *testing.T) {
	d := newTestDedup()
	ctx := context.Background()

	reason, err := d.Check(ctx, dedupEvent(
		"Typhoon closes Kaohsiung port",
		"Container operations suspended across southern Taiwan.",
		"Taiwan"))
	require.NoError(t, err)
	require.Equal(t, entity.DuplicateReasonNone, reason)

	// Different location breaks the exact signature; case and whitespace
	// changes leave the content signature intact.
	reason, err = d.Check(ctx, dedupEvent(
		"TYPHOON   Closes Kaohsiung PORT",
		"Container operations  suspended across southern Taiwan.",
		"Kaohsiung"))
	require.NoError(t, err)
	assert.Equal(t, entity.DuplicateReasonContent, reason)
}

func TestCheckFuzzyDuplicateCatchesReordering(t *testing.T) {
	d := newTestDedup()
	ctx := context.Background()

	reason, err := d.Check(ctx, dedupEvent(
		"Semiconductor shortage disrupts automotive production lines",
		"",
		"Taiwan"))
	require.NoError(t, err)
	require.Equal(t, entity.DuplicateReasonNone, reason)

	reason, err = d.Check(ctx, dedupEvent(
		"Automotive production lines disrupts: semiconductor shortage!",
		"",
		"Germany"))
	require.NoError(t, err)
	assert.Equal(t, entity.DuplicateReasonFuzzy, reason)
}

func TestCheckDistinctEventsBothPass(t *testing.T) {
	d := newTestDedup()
	ctx := context.Background()

	reason, err := d.Check(ctx, dedupEvent(
		"Drought threatens wheat harvest across central plains",
		"Agricultural forecasts downgraded after a third consecutive dry month.",
		"United States"))
	require.NoError(t, err)
	assert.Equal(t, entity.DuplicateReasonNone, reason)

	reason, err = d.Check(ctx, dedupEvent(
		"New tariffs announced on imported steel products",
		"Trade ministry confirms duties taking effect next quarter.",
		"Germany"))
	require.NoError(t, err)
	assert.Equal(t, entity.DuplicateReasonNone, reason)
}

func TestCheckConcurrentDuplicatesAdmitExactlyOne(t *testing.T) {
	d := newTestDedup()
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	results := make(chan entity.DuplicateReason, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reason, err := d.Check(ctx, dedupEvent(
				"Factory fire halts electronics assembly",
				"Production suspended pending a safety inspection at the main plant.",
				"Shenzhen"))
			assert.NoError(t, err)
			results <- reason
		}()
	}
	wg.Wait()
	close(results)

	passed := 0
	for reason := range results {
		if reason == entity.DuplicateReasonNone {
			passed++
		}
	}
	assert.Equal(t, 1, passed, "exactly one concurrent submission should pass")
}

func TestSignaturesStableUnderTokenOrder(t *testing.T) {
	d := newTestDedup()

	_, _, fuzzyA := d.Signatures(dedupEvent("Port strike delays container freight", "", ""))
	_, _, fuzzyB := d.Signatures(dedupEvent("Container freight delays, port strike", "", ""))

	assert.Equal(t, fuzzyA, fuzzyB)
}

func TestSignatureLevelsAreIndependentSpaces(t *testing.T) {
	d := newTestDedup()

	exact, content, fuzzy := d.Signatures(dedupEvent("Port strike delays container freight", "", ""))

	assert.NotEqual(t, exact, content)
	assert.NotEqual(t, content, fuzzy)
	assert.NotEqual(t, exact, fuzzy)
}
