package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(p Provider, opts Options) *Generator {
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	}
	return NewGenerator(p, opts, zerolog.Nop())
}

func TestGenerator_EmbedsInOrderWithUnitNorm(t *testing.T) {
	p := newHashProvider(16)
	g := newTestGenerator(p, Options{BatchSize: 2, Concurrency: 2})

	texts := []string{"alpha", "beta gamma", "delta", "epsilon zeta", "eta"}
	res, err := g.Embed(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Succeeded())
	assert.EqualValues(t, 3, p.calls.Load())
	for i, text := range texts {
		require.NoError(t, res.Failed[i])
		assert.InDelta(t, 1.0, l2norm(res.Vectors[i]), 1e-3)
		assert.InDelta(t, 1.0, CosineSimilarity(res.Vectors[i], wordVector(text, 16)), 1e-5, text)
	}
	assert.Equal(t, 16, g.Dimensions())
}

func TestGenerator_RetriesTransientFailures(t *testing.T) {
	p := newHashProvider(8)
	p.failFor = 2
	g := newTestGenerator(p, Options{BatchSize: 10, Concurrency: 1})

	res, err := g.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded())
	assert.EqualValues(t, 3, p.calls.Load())
}

func TestGenerator_FailedBatchOnlyFailsItsItems(t *testing.T) {
	p := newHashProvider(8)
	p.poison = "poison"
	g := newTestGenerator(p, Options{BatchSize: 2, Concurrency: 3})

	texts := []string{"a", "b", "poison c", "d", "e"}
	res, err := g.Embed(context.Background(), texts)
	require.NoError(t, err)

	for _, i := range []int{0, 1, 4} {
		assert.NotNil(t, res.Vectors[i], texts[i])
		assert.NoError(t, res.Failed[i])
	}
	for _, i := range []int{2, 3} {
		assert.Nil(t, res.Vectors[i], texts[i])
		var be *BatchError
		require.True(t, errors.As(res.Failed[i], &be), texts[i])
		assert.Equal(t, 1, be.Batch)
		assert.Equal(t, 2, be.Size)
		assert.Equal(t, 1, be.Attempts, "client errors are not retried")
	}
}

func TestGenerator_ExhaustedRetriesAreRecoverable(t *testing.T) {
	p := newHashProvider(8)
	p.failFor = 100
	g := newTestGenerator(p, Options{BatchSize: 4, Retry: RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})

	res, err := g.Embed(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Succeeded())
	var be *BatchError
	require.ErrorAs(t, res.Failed[0], &be)
	assert.Equal(t, 3, be.Attempts)
	assert.True(t, IsRetryable(be.Err))
}

func TestGenerator_EmptyInput(t *testing.T) {
	g := newTestGenerator(newHashProvider(8), Options{})
	res, err := g.Embed(context.Background(), []string{"  ", "real text"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Failed[0], ErrEmptyInput)
	assert.NotNil(t, res.Vectors[1])
}

func TestGenerator_RejectsWrongDimensions(t *testing.T) {
	g := newTestGenerator(newHashProvider(4), Options{Dimensions: 8})
	res, err := g.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Failed[0], ErrInvalidVector)
	assert.Nil(t, res.Vectors[0])
}

func TestGenerator_ChunkAverageIsStableAcrossSplits(t *testing.T) {
	sentences := []string{
		"The ingest pipeline parses each transcript file.",
		"Messages are embedded in batches before storage.",
		"Search ranks results by cosine distance.",
	}
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString(sentences[i%len(sentences)])
		b.WriteString(" ")
	}
	text := b.String()

	coarse := newHashProvider(64)
	fine := newHashProvider(64)
	gCoarse := newTestGenerator(coarse, Options{MaxInputChars: 330, BatchSize: 3})
	gFine := newTestGenerator(fine, Options{MaxInputChars: 200, BatchSize: 3})

	r1, err := gCoarse.Embed(context.Background(), []string{text})
	require.NoError(t, err)
	r2, err := gFine.Embed(context.Background(), []string{text})
	require.NoError(t, err)
	require.NoError(t, r1.Failed[0])
	require.NoError(t, r2.Failed[0])

	assert.NotEqual(t, len(Chunk(text, 330)), len(Chunk(text, 200)))
	assert.Greater(t, CosineSimilarity(r1.Vectors[0], r2.Vectors[0]), 0.99)
	assert.InDelta(t, 1.0, l2norm(r1.Vectors[0]), 1e-3)
	assert.InDelta(t, 1.0, l2norm(r2.Vectors[0]), 1e-3)
}

func TestGenerator_ChunkFailureFailsWholeItem(t *testing.T) {
	p := newHashProvider(8)
	p.poison = "poison"
	g := newTestGenerator(p, Options{MaxInputChars: 20, BatchSize: 1})

	res, err := g.Embed(context.Background(), []string{"fine words here.\n\npoison words here."})
	require.NoError(t, err)
	assert.Nil(t, res.Vectors[0])
	assert.Error(t, res.Failed[0])
}

func TestGenerator_UsesCache(t *testing.T) {
	cache, err := NewCache(16, "")
	require.NoError(t, err)
	p := newHashProvider(8)
	g := newTestGenerator(p, Options{Cache: cache})

	first, err := g.Embed(context.Background(), []string{"café au lait"})
	require.NoError(t, err)
	// Decomposed form normalizes to the same key.
	second, err := g.Embed(context.Background(), []string{"cafe\u0301 au lait"})
	require.NoError(t, err)

	assert.EqualValues(t, 1, p.calls.Load())
	assert.Equal(t, first.Vectors[0], second.Vectors[0])
	assert.Equal(t, 1, cache.Len())
}

func TestGenerator_CacheIsScopedToChunkLimit(t *testing.T) {
	cache, err := NewCache(16, "")
	require.NoError(t, err)
	text := strings.Repeat("Vectors depend on how the text was split. ", 6)

	p := newHashProvider(8)
	_, err = newTestGenerator(p, Options{Cache: cache, MaxInputChars: 40}).Embed(context.Background(), []string{text})
	require.NoError(t, err)
	calls := p.calls.Load()

	res, err := newTestGenerator(p, Options{Cache: cache, MaxInputChars: 100000}).Embed(context.Background(), []string{text})
	require.NoError(t, err)
	require.NoError(t, res.Failed[0])
	assert.Greater(t, p.calls.Load(), calls)
	assert.Equal(t, 2, cache.Len())
}

func TestGenerator_EmbedQuery(t *testing.T) {
	g := newTestGenerator(newHashProvider(8), Options{})
	v, err := g.EmbedQuery(context.Background(), "how did we fix the watcher")
	require.NoError(t, err)
	assert.Len(t, v, 8)

	down := newHashProvider(8)
	down.failFor = 100
	g = newTestGenerator(down, Options{Retry: RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})
	_, err = g.EmbedQuery(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGenerator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := newTestGenerator(newHashProvider(8), Options{})
	_, err := g.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
