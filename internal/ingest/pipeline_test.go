package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwads001/claude-conversation-analyzer/internal/embedding"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
	"github.com/bwads001/claude-conversation-analyzer/internal/store/sqlitestore"
)

// stubProvider returns a fixed-direction vector per text length. While down
// is set every call fails with a non-retryable error.
type stubProvider struct {
	down  atomic.Bool
	calls atomic.Int32
	texts atomic.Int32
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-embed" }

func (p *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	if p.down.Load() {
		return nil, &embedding.APIError{Provider: "stub", StatusCode: 400, Message: "model not loaded"}
	}
	p.texts.Add(int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)%5 + 1), 1, 0}
	}
	return out, nil
}

type fixture struct {
	root     string
	store    *sqlitestore.SQLiteStore
	provider *stubProvider
	pipeline *Pipeline
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := sqlitestore.New(context.Background(), filepath.Join(dir, "cca.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	prov := &stubProvider{}
	gen := embedding.NewGenerator(prov, embedding.Options{Dimensions: 3}, zerolog.Nop())
	root := filepath.Join(dir, "projects")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return &fixture{
		root:     root,
		store:    st,
		provider: prov,
		pipeline: NewPipeline(st, gen, opts, nil, zerolog.Nop()),
	}
}

func line(uuid, role, text string, minute int) string {
	return fmt.Sprintf(`{"type":%q,"uuid":%q,"sessionId":"s","timestamp":"2026-03-01T10:%02d:00Z","message":{"role":%q,"content":%q}}`,
		role, uuid, minute, role, text)
}

func writeSession(t *testing.T, root, project, session string, lines ...string) string {
	t.Helper()
	dir := filepath.Join(root, project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, session+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func discoverAll(t *testing.T, root string) []FileRef {
	t.Helper()
	refs, err := Discover(root, DiscoverOptions{})
	require.NoError(t, err)
	return refs
}

func TestPipeline_SecondRunIsUnchanged(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 2})
	ctx := context.Background()
	writeSession(t, f.root, "-home-u-alpha", "s1",
		line("m1", "user", "how do I configure the database pool", 0),
		line("m2", "assistant", "set max open connections in the config", 1),
	)
	writeSession(t, f.root, "-home-u-beta", "s2",
		line("m1", "user", "the build is failing on CI", 2),
	)

	sum, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Files)
	assert.Equal(t, 2, sum.Ingested)
	assert.Equal(t, 3, sum.Inserted)
	assert.Equal(t, 3, sum.Embedded)
	texts := f.provider.texts.Load()

	sum, err = f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Unchanged)
	assert.Zero(t, sum.Inserted)
	assert.Zero(t, sum.Updated)
	assert.Zero(t, sum.Embedded)
	assert.Equal(t, texts, f.provider.texts.Load(), "unchanged messages are not re-embedded")

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Conversations)
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, 3, stats.Embedded)
}

func TestPipeline_MessagesDroppedFromFileAreRemoved(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	path := writeSession(t, f.root, "-home-u-alpha", "s1",
		line("m1", "user", "how do I configure the database pool", 0),
		line("m2", "assistant", "set max open connections in the config", 1),
	)
	_, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(line("m1", "user", "how do I configure the database pool", 0)+"\n"), 0o644))
	sum, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Ingested)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, StatusIngested, sum.Results[0].Status)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Messages)
	projects, err := f.store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, 1, projects[0].Messages)

	sum, err = f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Zero(t, sum.Removed)
}

func TestPipeline_ChangedMessageIsReembedded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	path := writeSession(t, f.root, "-home-u-alpha", "s1",
		line("m1", "user", "first question about migrations", 0),
		line("m2", "assistant", "an answer", 1),
	)
	_, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)

	writeSession(t, f.root, "-home-u-alpha", "s1",
		line("m1", "user", "first question about migrations", 0),
		line("m2", "assistant", "a much longer and corrected answer", 1),
		line("m3", "user", "thanks", 2),
	)
	sum, err := f.pipeline.Run(ctx, []FileRef{{Path: path}})
	require.NoError(t, err)
	res := sum.Results[0]
	assert.Equal(t, StatusIngested, res.Status)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 2, res.Embedded, "only the edited and the new message are embedded")

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Embedded)
}

func TestPipeline_EmbedFailureThenBackfill(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	writeSession(t, f.root, "-home-u-alpha", "s1",
		line("m1", "user", "why does the watcher miss new directories", 0),
		line("m2", "assistant", "it only watches the root", 1),
	)

	f.provider.down.Store(true)
	sum, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Ingested, "messages are stored without vectors")
	assert.Equal(t, 2, sum.EmbedFailed)
	assert.Zero(t, sum.Embedded)

	res, err := f.pipeline.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Embedded)

	f.provider.down.Store(false)
	res, err = f.pipeline.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
	assert.Zero(t, res.Stale)

	res, err = f.pipeline.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned, "nothing left to backfill")

	models, err := f.store.EmbeddingModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "stub-embed", models[0].Model)
	assert.Equal(t, 3, models[0].Dimensions)
}

func TestPipeline_BackfillLimit(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	var lines []string
	for i := range 5 {
		lines = append(lines, line(fmt.Sprintf("m%d", i), "user", fmt.Sprintf("message number %d", i), i))
	}
	writeSession(t, f.root, "-home-u-alpha", "s1", lines...)
	f.provider.down.Store(true)
	_, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	f.provider.down.Store(false)

	res, err := f.pipeline.Backfill(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 3, res.Embedded)

	res, err = f.pipeline.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Embedded)
}

func TestPipeline_MinCharsSkipsShortMessages(t *testing.T) {
	f := newFixture(t, Options{MinChars: 10})
	ctx := context.Background()
	writeSession(t, f.root, "-home-u-alpha", "s1",
		line("m1", "user", "ok", 0),
		line("m2", "assistant", "a reply long enough to embed", 1),
	)
	sum, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, 1, sum.Embedded)

	res, err := f.pipeline.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned, "short messages are never pending")
}

func TestPipeline_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t, Options{DryRun: true})
	ctx := context.Background()
	writeSession(t, f.root, "-home-u-alpha", "s1", line("m1", "user", "hello there", 0))

	sum, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DryRun)
	assert.Equal(t, 1, sum.Messages)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Conversations)
}

func TestPipeline_FailedFileDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 2})
	ctx := context.Background()
	good := writeSession(t, f.root, "-home-u-alpha", "s1", line("m1", "user", "hello there", 0))
	missing := filepath.Join(f.root, "-home-u-alpha", "gone.jsonl")

	sum, err := f.pipeline.Run(ctx, []FileRef{{Path: missing}, {Path: good}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Ingested)
	assert.Equal(t, StatusFailed, sum.Results[0].Status)
	assert.Error(t, sum.Results[0].Err)

	data, err := sum.Results[0].MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error":`)
}

func TestPipeline_MalformedLinesAreCounted(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	writeSession(t, f.root, "-home-u-alpha", "s1",
		line("m1", "user", "hello there", 0),
		`{"type":"user",`,
		line("m2", "assistant", "general kenobi", 1),
	)
	sum, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkippedLines)
	assert.Equal(t, 2, sum.Inserted)
}

func TestPipeline_NoEmbedder(t *testing.T) {
	f := newFixture(t, Options{})
	p := NewPipeline(f.store, nil, Options{}, nil, zerolog.Nop())
	ctx := context.Background()
	writeSession(t, f.root, "-home-u-alpha", "s1", line("m1", "user", "hello there", 0))

	sum, err := p.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Zero(t, sum.Embedded)

	_, err = p.Backfill(ctx, 0)
	assert.Error(t, err)
}

func TestPipeline_ProjectLabelIsDecoded(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	writeSession(t, f.root, "-home-u-alpha", "s1", line("m1", "user", "hello there", 0))
	_, err := f.pipeline.Run(ctx, discoverAll(t, f.root))
	require.NoError(t, err)

	projects, err := f.store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, 1, projects[0].Conversations)

	hits, err := f.store.SearchKeyword(ctx, "hello", store.SearchFilter{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, projects[0].Name, hits[0].ProjectName)
}
