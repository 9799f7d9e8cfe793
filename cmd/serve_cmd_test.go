package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bwads001/claude-conversation-analyzer/internal/config"
	"github.com/bwads001/claude-conversation-analyzer/internal/embedding"
	"github.com/bwads001/claude-conversation-analyzer/internal/ingest"
	"github.com/bwads001/claude-conversation-analyzer/internal/store"
	"github.com/bwads001/claude-conversation-analyzer/internal/store/sqlitestore"
)

// flakyStore fails conversation writes while down is set.
type flakyStore struct {
	store.IngestStore
	down   atomic.Bool
	writes atomic.Int32
}

func (s *flakyStore) IngestConversation(ctx context.Context, b *store.IngestBatch) (*store.IngestOutcome, error) {
	s.writes.Add(1)
	if s.down.Load() {
		return nil, errors.New("connection refused")
	}
	return s.IngestStore.IngestConversation(ctx, b)
}

type constProvider struct{}

func (constProvider) Name() string  { return "const" }
func (constProvider) Model() string { return "const-embed" }

func (constProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func TestScheduledIngest_RetriesFailedFiles(t *testing.T) {
	dir := t.TempDir()
	projects := filepath.Join(dir, "projects")
	sessionDir := filepath.Join(projects, "-home-u-alpha")
	require.NoError(t, os.MkdirAll(sessionDir, 0o755))
	path := filepath.Join(sessionDir, "s1.jsonl")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"type":"user","uuid":"m1","sessionId":"s1","timestamp":"2026-03-01T10:00:00Z","message":{"role":"user","content":"retry me"}}`+"\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	ctx := context.Background()
	st, err := sqlitestore.New(ctx, filepath.Join(dir, "cca.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	flaky := &flakyStore{IngestStore: st}
	gen := embedding.NewGenerator(constProvider{}, embedding.Options{Dimensions: 3}, zerolog.Nop())
	p := ingest.NewPipeline(flaky, gen, ingest.Options{}, nil, zerolog.Nop())

	cfg := config.Default()
	cfg.Ingest.ProjectsDir = projects
	job := scheduledIngest(cfg, p)

	flaky.down.Store(true)
	assert.ErrorContains(t, job(ctx), "1 of 1 files failed")

	flaky.down.Store(false)
	require.NoError(t, job(ctx))
	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Messages)

	writes := flaky.writes.Load()
	require.NoError(t, job(ctx))
	assert.Equal(t, writes, flaky.writes.Load(), "a clean run advances the cursor")
}
