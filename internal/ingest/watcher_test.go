package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIngester struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingIngester) IngestFile(_ context.Context, f FileRef) FileResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, f.Path)
	return FileResult{Path: f.Path, Status: StatusIngested}
}

func (r *recordingIngester) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, root string, ing FileIngester, opts WatchOptions) {
	t.Helper()
	w := NewWatcher(root, ing, opts, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("watcher exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "-home-u-alpha")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	ing := &recordingIngester{}
	startWatcher(t, root, ing, WatchOptions{Debounce: 200 * time.Millisecond})

	path := filepath.Join(dir, "s1.jsonl")
	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte(line("m1", "user", "draft", i)+"\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(ing.seen()) > 0 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, []string{path}, ing.seen(), "a burst of writes is ingested once")
}

func TestWatcher_PicksUpNewProjectDirs(t *testing.T) {
	root := t.TempDir()
	ing := &recordingIngester{}
	startWatcher(t, root, ing, WatchOptions{Debounce: 50 * time.Millisecond})

	path := writeSession(t, root, "-home-u-new", "s9", line("m1", "user", "hello", 0))
	require.Eventually(t, func() bool {
		for _, p := range ing.seen() {
			if p == path {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "-home-u-alpha")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	ing := &recordingIngester{}
	startWatcher(t, root, ing, WatchOptions{Debounce: 50 * time.Millisecond, Project: "beta"})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.jsonl"), []byte("{}\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, ing.seen())
}

func TestWatcher_IngestsThroughPipeline(t *testing.T) {
	f := newFixture(t, Options{})
	results := make(chan FileResult, 4)
	startWatcher(t, f.root, f.pipeline, WatchOptions{
		Debounce: 50 * time.Millisecond,
		OnResult: func(r FileResult) { results <- r },
	})

	writeSession(t, f.root, "-home-u-alpha", "s1", line("m1", "user", "watch me", 0))
	select {
	case r := <-results:
		require.NoError(t, r.Err)
		assert.Equal(t, StatusIngested, r.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no ingest result")
	}
}
