package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	touch(t, filepath.Join(root, "-home-u-billing-api", "b.jsonl"), recent)
	touch(t, filepath.Join(root, "-home-u-billing-api", "a.jsonl"), old)
	touch(t, filepath.Join(root, "-home-u-billing-api", "notes.txt"), recent)
	touch(t, filepath.Join(root, "-home-u-web", "c.JSONL"), recent)
	touch(t, filepath.Join(root, "stray.jsonl"), recent)

	refs, err := Discover(root, DiscoverOptions{})
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, filepath.Join(root, "-home-u-billing-api", "a.jsonl"), refs[0].Path)
	assert.Equal(t, "-home-u-billing-api", refs[0].ProjectDir)
	assert.Equal(t, "-home-u-web", refs[2].ProjectDir)

	t.Run("project filter", func(t *testing.T) {
		refs, err := Discover(root, DiscoverOptions{Project: "BILLING"})
		require.NoError(t, err)
		assert.Len(t, refs, 2)
	})

	t.Run("since", func(t *testing.T) {
		refs, err := Discover(root, DiscoverOptions{Since: recent.Add(-time.Hour)})
		require.NoError(t, err)
		assert.Len(t, refs, 2)
	})

	t.Run("explicit files", func(t *testing.T) {
		refs, err := Discover(root, DiscoverOptions{Files: []string{filepath.Join(root, "-home-u-web", "c.JSONL")}})
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "-home-u-web", refs[0].ProjectDir)

		_, err = Discover(root, DiscoverOptions{Files: []string{filepath.Join(root, "nope.jsonl")}})
		assert.Error(t, err)
	})
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"), DiscoverOptions{})
	assert.Error(t, err)
}

func TestIsTranscript(t *testing.T) {
	assert.True(t, IsTranscript("/a/b.jsonl"))
	assert.True(t, IsTranscript("b.JSONL"))
	assert.False(t, IsTranscript("b.json"))
	assert.False(t, IsTranscript("b.jsonl.tmp"))
}
