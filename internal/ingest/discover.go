package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bwads001/claude-conversation-analyzer/internal/transcript"
)

// FileRef is one transcript file selected for ingestion.
type FileRef struct {
	Path       string    `json:"path"`
	ProjectDir string    `json:"project_dir"`
	ModTime    time.Time `json:"mod_time"`
	Size       int64     `json:"size"`
}

// DiscoverOptions narrow which files are ingested.
type DiscoverOptions struct {
	// Project keeps project directories whose encoded name or decoded label
	// contains this string, case-insensitively.
	Project string
	// Files bypasses the directory walk.
	Files []string
	// Since keeps files modified at or after this time.
	Since time.Time
}

// IsTranscript reports whether path names a session log.
func IsTranscript(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".jsonl")
}

// Discover lists transcript files under root (one directory per project),
// sorted by path.
func Discover(root string, opts DiscoverOptions) ([]FileRef, error) {
	if len(opts.Files) > 0 {
		return explicitFiles(opts)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("projects dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("projects dir %s is not a directory", root)
	}

	var refs []FileRef
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && filepath.Dir(path) == root && !matchProject(d.Name(), opts.Project) {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsTranscript(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) < 2 {
			// Files directly under root belong to no project.
			return nil
		}
		ref, ok := refFor(path, parts[0], d, opts.Since)
		if ok {
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

func explicitFiles(opts DiscoverOptions) ([]FileRef, error) {
	refs := make([]FileRef, 0, len(opts.Files))
	for _, f := range opts.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", f, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", f)
		}
		dir := filepath.Base(filepath.Dir(abs))
		if !matchProject(dir, opts.Project) {
			continue
		}
		if !opts.Since.IsZero() && info.ModTime().Before(opts.Since) {
			continue
		}
		refs = append(refs, FileRef{Path: abs, ProjectDir: dir, ModTime: info.ModTime(), Size: info.Size()})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

func refFor(path, projectDir string, d fs.DirEntry, since time.Time) (FileRef, bool) {
	info, err := d.Info()
	if err != nil {
		return FileRef{}, false
	}
	if !since.IsZero() && info.ModTime().Before(since) {
		return FileRef{}, false
	}
	return FileRef{Path: path, ProjectDir: projectDir, ModTime: info.ModTime(), Size: info.Size()}, true
}

// matchProject checks the filter against the encoded directory name and
// its decoded label.
func matchProject(dir, filter string) bool {
	if filter == "" {
		return true
	}
	f := strings.ToLower(filter)
	if strings.Contains(strings.ToLower(dir), f) {
		return true
	}
	label := transcript.ResolveProject(dir, "").Label
	return strings.Contains(strings.ToLower(label), f)
}
