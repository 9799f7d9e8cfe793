package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultDebounce = 2 * time.Second

// FileIngester ingests a single file. *Pipeline implements it.
type FileIngester interface {
	IngestFile(ctx context.Context, f FileRef) FileResult
}

// WatchOptions configure a Watcher.
type WatchOptions struct {
	// Debounce is how long a file must stay quiet before it is ingested.
	Debounce time.Duration
	// Project limits watching to matching project directories.
	Project string
	// OnResult is called after each ingest.
	OnResult func(FileResult)
}

// Watcher re-ingests session logs as they are written. The projects root and
// every project directory below it are watched; new project directories are
// picked up as they appear. Writes to a file are debounced per path and files
// are ingested one at a time.
type Watcher struct {
	root   string
	ing    FileIngester
	opts   WatchOptions
	logger zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	queue  chan string
	ready  chan struct{}
}

// NewWatcher creates a watcher for root.
func NewWatcher(root string, ing FileIngester, opts WatchOptions, logger zerolog.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	return &Watcher{
		root:   filepath.Clean(root),
		ing:    ing,
		opts:   opts,
		logger: logger.With().Str("component", "watcher").Logger(),
		timers: make(map[string]*time.Timer),
		queue:  make(chan string, 64),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the initial directories are being watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Run watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	dirs := 0
	for _, e := range entries {
		if e.IsDir() && matchProject(e.Name(), w.opts.Project) {
			if err := fw.Add(filepath.Join(w.root, e.Name())); err != nil {
				w.logger.Warn().Err(err).Str("dir", e.Name()).Msg("cannot watch project dir")
				continue
			}
			dirs++
		}
	}
	w.logger.Info().Str("root", w.root).Int("projects", dirs).Msg("watching for session logs")
	close(w.ready)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.loop(ctx, fw) })
	g.Go(func() error { return w.work(ctx) })
	err = g.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if event.Has(fsnotify.Create) && filepath.Dir(path) == w.root {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.addProject(ctx, fw, path)
			return
		}
	}
	if !IsTranscript(path) || filepath.Dir(filepath.Dir(path)) != w.root {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	w.schedule(ctx, path)
}

// addProject watches a new project directory and queues files that were
// written before the watch was in place.
func (w *Watcher) addProject(ctx context.Context, fw *fsnotify.Watcher, dir string) {
	if !matchProject(filepath.Base(dir), w.opts.Project) {
		return
	}
	if err := fw.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch project dir")
		return
	}
	w.logger.Info().Str("dir", filepath.Base(dir)).Msg("watching new project")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() && IsTranscript(e.Name()) {
			w.schedule(ctx, filepath.Join(dir, e.Name()))
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.queue <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-w.queue:
			info, err := os.Stat(path)
			if err != nil {
				w.logger.Debug().Err(err).Str("path", path).Msg("file vanished before ingest")
				continue
			}
			ref := FileRef{
				Path:       path,
				ProjectDir: filepath.Base(filepath.Dir(path)),
				ModTime:    info.ModTime(),
				Size:       info.Size(),
			}
			res := w.ing.IngestFile(ctx, ref)
			if w.opts.OnResult != nil {
				w.opts.OnResult(res)
			}
		}
	}
}
