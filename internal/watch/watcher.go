// Package watch monitors a directory for new media files and hands them to
// a processing callback once they have settled on disk.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Encoders keep writing a file for a while after it appears; wait for the
// events to go quiet before processing.
const settleDelay = 2 * time.Second

var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true, ".ogg": true,
	".opus": true, ".aac": true,
}

// ProcessFunc handles one settled media file.
type ProcessFunc func(ctx context.Context, path string)

// Watcher monitors a directory tree for new media files.
type Watcher struct {
	dir     string
	process ProcessFunc
	log     zerolog.Logger

	watcher *fsnotify.Watcher

	// Coalesce rapid Create+Write events on the same file.
	settleMu     sync.Mutex
	settleTimers map[string]*time.Timer

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
}

// New creates a watcher over dir. Files already present are not processed;
// only files that appear while watching are.
func New(dir string, process ProcessFunc, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:          dir,
		process:      process,
		log:          log.With().Str("component", "watcher").Logger(),
		settleTimers: make(map[string]*time.Timer),
	}
}

// Run watches until the context is cancelled. Subdirectories present at
// startup or created later are watched too.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	defer fsw.Close()

	dirCount := 0
	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := fsw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.log.Info().Int("directories", dirCount).Str("dir", w.dir).Msg("watching for media files")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().
				Int64("files_processed", w.filesProcessed.Load()).
				Int64("files_skipped", w.filesSkipped.Load()).
				Msg("watcher stopped")
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
			return
		}
	}

	if !IsMediaFile(event.Name) {
		if event.Has(fsnotify.Create) {
			w.filesSkipped.Add(1)
		}
		return
	}
	w.scheduleSettle(ctx, event.Name)
}

// scheduleSettle (re)arms the per-file timer; the file is processed only
// after settleDelay passes with no further events.
func (w *Watcher) scheduleSettle(ctx context.Context, path string) {
	w.settleMu.Lock()
	defer w.settleMu.Unlock()

	if timer, ok := w.settleTimers[path]; ok {
		timer.Reset(settleDelay)
		return
	}
	w.settleTimers[path] = time.AfterFunc(settleDelay, func() {
		w.settleMu.Lock()
		delete(w.settleTimers, path)
		w.settleMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.log.Info().Str("file", path).Msg("new media file")
		w.process(ctx, path)
		w.filesProcessed.Add(1)
	})
}

// IsMediaFile reports whether path has a known media extension.
func IsMediaFile(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}
