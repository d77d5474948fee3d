package auth

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/llmgateway/gateway/pkg/safego"
	"go.uber.org/zap"
)

const watchDebounce = 2 * time.Second

type fileWatcher struct {
	fsw   *fsnotify.Watcher
	mu    sync.Mutex
	timer map[string]*time.Timer
}

// WatchFiles starts a filesystem watcher over paths with a 2s debounce per
// path. On a stable add/change, the file is synced via SyncFromFile with the
// provider inferred from the filename. Starting twice is a no-op.
func (m *Manager) WatchFiles(paths []string) error {
	if m.watcher != nil {
		return nil
	}
	if len(paths) == 0 {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := make(map[string]bool)
	for _, p := range paths {
		dir := filepath.Dir(p)
		if watched[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			m.logger.Warn("auth watch: failed to watch directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		watched[dir] = true
	}

	fw := &fileWatcher{fsw: fsw, timer: make(map[string]*time.Timer)}
	m.watcher = fw

	watchedFiles := make(map[string]bool, len(paths))
	for _, p := range paths {
		watchedFiles[filepath.Clean(p)] = true
	}

	safego.Go(m.logger, "auth-file-watch", func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				m.handleWatchEvent(fw, event, watchedFiles)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				m.logger.Warn("auth watch: watcher error", zap.Error(err))
			}
		}
	})

	return nil
}

func (m *Manager) handleWatchEvent(fw *fileWatcher, event fsnotify.Event, watchedFiles map[string]bool) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	path := filepath.Clean(event.Name)
	if !watchedFiles[path] {
		return
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if t, ok := fw.timer[path]; ok {
		t.Stop()
	}
	fw.timer[path] = time.AfterFunc(watchDebounce, func() {
		m.SyncFromFile(path, inferProvider(path))
	})
}

// inferProvider guesses the provider a token file belongs to from its
// filename, defaulting to "openai" when nothing matches.
func inferProvider(path string) string {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "gemini"), strings.Contains(name, "google"):
		return "gemini"
	default:
		return "openai"
	}
}

// StopWatching releases the watcher's resources. Safe to call when no
// watcher is running.
func (m *Manager) StopWatching() error {
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.fsw.Close()
	m.watcher = nil
	return err
}
