package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/firi/packio/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches a directory tree and, after a quiet period,
// delivers a debounced batch of changed paths to onChange. packiod uses
// this to drive a "workspace/filesChanged" notification broadcast to
// every connected client session (spec's Non-goals exclude streaming
// results, not server-initiated notifications on the same transport).
type FileWatcher struct {
	watcher       *fsnotify.Watcher
	root          string
	onChange      func([]string)
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	changed       map[string]bool
	stop          chan struct{}
	logger        logger.Logger
}

var skipDirs = map[string]bool{
	"build": true, "out": true, "bin": true, "obj": true, "node_modules": true,
}

// NewFileWatcher starts watching root and its subdirectories, excluding
// hidden and build-output directories.
func NewFileWatcher(root string, onChange func([]string), log logger.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:  watcher,
		root:     root,
		onChange: onChange,
		changed:  make(map[string]bool),
		stop:     make(chan struct{}),
		logger:   log,
	}

	if err := fw.addRecursive(root); err != nil {
		watcher.Close()
		return nil, err
	}
	go fw.watch()
	return fw, nil
}

func (fw *FileWatcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") || skipDirs[base] {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.logger.Info("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (fw *FileWatcher) watch() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				fw.handleChange(event.Name)
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					fw.addRecursive(event.Name)
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("file watcher error: %v", err)

		case <-fw.stop:
			return
		}
	}
}

func (fw *FileWatcher) handleChange(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	fw.changed[path] = true
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
		fw.debounceMu.Lock()
		files := make([]string, 0, len(fw.changed))
		for f := range fw.changed {
			files = append(files, f)
		}
		fw.changed = make(map[string]bool)
		fw.debounceMu.Unlock()

		if len(files) > 0 {
			fw.onChange(files)
		}
	})
}

// Stop stops the watcher and releases its underlying OS resources.
func (fw *FileWatcher) Stop() error {
	close(fw.stop)

	fw.debounceMu.Lock()
	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceMu.Unlock()

	return fw.watcher.Close()
}
