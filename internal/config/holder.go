package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefinitionsHolder serves the current definitions and reloads them when the file changes.
// A reload that fails keeps the previous definitions.
type DefinitionsHolder struct {
	mu       sync.RWMutex
	defs     *Definitions
	path     string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Definitions)
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDefinitionsHolder loads the initial definitions from path
func NewDefinitionsHolder(path string, logger *zap.Logger) (*DefinitionsHolder, error) {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DefinitionsHolder{
		defs:   defs,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// StaticDefinitions wraps fixed definitions, used when no file is configured
func StaticDefinitions(defs *Definitions) *DefinitionsHolder {
	if defs == nil {
		defs = &Definitions{}
	}
	return &DefinitionsHolder{defs: defs, logger: zap.NewNop(), stopCh: make(chan struct{})}
}

// Get returns the current definitions
func (h *DefinitionsHolder) Get() *Definitions {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defs
}

// OnChange registers a callback run after each successful reload
func (h *DefinitionsHolder) OnChange(fn func(*Definitions)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// Reload re-reads the file
func (h *DefinitionsHolder) Reload() error {
	if h.path == "" {
		return nil
	}

	defs, err := LoadDefinitions(h.path)
	if err != nil {
		h.logger.Error("Definitions reload failed, keeping previous definitions",
			zap.String("path", h.path),
			zap.Error(err),
		)
		return fmt.Errorf("reload definitions: %w", err)
	}

	h.mu.Lock()
	h.defs = defs
	callbacks := append([]func(*Definitions){}, h.onChange...)
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(defs)
	}

	h.logger.Info("Definitions reloaded",
		zap.Int("goals", len(defs.Goals)),
		zap.Int("funnels", len(defs.Funnels)),
		zap.Int("segments", len(defs.Segments)),
	)
	return nil
}

// Watch reloads the definitions whenever the file is written or replaced
func (h *DefinitionsHolder) Watch() error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// the directory survives editors that save by rename
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	h.wg.Add(1)
	go h.watchLoop()
	return nil
}

func (h *DefinitionsHolder) watchLoop() {
	defer h.wg.Done()
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				_ = h.Reload()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error("Definitions watcher error", zap.Error(err))
		case <-h.stopCh:
			return
		}
	}
}

// Stop ends watching
func (h *DefinitionsHolder) Stop() {
	select {
	case <-h.stopCh:
		return
	default:
	}
	close(h.stopCh)
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
	h.wg.Wait()
}
