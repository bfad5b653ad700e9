package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the config file when it changes and drops compiled
// modules, and the responses they produced, when a WASM file is rewritten.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	configFile string
	config     *Config
	modules    *ModuleCache
	responses  *ResponseCache
	dirs       map[string]bool

	// OnReload, if set, is called after each successful reload.
	OnReload func(*Config)
}

// NewConfigWatcher watches the directories holding configFile and the
// routes' WASM files. Directories are watched rather than files so that
// editors replacing a file by rename are still noticed.
// responses may be nil.
func NewConfigWatcher(configFile string, config *Config, modules *ModuleCache, responses *ResponseCache) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	cw := &ConfigWatcher{
		watcher:    watcher,
		configFile: filepath.Clean(configFile),
		config:     config,
		modules:    modules,
		responses:  responses,
		dirs:       make(map[string]bool),
	}
	if err := cw.watchDir(cw.configFile); err != nil {
		watcher.Close()
		return nil, err
	}
	cw.watchRoutes()
	return cw, nil
}

func (cw *ConfigWatcher) watchDir(path string) error {
	dir := filepath.Dir(path)
	if cw.dirs[dir] {
		return nil
	}
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	cw.dirs[dir] = true
	return nil
}

func (cw *ConfigWatcher) watchRoutes() {
	if cw.modules == nil {
		return
	}
	for _, route := range cw.config.GetRoutes() {
		if route.WasmFile == "" {
			continue
		}
		if err := cw.watchDir(route.WasmFile); err != nil {
			log.Printf("Config watcher: %v", err)
		}
	}
}

// Run handles file events until ctx is done or the watcher is closed.
func (cw *ConfigWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cw.handle(ctx, filepath.Clean(event.Name))
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) handle(ctx context.Context, name string) {
	if name == cw.configFile {
		log.Println("Config file changed. Reloading...")
		newConfig, err := LoadConfig(cw.configFile)
		if err != nil {
			log.Printf("Failed to reload config: %v", err)
			return
		}
		cw.config.Update(newConfig)
		cw.watchRoutes()
		if cw.OnReload != nil {
			cw.OnReload(cw.config)
		}
		return
	}

	if cw.modules == nil {
		return
	}
	for key, route := range cw.config.GetRoutes() {
		if route.WasmFile == "" || filepath.Clean(route.WasmFile) != name {
			continue
		}
		if cw.modules.Invalidate(ctx, route.WasmFile) {
			log.Printf("Module %s changed. Recompiling on next request.", route.WasmFile)
		}
		if cw.responses != nil {
			if n := cw.responses.DeletePrefix(cacheKeyPrefix(key)); n > 0 {
				log.Printf("Dropped %d cached responses for %s.", n, key)
			}
		}
	}
}

// Close stops the underlying watcher, which also ends Run.
func (cw *ConfigWatcher) Close() error {
	return cw.watcher.Close()
}
